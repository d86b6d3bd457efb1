// Package relay implements the reference pairing relay: it pairs at most two
// endpoints per pairing code, forwards signaling frames between them, and
// issues ephemeral TURN credentials. Application data never touches it.
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/pairlink/pairlink/pkg/protocol"
)

// ErrRoomFull is returned when a pairing code already has two endpoints.
var ErrRoomFull = errors.New("pairing code already has two peers")

// Peer is one endpoint attached to a pairing code.
type Peer struct {
	ConnID string
	Role   string

	mu    sync.Mutex
	ready bool
	send  chan protocol.Envelope
}

// Send queues an envelope for delivery to the peer. Non-blocking: a slow
// consumer drops frames rather than stalling the relay.
func (p *Peer) Send(env protocol.Envelope) bool {
	select {
	case p.send <- env:
		return true
	default:
		return false
	}
}

func (p *Peer) setReady() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = true
}

func (p *Peer) isReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Hub tracks pairing-code rooms. A room holds at most two peers.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Peer // pairingCode -> connID -> peer
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*Peer),
	}
}

// Add attaches a peer to a pairing code and starts a writer goroutine that
// drains the peer's queue through write. Returns a remove function. Fails
// with ErrRoomFull when two peers are already attached.
func (h *Hub) Add(code string, p *Peer, write func(env protocol.Envelope) error) (remove func(), err error) {
	p.send = make(chan protocol.Envelope, 64)

	h.mu.Lock()
	room := h.rooms[code]
	if room == nil {
		room = make(map[string]*Peer)
		h.rooms[code] = room
	}
	if len(room) >= 2 {
		h.mu.Unlock()
		return nil, ErrRoomFull
	}
	room[p.ConnID] = p
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range p.send {
			if err := write(env); err != nil {
				return
			}
		}
	}()

	return func() {
		h.mu.Lock()
		if room, ok := h.rooms[code]; ok {
			delete(room, p.ConnID)
			if len(room) == 0 {
				delete(h.rooms, code)
			}
		}
		h.mu.Unlock()

		close(p.send)
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}, nil
}

// Other returns the peer paired with connID under code, or nil.
func (h *Hub) Other(code, connID string) *Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, peer := range h.rooms[code] {
		if id != connID {
			return peer
		}
	}
	return nil
}

// Count returns the number of peers attached to a pairing code.
func (h *Hub) Count(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[code])
}
