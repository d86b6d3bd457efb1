// Package engine turns relay-delivered signaling events into a working
// bidirectional data channel and keeps it working across flaky networks,
// partial negotiations, and relay outages. One engine instance serves one
// endpoint; both roles run the same core, parameterized only by the rtc
// capability interface.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/rtc"
	"github.com/pairlink/pairlink/internal/signaling"
	"github.com/pairlink/pairlink/internal/syncstore"
	"github.com/pairlink/pairlink/internal/timers"
	"github.com/pairlink/pairlink/pkg/protocol"
)

const dataChannelLabel = "pairlink"

// PeerState is the peer-connection leg of the session state machine.
type PeerState int

const (
	PeerIdle PeerState = iota
	PeerConnecting
	PeerConnected
	PeerResetting
)

func (s PeerState) String() string {
	switch s {
	case PeerIdle:
		return "idle"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerResetting:
		return "resetting"
	}
	return "unknown"
}

// Role is this endpoint's part in the current negotiation round, decided per
// round from the relay's peer-joined payload.
type Role int

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

// signalingLink is the slice of the signaling client the engine drives.
// Narrowed to an interface so tests can substitute a fake relay.
type signalingLink interface {
	Connect()
	Connected() bool
	Send(env protocol.Envelope)
	Close()
}

// Engine owns the peer connection, the data channel, and every timer guarding
// them. All state transitions run on a single dispatch goroutine; signaling
// callbacks, rtc callbacks, and timer firings post onto it.
type Engine struct {
	cfg     config.ClientConfig
	logger  *slog.Logger
	factory rtc.Factory
	store   *syncstore.Store
	signal  signalingLink

	tasks     chan func()
	done      chan struct{}
	events    chan Event
	closeOnce sync.Once

	// Negotiation state. Only touched on the dispatch goroutine.
	peerState         PeerState
	role              Role
	pc                rtc.PeerConnection
	channel           rtc.DataChannel
	channelOpen       bool
	pendingCandidates []protocol.ICECandidate
	reconnectAttempts int
	exhausted         bool
	lastPeerActivity  time.Time
	stuckResetAt      time.Time

	// Ephemeral TURN servers, refreshed before expiry and merged into the
	// ICE server list of the next negotiation round.
	turnServers []protocol.ICEServer

	connTimeout *timers.Timer
	reconnect   *timers.Timer
	turnRefresh *timers.Timer
	health      *timers.Ticker
}

// New creates an engine for one endpoint. The rtc factory is injected so
// tests can substitute a mock negotiation backend.
func New(cfg config.ClientConfig, factory rtc.Factory, store *syncstore.Store, logger *slog.Logger) (*Engine, error) {
	relayURL, err := signaling.BuildRelayURL(cfg.ServerURL, cfg.PairingCode, cfg.Role)
	if err != nil {
		return nil, fmt.Errorf("build relay url: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		factory: factory,
		store:   store,
		tasks:   make(chan func(), 128),
		done:    make(chan struct{}),
		events:  make(chan Event, 64),
	}
	e.connTimeout = timers.NewTimer(e.run)
	e.reconnect = timers.NewTimer(e.run)
	e.turnRefresh = timers.NewTimer(e.run)
	e.health = timers.NewTicker(e.run)

	e.signal = signaling.NewClient(signaling.Options{
		URL:          relayURL,
		PingInterval: cfg.PingInterval,
		RedialDelay:  cfg.SignalingRedialDelay,
		Logger:       logger,
		OnConnected: func() {
			e.run(e.handleSignalConnected)
		},
		OnDisconnected: func() {
			e.run(e.handleSignalDisconnected)
		},
		OnMessage: func(env protocol.Envelope) {
			e.run(func() { e.handleSignal(env) })
		},
	})

	store.SetSend(e.sendSyncFrame)
	store.SetOnApplied(func(collection string, rec protocol.Record) {
		e.emit(Event{Kind: EventSyncUpdated, Collection: collection, Record: rec})
	})

	return e, nil
}

// Start begins the dispatch loop, connects signaling, and arms the periodic
// health check.
func (e *Engine) Start() {
	go e.loop()
	e.signal.Connect()
	e.health.Start(e.cfg.HealthCheckInterval, e.healthCheck)
	if e.cfg.TurnToken != "" {
		go e.refreshTurnCredentials()
	}
}

// Events returns the ordered notification stream.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Store returns the replicated store riding on this engine's transport.
func (e *Engine) Store() *syncstore.Store {
	return e.store
}

// Send writes an application frame to the peer, best-effort: the frame is
// dropped if the data channel is not open. The only error is a payload that
// cannot be marshaled.
func (e *Engine) Send(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	e.run(func() { e.writeFrame(env) })
	return nil
}

// Reconnect resets the retry budget and starts recovery after a terminal
// disconnect. Safe to call at any time.
func (e *Engine) Reconnect() {
	e.run(func() {
		e.exhausted = false
		e.reconnectAttempts = 0
		e.signal.Connect()
		if e.peerState == PeerIdle && e.role != RoleUnknown {
			e.startNegotiation(e.role == RoleInitiator)
		}
	})
}

// Close tears the engine down permanently.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		down := make(chan struct{})
		e.run(func() {
			e.teardownPeer()
			close(down)
		})
		select {
		case <-down:
		case <-time.After(time.Second):
		}
		close(e.done)
		e.health.Stop()
		e.connTimeout.Stop()
		e.reconnect.Stop()
		e.turnRefresh.Stop()
		e.signal.Close()
	})
}

// run posts fn onto the dispatch goroutine. After Close it becomes a no-op.
func (e *Engine) run(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

func (e *Engine) loop() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.done:
			return
		}
	}
}

// emit delivers an event without ever blocking the dispatch goroutine. A full
// buffer means the application stopped reading; dropping is the lesser evil.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event buffer full, dropping", "kind", ev.Kind.String())
	}
}

// sendSyncFrame is the store's outgoing transport.
func (e *Engine) sendSyncFrame(env protocol.Envelope) {
	e.run(func() { e.writeFrame(env) })
}

func (e *Engine) writeFrame(env protocol.Envelope) {
	if !e.channelOpen || e.channel == nil {
		e.logger.Debug("dropping frame, data channel not open", "type", env.Type)
		return
	}
	data, err := env.Encode()
	if err != nil {
		e.logger.Error("encode frame", "type", env.Type, "error", err)
		return
	}
	if err := e.channel.Send(data); err != nil {
		e.logger.Warn("data channel send failed", "type", env.Type, "error", err)
	}
}

func (e *Engine) sendSignal(msgType string, payload any) {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		e.logger.Error("encode signaling frame", "type", msgType, "error", err)
		return
	}
	e.signal.Send(env)
}

func (e *Engine) handleSignalConnected() {
	e.logger.Info("signaling connected")
}

func (e *Engine) handleSignalDisconnected() {
	e.logger.Info("signaling disconnected, redialing")
	if e.peerState != PeerConnected {
		e.emit(Event{Kind: EventReconnecting})
	}
}

// healthCheck runs on its own cadence, independent of the negotiation state
// machine: it repairs a dead signaling link and tears down a peer connection
// that has gone silent past the staleness threshold.
func (e *Engine) healthCheck() {
	if !e.signal.Connected() {
		e.signal.Connect()
	}
	if e.peerState == PeerConnected && time.Since(e.lastPeerActivity) > e.cfg.PeerStaleThreshold {
		e.logger.Warn("peer connection stale, tearing down",
			"idle", time.Since(e.lastPeerActivity).Round(time.Second))
		e.teardownPeer()
		e.scheduleReconnect()
	}
}
