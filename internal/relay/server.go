package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dev relay, any origin
	},
}

const relayWriteTimeout = 10 * time.Second

// Server is the HTTP surface of the relay: /ws for signaling, /turn for
// ephemeral TURN credentials, /health for probes.
type Server struct {
	logger *slog.Logger
	hub    *Hub
	turn   *turnIssuer
}

// NewServer creates a relay server from its configuration.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(),
		turn:   newTurnIssuer(cfg, logger),
	}
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/turn", s.handleTurn)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.turn == nil {
		http.Error(w, "turn issuer not configured", http.StatusNotFound)
		return
	}
	issued, err := s.turn.Issue(uuid.NewString())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Servers   []protocol.ICEServer `json:"servers"`
		ExpiresAt string               `json:"expiresAt"`
	}{issued.Servers, issued.ExpiresAt})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("pairingCode")
	role := r.URL.Query().Get("role")
	if code == "" {
		http.Error(w, "pairingCode is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	peer := &Peer{ConnID: uuid.NewString(), Role: role}

	var writeMu sync.Mutex
	write := func(env protocol.Envelope) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
		return conn.WriteJSON(env)
	}

	remove, err := s.hub.Add(code, peer, write)
	if err != nil {
		s.logger.Warn("rejecting connection", "code", code, "error", err)
		env, _ := protocol.NewEnvelope("error", map[string]string{"message": err.Error()})
		write(env)
		return
	}

	s.logger.Info("peer connected", "code", code, "role", role, "conn", peer.ConnID)

	defer func() {
		remove()
		if other := s.hub.Other(code, peer.ConnID); other != nil {
			env, err := protocol.NewEnvelope(protocol.TypePeerLeft, nil)
			if err == nil {
				other.Send(env)
			}
		}
		s.logger.Info("peer disconnected", "code", code, "conn", peer.ConnID)
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := protocol.Decode(message)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "code", code, "error", err)
			continue
		}

		switch env.Type {
		case protocol.TypeReady:
			peer.setReady()
			s.announceIfPaired(code, peer)
		case protocol.TypePing:
			pong, err := protocol.NewEnvelope(protocol.TypePong, nil)
			if err == nil {
				peer.Send(pong)
			}
		case protocol.TypePong:
			// keepalive reply, nothing to do
		default:
			if other := s.hub.Other(code, peer.ConnID); other != nil {
				other.Send(env)
			}
		}
	}
}

// announceIfPaired sends peer-joined to both endpoints once both are ready.
// Exactly one side is elected initiator: the one whose ready arrived last.
// A reconnecting endpoint re-sends ready, which re-announces and starts a
// fresh negotiation round on both sides.
func (s *Server) announceIfPaired(code string, justReady *Peer) {
	other := s.hub.Other(code, justReady.ConnID)
	if other == nil || !other.isReady() {
		return
	}

	toJust, err := protocol.NewEnvelope(protocol.TypePeerJoined, protocol.PeerJoined{IsInitiator: true})
	if err != nil {
		return
	}
	toOther, err := protocol.NewEnvelope(protocol.TypePeerJoined, protocol.PeerJoined{IsInitiator: false})
	if err != nil {
		return
	}
	justReady.Send(toJust)
	other.Send(toOther)
	s.logger.Info("pair established", "code", code, "initiator", justReady.ConnID)
}
