package engine

import (
	"math"
	"math/rand"
	"time"

	"github.com/pairlink/pairlink/internal/rtc"
	"github.com/pairlink/pairlink/pkg/protocol"
)

// handleSignal dispatches one relay frame. Runs on the dispatch goroutine.
// Malformed frames are dropped without any state transition.
func (e *Engine) handleSignal(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypePeerJoined:
		e.handlePeerJoined(env)
	case protocol.TypePeerLeft:
		e.handlePeerLeft()
	case protocol.TypeSDPOffer:
		e.handleOffer(env)
	case protocol.TypeSDPAnswer:
		e.handleAnswer(env)
	case protocol.TypeICECandidate:
		e.handleICECandidate(env)
	case protocol.TypeTurnConfig:
		e.handleTurnConfig(env)
	default:
		e.logger.Debug("ignoring signaling frame", "type", env.Type)
	}
}

func (e *Engine) handlePeerJoined(env protocol.Envelope) {
	var joined protocol.PeerJoined
	if len(env.Payload) > 0 {
		if err := env.DecodePayload(&joined); err != nil {
			e.logger.Warn("malformed peer-joined", "error", err)
			return
		}
	}

	// Mutual exclusion: one negotiation round at a time. A duplicate
	// peer-joined must not create a second round or a second data channel.
	if e.peerState == PeerConnecting {
		e.logger.Debug("peer-joined while connecting, ignored")
		return
	}
	if e.peerState == PeerConnected && e.channelOpen {
		e.logger.Debug("peer-joined while connected, ignored")
		return
	}

	e.exhausted = false
	e.startNegotiation(joined.IsInitiator)
}

func (e *Engine) handlePeerLeft() {
	e.logger.Info("peer left relay", "peerState", e.peerState.String())
	// An established channel is independent of relay presence; only an
	// unfinished round is abandoned.
	if e.peerState == PeerConnecting {
		e.teardownPeer()
	}
}

// startNegotiation begins a fresh round: any stale peer connection is torn
// down, a new one is created, the round timeout is armed, and if this side
// initiates it creates the data channel and sends the offer.
func (e *Engine) startNegotiation(isInitiator bool) {
	e.teardownPeer()

	if isInitiator {
		e.role = RoleInitiator
	} else {
		e.role = RoleResponder
	}
	e.peerState = PeerConnecting

	pc, err := e.factory.NewPeerConnection(e.iceServers())
	if err != nil {
		e.negotiationFailed("create peer connection", err)
		return
	}
	e.pc = pc

	// Callbacks check the connection they were registered on so a stale
	// round cannot fire into its successor.
	pc.OnICECandidate(func(c protocol.ICECandidate) {
		e.run(func() {
			if pc != e.pc {
				return
			}
			e.sendSignal(protocol.TypeICECandidate, c)
		})
	})
	pc.OnConnectionStateChange(func(state rtc.ConnectionState) {
		e.run(func() { e.handleTransportState(pc, state) })
	})
	pc.OnDataChannel(func(dc rtc.DataChannel) {
		e.run(func() {
			if pc != e.pc {
				dc.Close()
				return
			}
			e.adoptChannel(dc)
		})
	})

	e.connTimeout.Arm(e.cfg.ConnectionTimeout, e.onConnectionTimeout)

	e.logger.Info("negotiation started", "initiator", isInitiator)

	if !isInitiator {
		return
	}

	dc, err := pc.CreateDataChannel(dataChannelLabel)
	if err != nil {
		e.negotiationFailed("create data channel", err)
		return
	}
	e.adoptChannel(dc)

	sdp, err := pc.CreateOffer()
	if err != nil {
		e.negotiationFailed("create offer", err)
		return
	}
	e.sendSignal(protocol.TypeSDPOffer, protocol.SessionDescription{SDP: sdp})
}

func (e *Engine) handleOffer(env protocol.Envelope) {
	// Simultaneous-offer race: if we already produced a local description
	// this round, initiator precedence drops the inbound offer. If both
	// sides were told to initiate that is a relay contract bug; the round
	// timeout will recover.
	if e.pc != nil && e.pc.HasLocalDescription() {
		e.logger.Warn("inbound offer ignored, local description already set")
		return
	}

	var desc protocol.SessionDescription
	if err := env.DecodePayload(&desc); err != nil {
		e.logger.Warn("malformed sdp-offer", "error", err)
		return
	}

	// An offer can outrun peer-joined; start the round as responder.
	if e.pc == nil {
		e.startNegotiation(false)
		if e.pc == nil {
			return
		}
	}

	if err := e.pc.SetRemoteDescription("offer", desc.SDP); err != nil {
		e.negotiationFailed("apply offer", err)
		return
	}
	e.flushPendingCandidates()

	sdp, err := e.pc.CreateAnswer()
	if err != nil {
		e.negotiationFailed("create answer", err)
		return
	}
	e.peerState = PeerConnecting
	e.sendSignal(protocol.TypeSDPAnswer, protocol.SessionDescription{SDP: sdp})
}

func (e *Engine) handleAnswer(env protocol.Envelope) {
	if e.pc == nil {
		e.logger.Debug("sdp-answer without a peer connection, ignored")
		return
	}
	var desc protocol.SessionDescription
	if err := env.DecodePayload(&desc); err != nil {
		e.logger.Warn("malformed sdp-answer", "error", err)
		return
	}
	if err := e.pc.SetRemoteDescription("answer", desc.SDP); err != nil {
		e.negotiationFailed("apply answer", err)
		return
	}
	e.flushPendingCandidates()
}

func (e *Engine) handleICECandidate(env protocol.Envelope) {
	var cand protocol.ICECandidate
	if err := env.DecodePayload(&cand); err != nil {
		e.logger.Warn("malformed ice-candidate", "error", err)
		return
	}

	// Candidates are never applied before a remote description exists; they
	// queue in arrival order and flush exactly once.
	if e.pc == nil || !e.pc.HasRemoteDescription() {
		e.pendingCandidates = append(e.pendingCandidates, cand)
		return
	}
	if err := e.pc.AddICECandidate(cand); err != nil {
		e.logger.Warn("apply ice candidate", "error", err)
	}
}

func (e *Engine) handleTurnConfig(env protocol.Envelope) {
	var cfg protocol.TurnConfig
	if err := env.DecodePayload(&cfg); err != nil {
		e.logger.Warn("malformed turn-config", "error", err)
		return
	}
	e.turnServers = cfg.Servers
	e.logger.Info("received TURN servers from peer", "count", len(cfg.Servers))
}

func (e *Engine) flushPendingCandidates() {
	for _, cand := range e.pendingCandidates {
		if err := e.pc.AddICECandidate(cand); err != nil {
			e.logger.Warn("apply buffered ice candidate", "error", err)
		}
	}
	e.pendingCandidates = nil
}

func (e *Engine) adoptChannel(dc rtc.DataChannel) {
	if e.channel != nil && e.channel != dc {
		e.channel.Close()
	}
	e.channel = dc
	dc.OnOpen(func() {
		e.run(func() { e.handleChannelOpen(dc) })
	})
	dc.OnMessage(func(data []byte) {
		e.run(func() { e.handleChannelMessage(dc, data) })
	})
	dc.OnClose(func() {
		e.run(func() { e.handleChannelClosed(dc) })
	})
}

func (e *Engine) handleChannelOpen(dc rtc.DataChannel) {
	if dc != e.channel {
		return
	}
	e.connTimeout.Stop()
	e.reconnect.Stop()
	e.reconnectAttempts = 0
	e.exhausted = false
	e.stuckResetAt = time.Time{}
	e.peerState = PeerConnected
	e.channelOpen = true
	e.lastPeerActivity = time.Now()

	e.logger.Info("data channel open", "label", dc.Label())
	e.emit(Event{Kind: EventConnected})
	e.store.RequestSync()
}

func (e *Engine) handleChannelMessage(dc rtc.DataChannel, data []byte) {
	if dc != e.channel {
		return
	}
	e.lastPeerActivity = time.Now()

	env, err := protocol.Decode(data)
	if err != nil {
		raw, rawErr := protocol.NewEnvelope(protocol.TypeRaw, protocol.Raw{Text: string(data)})
		if rawErr != nil {
			return
		}
		e.emit(Event{Kind: EventMessageReceived, Envelope: raw})
		return
	}

	if protocol.IsSyncType(env.Type) {
		e.store.HandleSyncMessage(env)
		return
	}
	e.emit(Event{Kind: EventMessageReceived, Envelope: env})
}

func (e *Engine) handleChannelClosed(dc rtc.DataChannel) {
	if dc != e.channel {
		return
	}
	e.logger.Info("data channel closed")
	e.handleTransportFailure()
}

func (e *Engine) handleTransportState(pc rtc.PeerConnection, state rtc.ConnectionState) {
	if pc != e.pc {
		return
	}
	switch state {
	case rtc.StateConnected:
		e.lastPeerActivity = time.Now()
	case rtc.StateFailed, rtc.StateClosed:
		e.logger.Warn("peer connection lost", "state", state.String())
		e.handleTransportFailure()
	case rtc.StateDisconnected:
		// Often transient; ICE may still restore the path. The staleness
		// check catches it if it does not.
		e.logger.Info("peer connection disconnected")
	}
}

// handleTransportFailure folds every transport-level loss into one recovery
// path: tear down, then retry while signaling is alive, else report
// disconnected and wait for the relay to come back.
func (e *Engine) handleTransportFailure() {
	wasConnected := e.peerState == PeerConnected
	e.teardownPeer()

	if e.signal.Connected() {
		e.scheduleReconnect()
		return
	}
	if wasConnected {
		e.emit(Event{Kind: EventDisconnected})
	}
}

// onConnectionTimeout fires when a round did not produce an open channel in
// time. A stuck-negotiation guard allows at most one timeout-driven reset per
// ConnectingTimeout window so overlapping resets cannot loop.
func (e *Engine) onConnectionTimeout() {
	if e.peerState != PeerConnecting || e.channelOpen {
		return
	}
	e.logger.Warn("negotiation timed out")

	now := time.Now()
	if !e.stuckResetAt.IsZero() && now.Sub(e.stuckResetAt) < e.cfg.ConnectingTimeout {
		e.teardownPeer()
		return
	}
	e.stuckResetAt = now
	e.teardownPeer()
	e.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next negotiation attempt.
// The attempt counter is fresh-start: any successful connection resets it to
// zero. Exceeding the cap surfaces exactly one terminal disconnect.
func (e *Engine) scheduleReconnect() {
	if e.exhausted {
		return
	}
	if e.reconnectAttempts >= e.cfg.MaxReconnectAttempts {
		e.logger.Warn("reconnect attempts exhausted", "attempts", e.reconnectAttempts)
		e.exhausted = true
		e.emit(Event{Kind: EventDisconnected})
		return
	}

	e.reconnectAttempts++
	delay := backoffDelay(e.cfg.ReconnectBaseDelay, e.reconnectAttempts)
	e.logger.Info("scheduling reconnect", "attempt", e.reconnectAttempts, "delay", delay.Round(time.Millisecond))
	e.emit(Event{Kind: EventReconnecting, Attempt: e.reconnectAttempts})
	e.reconnect.Arm(delay, e.retryNegotiation)
}

func (e *Engine) retryNegotiation() {
	if e.peerState != PeerIdle {
		return
	}
	if !e.signal.Connected() {
		e.signal.Connect()
		e.scheduleReconnect()
		return
	}
	if e.role == RoleUnknown {
		// Never negotiated; wait for peer-joined to elect a role.
		return
	}
	e.startNegotiation(e.role == RoleInitiator)
}

// teardownPeer closes the current peer connection and everything owned by the
// round: channel, timers, candidate buffer. Idempotent; ends in PeerIdle.
func (e *Engine) teardownPeer() {
	if e.peerState == PeerResetting {
		return
	}
	e.peerState = PeerResetting

	e.connTimeout.Stop()
	e.channelOpen = false
	if e.channel != nil {
		e.channel.Close()
		e.channel = nil
	}
	if e.pc != nil {
		e.pc.Close()
		e.pc = nil
	}
	e.pendingCandidates = nil
	e.peerState = PeerIdle
}

// negotiationFailed treats a capability error as a failed round: same retry
// path as a transport-reported failure, never a propagated error.
func (e *Engine) negotiationFailed(context string, err error) {
	e.logger.Warn("negotiation round failed", "context", context, "error", err)
	e.teardownPeer()
	e.scheduleReconnect()
}

func (e *Engine) iceServers() []protocol.ICEServer {
	servers := make([]protocol.ICEServer, 0, len(e.cfg.StunServers)+len(e.cfg.TurnServers)+len(e.turnServers))
	for _, u := range e.cfg.StunServers {
		servers = append(servers, protocol.ICEServer{URLs: []string{u}})
	}
	for _, u := range e.cfg.TurnServers {
		servers = append(servers, protocol.ICEServer{URLs: []string{u}})
	}
	servers = append(servers, e.turnServers...)
	return servers
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := time.Duration(float64(base) * math.Pow(1.5, float64(attempt-1)))
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return delay + jitter
}
