package rtc

import (
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/pairlink/pairlink/pkg/protocol"
)

var (
	_ Factory        = (*PionFactory)(nil)
	_ PeerConnection = (*pionConn)(nil)
	_ DataChannel    = (*pionChannel)(nil)
)

// PionFactory builds peer connections backed by pion/webrtc.
type PionFactory struct {
	logger *slog.Logger
}

// NewPionFactory creates the production WebRTC factory.
func NewPionFactory(logger *slog.Logger) *PionFactory {
	return &PionFactory{logger: logger}
}

// NewPeerConnection creates a peer connection configured with the given ICE
// servers.
func (f *PionFactory) NewPeerConnection(servers []protocol.ICEServer) (PeerConnection, error) {
	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		iceServers = append(iceServers, server)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	return &pionConn{pc: pc}, nil
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

func (c *pionConn) CreateAnswer() (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

func (c *pionConn) SetRemoteDescription(sdpType, sdp string) error {
	desc := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(sdpType),
		SDP:  sdp,
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *pionConn) HasLocalDescription() bool {
	return c.pc.LocalDescription() != nil
}

func (c *pionConn) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *pionConn) AddICECandidate(cand protocol.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if err := c.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (c *pionConn) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	return &pionChannel{dc: dc}, nil
}

func (c *pionConn) OnICECandidate(fn func(protocol.ICECandidate)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			// end of gathering, nothing to forward
			return
		}
		init := cand.ToJSON()
		fn(protocol.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})
}

func (c *pionConn) OnDataChannel(fn func(DataChannel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&pionChannel{dc: dc})
	})
}

func (c *pionConn) OnConnectionStateChange(fn func(ConnectionState)) {
	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(mapPeerConnectionState(state))
	})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

func mapPeerConnectionState(state webrtc.PeerConnectionState) ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	}
	return StateNew
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (ch *pionChannel) Label() string { return ch.dc.Label() }

func (ch *pionChannel) Send(data []byte) error {
	// JSON text frames per the application protocol.
	return ch.dc.SendText(string(data))
}

func (ch *pionChannel) OnOpen(fn func()) { ch.dc.OnOpen(fn) }

func (ch *pionChannel) OnMessage(fn func([]byte)) {
	ch.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (ch *pionChannel) OnClose(fn func()) { ch.dc.OnClose(fn) }

func (ch *pionChannel) Close() error { return ch.dc.Close() }
