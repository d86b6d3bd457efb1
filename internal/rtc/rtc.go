// Package rtc abstracts the WebRTC capability behind small interfaces so the
// negotiation engine can be tested without a live network. The production
// implementation wraps pion/webrtc; tests use the in-package mock.
package rtc

import (
	"github.com/pairlink/pairlink/pkg/protocol"
)

// ConnectionState is the subset of peer-connection states the engine reacts to.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// DataChannel is a raw bidirectional message pipe between the two peers.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	OnClose(fn func())
	Close() error
}

// PeerConnection is the capability surface of one WebRTC peer connection.
// CreateOffer and CreateAnswer also install the produced description as the
// local description, matching how a negotiation round actually uses them.
type PeerConnection interface {
	CreateOffer() (sdp string, err error)
	CreateAnswer() (sdp string, err error)
	SetRemoteDescription(sdpType, sdp string) error
	HasLocalDescription() bool
	HasRemoteDescription() bool
	AddICECandidate(c protocol.ICECandidate) error
	CreateDataChannel(label string) (DataChannel, error)
	OnICECandidate(fn func(c protocol.ICECandidate))
	OnDataChannel(fn func(dc DataChannel))
	OnConnectionStateChange(fn func(state ConnectionState))
	Close() error
}

// Factory creates peer connections. It is constructor-injected into the
// engine so both endpoint roles share the same tested core.
type Factory interface {
	NewPeerConnection(servers []protocol.ICEServer) (PeerConnection, error)
}
