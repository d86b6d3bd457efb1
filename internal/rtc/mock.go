package rtc

import (
	"errors"
	"sync"

	"github.com/pairlink/pairlink/pkg/protocol"
)

var (
	_ Factory        = (*MockFactory)(nil)
	_ PeerConnection = (*MockPeerConnection)(nil)
	_ DataChannel    = (*MockDataChannel)(nil)
)

// MockFactory is an in-memory Factory for testing. It records every peer
// connection it creates so tests can drive their callbacks.
type MockFactory struct {
	mu    sync.Mutex
	conns []*MockPeerConnection
	err   error
}

// NewMockFactory creates a mock factory.
func NewMockFactory() *MockFactory {
	return &MockFactory{}
}

// FailWith makes subsequent NewPeerConnection calls return err.
func (f *MockFactory) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// NewPeerConnection returns a fresh MockPeerConnection.
func (f *MockFactory) NewPeerConnection(servers []protocol.ICEServer) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	conn := &MockPeerConnection{servers: servers}
	f.conns = append(f.conns, conn)
	return conn, nil
}

// Created returns every connection the factory has produced, in order.
func (f *MockFactory) Created() []*MockPeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockPeerConnection(nil), f.conns...)
}

// Last returns the most recently created connection, or nil.
func (f *MockFactory) Last() *MockPeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// MockPeerConnection records descriptions, candidates, and channels, and lets
// tests fire the callbacks a real peer connection would.
type MockPeerConnection struct {
	mu         sync.Mutex
	servers    []protocol.ICEServer
	localSet   bool
	remoteSet  bool
	remoteType string
	applied    []protocol.ICECandidate
	channels   []*MockDataChannel
	closed     bool

	offerErr  error
	answerErr error
	remoteErr error

	onICECandidate func(protocol.ICECandidate)
	onDataChannel  func(DataChannel)
	onStateChange  func(ConnectionState)
}

func (c *MockPeerConnection) CreateOffer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offerErr != nil {
		return "", c.offerErr
	}
	c.localSet = true
	return "mock-offer", nil
}

func (c *MockPeerConnection) CreateAnswer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answerErr != nil {
		return "", c.answerErr
	}
	if !c.remoteSet {
		return "", errors.New("no remote description")
	}
	c.localSet = true
	return "mock-answer", nil
}

func (c *MockPeerConnection) SetRemoteDescription(sdpType, sdp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteErr != nil {
		return c.remoteErr
	}
	c.remoteSet = true
	c.remoteType = sdpType
	return nil
}

func (c *MockPeerConnection) HasLocalDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localSet
}

func (c *MockPeerConnection) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSet
}

func (c *MockPeerConnection) AddICECandidate(cand protocol.ICECandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied = append(c.applied, cand)
	return nil
}

func (c *MockPeerConnection) CreateDataChannel(label string) (DataChannel, error) {
	ch := NewMockDataChannel(label)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *MockPeerConnection) OnICECandidate(fn func(protocol.ICECandidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICECandidate = fn
}

func (c *MockPeerConnection) OnDataChannel(fn func(DataChannel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDataChannel = fn
}

func (c *MockPeerConnection) OnConnectionStateChange(fn func(ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = fn
}

func (c *MockPeerConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FailOffer makes CreateOffer return err.
func (c *MockPeerConnection) FailOffer(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offerErr = err
}

// FailRemote makes SetRemoteDescription return err.
func (c *MockPeerConnection) FailRemote(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteErr = err
}

// FireICECandidate invokes the local-candidate callback.
func (c *MockPeerConnection) FireICECandidate(cand protocol.ICECandidate) {
	c.mu.Lock()
	fn := c.onICECandidate
	c.mu.Unlock()
	if fn != nil {
		fn(cand)
	}
}

// FireDataChannel invokes the incoming-channel callback, as for a responder
// receiving the initiator's channel.
func (c *MockPeerConnection) FireDataChannel(ch DataChannel) {
	c.mu.Lock()
	fn := c.onDataChannel
	c.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

// FireState invokes the connection-state callback.
func (c *MockPeerConnection) FireState(state ConnectionState) {
	c.mu.Lock()
	fn := c.onStateChange
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// Servers returns the ICE servers the connection was created with.
func (c *MockPeerConnection) Servers() []protocol.ICEServer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ICEServer(nil), c.servers...)
}

// AppliedCandidates returns the candidates applied so far, in order.
func (c *MockPeerConnection) AppliedCandidates() []protocol.ICECandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ICECandidate(nil), c.applied...)
}

// Channels returns the data channels created locally on this connection.
func (c *MockPeerConnection) Channels() []*MockDataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MockDataChannel(nil), c.channels...)
}

// Closed reports whether Close was called.
func (c *MockPeerConnection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MockDataChannel is an in-memory DataChannel. Two channels can be linked
// into a pair so a Send on one delivers to the other's message callback.
type MockDataChannel struct {
	mu        sync.Mutex
	label     string
	peer      *MockDataChannel
	sent      [][]byte
	closed    bool
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
}

// NewMockDataChannel creates an unlinked mock channel.
func NewMockDataChannel(label string) *MockDataChannel {
	return &MockDataChannel{label: label}
}

// NewMockChannelPair creates two linked channels: bytes sent on one are
// delivered synchronously to the other's OnMessage callback.
func NewMockChannelPair(label string) (*MockDataChannel, *MockDataChannel) {
	a := NewMockDataChannel(label)
	b := NewMockDataChannel(label)
	a.peer = b
	b.peer = a
	return a, b
}

func (ch *MockDataChannel) Label() string { return ch.label }

func (ch *MockDataChannel) Send(data []byte) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return errors.New("channel closed")
	}
	ch.sent = append(ch.sent, data)
	peer := ch.peer
	ch.mu.Unlock()

	if peer != nil {
		peer.deliver(data)
	}
	return nil
}

func (ch *MockDataChannel) deliver(data []byte) {
	ch.mu.Lock()
	fn := ch.onMessage
	ch.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (ch *MockDataChannel) OnOpen(fn func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onOpen = fn
}

func (ch *MockDataChannel) OnMessage(fn func([]byte)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onMessage = fn
}

func (ch *MockDataChannel) OnClose(fn func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onClose = fn
}

func (ch *MockDataChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}

// FireOpen invokes the open callback, as when SCTP finishes establishing.
func (ch *MockDataChannel) FireOpen() {
	ch.mu.Lock()
	fn := ch.onOpen
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// FireMessage invokes the message callback with an inbound frame.
func (ch *MockDataChannel) FireMessage(data []byte) {
	ch.deliver(data)
}

// FireClose invokes the close callback.
func (ch *MockDataChannel) FireClose() {
	ch.mu.Lock()
	fn := ch.onClose
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Sent returns every frame written to this channel, in order.
func (ch *MockDataChannel) Sent() [][]byte {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([][]byte(nil), ch.sent...)
}

// IsClosed reports whether Close was called.
func (ch *MockDataChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}
