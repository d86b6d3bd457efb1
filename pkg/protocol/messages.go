package protocol

// PeerJoined indicates the other endpoint is present on the relay. The relay
// elects exactly one side as initiator for the negotiation round.
type PeerJoined struct {
	IsInitiator bool `json:"isInitiator"`
}

// PeerLeft indicates the other endpoint disconnected from the relay.
type PeerLeft struct{}

// SessionDescription carries an opaque SDP document (offer or answer).
type SessionDescription struct {
	SDP string `json:"sdp"`
}

// ICECandidate carries one ICE candidate. SDPMid and SDPMLineIndex are
// pointers because an end-of-candidates signal leaves them null.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// ICEServer describes one STUN or TURN server, with optional ephemeral
// credentials for TURN.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// TurnConfig hands freshly-issued TURN servers from one peer to the other
// out-of-band, so both sides can use the same relay allocation window.
type TurnConfig struct {
	Servers   []ICEServer `json:"servers"`
	ExpiresAt string      `json:"expiresAt,omitempty"` // RFC3339
}

// Raw wraps an unparsable data-channel frame surfaced to the application.
type Raw struct {
	Text string `json:"text"`
}
