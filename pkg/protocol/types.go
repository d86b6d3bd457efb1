package protocol

// Signaling message types exchanged with the relay.
const (
	TypeReady        = "ready"
	TypePing         = "ping"
	TypePong         = "pong"
	TypePeerJoined   = "peer-joined"
	TypePeerLeft     = "peer-left"
	TypeSDPOffer     = "sdp-offer"
	TypeSDPAnswer    = "sdp-answer"
	TypeICECandidate = "ice-candidate"
	TypeTurnConfig   = "turn-config"
)

// Data-channel message types consumed by the sync layer. Any other type is
// passed through to the application unchanged.
const (
	TypeSyncRequest  = "sync-request"
	TypeSyncResponse = "sync-response"
	TypeSyncUpdate   = "sync-update"
	TypeSyncDelete   = "sync-delete"
	TypeRaw          = "raw"
)

// Endpoint roles carried in the relay connect URL.
const (
	RoleMobile = "mobile"
	RoleAgent  = "agent"
)

// CollectionAll is the wildcard collection name in a sync-request, meaning
// every collection in the store.
const CollectionAll = "*"

// IsSyncType reports whether a data-channel message type belongs to the sync
// protocol and must not be surfaced to application code.
func IsSyncType(msgType string) bool {
	switch msgType {
	case TypeSyncRequest, TypeSyncResponse, TypeSyncUpdate, TypeSyncDelete:
		return true
	}
	return false
}
