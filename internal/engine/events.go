package engine

import (
	"github.com/pairlink/pairlink/pkg/protocol"
)

// EventKind discriminates the Event union.
type EventKind int

const (
	// EventConnected fires when the data channel opens.
	EventConnected EventKind = iota
	// EventReconnecting fires when connectivity was lost and a recovery
	// attempt is scheduled. Attempt is 0 when the signaling link dropped and
	// the peer connection is unaffected.
	EventReconnecting
	// EventDisconnected fires when the peer connection is down and no
	// automatic recovery will run: either signaling is gone or the reconnect
	// budget is exhausted. The application can call Reconnect to try again.
	EventDisconnected
	// EventMessageReceived carries an application-level data channel frame.
	// Unparsable frames arrive wrapped in a raw envelope.
	EventMessageReceived
	// EventSyncUpdated fires for every record accepted from the peer,
	// tombstones included; check Record.Deleted.
	EventSyncUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventReconnecting:
		return "reconnecting"
	case EventDisconnected:
		return "disconnected"
	case EventMessageReceived:
		return "message"
	case EventSyncUpdated:
		return "sync-updated"
	}
	return "unknown"
}

// Event is the single ordered notification stream delivered to the
// application, replacing per-concern callbacks so ordering is observable.
type Event struct {
	Kind       EventKind
	Attempt    int               // EventReconnecting
	Envelope   protocol.Envelope // EventMessageReceived
	Collection string            // EventSyncUpdated
	Record     protocol.Record   // EventSyncUpdated
}
