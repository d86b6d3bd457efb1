// Package syncstore keeps a locally authoritative, versioned, multi-collection
// record set and converges it with the remote peer's copy through a delta
// protocol carried over the data channel. Conflicts between the two peers are
// resolved last-writer-wins by version number.
package syncstore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pairlink/pairlink/pkg/protocol"
)

// syncOverlap is subtracted from the local high-water mark when requesting a
// full sync, to tolerate clock skew between the peers.
const syncOverlap = 60 * time.Second

// Store is the replicated record set. It is safe for concurrent use; the map
// is only ever mutated by its own methods.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() int64 // unix milliseconds, overridable in tests

	// send emits a frame to the peer, best-effort. onApplied fires for every
	// record accepted from the peer, tombstones included. Both must be set
	// before the store is connected to a transport and are never called with
	// the store lock held.
	send      func(env protocol.Envelope)
	onApplied func(collection string, rec protocol.Record)

	mu          sync.Mutex
	collections map[string]map[string]protocol.Record
}

// New creates a store backed by the snapshot file at path. A missing or
// corrupt snapshot falls back to an empty store.
func New(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:        path,
		logger:      logger,
		now:         func() int64 { return time.Now().UnixMilli() },
		send:        func(protocol.Envelope) {},
		onApplied:   func(string, protocol.Record) {},
		collections: make(map[string]map[string]protocol.Record),
	}
	s.load()
	return s
}

// SetSend installs the outgoing transport for sync frames.
func (s *Store) SetSend(fn func(env protocol.Envelope)) {
	if fn != nil {
		s.send = fn
	}
}

// SetOnApplied installs the notification callback for records accepted from
// the peer.
func (s *Store) SetOnApplied(fn func(collection string, rec protocol.Record)) {
	if fn != nil {
		s.onApplied = fn
	}
}

// Get returns the record for (collection, id), tombstones included.
func (s *Store) Get(collection, id string) (protocol.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.collections[collection][id]
	return rec, ok
}

// GetAll returns every live (non-tombstoned) record in the collection,
// unordered.
func (s *Store) GetAll(collection string) []protocol.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]protocol.Record, 0, len(s.collections[collection]))
	for _, rec := range s.collections[collection] {
		if !rec.Deleted() {
			records = append(records, rec)
		}
	}
	return records
}

// Set creates or overwrites a record. The version is the previous version
// plus one (1 for a new record), the snapshot is persisted, and a sync-update
// frame carrying exactly this record is emitted.
func (s *Store) Set(collection, id string, data map[string]any) protocol.Record {
	s.mu.Lock()
	rec := protocol.Record{
		ID:        id,
		Data:      data,
		Version:   1,
		UpdatedAt: s.now(),
	}
	if prev, ok := s.collections[collection][id]; ok {
		rec.Version = prev.Version + 1
	}
	s.put(collection, rec)
	s.persistLocked()
	s.mu.Unlock()

	s.emitRecords(protocol.TypeSyncUpdate, collection, rec)
	return rec
}

// Delete tombstones a record: DeletedAt is set, the version increments, and a
// sync-delete frame is emitted. A delete of an absent or already-deleted id is
// a no-op returning false. The tombstone stays in the store so stale peers
// can still receive the delete.
func (s *Store) Delete(collection, id string) bool {
	s.mu.Lock()
	rec, ok := s.collections[collection][id]
	if !ok || rec.Deleted() {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	rec.Version++
	rec.UpdatedAt = now
	rec.DeletedAt = &now
	s.put(collection, rec)
	s.persistLocked()
	s.mu.Unlock()

	s.emitRecords(protocol.TypeSyncDelete, collection, rec)
	return true
}

// RequestSync asks the peer for every record changed since our high-water
// mark, minus an overlap window for clock skew. Called automatically whenever
// the data channel opens.
func (s *Store) RequestSync() {
	s.mu.Lock()
	var maxUpdated int64
	for _, records := range s.collections {
		for _, rec := range records {
			if rec.UpdatedAt > maxUpdated {
				maxUpdated = rec.UpdatedAt
			}
		}
	}
	s.mu.Unlock()

	since := maxUpdated - syncOverlap.Milliseconds()
	if since < 0 {
		since = 0
	}

	env, err := protocol.NewEnvelope(protocol.TypeSyncRequest, protocol.SyncRequest{
		Collection: protocol.CollectionAll,
		Since:      since,
	})
	if err != nil {
		s.logger.Error("encode sync-request", "error", err)
		return
	}
	s.send(env)
}

// HandleSyncMessage dispatches one inbound sync frame. Malformed frames are
// dropped without touching the store.
func (s *Store) HandleSyncMessage(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSyncRequest:
		var req protocol.SyncRequest
		if err := env.DecodePayload(&req); err != nil {
			s.logger.Warn("malformed sync-request", "error", err)
			return
		}
		s.handleSyncRequest(req)

	case protocol.TypeSyncResponse, protocol.TypeSyncUpdate, protocol.TypeSyncDelete:
		var batch protocol.SyncRecords
		if err := env.DecodePayload(&batch); err != nil {
			s.logger.Warn("malformed sync frame", "type", env.Type, "error", err)
			return
		}
		s.applyRecords(batch.Collection, batch.Records)

	default:
		s.logger.Warn("unexpected sync frame type", "type", env.Type)
	}
}

// handleSyncRequest answers with one sync-response per collection that has
// records newer than the cursor, tombstones included.
func (s *Store) handleSyncRequest(req protocol.SyncRequest) {
	s.mu.Lock()
	deltas := make(map[string][]protocol.Record)
	for name, records := range s.collections {
		if req.Collection != protocol.CollectionAll && req.Collection != name {
			continue
		}
		for _, rec := range records {
			if rec.UpdatedAt > req.Since {
				deltas[name] = append(deltas[name], rec)
			}
		}
	}
	s.mu.Unlock()

	for name, records := range deltas {
		s.emitBatch(protocol.TypeSyncResponse, name, records)
	}
}

// applyRecords merges incoming records last-writer-wins by version: a record
// is accepted only if the id is unknown locally or the incoming version is
// strictly greater. Accepted records are persisted and reported through
// onApplied; equal or lower versions are discarded as stale duplicates.
func (s *Store) applyRecords(collection string, incoming []protocol.Record) {
	if collection == "" || len(incoming) == 0 {
		return
	}

	s.mu.Lock()
	applied := make([]protocol.Record, 0, len(incoming))
	for _, rec := range incoming {
		if rec.ID == "" {
			continue
		}
		local, ok := s.collections[collection][rec.ID]
		if ok && rec.Version <= local.Version {
			continue
		}
		s.put(collection, rec)
		applied = append(applied, rec)
	}
	if len(applied) > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	for _, rec := range applied {
		s.onApplied(collection, rec)
	}
}

// put stores a record under its collection. Caller holds the lock.
func (s *Store) put(collection string, rec protocol.Record) {
	records, ok := s.collections[collection]
	if !ok {
		records = make(map[string]protocol.Record)
		s.collections[collection] = records
	}
	records[rec.ID] = rec
}

func (s *Store) emitRecords(msgType, collection string, rec protocol.Record) {
	s.emitBatch(msgType, collection, []protocol.Record{rec})
}

func (s *Store) emitBatch(msgType, collection string, records []protocol.Record) {
	env, err := protocol.NewEnvelope(msgType, protocol.SyncRecords{
		Collection: collection,
		Records:    records,
	})
	if err != nil {
		s.logger.Error("encode sync frame", "type", msgType, "error", err)
		return
	}
	s.send(env)
}
