package protocol

// Record is one versioned entry in the replicated store. Version is a per-id
// monotonic counter maintained independently by each peer; the higher version
// wins on conflict. A record with DeletedAt set is a tombstone: it stays in
// the store for version comparison but is excluded from enumeration.
type Record struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	Version   int64          `json:"version"`
	UpdatedAt int64          `json:"updatedAt"` // unix milliseconds
	DeletedAt *int64         `json:"deletedAt,omitempty"`
}

// Deleted reports whether the record is a tombstone.
func (r Record) Deleted() bool {
	return r.DeletedAt != nil
}

// SyncRequest asks the peer for every record updated after Since (unix
// milliseconds). Collection may be CollectionAll.
type SyncRequest struct {
	Collection string `json:"collection"`
	Since      int64  `json:"since"`
}

// SyncRecords is the payload of sync-response, sync-update, and sync-delete
// frames: a batch of records for a single collection. A delete travels as a
// normal versioned record with DeletedAt set, not a distinct wire shape.
type SyncRecords struct {
	Collection string   `json:"collection"`
	Records    []Record `json:"records"`
}
