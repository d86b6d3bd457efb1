package syncstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pairlink/pairlink/internal/logging"
	"github.com/pairlink/pairlink/pkg/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "store.json"), logging.Nop())
}

// link wires two stores so each one's outgoing frames are applied directly to
// the other, as if a data channel connected them.
func link(a, b *Store) {
	a.SetSend(func(env protocol.Envelope) { b.HandleSyncMessage(env) })
	b.SetSend(func(env protocol.Envelope) { a.HandleSyncMessage(env) })
}

func TestSet_VersionsAreMonotonicAndGapless(t *testing.T) {
	s := newTestStore(t)

	for i := 1; i <= 5; i++ {
		rec := s.Set("notes", "1", map[string]any{"n": i})
		if rec.Version != int64(i) {
			t.Fatalf("after %d sets, version = %d, want %d", i, rec.Version, i)
		}
	}
}

func TestDelete_TombstoneExcludedFromGetAll(t *testing.T) {
	s := newTestStore(t)
	s.Set("notes", "1", map[string]any{"text": "hi"})
	s.Set("notes", "2", map[string]any{"text": "bye"})

	if !s.Delete("notes", "1") {
		t.Fatal("Delete returned false for existing record")
	}

	all := s.GetAll("notes")
	if len(all) != 1 || all[0].ID != "2" {
		t.Errorf("GetAll = %v, want only record 2", all)
	}

	// The tombstone is still visible through Get, with a bumped version.
	rec, ok := s.Get("notes", "1")
	if !ok {
		t.Fatal("Get did not return the tombstone")
	}
	if !rec.Deleted() {
		t.Error("tombstone has no DeletedAt")
	}
	if rec.Version != 2 {
		t.Errorf("tombstone version = %d, want 2", rec.Version)
	}
}

func TestDelete_AbsentOrDeletedIsNoop(t *testing.T) {
	s := newTestStore(t)
	if s.Delete("notes", "missing") {
		t.Error("Delete of absent id returned true")
	}

	s.Set("notes", "1", nil)
	s.Delete("notes", "1")
	if s.Delete("notes", "1") {
		t.Error("second Delete of same id returned true")
	}
}

func TestApply_LowerOrEqualVersionNeverRegresses(t *testing.T) {
	s := newTestStore(t)
	s.Set("notes", "1", map[string]any{"text": "local"})
	s.Set("notes", "1", map[string]any{"text": "local2"}) // version 2

	tests := []struct {
		name    string
		version int64
		applied bool
	}{
		{"lower version discarded", 1, false},
		{"equal version discarded", 2, false},
		{"higher version applied", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incoming := protocol.Record{
				ID:        "1",
				Data:      map[string]any{"text": "remote"},
				Version:   tt.version,
				UpdatedAt: 999,
			}
			s.applyRecords("notes", []protocol.Record{incoming})

			rec, _ := s.Get("notes", "1")
			got := rec.Data["text"] == "remote" && rec.Version == tt.version
			if got != tt.applied {
				t.Errorf("applied = %v, want %v (local now %+v)", got, tt.applied, rec)
			}
		})
	}
}

func TestApply_SameRecordTwiceIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	var notified int
	s.SetOnApplied(func(string, protocol.Record) { notified++ })

	incoming := protocol.Record{ID: "1", Version: 4, UpdatedAt: 100}
	s.applyRecords("notes", []protocol.Record{incoming})
	s.applyRecords("notes", []protocol.Record{incoming})

	if notified != 1 {
		t.Errorf("onApplied fired %d times, want 1", notified)
	}
}

func TestApply_TombstoneNotifiesAndHides(t *testing.T) {
	s := newTestStore(t)
	s.Set("notes", "1", map[string]any{"text": "hi"})

	var applied []protocol.Record
	s.SetOnApplied(func(_ string, rec protocol.Record) { applied = append(applied, rec) })

	deletedAt := int64(500)
	s.applyRecords("notes", []protocol.Record{{ID: "1", Version: 9, UpdatedAt: 500, DeletedAt: &deletedAt}})

	if len(applied) != 1 || !applied[0].Deleted() {
		t.Fatalf("expected one tombstone notification, got %v", applied)
	}
	if got := s.GetAll("notes"); len(got) != 0 {
		t.Errorf("GetAll after remote delete = %v, want empty", got)
	}
}

func TestRequestSync_CursorSubtractsOverlapWindow(t *testing.T) {
	s := newTestStore(t)
	s.now = func() int64 { return 500_000 }
	s.Set("notes", "1", nil)

	var sent []protocol.Envelope
	s.SetSend(func(env protocol.Envelope) { sent = append(sent, env) })
	s.RequestSync()

	if len(sent) != 1 || sent[0].Type != protocol.TypeSyncRequest {
		t.Fatalf("sent = %v, want one sync-request", sent)
	}
	var req protocol.SyncRequest
	if err := sent[0].DecodePayload(&req); err != nil {
		t.Fatal(err)
	}
	if req.Collection != protocol.CollectionAll {
		t.Errorf("collection = %q, want %q", req.Collection, protocol.CollectionAll)
	}
	if want := int64(500_000 - 60_000); req.Since != want {
		t.Errorf("since = %d, want %d", req.Since, want)
	}
}

func TestRequestSync_EmptyStoreStartsFromZero(t *testing.T) {
	s := newTestStore(t)

	var sent []protocol.Envelope
	s.SetSend(func(env protocol.Envelope) { sent = append(sent, env) })
	s.RequestSync()

	var req protocol.SyncRequest
	if err := sent[0].DecodePayload(&req); err != nil {
		t.Fatal(err)
	}
	if req.Since != 0 {
		t.Errorf("since = %d, want 0", req.Since)
	}
}

func TestSyncRequest_AnswersPerCollectionIncludingTombstones(t *testing.T) {
	a := newTestStore(t)
	a.Set("notes", "1", map[string]any{"text": "hi"})
	a.Set("tasks", "t1", map[string]any{"done": false})
	a.Delete("tasks", "t1")

	var responses []protocol.Envelope
	a.SetSend(func(env protocol.Envelope) { responses = append(responses, env) })

	req, _ := protocol.NewEnvelope(protocol.TypeSyncRequest, protocol.SyncRequest{
		Collection: protocol.CollectionAll,
		Since:      0,
	})
	a.HandleSyncMessage(req)

	if len(responses) != 2 {
		t.Fatalf("got %d responses, want one per collection", len(responses))
	}
	byCollection := map[string][]protocol.Record{}
	for _, env := range responses {
		if env.Type != protocol.TypeSyncResponse {
			t.Fatalf("response type = %q", env.Type)
		}
		var batch protocol.SyncRecords
		if err := env.DecodePayload(&batch); err != nil {
			t.Fatal(err)
		}
		byCollection[batch.Collection] = batch.Records
	}
	if len(byCollection["notes"]) != 1 {
		t.Errorf("notes delta = %v", byCollection["notes"])
	}
	if len(byCollection["tasks"]) != 1 || !byCollection["tasks"][0].Deleted() {
		t.Errorf("tasks delta should carry the tombstone, got %v", byCollection["tasks"])
	}
}

func TestSync_DisjointStoresConverge(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)
	a.Set("notes", "1", map[string]any{"text": "hi"})
	b.Set("notes", "2", map[string]any{"text": "yo"})

	link(a, b)
	a.RequestSync()
	b.RequestSync()

	for _, s := range []*Store{a, b} {
		if got := len(s.GetAll("notes")); got != 2 {
			t.Errorf("store has %d notes, want 2", got)
		}
	}
	rec, ok := b.Get("notes", "1")
	if !ok || rec.Version != 1 {
		t.Errorf("b notes/1 = %+v ok=%v, want version 1", rec, ok)
	}
}

func TestSync_ConcurrentEditsResolveByVersion(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)

	// Both edited the same id while disconnected; a reached version 2,
	// b version 3. Higher version must win on both sides regardless of
	// wall-clock order.
	a.Set("notes", "1", map[string]any{"who": "a"})
	a.Set("notes", "1", map[string]any{"who": "a"})
	b.Set("notes", "1", map[string]any{"who": "b"})
	b.Set("notes", "1", map[string]any{"who": "b"})
	b.Set("notes", "1", map[string]any{"who": "b"})

	link(a, b)
	a.RequestSync()
	b.RequestSync()

	for name, s := range map[string]*Store{"a": a, "b": b} {
		rec, _ := s.Get("notes", "1")
		if rec.Version != 3 || rec.Data["who"] != "b" {
			t.Errorf("store %s converged to %+v, want b's version 3", name, rec)
		}
	}
}

func TestSnapshot_RoundTripAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	s := New(path, logging.Nop())
	s.Set("notes", "1", map[string]any{"text": "hi"})
	s.Delete("notes", "1")
	s.Set("tasks", "t1", map[string]any{"done": true})

	reopened := New(path, logging.Nop())
	if rec, ok := reopened.Get("notes", "1"); !ok || !rec.Deleted() || rec.Version != 2 {
		t.Errorf("tombstone did not survive restart: %+v ok=%v", rec, ok)
	}
	if got := reopened.GetAll("tasks"); len(got) != 1 {
		t.Errorf("tasks after restart = %v", got)
	}
}

func TestSnapshot_CorruptFileFallsBackToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := New(path, logging.Nop())
	if got := s.GetAll("notes"); len(got) != 0 {
		t.Errorf("corrupt snapshot produced records: %v", got)
	}
	// The store must stay writable afterwards.
	if rec := s.Set("notes", "1", nil); rec.Version != 1 {
		t.Errorf("Set after corrupt load = %+v", rec)
	}
}

func TestSet_EmitsSingleRecordUpdateFrame(t *testing.T) {
	s := newTestStore(t)

	var sent []protocol.Envelope
	s.SetSend(func(env protocol.Envelope) { sent = append(sent, env) })

	s.Set("notes", "1", map[string]any{"text": "hi"})
	s.Delete("notes", "1")

	if len(sent) != 2 {
		t.Fatalf("sent %d frames, want 2", len(sent))
	}
	if sent[0].Type != protocol.TypeSyncUpdate || sent[1].Type != protocol.TypeSyncDelete {
		t.Errorf("frame types = %q, %q", sent[0].Type, sent[1].Type)
	}
	var batch protocol.SyncRecords
	if err := sent[1].DecodePayload(&batch); err != nil {
		t.Fatal(err)
	}
	if len(batch.Records) != 1 || !batch.Records[0].Deleted() {
		t.Errorf("sync-delete batch = %+v, want the single tombstone", batch)
	}
}
