package syncstore

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pairlink/pairlink/pkg/protocol"
)

// load reads the snapshot file into the store. Missing files are normal on
// first run; corrupt files are logged and treated as empty rather than
// failing construction.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read snapshot", "path", s.path, "error", err)
		}
		return
	}

	var collections map[string]map[string]protocol.Record
	if err := json.Unmarshal(data, &collections); err != nil {
		s.logger.Warn("corrupt snapshot, starting empty", "path", s.path, "error", err)
		return
	}
	if collections != nil {
		s.collections = collections
	}
}

// persistLocked writes the full store to the snapshot file. Caller holds the
// lock. Write failures leave the in-memory state applied; the next successful
// write catches the file up.
func (s *Store) persistLocked() {
	data, err := json.Marshal(s.collections)
	if err != nil {
		s.logger.Error("marshal snapshot", "error", err)
		return
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.logger.Error("create snapshot directory", "dir", dir, "error", err)
			return
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Error("write snapshot", "path", s.path, "error", err)
	}
}
