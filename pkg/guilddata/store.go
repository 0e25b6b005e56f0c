// Package guilddata persists per-guild records as JSON files under
// data/<guild>/<event>/. Two stores share the layout: EventStore owns the
// canonical event.json object, UserStore owns per-user append-only arrays.
// Every write is load-modify-write under a per-path lock with an atomic
// temp-then-rename replace.
package guilddata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

// Store locates guild data on disk and serialises access per file path.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at the data directory
// (typically <guild-data-root>/data).
func NewStore(root string) *Store {
	return &Store{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
}

// Root returns the data directory.
func (s *Store) Root() string { return s.root }

// GuildDir returns data/<guild>.
func (s *Store) GuildDir(guildID string) string {
	return filepath.Join(s.root, guildID)
}

// EventDir returns data/<guild>/<event>.
func (s *Store) EventDir(guildID, eventID string) string {
	return filepath.Join(s.root, guildID, eventID)
}

// EventFile returns the canonical event record path.
func (s *Store) EventFile(guildID, eventID string) string {
	return filepath.Join(s.EventDir(guildID, eventID), "event.json")
}

// UserDir returns data/<guild>/<event>/<user>.
func (s *Store) UserDir(guildID, eventID, userID string) string {
	return filepath.Join(s.EventDir(guildID, eventID), userID)
}

// UserStateFile returns the per-user append-only record path.
func (s *Store) UserStateFile(guildID, eventID, userID string) string {
	return filepath.Join(s.UserDir(guildID, eventID, userID), "state.json")
}

// PromotionDir returns the promotional-reference directory for a user.
func (s *Store) PromotionDir(guildID, eventID, userID string) string {
	return filepath.Join(s.UserDir(guildID, eventID, userID), "promotion")
}

// pathLock returns the mutex guarding a single file path.
func (s *Store) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}

// writeAtomic replaces path with data via a temp file in the same directory,
// creating parents as needed. Rename is atomic on POSIX filesystems, so
// readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.IO("create directory "+dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errs.IO("create temp file in "+dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errs.IO("write temp file "+tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errs.IO("close temp file "+tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errs.IO("rename temp file to "+path, err)
	}
	return nil
}

// loadJSON reads path into v. A missing file leaves v untouched and
// returns false.
func loadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.IO("read "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errs.Parse("decode "+path, err)
	}
	return true, nil
}

func marshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errs.Internal("encode record", err)
	}
	return data, nil
}
