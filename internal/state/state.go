// Package state persists the sync session across process restarts.
// Everything lives in a single bbolt database; the session record is
// one JSON blob under a fixed key, read at startup and rewritten after
// every mutation.
package state

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.codesync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket  = []byte("app")
	sessionKey = []byte("session")
)

// MappingStatus is the sync status of a single file mapping.
type MappingStatus string

const (
	StatusSynced   MappingStatus = "synced"
	StatusSyncing  MappingStatus = "syncing"
	StatusConflict MappingStatus = "conflict"
	StatusError    MappingStatus = "error"
)

// FileMapping ties a remote file's identity to its local path and sync
// status. The mapping list is rebuilt wholesale from the remote snapshot
// after every pass rather than patched incrementally, so it can never
// drift from the store's actual file list.
type FileMapping struct {
	RemoteID     string        `json:"remote_id"`
	LocalPath    string        `json:"local_path"`
	Status       MappingStatus `json:"status"`
	LastSyncAt   time.Time     `json:"last_sync_at,omitzero"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// SessionState is the single persisted record for a sync session.
type SessionState struct {
	Directory                     string        `json:"directory,omitempty"`
	Mappings                      []FileMapping `json:"mappings,omitempty"`
	LastSyncTimestamp             time.Time     `json:"last_sync_timestamp,omitzero"`
	HasCompletedInitialResolution bool          `json:"has_completed_initial_resolution"`
}

// Store wraps a bbolt database holding the session record.
type Store struct {
	db *bolt.DB
}

// Load opens the state database at ~/.codesync/state.db, creating it
// if it does not exist.
func Load() (*Store, error) {
	return LoadAt(DefaultPath())
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func LoadAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session returns the persisted session record. A database with no
// record yet yields the zero SessionState (no directory, no mappings,
// initial resolution not completed).
func (s *Store) Session() (SessionState, error) {
	var ss SessionState

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(sessionKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &ss)
	})
	if err != nil {
		return SessionState{}, fmt.Errorf("reading session record: %w", err)
	}

	return ss, nil
}

// SetSession replaces the persisted session record. Mappings must not
// share a RemoteID; a duplicate is a bug in the caller and is rejected
// rather than silently persisted.
func (s *Store) SetSession(ss SessionState) error {
	seen := make(map[string]struct{}, len(ss.Mappings))
	for _, m := range ss.Mappings {
		if _, dup := seen[m.RemoteID]; dup {
			return fmt.Errorf("duplicate remote identity %q in mappings", m.RemoteID)
		}

		seen[m.RemoteID] = struct{}{}
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ss)
		if err != nil {
			return err
		}

		return tx.Bucket(appBucket).Put(sessionKey, data)
	})
}

// DefaultPath returns the default state database location:
// ~/.codesync/state.db
func DefaultPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		// Fail loudly rather than silently writing to the current
		// directory where the database might end up inside the synced
		// tree itself.
		fmt.Fprintf(os.Stderr, "fatal: cannot determine home directory: %v\n", err)
		os.Exit(1)
	}

	return filepath.Join(dir, ".codesync", "state.db")
}
