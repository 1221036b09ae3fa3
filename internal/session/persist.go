package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrelworks/conductor/internal/errors"
	"github.com/kestrelworks/conductor/internal/event"
	"github.com/kestrelworks/conductor/internal/logging"
)

// SchemaVersion identifies the persisted store layout. Bump on breaking
// changes to the Session JSON shape.
const SchemaVersion = "1.0"

// persistedStore is the serialized representation of the full record set.
type persistedStore struct {
	Version     string              `json:"version"`
	LastUpdated time.Time           `json:"lastUpdated"`
	Sessions    map[string]*Session `json:"sessions"`
}

// Flush synchronously writes a snapshot of all sessions to the store's
// persistence path. Called on process-termination signals; the periodic
// flusher and the per-mutation saves go through the same path.
func (st *Store) Flush() error {
	if st.persistPath == "" {
		return nil
	}

	// Capturing the snapshot under flushMu keeps write order identical to
	// snapshot order across concurrent callers.
	st.flushMu.Lock()
	defer st.flushMu.Unlock()

	st.mu.Lock()
	snapshot := persistedStore{
		Version:     SchemaVersion,
		LastUpdated: time.Now(),
		Sessions:    make(map[string]*Session, len(st.sessions)),
	}
	for threadID, sess := range st.sessions {
		snapshot.Sessions[threadID] = sess.Clone()
	}
	st.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal session store")
	}
	if err := atomicWriteFile(st.persistPath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPersistence, err)
	}
	return nil
}

// saveAsync writes a snapshot in the background. Write failures are logged
// and swallowed so persistence never blocks or fails a scheduling decision.
// Concurrent saves serialize on flushMu inside Flush.
func (st *Store) saveAsync() {
	if st.persistPath == "" {
		return
	}
	go func() {
		if err := st.Flush(); err != nil {
			st.logger.Error("session store save failed", "error", err)
		}
	}()
}

// AutoFlush writes a snapshot on a fixed interval until the context is
// cancelled. Failures are logged, never raised.
func (st *Store) AutoFlush(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.Flush(); err != nil {
				st.logger.Error("periodic session store save failed", "error", err)
			}
		}
	}
}

// Load builds a Store from a previously persisted snapshot. A missing file
// yields an empty store; an unparseable one fails with ErrStoreCorrupted
// (fatal at startup only).
func Load(path string, bus *event.Bus, logger *logging.Logger) (*Store, error) {
	st := NewStore(bus, logger, path)
	if path == "" {
		return st, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return nil, errors.Wrap(err, "read session store")
	}

	var snapshot persistedStore
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStoreCorrupted, err)
	}
	for threadID, sess := range snapshot.Sessions {
		if sess.ID == "" || sess.ThreadID == "" {
			return nil, fmt.Errorf("%w: record for thread %q missing identity", errors.ErrStoreCorrupted, threadID)
		}
		if sess.Logs == nil {
			sess.Logs = []string{}
		}
		st.sessions[threadID] = sess
	}

	st.logger.Info("session store loaded",
		"path", path, "sessions", len(st.sessions), "version", snapshot.Version)
	return st, nil
}

// atomicWriteFile writes data to a temporary file in the target directory
// and renames it into place, so the store file is never half-written.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}
