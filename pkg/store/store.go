// Package store implements the single-JSON-document swap index:
// {lp_id, version, swaps: {...}}, write-temp + fsync + rename under a
// global mutex, with an append-only audit trail mirrored to a rotating
// log file via lumberjack.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/pkg/chainerr"
)

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 1

// document is the on-disk shape: {lp_id, version, swaps: {...}}.
type document struct {
	LPID    string                   `json:"lp_id"`
	Version int                      `json:"version"`
	Swaps   map[string]*domain.Swap `json:"swaps"`
}

// Store is a durable, single-writer swap index backed by one JSON file.
type Store struct {
	mu sync.Mutex

	path string
	lpID string
	doc  document

	audit   *lumberjack.Logger
	archive *lumberjack.Logger
}

// Open loads path (creating an empty document if it does not exist yet)
// and returns a ready Store. auditPath/archivePath are rotating log files
// sitting alongside the main snapshot.
func Open(path, lpID, auditPath, archivePath string) (*Store, error) {
	s := &Store{
		path: path,
		lpID: lpID,
		doc:  document{LPID: lpID, Version: CurrentVersion, Swaps: make(map[string]*domain.Swap)},
		audit: &lumberjack.Logger{
			Filename:   auditPath,
			MaxSize:    50, // megabytes
			MaxBackups: 10,
			MaxAge:     90, // days
		},
		archive: &lumberjack.Logger{
			Filename:   archivePath,
			MaxSize:    50,
			MaxBackups: 10,
			MaxAge:     365,
		},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("store: reading %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("store: parsing %s: %w", path, err)
	}
	if doc.Swaps == nil {
		doc.Swaps = make(map[string]*domain.Swap)
	}
	doc.LPID = lpID
	s.doc = doc
	return s, nil
}

// Add inserts a brand-new swap.
func (s *Store) Add(swap *domain.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.doc.Swaps[swap.SwapID]; exists {
		return chainerr.New(chainerr.InvariantViolation, "store.Add", fmt.Errorf("swap %s already exists", swap.SwapID))
	}
	s.doc.Swaps[swap.SwapID] = swap
	s.appendAuditLocked(swap)
	return s.flushLocked()
}

// Get retrieves a swap by id.
func (s *Store) Get(swapID string) (*domain.Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.doc.Swaps[swapID]
	if !ok {
		return nil, chainerr.New(chainerr.InvariantViolation, "store.Get", fmt.Errorf("%w: %s", domain.ErrNotFound, swapID))
	}
	return swap, nil
}

// GetAll returns every swap currently in the hot index.
func (s *Store) GetAll() ([]*domain.Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Swap, 0, len(s.doc.Swaps))
	for _, swap := range s.doc.Swaps {
		out = append(out, swap)
	}
	return out, nil
}

// GetByState returns every swap currently in the given state.
func (s *Store) GetByState(state domain.State) ([]*domain.Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Swap
	for _, swap := range s.doc.Swaps {
		if swap.State == state {
			out = append(out, swap)
		}
	}
	return out, nil
}

// Update persists an in-place mutation of an already-loaded swap, flushing
// the whole document under the global store mutex (write-through policy).
func (s *Store) Update(swap *domain.Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Swaps[swap.SwapID]; !ok {
		return chainerr.New(chainerr.InvariantViolation, "store.Update", fmt.Errorf("%w: %s", domain.ErrNotFound, swap.SwapID))
	}
	s.doc.Swaps[swap.SwapID] = swap
	s.appendAuditLocked(swap)
	return s.flushLocked()
}

// Archive removes a terminal swap from the hot index into the rotating
// archive file, refusing non-terminal swaps.
func (s *Store) Archive(swapID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, ok := s.doc.Swaps[swapID]
	if !ok {
		return chainerr.New(chainerr.InvariantViolation, "store.Archive", fmt.Errorf("%w: %s", domain.ErrNotFound, swapID))
	}
	if !swap.State.IsTerminal() {
		return chainerr.New(chainerr.InvariantViolation, "store.Archive", fmt.Errorf("swap %s is not terminal (state %s)", swapID, swap.State))
	}

	archived := document{LPID: s.lpID, Version: CurrentVersion, Swaps: map[string]*domain.Swap{swapID: swap}}
	raw, err := json.Marshal(archived)
	if err != nil {
		return fmt.Errorf("store: marshaling archive entry: %w", err)
	}
	if _, err := s.archive.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("store: writing archive: %w", err)
	}

	delete(s.doc.Swaps, swapID)
	return s.flushLocked()
}

// NonTerminal returns every swap that has not yet reached a terminal state,
// for the resume-scan Store hands the engine on load.
func (s *Store) NonTerminal() []*domain.Swap {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Swap
	for _, swap := range s.doc.Swaps {
		if !swap.State.IsTerminal() {
			out = append(out, swap)
		}
	}
	return out
}

// Close flushes and releases the backing log files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.audit.Close(); err != nil {
		return err
	}
	return s.archive.Close()
}

// flushLocked writes the document to disk with write-temp + fsync + rename
// so a crash mid-write can never leave a truncated document. Callers must
// hold s.mu.
func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshaling document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("store: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("store: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: renaming temp file into place: %w", err)
	}
	return nil
}

func (s *Store) appendAuditLocked(swap *domain.Swap) {
	if len(swap.Timeline) == 0 {
		return
	}
	last := swap.Timeline[len(swap.Timeline)-1]
	line, err := json.Marshal(struct {
		SwapID    string       `json:"swap_id"`
		Timestamp int64        `json:"timestamp"`
		State     domain.State `json:"state"`
		Note      string       `json:"note"`
	}{swap.SwapID, last.Timestamp, last.State, last.Note})
	if err != nil {
		return
	}
	s.audit.Write(append(line, '\n'))
}
