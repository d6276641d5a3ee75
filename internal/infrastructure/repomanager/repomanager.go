// Package repomanager is the ports.RepoManager implementation, wrapping the
// single pkg/store.Store document the LP node persists its swap index into.
package repomanager

import (
	"fmt"
	"path/filepath"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/store"
)

// Manager implements ports.RepoManager against one pkg/store.Store.
type Manager struct {
	store *store.Store
}

var _ ports.RepoManager = (*Manager)(nil)

// Open opens the swap store document at dbPath, deriving its audit and
// archive log paths alongside it.
func Open(dbPath, lpID string) (*Manager, error) {
	dir := filepath.Dir(dbPath)
	auditPath := filepath.Join(dir, "audit.log")
	archivePath := filepath.Join(dir, "archive.json")

	s, err := store.Open(dbPath, lpID, auditPath, archivePath)
	if err != nil {
		return nil, fmt.Errorf("repomanager: opening store at %s: %w", dbPath, err)
	}
	return &Manager{store: s}, nil
}

// Swap returns the swap repository the engine transitions against.
func (m *Manager) Swap() domain.SwapRepository {
	return m.store
}

// Close flushes and releases the underlying store document.
func (m *Manager) Close() error {
	return m.store.Close()
}
