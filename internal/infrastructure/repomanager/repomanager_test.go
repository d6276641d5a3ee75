package repomanager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/internal/core/domain"
)

func TestOpenSwapAndClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "swaps.json")

	m, err := Open(dbPath, "lp_test")
	require.NoError(t, err)
	defer m.Close()

	repo := m.Swap()
	swap := &domain.Swap{SwapID: "fs_1", State: domain.StateInit}
	require.NoError(t, repo.Add(swap))

	got, err := repo.Get("fs_1")
	require.NoError(t, err)
	require.Equal(t, "fs_1", got.SwapID)
}

func TestOpenReopensExistingStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "swaps.json")

	m1, err := Open(dbPath, "lp_test")
	require.NoError(t, err)
	require.NoError(t, m1.Swap().Add(&domain.Swap{SwapID: "fs_1", State: domain.StateInit}))
	require.NoError(t, m1.Close())

	m2, err := Open(dbPath, "lp_test")
	require.NoError(t, err)
	defer m2.Close()

	got, err := m2.Swap().Get("fs_1")
	require.NoError(t, err)
	require.Equal(t, "fs_1", got.SwapID)
}
