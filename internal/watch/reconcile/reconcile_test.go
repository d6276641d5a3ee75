package reconcile

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/htlc"
)

type fakeRepo struct {
	swaps []*domain.Swap
}

func (r *fakeRepo) Add(*domain.Swap) error                          { return nil }
func (r *fakeRepo) Get(string) (*domain.Swap, error)                 { return nil, nil }
func (r *fakeRepo) GetAll() ([]*domain.Swap, error)                  { return r.swaps, nil }
func (r *fakeRepo) GetByState(domain.State) ([]*domain.Swap, error)   { return nil, nil }
func (r *fakeRepo) Update(*domain.Swap) error                        { return nil }
func (r *fakeRepo) Archive(string) error                             { return nil }
func (r *fakeRepo) Close() error                                     { return nil }

type fakeWatcher struct {
	watched   []string
	unwatched []string
}

func (w *fakeWatcher) WatchLeg(swapID string, leg *domain.Leg, params htlc.Params) {
	w.watched = append(w.watched, swapID)
}

func (w *fakeWatcher) UnwatchLeg(swapID string, leg *domain.Leg) {
	w.unwatched = append(w.unwatched, swapID)
}

func (w *fakeWatcher) Run(ctx context.Context, hb ports.Heartbeat) error { return nil }

func testSwap(hasKeys bool) *domain.Swap {
	leg := &domain.Leg{Kind: domain.LegBTC, Amount: 50_000, Timelock: 0}
	if hasKeys {
		leg.RecipientPubkey = "02" + strings.Repeat("a", 64)
		leg.SenderPubkey = "03" + strings.Repeat("a", 64)
		leg.Timelock = 500
	}
	return &domain.Swap{
		SwapID: "fs_1",
		State:  domain.StateInit,
		HUser:  strings.Repeat("0", 63) + "a",
		HLp1:   strings.Repeat("0", 63) + "b",
		HLp2:   strings.Repeat("0", 63) + "c",
		BTCLeg: leg,
	}
}

func TestReconcileOnceSkipsLegWithoutKeyMaterial(t *testing.T) {
	repo := &fakeRepo{swaps: []*domain.Swap{testSwap(false)}}
	watcher := &fakeWatcher{}
	r := New(repo, map[domain.LegKind]ports.Watcher{domain.LegBTC: watcher}, nil)

	r.reconcileOnce()
	require.Empty(t, watcher.watched)
	require.Empty(t, watcher.unwatched)
}

func TestReconcileOnceUnwatchesTerminalSwapLeg(t *testing.T) {
	swap := testSwap(true)
	swap.State = domain.StateCompleted
	repo := &fakeRepo{swaps: []*domain.Swap{swap}}
	watcher := &fakeWatcher{}
	r := New(repo, map[domain.LegKind]ports.Watcher{domain.LegBTC: watcher}, nil)

	r.reconcileOnce()
	require.Equal(t, []string{"fs_1"}, watcher.unwatched)
	require.Empty(t, watcher.watched)
}

func TestReconcileOnceUnwatchesClaimedLeg(t *testing.T) {
	swap := testSwap(true)
	swap.BTCLeg.Claimed = true
	repo := &fakeRepo{swaps: []*domain.Swap{swap}}
	watcher := &fakeWatcher{}
	r := New(repo, map[domain.LegKind]ports.Watcher{domain.LegBTC: watcher}, nil)

	r.reconcileOnce()
	require.Equal(t, []string{"fs_1"}, watcher.unwatched)
}

func TestReconcileOnceWatchesActiveLegWithKeyMaterial(t *testing.T) {
	repo := &fakeRepo{swaps: []*domain.Swap{testSwap(true)}}
	watcher := &fakeWatcher{}
	r := New(repo, map[domain.LegKind]ports.Watcher{domain.LegBTC: watcher}, nil)

	r.reconcileOnce()
	require.Equal(t, []string{"fs_1"}, watcher.watched)
	require.Empty(t, watcher.unwatched)
}

func TestReconcileOnceIgnoresLegWithNoRegisteredWatcher(t *testing.T) {
	repo := &fakeRepo{swaps: []*domain.Swap{testSwap(true)}}
	r := New(repo, map[domain.LegKind]ports.Watcher{}, nil)

	require.NotPanics(t, func() { r.reconcileOnce() })
}
