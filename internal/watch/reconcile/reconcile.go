// Package reconcile keeps each chain watcher's subscription set in sync
// with the store: rather than thread WatchLeg/UnwatchLeg calls through
// every engine mutation site, a single periodic pass derives the current
// set of legs that still need chain attention and (un)registers them. This
// also makes watcher subscriptions self-healing across a restart, since the
// first pass after startup reconstructs every open leg's subscription from
// whatever the store already has on disk.
package reconcile

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/engine"
	"github.com/flowswap/lp-node/internal/core/ports"
)

// Reconciler drives ports.Watcher.WatchLeg/UnwatchLeg for every chain from
// the swap repository's current state.
type Reconciler struct {
	repo     domain.SwapRepository
	watchers map[domain.LegKind]ports.Watcher
	log      *logrus.Entry
}

// New returns a Reconciler over the given repository and per-chain watchers.
func New(repo domain.SwapRepository, watchers map[domain.LegKind]ports.Watcher, log *logrus.Entry) *Reconciler {
	if log == nil {
		log = logrus.WithField("component", "reconcile")
	}
	return &Reconciler{repo: repo, watchers: watchers, log: log}
}

// Run polls every interval until ctx is canceled, ticking hb on each pass.
func (r *Reconciler) Run(ctx context.Context, hb ports.Heartbeat, interval time.Duration) error {
	// Reconcile once immediately so watchers pick up in-flight swaps before
	// the first tick, rather than waiting out the first interval.
	r.reconcileOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if hb != nil {
				hb.Tick()
			}
			r.reconcileOnce()
		}
	}
}

func (r *Reconciler) reconcileOnce() {
	swaps, err := r.repo.GetAll()
	if err != nil {
		r.log.WithError(err).Warn("reconcile: GetAll failed")
		return
	}
	for _, swap := range swaps {
		for _, leg := range []*domain.Leg{swap.BTCLeg, swap.M1Leg, swap.EVMLeg} {
			if leg == nil {
				continue
			}
			r.reconcileLeg(swap, leg)
		}
	}
}

func (r *Reconciler) reconcileLeg(swap *domain.Swap, leg *domain.Leg) {
	w, ok := r.watchers[leg.Kind]
	if !ok {
		return
	}
	if swap.State.IsTerminal() || leg.Claimed || leg.Refunded {
		w.UnwatchLeg(swap.SwapID, leg)
		return
	}
	// A leg derived but not yet fully parameterized (e.g. the per_leg
	// LP_OUT's M1 leg before LP_IN's webhook arrives) has no key material
	// to build htlc.Params from yet; skip it until the next pass.
	if leg.RecipientPubkey == "" || leg.SenderPubkey == "" || leg.Timelock == 0 {
		return
	}
	params, err := engine.ParamsForLeg(swap, leg)
	if err != nil {
		r.log.WithError(err).WithField("swap_id", swap.SwapID).Warn("reconcile: rebuilding params failed")
		return
	}
	w.WatchLeg(swap.SwapID, leg, params)
}
