package engine

import (
	"context"
	"fmt"

	"github.com/flowswap/lp-node/internal/core/domain"
)

// avgBlockSeconds is the wall-clock block interval used to translate
// between a BTC/M1 absolute-height timelock and a seconds-from-now
// duration; both chains target a 10-minute block.
const avgBlockSeconds = 600

// remainingSeconds reports how much wall-clock time is left before leg's
// timelock expires, reading the chain's current tip for BTC/M1 since their
// timelocks are absolute block heights, not timestamps.
func (e *Engine) remainingSeconds(ctx context.Context, leg *domain.Leg) (int64, error) {
	if leg.Kind == domain.LegEVM {
		return leg.Timelock - e.now(), nil
	}
	client, ok := e.clients[leg.Kind]
	if !ok {
		return 0, fmt.Errorf("no chain client for %s", leg.Kind)
	}
	tip, err := client.Tip(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading %s tip: %w", leg.Kind, err)
	}
	return (leg.Timelock - tip.Height) * avgBlockSeconds, nil
}

// deadlineFromNow converts a seconds-from-now duration into the absolute
// timelock value toLeg's chain expects: an absolute height for BTC/M1,
// an absolute Unix timestamp for EVM.
func (e *Engine) deadlineFromNow(ctx context.Context, toLeg domain.LegKind, secondsFromNow int64) (int64, error) {
	if toLeg == domain.LegEVM {
		return e.now() + secondsFromNow, nil
	}
	client, ok := e.clients[toLeg]
	if !ok {
		return 0, fmt.Errorf("no chain client for %s", toLeg)
	}
	tip, err := client.Tip(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading %s tip: %w", toLeg, err)
	}
	return tip.Height + secondsFromNow/avgBlockSeconds, nil
}

// marginSeconds expresses a leg's configured safety margin (blocks for
// BTC/M1, seconds for EVM) in wall-clock seconds.
func (e *Engine) marginSeconds(leg domain.LegKind) int64 {
	switch leg {
	case domain.LegBTC:
		return e.cfg.SafetyMarginBTC * avgBlockSeconds
	case domain.LegM1:
		return e.cfg.SafetyMarginM1 * avgBlockSeconds
	case domain.LegEVM:
		return e.cfg.SafetyMarginEVM
	default:
		return 0
	}
}

// nextLegTimelock computes toLeg's absolute timelock so that it expires at
// least marginSeconds(fromLeg) before fromLeg's own timelock, satisfying
// invariant 2's timelock-monotonicity requirement across two different
// chains' native timelock units.
func (e *Engine) nextLegTimelock(ctx context.Context, fromLeg *domain.Leg, toLeg domain.LegKind) (int64, error) {
	remaining, err := e.remainingSeconds(ctx, fromLeg)
	if err != nil {
		return 0, err
	}
	budget := remaining - e.marginSeconds(fromLeg.Kind)
	if budget <= 0 {
		return 0, fmt.Errorf("no safety margin left on %s leg to schedule %s leg", fromLeg.Kind, toLeg)
	}
	return e.deadlineFromNow(ctx, toLeg, budget)
}
