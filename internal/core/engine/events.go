package engine

import (
	"context"
	"fmt"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/chainerr"
	"github.com/flowswap/lp-node/pkg/htlc"
)

// Dispatch routes a watcher-observed event to its handler by kind.
func (e *Engine) Dispatch(ctx context.Context, ev ports.ChainEvent) error {
	switch ev.Kind {
	case ports.EventTxConfirmed:
		return e.onTxConfirmed(ctx, ev)
	case ports.EventLog:
		return e.onClaimObserved(ctx, ev)
	case ports.EventReorg:
		return e.onReorg(ctx, ev)
	case ports.EventTimelockExpired:
		return e.onTimelockExpired(ctx, ev)
	default:
		return chainerr.New(chainerr.InvariantViolation, "engine.Dispatch", fmt.Errorf("unknown event kind %q", ev.Kind))
	}
}

// stateIn reports whether s is one of the candidates.
func stateIn(s domain.State, candidates ...domain.State) bool {
	for _, c := range candidates {
		if s == c {
			return true
		}
	}
	return false
}

// awaitingSightingState names the sub-state a leg's owning swap moves to
// the first time it sees the funding tx unconfirmed or below threshold,
// before the confirmation policy is satisfied. Only the first leg of each
// direction/role has a named "seen" sub-state in the diagram; other legs just accumulate confirmations silently.
func awaitingSightingState(swap *domain.Swap, leg domain.LegKind) (from, to domain.State, ok bool) {
	switch {
	case leg == domain.LegBTC && swap.Direction == domain.DirectionForward && swap.RoutingMode == domain.RoutingSingleLP:
		return domain.StateAwaitingBTC, domain.StateBTCFundingSeen, true
	case leg == domain.LegBTC && swap.RoutingMode == domain.RoutingPerLeg && swap.LegRole == domain.LegRoleLPIn:
		return domain.StateAwaitingBTC, domain.StateBTCFundingSeen, true
	case leg == domain.LegEVM && swap.Direction == domain.DirectionReverse && swap.RoutingMode == domain.RoutingSingleLP:
		return domain.StateAwaitingUSDC, domain.StateUSDCFunded, true
	case leg == domain.LegM1 && swap.RoutingMode == domain.RoutingPerLeg && swap.LegRole == domain.LegRoleLPOut:
		return domain.StateInit, domain.StateM1LockedSeen, true
	default:
		return "", "", false
	}
}

// onTxConfirmed updates a leg's confirmation count and, once the leg's
// confirmation policy is satisfied for the first time, advances the state
// machine — which may itself broadcast the next leg. The broadcast (if
// any) happens outside the swap lock via readPlanCommit.
func (e *Engine) onTxConfirmed(ctx context.Context, ev ports.ChainEvent) error {
	dk := dedupKey(ev.SwapID, ev.Leg, ev.Kind, ev.EvidenceHash)

	return e.readPlanCommit(ev.SwapID, func(swap *domain.Swap) (func() error, func(*domain.Swap) error, error) {
		leg := swap.LegFor(ev.Leg)
		if leg == nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.onTxConfirmed",
				fmt.Errorf("swap %s has no %s leg", swap.SwapID, ev.Leg))
		}
		if swap.State.IsTerminal() {
			return nil, nil, nil
		}

		required := e.requiredConfirms(ev.Leg, leg.Amount)
		e.markSeenOnce(dk)

		if ev.Confirmations < required {
			confirmations := ev.Confirmations
			return nil, func(s *domain.Swap) error {
				l := s.LegFor(ev.Leg)
				if l != nil && confirmations > l.Confirmations {
					l.Confirmations = confirmations
				}
				if from, to, ok := awaitingSightingState(s, ev.Leg); ok && s.State == from {
					s.Transition(e.now(), to, fmt.Sprintf("%s deposit sighted %s", ev.Leg, ev.TxID))
				}
				return e.repo.Update(s)
			}, nil
		}

		if leg.Funded {
			// Already processed this leg's threshold crossing; just refresh.
			confirmations := ev.Confirmations
			return nil, func(s *domain.Swap) error {
				l := s.LegFor(ev.Leg)
				if l != nil && confirmations > l.Confirmations {
					l.Confirmations = confirmations
				}
				return e.repo.Update(s)
			}, nil
		}

		return e.planFundConfirmed(ctx, swap, leg, ev)
	})
}

// planFundConfirmed decides, under the swap lock, how a newly-sufficiently-
// confirmed leg advances the state machine, returning the unlocked action
// (if any) and the commit to apply once it completes.
func (e *Engine) planFundConfirmed(ctx context.Context, swap *domain.Swap, leg *domain.Leg, ev ports.ChainEvent) (func() error, func(*domain.Swap) error, error) {
	markFunded := func(s *domain.Swap, txid string) {
		l := s.LegFor(leg.Kind)
		l.Funded = true
		l.Confirmations = ev.Confirmations
		if txid != "" {
			l.FundTxID = txid
		}
		// EvidenceHash is "txid:vout" for BTC/M1 and the derived htlcId for
		// EVM (see btcwatch/m1watch/evmwatch), so it doubles as the claim
		// watcher's spend/event key once funding is confirmed.
		if leg.Kind == domain.LegEVM {
			l.ContractID = ev.EvidenceHash
		} else {
			l.Outpoint = ev.EvidenceHash
		}
	}

	switch {
	// --- forward, single_lp: BTC funding confirms, LP self-locks M1. ---
	case leg.Kind == domain.LegBTC && swap.Direction == domain.DirectionForward &&
		swap.RoutingMode == domain.RoutingSingleLP &&
		stateIn(swap.State, domain.StateAwaitingBTC, domain.StateBTCFundingSeen, domain.StateBTCFunded):
		pubkey, err := e.wallet.Pubkey(ctx, domain.LegM1)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planFundConfirmed", err)
		}
		m1Timelock, err := e.nextLegTimelock(ctx, leg, domain.LegM1)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		params, err := legParams(swap, pubkey, pubkey, m1Timelock, swap.FromAmount)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}

		var newLeg *domain.Leg
		action := func() error {
			var err error
			newLeg, err = e.publishLeg(ctx, swap, domain.LegM1, params)
			return err
		}
		commit := func(s *domain.Swap) error {
			markFunded(s, "")
			s.M1Leg = newLeg
			s.Transition(e.now(), domain.StateM1Locked, "LP published M1 self-lock "+newLeg.FundTxID)
			return e.repo.Update(s)
		}
		return action, commit, nil

	// --- forward, single_lp: M1 self-lock confirms, reveal S_lp1, lock USDC to user. ---
	case leg.Kind == domain.LegM1 && swap.Direction == domain.DirectionForward &&
		swap.RoutingMode == domain.RoutingSingleLP && swap.State == domain.StateM1Locked:
		usdcTimelock, err := e.nextLegTimelock(ctx, leg, domain.LegEVM)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		recipient, err := decodePubkey(swap.UserPayoutAddress)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		refund, err := e.wallet.Pubkey(ctx, domain.LegEVM)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planFundConfirmed", err)
		}
		params, err := legParams(swap, recipient, refund, usdcTimelock, swap.ToAmount)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}

		var newLeg *domain.Leg
		action := func() error {
			var err error
			newLeg, err = e.publishLeg(ctx, swap, domain.LegEVM, params)
			return err
		}
		commit := func(s *domain.Swap) error {
			markFunded(s, "")
			e.promoteSecret(s, domain.LegM1)
			s.EVMLeg = newLeg
			s.Transition(e.now(), domain.StateUSDCLocked, "LP published USDC lock to user "+newLeg.FundTxID)
			return e.repo.Update(s)
		}
		return action, commit, nil

	// --- forward, single_lp: USDC lock confirms; reveal S_lp2, wait for user claim. ---
	case leg.Kind == domain.LegEVM && swap.Direction == domain.DirectionForward &&
		swap.RoutingMode == domain.RoutingSingleLP && swap.State == domain.StateUSDCLocked:
		return nil, func(s *domain.Swap) error {
			markFunded(s, "")
			e.promoteSecret(s, domain.LegEVM)
			s.AppendEvent(e.now(), "USDC leg confirmed, awaiting user claim")
			return e.repo.Update(s)
		}, nil

	// --- reverse, single_lp: USDC funding confirms, LP self-locks M1. ---
	case leg.Kind == domain.LegEVM && swap.Direction == domain.DirectionReverse &&
		swap.RoutingMode == domain.RoutingSingleLP &&
		(swap.State == domain.StateAwaitingUSDC || swap.State == domain.StateUSDCFunded):
		pubkey, err := e.wallet.Pubkey(ctx, domain.LegM1)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planFundConfirmed", err)
		}
		m1Timelock, err := e.nextLegTimelock(ctx, leg, domain.LegM1)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		params, err := legParams(swap, pubkey, pubkey, m1Timelock, swap.ToAmount)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}

		var newLeg *domain.Leg
		action := func() error {
			var err error
			newLeg, err = e.publishLeg(ctx, swap, domain.LegM1, params)
			return err
		}
		commit := func(s *domain.Swap) error {
			markFunded(s, "")
			s.M1Leg = newLeg
			s.Transition(e.now(), domain.StateM1LockedSelf, "LP published M1 self-lock "+newLeg.FundTxID)
			return e.repo.Update(s)
		}
		return action, commit, nil

	// --- reverse, single_lp: M1 self-lock confirms, reveal S_lp1, lock BTC to user. ---
	case leg.Kind == domain.LegM1 && swap.Direction == domain.DirectionReverse &&
		swap.RoutingMode == domain.RoutingSingleLP && swap.State == domain.StateM1LockedSelf:
		btcTimelock, err := e.nextLegTimelock(ctx, leg, domain.LegBTC)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		recipient, err := decodePubkey(swap.UserPayoutAddress)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		refund, err := e.wallet.Pubkey(ctx, domain.LegBTC)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planFundConfirmed", err)
		}
		params, err := legParams(swap, recipient, refund, btcTimelock, swap.ToAmount)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}

		var newLeg *domain.Leg
		action := func() error {
			var err error
			newLeg, err = e.publishLeg(ctx, swap, domain.LegBTC, params)
			return err
		}
		commit := func(s *domain.Swap) error {
			markFunded(s, "")
			e.promoteSecret(s, domain.LegM1)
			s.BTCLeg = newLeg
			s.Transition(e.now(), domain.StateBTCLockedUser, "LP published BTC lock to user "+newLeg.FundTxID)
			return e.repo.Update(s)
		}
		return action, commit, nil

	// --- reverse, single_lp: BTC lock to user confirms; reveal S_lp2, wait for user claim. ---
	case leg.Kind == domain.LegBTC && swap.Direction == domain.DirectionReverse &&
		swap.RoutingMode == domain.RoutingSingleLP && swap.State == domain.StateBTCLockedUser:
		return nil, func(s *domain.Swap) error {
			markFunded(s, "")
			e.promoteSecret(s, domain.LegBTC)
			s.AppendEvent(e.now(), "BTC leg confirmed, awaiting user claim")
			return e.repo.Update(s)
		}, nil

	// --- per_leg, LP_IN: BTC funding confirms, publish M1 HTLC to LP_OUT, notify. ---
	case leg.Kind == domain.LegBTC && swap.RoutingMode == domain.RoutingPerLeg &&
		swap.LegRole == domain.LegRoleLPIn &&
		stateIn(swap.State, domain.StateAwaitingBTC, domain.StateBTCFundingSeen):
		peerPubkey, err := decodePubkey(swap.PeerM1Pubkey)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		refund, err := e.wallet.Pubkey(ctx, domain.LegM1)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planFundConfirmed", err)
		}
		m1Timelock, err := e.nextLegTimelock(ctx, leg, domain.LegM1)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		params, err := legParams(swap, peerPubkey, refund, m1Timelock, swap.FromAmount)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}

		var newLeg *domain.Leg
		var notifyErr error
		action := func() error {
			var err error
			newLeg, err = e.publishLeg(ctx, swap, domain.LegM1, params)
			if err != nil {
				return err
			}
			// The M1 HTLC is already on-chain at this point and cannot be
			// un-broadcast; a failed notify must not fail the action, or
			// commit never runs, the leg never gets marked funded, and the
			// next confirmation tick re-enters this case and re-broadcasts
			// a second M1 HTLC against the same BTC deposit.
			notifyErr = e.notify.NotifyM1Locked(ctx, swap.PeerURL, swap.SwapID, ports.M1LockedPayload{
				Outpoint:     newLeg.FundTxID,
				AmountSats:   newLeg.Amount,
				ExpiryHeight: newLeg.Timelock,
			})
			return nil
		}
		commit := func(s *domain.Swap) error {
			markFunded(s, "")
			s.M1Leg = newLeg
			if chainerr.Is(notifyErr, chainerr.PeerUnreachable) {
				s.Transition(e.now(), domain.StatePeerUnreachable, "LP_IN published M1 HTLC "+newLeg.FundTxID+" but peer unreachable: "+notifyErr.Error())
			} else {
				s.Transition(e.now(), domain.StateM1LockedForLPOut, "LP_IN published M1 HTLC to LP_OUT "+newLeg.FundTxID)
			}
			return e.repo.Update(s)
		}
		return action, commit, nil

	// --- per_leg, LP_OUT: LP_IN's M1 HTLC confirms, lock USDC to user. ---
	case leg.Kind == domain.LegM1 && swap.RoutingMode == domain.RoutingPerLeg &&
		swap.LegRole == domain.LegRoleLPOut && swap.State == domain.StateM1LockedSeen:
		usdcTimelock, err := e.nextLegTimelock(ctx, leg, domain.LegEVM)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		recipient, err := decodePubkey(swap.UserPayoutAddress)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}
		refund, err := e.wallet.Pubkey(ctx, domain.LegEVM)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planFundConfirmed", err)
		}
		params, err := legParams(swap, recipient, refund, usdcTimelock, swap.ToAmount)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planFundConfirmed", err)
		}

		var newLeg *domain.Leg
		action := func() error {
			var err error
			newLeg, err = e.publishLeg(ctx, swap, domain.LegEVM, params)
			return err
		}
		commit := func(s *domain.Swap) error {
			markFunded(s, "")
			s.EVMLeg = newLeg
			s.Transition(e.now(), domain.StateUSDCLocked, "LP_OUT published USDC lock to user "+newLeg.FundTxID)
			return e.repo.Update(s)
		}
		return action, commit, nil

	// --- per_leg, LP_OUT: USDC lock confirms; wait for user claim. ---
	case leg.Kind == domain.LegEVM && swap.RoutingMode == domain.RoutingPerLeg &&
		swap.LegRole == domain.LegRoleLPOut && swap.State == domain.StateUSDCLocked:
		return nil, func(s *domain.Swap) error {
			markFunded(s, "")
			s.AppendEvent(e.now(), "USDC leg confirmed, awaiting user claim")
			return e.repo.Update(s)
		}, nil

	default:
		e.log.WithFields(logrusFields(swap, leg, ev)).Warn("engine: fund confirmation in unexpected state, ignoring")
		return nil, nil, nil
	}
}

// promoteSecret moves the LP's in-memory secret tied to leg into the
// durable Swap record, per invariant 1: an S_lp* is only ever written to
// disk once the HTLC that gates its reveal has a confirmed funding tx.
func (e *Engine) promoteSecret(swap *domain.Swap, gatingLeg domain.LegKind) {
	secrets, ok := e.getOwnSecrets(swap.SwapID)
	if !ok {
		return
	}
	switch {
	case gatingLeg == domain.LegM1 && swap.SLp1 == "":
		swap.SLp1 = encodeHash32(secrets.SLp1)
	case (gatingLeg == domain.LegEVM || gatingLeg == domain.LegBTC) && swap.SLp2 == "":
		swap.SLp2 = encodeHash32(secrets.SLp2)
	}
}

func logrusFields(swap *domain.Swap, leg *domain.Leg, ev ports.ChainEvent) map[string]any {
	return map[string]any{
		"swap_id": swap.SwapID,
		"state":   swap.State,
		"leg":     leg.Kind,
		"event":   ev.Kind,
	}
}

// onClaimObserved handles a watcher-reported claim (EVM HTLCClaimed event
// or a BTC/M1 claim witness), extracting and verifying the three secrets,
// then chaining the LP's own downstream claims.
func (e *Engine) onClaimObserved(ctx context.Context, ev ports.ChainEvent) error {
	if ev.Secrets == nil {
		return chainerr.New(chainerr.InvariantViolation, "engine.onClaimObserved", fmt.Errorf("claim event for %s carries no secrets", ev.SwapID))
	}
	dk := dedupKey(ev.SwapID, ev.Leg, ev.Kind, ev.EvidenceHash)

	return e.readPlanCommit(ev.SwapID, func(swap *domain.Swap) (func() error, func(*domain.Swap) error, error) {
		if swap.State.IsTerminal() {
			return nil, nil, nil
		}
		leg := swap.LegFor(ev.Leg)
		if leg == nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.onClaimObserved",
				fmt.Errorf("swap %s has no %s leg", swap.SwapID, ev.Leg))
		}
		if !e.markSeenOnce(dk) {
			return nil, nil, nil
		}

		secrets, err := e.verifyAndExtract(swap, ev)
		if err != nil {
			return nil, nil, err
		}

		switch {
		case ev.Leg == domain.LegEVM && swap.State == domain.StateUSDCLocked && swap.RoutingMode == domain.RoutingSingleLP:
			return e.planAfterUSDCClaimed(ctx, swap, leg, ev, secrets, domain.StateM1SelfClaimed)

		case ev.Leg == domain.LegEVM && swap.State == domain.StateUSDCLocked && swap.RoutingMode == domain.RoutingPerLeg && swap.LegRole == domain.LegRoleLPOut:
			return e.planAfterUSDCClaimedPerLeg(ctx, swap, leg, ev, secrets)

		case ev.Leg == domain.LegBTC && swap.State == domain.StateBTCLockedUser && swap.RoutingMode == domain.RoutingSingleLP:
			return e.planAfterBTCClaimedReverse(ctx, swap, leg, ev, secrets)

		default:
			e.log.WithFields(logrusFields(swap, leg, ev)).Warn("engine: claim observed in unexpected state, ignoring")
			return nil, nil, nil
		}
	})
}

// verifyAndExtract checks every revealed preimage against its hashlock and
// returns the verified SecretSet; recording the secrets on the swap is left
// to the caller's commit.
func (e *Engine) verifyAndExtract(swap *domain.Swap, ev ports.ChainEvent) (htlc.SecretSet, error) {
	hu, err := decodeHash32(swap.HUser)
	if err != nil {
		return htlc.SecretSet{}, chainerr.New(chainerr.InvariantViolation, "engine.verifyAndExtract", err)
	}
	h1, err := decodeHash32(swap.HLp1)
	if err != nil {
		return htlc.SecretSet{}, chainerr.New(chainerr.InvariantViolation, "engine.verifyAndExtract", err)
	}
	h2, err := decodeHash32(swap.HLp2)
	if err != nil {
		return htlc.SecretSet{}, chainerr.New(chainerr.InvariantViolation, "engine.verifyAndExtract", err)
	}
	su, err := decodeHash32(ev.Secrets.SUser)
	if err != nil {
		return htlc.SecretSet{}, chainerr.New(chainerr.InvariantViolation, "engine.verifyAndExtract", err)
	}
	s1, err := decodeHash32(ev.Secrets.SLp1)
	if err != nil {
		return htlc.SecretSet{}, chainerr.New(chainerr.InvariantViolation, "engine.verifyAndExtract", err)
	}
	s2, err := decodeHash32(ev.Secrets.SLp2)
	if err != nil {
		return htlc.SecretSet{}, chainerr.New(chainerr.InvariantViolation, "engine.verifyAndExtract", err)
	}
	if !htlc.VerifySecret(su, hu) || !htlc.VerifySecret(s1, h1) || !htlc.VerifySecret(s2, h2) {
		return htlc.SecretSet{}, chainerr.New(chainerr.InvariantViolation, "engine.verifyAndExtract", htlc.ErrHashlockMismatch)
	}
	return htlc.SecretSet{SUser: su, SLp1: s1, SLp2: s2}, nil
}

// planAfterUSDCClaimed (forward, single_lp) claims M1 for itself using the
// now-revealed secrets, then immediately sweeps the user's funded BTC HTLC
// with the same secrets: both hashlocks are now public, so there is nothing
// left to wait for and the swap completes in one unlocked action.
func (e *Engine) planAfterUSDCClaimed(ctx context.Context, swap *domain.Swap, evmLeg *domain.Leg, ev ports.ChainEvent, secrets htlc.SecretSet, next domain.State) (func() error, func(*domain.Swap) error, error) {
	m1Leg := swap.M1Leg
	if m1Leg == nil {
		return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planAfterUSDCClaimed", fmt.Errorf("swap %s missing m1 leg", swap.SwapID))
	}
	btcLeg := swap.BTCLeg
	if btcLeg == nil {
		return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planAfterUSDCClaimed", fmt.Errorf("swap %s missing btc leg", swap.SwapID))
	}
	m1Params, err := paramsForLeg(swap, m1Leg)
	if err != nil {
		return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planAfterUSDCClaimed", err)
	}
	btcParams, err := paramsForLeg(swap, btcLeg)
	if err != nil {
		return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planAfterUSDCClaimed", err)
	}
	m1Destination, err := e.wallet.PayoutAddress(ctx, domain.LegM1)
	if err != nil {
		return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planAfterUSDCClaimed", err)
	}
	btcDestination, err := e.wallet.PayoutAddress(ctx, domain.LegBTC)
	if err != nil {
		return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planAfterUSDCClaimed", err)
	}

	var m1ClaimTxID, btcClaimTxID string
	action := func() error {
		var err error
		m1ClaimTxID, err = e.claimLeg(ctx, swap, domain.LegM1, m1Params, secrets, m1Destination)
		if err != nil {
			return err
		}
		btcClaimTxID, err = e.claimLeg(ctx, swap, domain.LegBTC, btcParams, secrets, btcDestination)
		return err
	}
	commit := func(s *domain.Swap) error {
		s.SUser = encodeHash32(secrets.SUser)
		s.SLp1 = encodeHash32(secrets.SLp1)
		s.SLp2 = encodeHash32(secrets.SLp2)
		evm := s.EVMLeg
		evm.Claimed = true
		evm.ClaimTxID = ev.TxID
		m1 := s.M1Leg
		m1.Claimed = true
		m1.ClaimTxID = m1ClaimTxID
		btc := s.BTCLeg
		btc.Claimed = true
		btc.ClaimTxID = btcClaimTxID
		s.Transition(e.now(), domain.StateUSDCClaimedByUser, "watcher observed user claim on USDC "+ev.TxID)
		s.Transition(e.now(), next, "LP self-claimed M1 "+m1ClaimTxID)
		s.Transition(e.now(), domain.StateBTCClaimed, "LP swept BTC HTLC "+btcClaimTxID)
		s.Transition(e.now(), domain.StateCompleted, "forward swap complete")
		e.releaseReservations(s)
		return e.repo.Update(s)
	}
	return action, commit, nil
}

// planAfterUSDCClaimedPerLeg (per_leg, LP_OUT) claims LP_IN's M1 leg and
// hands the revealed secrets back to LP_IN so it can sweep its BTC leg.
func (e *Engine) planAfterUSDCClaimedPerLeg(ctx context.Context, swap *domain.Swap, evmLeg *domain.Leg, ev ports.ChainEvent, secrets htlc.SecretSet) (func() error, func(*domain.Swap) error, error) {
	m1Leg := swap.M1Leg
	if m1Leg == nil {
		return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planAfterUSDCClaimedPerLeg", fmt.Errorf("swap %s missing m1 leg", swap.SwapID))
	}
	params, err := paramsForLeg(swap, m1Leg)
	if err != nil {
		return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planAfterUSDCClaimedPerLeg", err)
	}
	destination, err := e.wallet.PayoutAddress(ctx, domain.LegM1)
	if err != nil {
		return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planAfterUSDCClaimedPerLeg", err)
	}

	var claimTxID string
	action := func() error {
		var err error
		claimTxID, err = e.claimLeg(ctx, swap, domain.LegM1, params, secrets, destination)
		if err != nil {
			return err
		}
		return e.notify.NotifyBTCClaimed(ctx, swap.PeerURL, swap.SwapID, ports.BTCClaimedPayload{
			ClaimTxID: claimTxID,
			SUser:     encodeHash32(secrets.SUser),
			SLp1:      encodeHash32(secrets.SLp1),
			SLp2:      encodeHash32(secrets.SLp2),
		})
	}
	commit := func(s *domain.Swap) error {
		s.SUser = encodeHash32(secrets.SUser)
		s.SLp1 = encodeHash32(secrets.SLp1)
		s.SLp2 = encodeHash32(secrets.SLp2)
		evm := s.EVMLeg
		evm.Claimed = true
		evm.ClaimTxID = ev.TxID
		m1 := s.M1Leg
		m1.Claimed = true
		m1.ClaimTxID = claimTxID
		s.Transition(e.now(), domain.StateUSDCClaimedByUser, "watcher observed user claim on USDC "+ev.TxID)
		s.Transition(e.now(), domain.StateM1ClaimedFromIn, "LP_OUT claimed LP_IN's M1 leg "+claimTxID)
		s.Transition(e.now(), domain.StateCompleted, "LP_OUT handed secrets back to LP_IN")
		e.releaseReservations(s)
		return e.repo.Update(s)
	}
	return action, commit, nil
}

// planAfterBTCClaimedReverse (reverse, single_lp) sweeps USDC for itself
// once the user's BTC claim reveals the secrets.
func (e *Engine) planAfterBTCClaimedReverse(ctx context.Context, swap *domain.Swap, btcLeg *domain.Leg, ev ports.ChainEvent, secrets htlc.SecretSet) (func() error, func(*domain.Swap) error, error) {
	evmLeg := swap.EVMLeg
	if evmLeg == nil {
		return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planAfterBTCClaimedReverse", fmt.Errorf("swap %s missing evm leg", swap.SwapID))
	}
	params, err := paramsForLeg(swap, evmLeg)
	if err != nil {
		return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.planAfterBTCClaimedReverse", err)
	}
	destination, err := e.wallet.PayoutAddress(ctx, domain.LegEVM)
	if err != nil {
		return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.planAfterBTCClaimedReverse", err)
	}

	var claimTxID string
	action := func() error {
		var err error
		claimTxID, err = e.claimLeg(ctx, swap, domain.LegEVM, params, secrets, destination)
		return err
	}
	commit := func(s *domain.Swap) error {
		s.SUser = encodeHash32(secrets.SUser)
		s.SLp1 = encodeHash32(secrets.SLp1)
		s.SLp2 = encodeHash32(secrets.SLp2)
		btc := s.BTCLeg
		btc.Claimed = true
		btc.ClaimTxID = ev.TxID
		evm := s.EVMLeg
		evm.Claimed = true
		evm.ClaimTxID = claimTxID
		s.Transition(e.now(), domain.StateBTCClaimedBy, "watcher observed user claim on BTC "+ev.TxID)
		s.Transition(e.now(), domain.StateUSDCSelfClaim, "LP self-claimed USDC "+claimTxID)
		s.Transition(e.now(), domain.StateCompleted, "reverse swap complete")
		e.releaseReservations(s)
		return e.repo.Update(s)
	}
	return action, commit, nil
}

// onReorg rewinds a leg whose previously-confirmed observation is no longer
// canonical. A rolled-
// back claim is immediately re-attempted if the LP still holds the secrets;
// a rolled-back fund just waits for the watcher's next confirmation.
func (e *Engine) onReorg(ctx context.Context, ev ports.ChainEvent) error {
	return e.readPlanCommit(ev.SwapID, func(swap *domain.Swap) (func() error, func(*domain.Swap) error, error) {
		leg := swap.LegFor(ev.Leg)
		if leg == nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.onReorg",
				fmt.Errorf("swap %s has no %s leg", swap.SwapID, ev.Leg))
		}

		if leg.Claimed && leg.ClaimTxID == ev.TxID {
			secrets, ok := e.secretsFromSwap(swap)
			if !ok {
				return nil, func(s *domain.Swap) error {
					l := s.LegFor(ev.Leg)
					l.Claimed = false
					l.Confirmations = 0
					s.AppendEvent(e.now(), fmt.Sprintf("reorg orphaned %s claim %s, secrets unavailable for retry", ev.Leg, ev.TxID))
					return e.repo.Update(s)
				}, nil
			}
			params, err := paramsForLeg(swap, leg)
			if err != nil {
				return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.onReorg", err)
			}
			destination, err := e.wallet.PayoutAddress(ctx, ev.Leg)
			if err != nil {
				return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.onReorg", err)
			}

			var rebroadcastTxID string
			action := func() error {
				var err error
				rebroadcastTxID, err = e.claimLeg(ctx, swap, ev.Leg, params, secrets, destination)
				return err
			}
			commit := func(s *domain.Swap) error {
				l := s.LegFor(ev.Leg)
				l.ClaimTxID = rebroadcastTxID
				l.Confirmations = 0
				s.AppendEvent(e.now(), fmt.Sprintf("reorg orphaned %s claim, re-broadcast as %s", ev.Leg, rebroadcastTxID))
				s.Transition(e.now(), domain.StateCompleted, "re-claim confirmed after reorg rollback")
				e.releaseReservations(s)
				return e.repo.Update(s)
			}
			return action, commit, nil
		}

		return nil, func(s *domain.Swap) error {
			l := s.LegFor(ev.Leg)
			l.Funded = false
			l.Confirmations = 0
			s.AppendEvent(e.now(), fmt.Sprintf("reorg orphaned %s funding %s, awaiting re-confirmation", ev.Leg, ev.TxID))
			return e.repo.Update(s)
		}, nil
	})
}

// secretsFromSwap reconstructs the full SecretSet from the swap's durable
// record alone, once all three secrets are recorded on it.
func (e *Engine) secretsFromSwap(swap *domain.Swap) (htlc.SecretSet, bool) {
	if swap.SUser == "" || swap.SLp1 == "" || swap.SLp2 == "" {
		return htlc.SecretSet{}, false
	}
	su, err1 := decodeHash32(swap.SUser)
	s1, err2 := decodeHash32(swap.SLp1)
	s2, err3 := decodeHash32(swap.SLp2)
	if err1 != nil || err2 != nil || err3 != nil {
		return htlc.SecretSet{}, false
	}
	return htlc.SecretSet{SUser: su, SLp1: s1, SLp2: s2}, true
}

// onTimelockExpired prefers claiming over refunding: if the LP already
// knows the secrets for this leg, sweep it instead of refunding, since
// refunding would hand the counterparty nothing while the LP forfeits a
// claim it could still win.
func (e *Engine) onTimelockExpired(ctx context.Context, ev ports.ChainEvent) error {
	return e.readPlanCommit(ev.SwapID, func(swap *domain.Swap) (func() error, func(*domain.Swap) error, error) {
		leg := swap.LegFor(ev.Leg)
		if leg == nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.onTimelockExpired",
				fmt.Errorf("swap %s has no %s leg", swap.SwapID, ev.Leg))
		}
		if swap.State.IsTerminal() || leg.Claimed || leg.Refunded {
			return nil, nil, nil
		}

		params, err := paramsForLeg(swap, leg)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.onTimelockExpired", err)
		}

		if secrets, ok := e.secretsFromSwap(swap); ok {
			destination, err := e.wallet.PayoutAddress(ctx, ev.Leg)
			if err != nil {
				return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.onTimelockExpired", err)
			}
			var claimTxID string
			action := func() error {
				var err error
				claimTxID, err = e.claimLeg(ctx, swap, ev.Leg, params, secrets, destination)
				return err
			}
			commit := func(s *domain.Swap) error {
				l := s.LegFor(ev.Leg)
				l.Claimed = true
				l.ClaimTxID = claimTxID
				s.AppendEvent(e.now(), fmt.Sprintf("claimed %s over refund at timelock expiry", ev.Leg))
				return e.repo.Update(s)
			}
			return action, commit, nil
		}

		destination, err := e.wallet.PayoutAddress(ctx, ev.Leg)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.onTimelockExpired", err)
		}
		var refundTxID string
		action := func() error {
			var err error
			refundTxID, err = e.refundLeg(ctx, swap, ev.Leg, params, destination)
			return err
		}
		commit := func(s *domain.Swap) error {
			l := s.LegFor(ev.Leg)
			l.Refunded = true
			l.RefundTxID = refundTxID
			s.AppendEvent(e.now(), fmt.Sprintf("refunded %s after timelock expiry", ev.Leg))
			if allLegsSettled(s) {
				s.Transition(e.now(), domain.StateRefunded, "all legs refunded")
				e.releaseReservations(s)
			}
			return e.repo.Update(s)
		}
		return action, commit, nil
	})
}

// allLegsSettled reports whether every leg a swap actually opened has
// reached a claimed or refunded terminal per-leg state.
func allLegsSettled(s *domain.Swap) bool {
	for _, leg := range []*domain.Leg{s.BTCLeg, s.M1Leg, s.EVMLeg} {
		if leg == nil || !leg.Funded {
			continue
		}
		if !leg.Claimed && !leg.Refunded {
			return false
		}
	}
	return true
}
