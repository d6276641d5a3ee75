package engine

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/chainerr"
	"github.com/flowswap/lp-node/pkg/htlc"
)

// InitParams describes a single_lp swap request, the HTTP boundary's
// decoded body for POST /api/flowswap/init.
type InitParams struct {
	Direction         domain.Direction
	FromAmount        int64
	ToAmount          int64
	HUser             string
	UserRefundAddress string
	UserPayoutAddress string
}

// InitLegParams describes a per_leg swap request, the HTTP boundary's
// decoded body for POST /api/flowswap/init-leg.
type InitLegParams struct {
	Direction         domain.Direction
	LegRole           domain.LegRole
	PeerURL           string
	FromAmount        int64
	ToAmount          int64
	HUser             string
	HLp1              string
	HLp2              string
	PeerM1Pubkey      string
	UserRefundAddress string
	UserPayoutAddress string
}

// mintSecret generates a CSPRNG preimage and its SHA-256 hashlock.
func mintSecret() (secret, hashlock [32]byte, err error) {
	if _, err = rand.Read(secret[:]); err != nil {
		return secret, hashlock, fmt.Errorf("minting secret: %w", err)
	}
	hashlock = sha256Of(secret)
	return secret, hashlock, nil
}

// Init creates a single_lp swap: mints H_lp1/H_lp2, derives the first
// leg's address, reserves inventory, and persists the swap in its initial
// awaiting state. No on-chain action is taken.
func (e *Engine) Init(ctx context.Context, p InitParams) (*domain.Swap, error) {
	hUser, err := decodeHash32(p.HUser)
	if err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.Init", fmt.Errorf("invalid H_user: %w", err))
	}
	sLp1, hLp1, err := mintSecret()
	if err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.Init", err)
	}
	sLp2, hLp2, err := mintSecret()
	if err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.Init", err)
	}
	if hLp1 == hLp2 || hLp1 == hUser || hLp2 == hUser {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.Init", fmt.Errorf("hashlock collision"))
	}

	swapID, err := domain.NewSwapID()
	if err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.Init", err)
	}
	now := e.now()
	swap := &domain.Swap{
		SwapID:            swapID,
		Direction:         p.Direction,
		RoutingMode:       domain.RoutingSingleLP,
		FromAmount:        p.FromAmount,
		ToAmount:          p.ToAmount,
		HUser:             p.HUser,
		HLp1:              encodeHash32(hLp1),
		HLp2:              encodeHash32(hLp2),
		UserRefundAddress: p.UserRefundAddress,
		UserPayoutAddress: p.UserPayoutAddress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	switch p.Direction {
	case domain.DirectionForward:
		swap.FromAsset, swap.ToAsset = domain.AssetBTC, domain.AssetUSDC
		if err := e.deriveFirstLeg(ctx, swap, domain.LegBTC); err != nil {
			return nil, err
		}
		swap.State = domain.StateAwaitingBTC
	case domain.DirectionReverse:
		swap.FromAsset, swap.ToAsset = domain.AssetUSDC, domain.AssetBTC
		if err := e.deriveFirstLeg(ctx, swap, domain.LegEVM); err != nil {
			return nil, err
		}
		swap.State = domain.StateAwaitingUSDC
	default:
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.Init", fmt.Errorf("unknown direction %q", p.Direction))
	}
	swap.AppendEvent(now, "swap initialized")

	if _, err := e.inv.Reserve(swap.ToAsset, swap.ToAmount, swap.SwapID); err != nil {
		return nil, chainerr.New(chainerr.PermanentChain, "engine.Init", fmt.Errorf("reserving %s: %w", swap.ToAsset, err))
	}
	swap.Reservations = append(swap.Reservations, domain.Reservation{Asset: swap.ToAsset, Amount: swap.ToAmount, SwapID: swap.SwapID})

	if err := e.repo.Add(swap); err != nil {
		e.inv.Release(swap.SwapID)
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.Init", err)
	}
	e.setOwnSecrets(swap.SwapID, htlc.SecretSet{SLp1: sLp1, SLp2: sLp2})
	return swap, nil
}

// deriveFirstLeg builds the user-funded leg's HTLC descriptor (address
// only; nothing is broadcast) and attaches it to swap.
func (e *Engine) deriveFirstLeg(ctx context.Context, swap *domain.Swap, leg domain.LegKind) error {
	codec, ok := e.codecs[leg]
	if !ok {
		return chainerr.New(chainerr.InvariantViolation, "engine.deriveFirstLeg", fmt.Errorf("no codec for %s", leg))
	}
	lpPubkey, err := e.wallet.Pubkey(ctx, leg)
	if err != nil {
		return chainerr.New(chainerr.PermanentChain, "engine.deriveFirstLeg", err)
	}
	refund, err := decodePubkey(swap.UserRefundAddress)
	if err != nil {
		return chainerr.New(chainerr.InvariantViolation, "engine.deriveFirstLeg", err)
	}
	amount := swap.FromAmount
	timelock, err := e.deadlineFromNow(ctx, leg, 3*e.marginSeconds(leg))
	if err != nil {
		return chainerr.New(chainerr.PermanentChain, "engine.deriveFirstLeg", err)
	}
	recipient := lpPubkey // the LP is the claim-branch party; the depositor holds the refund key
	params, err := legParams(swap, recipient, refund, timelock, amount)
	if err != nil {
		return chainerr.New(chainerr.InvariantViolation, "engine.deriveFirstLeg", err)
	}
	address, err := codec.DeriveAddress(params)
	if err != nil {
		return chainerr.New(chainerr.InvariantViolation, "engine.deriveFirstLeg", err)
	}

	newLeg := &domain.Leg{
		Kind:            leg,
		Address:         address,
		Amount:          amount,
		Timelock:        timelock,
		RecipientPubkey: encodePubkey(recipient),
		SenderPubkey:    encodePubkey(refund),
	}
	if leg == domain.LegEVM {
		newLeg.ContractID = address
	}
	switch leg {
	case domain.LegBTC:
		swap.BTCLeg = newLeg
	case domain.LegM1:
		swap.M1Leg = newLeg
	case domain.LegEVM:
		swap.EVMLeg = newLeg
	}
	return nil
}

// InitLeg creates a per_leg swap, validating the hashlock-distinctness
// invariant synchronously before any reservation or persistence.
func (e *Engine) InitLeg(ctx context.Context, p InitLegParams) (*domain.Swap, error) {
	if p.HLp1 == p.HLp2 || p.HLp1 == p.HUser || p.HLp2 == p.HUser {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.InitLeg", fmt.Errorf("hashlocks must be pairwise distinct"))
	}
	if _, err := decodeHash32(p.HUser); err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.InitLeg", err)
	}
	if _, err := decodeHash32(p.HLp1); err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.InitLeg", err)
	}
	if _, err := decodeHash32(p.HLp2); err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.InitLeg", err)
	}

	swapID, err := domain.NewSwapID()
	if err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.InitLeg", err)
	}
	now := e.now()
	swap := &domain.Swap{
		SwapID:            swapID,
		Direction:         p.Direction,
		RoutingMode:       domain.RoutingPerLeg,
		LegRole:           p.LegRole,
		PeerURL:           p.PeerURL,
		PeerM1Pubkey:      p.PeerM1Pubkey,
		FromAmount:        p.FromAmount,
		ToAmount:          p.ToAmount,
		HUser:             p.HUser,
		HLp1:              p.HLp1,
		HLp2:              p.HLp2,
		UserRefundAddress: p.UserRefundAddress,
		UserPayoutAddress: p.UserPayoutAddress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	switch p.LegRole {
	case domain.LegRoleLPIn:
		swap.FromAsset = domain.AssetBTC
		swap.ToAsset = domain.AssetM1
		if err := e.deriveFirstLeg(ctx, swap, domain.LegBTC); err != nil {
			return nil, err
		}
		swap.State = domain.StateAwaitingBTC
	case domain.LegRoleLPOut:
		swap.FromAsset = domain.AssetM1
		swap.ToAsset = domain.AssetUSDC
		swap.M1Leg = &domain.Leg{Kind: domain.LegM1, Amount: p.FromAmount}
		swap.State = domain.StateInit
	default:
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.InitLeg", fmt.Errorf("unknown leg role %q", p.LegRole))
	}
	swap.AppendEvent(now, "per-leg swap initialized as "+string(p.LegRole))

	if _, err := e.inv.Reserve(swap.ToAsset, swap.ToAmount, swap.SwapID); err != nil {
		return nil, chainerr.New(chainerr.PermanentChain, "engine.InitLeg", fmt.Errorf("reserving %s: %w", swap.ToAsset, err))
	}
	swap.Reservations = append(swap.Reservations, domain.Reservation{Asset: swap.ToAsset, Amount: swap.ToAmount, SwapID: swap.SwapID})

	if err := e.repo.Add(swap); err != nil {
		e.inv.Release(swap.SwapID)
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.InitLeg", err)
	}
	return swap, nil
}

// BTCFunded records the depositor's own report of a BTC funding txid so
// watchers can prioritize scanning it; it does not itself mutate swap
// state — that only happens once the watcher confirms the deposit.
func (e *Engine) BTCFunded(ctx context.Context, swapID, txid string) error {
	return e.withSwapLock(swapID, func() error {
		swap, err := e.repo.Get(swapID)
		if err != nil {
			return err
		}
		if swap.BTCLeg == nil {
			return chainerr.New(chainerr.InvariantViolation, "engine.BTCFunded", fmt.Errorf("swap %s has no btc leg", swapID))
		}
		swap.AppendEvent(e.now(), "user reported BTC funding txid "+txid)
		return e.repo.Update(swap)
	})
}

// USDCFunded is the reverse-direction counterpart of BTCFunded.
func (e *Engine) USDCFunded(ctx context.Context, swapID, txid string) error {
	return e.withSwapLock(swapID, func() error {
		swap, err := e.repo.Get(swapID)
		if err != nil {
			return err
		}
		if swap.EVMLeg == nil {
			return chainerr.New(chainerr.InvariantViolation, "engine.USDCFunded", fmt.Errorf("swap %s has no evm leg", swapID))
		}
		swap.AppendEvent(e.now(), "user reported USDC funding txid "+txid)
		return e.repo.Update(swap)
	})
}

// PeerM1Locked handles the per-leg webhook LP_OUT receives once LP_IN's M1
// HTLC has confirmed. The payload is LP_IN's attestation to an
// already-confirmed deposit, so this both parameterizes LP_OUT's M1 leg
// descriptor from it (LP_IN never shares more than the outpoint, expiry, and
// amount) and drives the init->m1_locked_seen sighting transition by hand:
// onTxConfirmed only derives that transition when it sees a below-threshold
// confirmation count, which a peer attestation never carries.
func (e *Engine) PeerM1Locked(ctx context.Context, swapID string, payload ports.M1LockedPayload) error {
	if err := e.withSwapLock(swapID, func() error {
		swap, err := e.repo.Get(swapID)
		if err != nil {
			return err
		}
		if swap.M1Leg == nil {
			return chainerr.New(chainerr.InvariantViolation, "engine.PeerM1Locked", fmt.Errorf("swap %s has no m1 leg", swapID))
		}
		if swap.M1Leg.Outpoint == "" {
			recipient, err := e.wallet.Pubkey(ctx, domain.LegM1)
			if err != nil {
				return chainerr.New(chainerr.PermanentChain, "engine.PeerM1Locked", err)
			}
			refund, err := decodePubkey(swap.PeerM1Pubkey)
			if err != nil {
				return chainerr.New(chainerr.InvariantViolation, "engine.PeerM1Locked", err)
			}
			swap.M1Leg.Outpoint = payload.Outpoint
			swap.M1Leg.Timelock = payload.ExpiryHeight
			swap.M1Leg.RecipientPubkey = encodePubkey(recipient)
			swap.M1Leg.SenderPubkey = encodePubkey(refund)
		}
		if swap.State == domain.StateInit {
			swap.Transition(e.now(), domain.StateM1LockedSeen, "LP_IN reported M1 lock "+payload.Outpoint)
		}
		return e.repo.Update(swap)
	}); err != nil {
		return err
	}

	required := e.requiredConfirms(domain.LegM1, payload.AmountSats)
	return e.onTxConfirmed(ctx, ports.ChainEvent{
		SwapID:        swapID,
		Leg:           domain.LegM1,
		Kind:          ports.EventTxConfirmed,
		TxID:          payload.Outpoint,
		Confirmations: required,
		EvidenceHash:  payload.Outpoint,
	})
}

// PeerBTCClaimed handles the per-leg webhook LP_IN receives once LP_OUT has
// claimed the upstream M1 HTLC and can hand back the revealed secrets
//. LP_IN uses them to sweep its own BTC leg.
func (e *Engine) PeerBTCClaimed(ctx context.Context, swapID string, payload ports.BTCClaimedPayload) error {
	return e.readPlanCommit(swapID, func(swap *domain.Swap) (func() error, func(*domain.Swap) error, error) {
		if swap.BTCLeg == nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.PeerBTCClaimed", fmt.Errorf("swap %s has no btc leg", swapID))
		}
		if swap.State.IsTerminal() || swap.BTCLeg.Claimed {
			return nil, nil, nil
		}
		secrets, err := e.verifyAndExtract(swap, ports.ChainEvent{Secrets: &domain.SecretReveal{
			SUser: payload.SUser, SLp1: payload.SLp1, SLp2: payload.SLp2,
		}})
		if err != nil {
			return nil, nil, err
		}
		params, err := paramsForLeg(swap, swap.BTCLeg)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.InvariantViolation, "engine.PeerBTCClaimed", err)
		}
		destination, err := e.wallet.PayoutAddress(ctx, domain.LegBTC)
		if err != nil {
			return nil, nil, chainerr.New(chainerr.PermanentChain, "engine.PeerBTCClaimed", err)
		}

		var claimTxID string
		action := func() error {
			var err error
			claimTxID, err = e.claimLeg(ctx, swap, domain.LegBTC, params, secrets, destination)
			return err
		}
		commit := func(s *domain.Swap) error {
			s.SUser, s.SLp1, s.SLp2 = payload.SUser, payload.SLp1, payload.SLp2
			s.BTCLeg.Claimed = true
			s.BTCLeg.ClaimTxID = claimTxID
			s.Transition(e.now(), domain.StateBTCClaimed, "LP_IN claimed BTC using peer-relayed secrets "+claimTxID)
			s.Transition(e.now(), domain.StateCompleted, "per-leg swap complete")
			e.releaseReservations(s)
			return e.repo.Update(s)
		}
		return action, commit, nil
	})
}

// ForceFail cancels a swap that has no on-chain funding yet, releasing its
// reservations.
func (e *Engine) ForceFail(ctx context.Context, swapID, reason string) error {
	return e.withSwapLock(swapID, func() error {
		swap, err := e.repo.Get(swapID)
		if err != nil {
			return err
		}
		if swap.State.IsTerminal() {
			return chainerr.New(chainerr.InvariantViolation, "engine.ForceFail", fmt.Errorf("swap %s already terminal", swapID))
		}
		for _, leg := range []*domain.Leg{swap.BTCLeg, swap.M1Leg, swap.EVMLeg} {
			if leg != nil && leg.Funded {
				return chainerr.New(chainerr.InvariantViolation, "engine.ForceFail", fmt.Errorf("swap %s has on-chain funding on %s leg", swapID, leg.Kind))
			}
		}
		e.releaseReservations(swap)
		e.dropOwnSecrets(swap.SwapID)
		swap.ErrorMessage = reason
		swap.Transition(e.now(), domain.StateFailed, "force-failed by operator: "+reason)
		return e.repo.Update(swap)
	})
}
