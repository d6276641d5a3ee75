package engine

import (
	"context"
	"fmt"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/pkg/chainerr"
	"github.com/flowswap/lp-node/pkg/htlc"
)

// legParams builds the chain-agnostic htlc.Params for a leg from the swap's
// hashlock triple plus the caller-supplied key material and timing.
func legParams(swap *domain.Swap, recipientPubkey, refundPubkey []byte, timelock, amount int64) (htlc.Params, error) {
	hu, err := decodeHash32(swap.HUser)
	if err != nil {
		return htlc.Params{}, fmt.Errorf("decoding H_user: %w", err)
	}
	h1, err := decodeHash32(swap.HLp1)
	if err != nil {
		return htlc.Params{}, fmt.Errorf("decoding H_lp1: %w", err)
	}
	h2, err := decodeHash32(swap.HLp2)
	if err != nil {
		return htlc.Params{}, fmt.Errorf("decoding H_lp2: %w", err)
	}
	return htlc.Params{
		Hashlocks:       htlc.HashlockSet{HUser: hu, HLp1: h1, HLp2: h2},
		RecipientPubkey: recipientPubkey,
		RefundPubkey:    refundPubkey,
		Timelock:        timelock,
		Amount:          amount,
	}, nil
}

// paramsForLeg rebuilds htlc.Params for an already-funded leg, so claim and
// refund actions reconstruct the exact script/calldata the fund tx used.
func paramsForLeg(swap *domain.Swap, leg *domain.Leg) (htlc.Params, error) {
	recipient, err := decodePubkey(leg.RecipientPubkey)
	if err != nil {
		return htlc.Params{}, fmt.Errorf("decoding recipient key: %w", err)
	}
	refund, err := decodePubkey(leg.SenderPubkey)
	if err != nil {
		return htlc.Params{}, fmt.Errorf("decoding refund key: %w", err)
	}
	return legParams(swap, recipient, refund, leg.Timelock, leg.Amount)
}

// ParamsForLeg is paramsForLeg exported for the watcher reconciler, which
// runs outside the engine package and needs the same reconstruction to
// register an already-derived leg with its chain's watcher.
func ParamsForLeg(swap *domain.Swap, leg *domain.Leg) (htlc.Params, error) {
	return paramsForLeg(swap, leg)
}

// publishLeg builds, signs, and broadcasts the funding transaction for an
// LP-initiated leg (an M1 self-lock, or the LP's side of a per-leg/reverse
// handoff), returning the funded domain.Leg and the broadcast txid. It
// never runs while a swap lock is held.
func (e *Engine) publishLeg(ctx context.Context, swap *domain.Swap, leg domain.LegKind, params htlc.Params) (*domain.Leg, error) {
	codec, ok := e.codecs[leg]
	if !ok {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.publishLeg", fmt.Errorf("no codec registered for %s", leg))
	}

	address, err := codec.DeriveAddress(params)
	if err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.publishLeg", err)
	}

	inputs, amounts, err := e.wallet.FundInputsFor(ctx, leg, params.Amount, params.RecipientPubkey)
	if err != nil {
		return nil, chainerr.New(chainerr.PermanentChain, "engine.publishLeg", fmt.Errorf("selecting %s inputs: %w", leg, err))
	}
	unsigned, err := codec.BuildFundTx(params, inputs)
	if err != nil {
		return nil, chainerr.New(chainerr.InvariantViolation, "engine.publishLeg", err)
	}
	signed, err := e.signer.Sign(ctx, leg, unsigned, amounts)
	if err != nil {
		return nil, chainerr.New(chainerr.UnrecoverableRefund, "engine.publishLeg", fmt.Errorf("signing %s fund tx: %w", leg, err))
	}

	var txid string
	if err := e.withChainLock(leg, func() error {
		var broadcastErr error
		txid, broadcastErr = e.clients[leg].BroadcastTx(ctx, signed)
		return broadcastErr
	}); err != nil {
		return nil, chainerr.New(chainerr.TransientChain, "engine.publishLeg", fmt.Errorf("broadcasting %s fund tx: %w", leg, err))
	}

	newLeg := &domain.Leg{
		Kind:            leg,
		Address:         address,
		Amount:          params.Amount,
		Timelock:        params.Timelock,
		RecipientPubkey: encodePubkey(params.RecipientPubkey),
		SenderPubkey:    encodePubkey(params.RefundPubkey),
		FundTxID:        txid,
	}
	if leg == domain.LegEVM {
		newLeg.ContractID = address
	}
	return newLeg, nil
}

// claimLeg builds, signs, and broadcasts a claim transaction for leg using
// the three revealed secrets, returning the claim txid.
func (e *Engine) claimLeg(ctx context.Context, swap *domain.Swap, leg domain.LegKind, params htlc.Params, secrets htlc.SecretSet, destination string) (string, error) {
	codec, ok := e.codecs[leg]
	if !ok {
		return "", chainerr.New(chainerr.InvariantViolation, "engine.claimLeg", fmt.Errorf("no codec registered for %s", leg))
	}
	unsigned, err := codec.BuildClaimTx(params, secrets, destination)
	if err != nil {
		return "", chainerr.New(chainerr.InvariantViolation, "engine.claimLeg", err)
	}
	signed, err := e.signer.Sign(ctx, leg, unsigned, []int64{params.Amount})
	if err != nil {
		return "", chainerr.New(chainerr.UnrecoverableRefund, "engine.claimLeg", fmt.Errorf("signing %s claim tx: %w", leg, err))
	}
	var txid string
	if err := e.withChainLock(leg, func() error {
		var broadcastErr error
		txid, broadcastErr = e.clients[leg].BroadcastTx(ctx, signed)
		return broadcastErr
	}); err != nil {
		return "", chainerr.New(chainerr.TransientChain, "engine.claimLeg", fmt.Errorf("broadcasting %s claim tx: %w", leg, err))
	}
	return txid, nil
}

// refundLeg builds, signs, and broadcasts a refund transaction for leg
// after its timelock has passed.
func (e *Engine) refundLeg(ctx context.Context, swap *domain.Swap, leg domain.LegKind, params htlc.Params, destination string) (string, error) {
	codec, ok := e.codecs[leg]
	if !ok {
		return "", chainerr.New(chainerr.InvariantViolation, "engine.refundLeg", fmt.Errorf("no codec registered for %s", leg))
	}
	unsigned, err := codec.BuildRefundTx(params, destination)
	if err != nil {
		return "", chainerr.New(chainerr.InvariantViolation, "engine.refundLeg", err)
	}
	signed, err := e.signer.Sign(ctx, leg, unsigned, []int64{params.Amount})
	if err != nil {
		return "", chainerr.New(chainerr.UnrecoverableRefund, "engine.refundLeg", fmt.Errorf("signing %s refund tx: %w", leg, err))
	}
	var txid string
	if err := e.withChainLock(leg, func() error {
		var broadcastErr error
		txid, broadcastErr = e.clients[leg].BroadcastTx(ctx, signed)
		return broadcastErr
	}); err != nil {
		return "", chainerr.New(chainerr.TransientChain, "engine.refundLeg", fmt.Errorf("broadcasting %s refund tx: %w", leg, err))
	}
	return txid, nil
}
