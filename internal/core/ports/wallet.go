package ports

import (
	"context"

	"github.com/flowswap/lp-node/internal/core/domain"
)

// Wallet selects spendable inputs and exposes the LP's own chain keys for
// self-funded legs (M1 self-locks, the LP's side of a per-leg handoff).
// UTXO selection and key-file formats are a collaborator out of this core's
// scope; the engine only depends on this narrow contract.
type Wallet interface {
	// FundInputsFor returns the chain-specific input slice (e.g.
	// []btc3s.Input, []m1htlc.Input, *evmhtlc.CreateArgs) a leg's codec
	// BuildFundTx call expects, covering at least amount, plus the
	// committed value of each selected input in amounts (chain base units,
	// tx.TxIn order) — the one piece of SegWit sighash material a
	// serialized transaction does not itself carry. EVM's amounts is nil;
	// recipient is the claim-branch key/address from the leg's htlc.Params,
	// needed only to fill *evmhtlc.CreateArgs.Recipient.
	FundInputsFor(ctx context.Context, leg domain.LegKind, amount int64, recipient []byte) (inputs any, amounts []int64, err error)

	// Pubkey returns the LP's own compressed secp256k1 pubkey (BTC/M1) or
	// 20-byte address (EVM) used as claim or refund party on a leg.
	Pubkey(ctx context.Context, leg domain.LegKind) ([]byte, error)

	// PayoutAddress returns the destination address a claim or refund on
	// leg should pay the LP's own funds back to.
	PayoutAddress(ctx context.Context, leg domain.LegKind) (string, error)

	// Balance returns the LP's current spendable balance on leg, in chain
	// base units, for pkg/inventory's periodic refresh.
	Balance(ctx context.Context, leg domain.LegKind) (int64, error)
}
