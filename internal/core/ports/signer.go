package ports

import (
	"context"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/pkg/htlc"
)

// Signer attaches the LP's signature to an unsigned fund/claim/refund
// transaction built by a pkg/htlc codec. Key material and formats are a
// collaborator out of this core's scope; the engine only
// depends on this narrow contract.
type Signer interface {
	// Sign completes unsigned by attaching this leg's signature(s) into its
	// placeholder witness/calldata slot(s) and returns the fully
	// serialized, broadcast-ready transaction. amounts carries each
	// input's committed value (sats for BTC/M1, in tx.TxIn order); EVM
	// signing ignores it.
	Sign(ctx context.Context, leg domain.LegKind, unsigned htlc.UnsignedTx, amounts []int64) ([]byte, error)
}
