// Package htlc defines the capability shared across the three chain-specific
// HTLC codecs (BTC P2WSH, M1, EVM calldata/events): derive the funding
// address/contract, build the fund/claim/refund transactions, and parse
// claim witnesses and fund evidence back out of observed chain data. Each
// codec is a tagged variant under its own subpackage; the engine only ever
// dispatches by variant, never through deep inheritance.
package htlc

import (
	"crypto/sha256"
	"errors"
)

// ErrHashlockMismatch is returned when a claimed preimage does not hash to
// its declared hashlock.
var ErrHashlockMismatch = errors.New("htlc: preimage does not match hashlock")

// HashlockSet is the three independent 32-byte SHA-256 hashlocks a 3S HTLC
// requires to claim.
type HashlockSet struct {
	HUser [32]byte
	HLp1  [32]byte
	HLp2  [32]byte
}

// SecretSet is the corresponding preimages, filled in as revealed.
type SecretSet struct {
	SUser [32]byte
	SLp1  [32]byte
	SLp2  [32]byte
}

// Params describes one HTLC leg in chain-agnostic terms. Timelock is an
// absolute block height for BTC/M1 and an absolute Unix timestamp for EVM.
type Params struct {
	Hashlocks       HashlockSet
	RecipientPubkey []byte // claim-branch key (BTC/M1) or address (EVM, 20 bytes)
	RefundPubkey    []byte // refund-branch key (BTC/M1) or address (EVM, 20 bytes)
	Timelock        int64
	Amount          int64
}

// FundEvidence is what a watcher observed on-chain about a leg's funding.
type FundEvidence struct {
	TxID          string
	VOut          uint32
	ContractID    string // EVM only
	Amount        int64
	Confirmations int64
}

// ClaimEvidence is what a watcher observed on-chain about a leg's claim,
// including the secrets extracted from the witness or event log.
type ClaimEvidence struct {
	TxID    string
	Secrets SecretSet
}

// UnsignedTx is an opaque, chain-specific serialized transaction or calldata
// blob the caller broadcasts through the matching pkg/chainclient.
type UnsignedTx []byte

// Descriptor is the capability set every chain-specific HTLC codec variant
// implements.
type Descriptor interface {
	// DeriveAddress returns the funding destination: a P2WSH address for
	// BTC/M1, or the HTLC contract address for EVM.
	DeriveAddress(params Params) (string, error)

	// BuildFundTx constructs the transaction (or calldata) that funds the
	// HTLC, spending from the given inputs.
	BuildFundTx(params Params, inputs any) (UnsignedTx, error)

	// BuildClaimTx constructs the transaction (or calldata) that claims the
	// HTLC given the three revealed secrets.
	BuildClaimTx(params Params, secrets SecretSet, destination string) (UnsignedTx, error)

	// BuildRefundTx constructs the transaction (or calldata) that refunds
	// the HTLC after its timelock has passed.
	BuildRefundTx(params Params, destination string) (UnsignedTx, error)

	// ParseClaimWitness extracts the three secrets from an observed claim,
	// verifying each against its hashlock.
	ParseClaimWitness(params Params, raw []byte) (SecretSet, error)

	// ParseFundEvidence extracts funding evidence from observed chain data.
	ParseFundEvidence(params Params, raw []byte) (FundEvidence, error)
}

// VerifySecret reports whether sha256(secret) == hashlock, bit-exactly, with
// no double-SHA and no RIPEMD-160 wrap — matching the EVM contract's hashing
// so preimages stay homomorphic across every chain.
func VerifySecret(secret, hashlock [32]byte) bool {
	return sha256.Sum256(secret[:]) == hashlock
}
