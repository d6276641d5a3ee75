package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is wrapped into a SwapRepository lookup failure so callers
// above the repository (the HTTP boundary) can distinguish "unknown swap
// id" from any other persistence failure without string matching.
var ErrNotFound = errors.New("swap not found")

// Asset identifies one of the three settlement assets a swap leg moves.
type Asset string

const (
	AssetBTC  Asset = "BTC"
	AssetM1   Asset = "M1"
	AssetUSDC Asset = "USDC"
)

// Direction is the outer-chain pairing a swap settles between.
type Direction string

const (
	DirectionForward Direction = "forward" // BTC -> USDC
	DirectionReverse Direction = "reverse" // USDC -> BTC
)

// RoutingMode distinguishes a single LP bridging both legs from two
// cooperating LPs each owning one leg, handed off over M1.
type RoutingMode string

const (
	RoutingSingleLP RoutingMode = "single_lp"
	RoutingPerLeg   RoutingMode = "per_leg"
)

// LegRole names which side of a per-leg route this LP plays. The zero value
// means the swap is single_lp and the role does not apply.
type LegRole string

const (
	LegRoleNone  LegRole = ""
	LegRoleLPIn  LegRole = "lp_in"
	LegRoleLPOut LegRole = "lp_out"
)

// State is a node in the swap state machine.
type State string

const (
	StateInit              State = "init"
	StateAwaitingBTC       State = "awaiting_btc"
	StateBTCFundingSeen    State = "btc_funding_seen"
	StateBTCFunded         State = "btc_funded"
	StateM1Locked          State = "m1_locked"
	StateUSDCLocked        State = "usdc_locked"
	StateUSDCClaimedByUser State = "usdc_claimed_by_user"
	StateM1SelfClaimed     State = "m1_self_claimed"
	StateBTCClaimed        State = "btc_claimed"
	StateCompleted         State = "completed"

	// Reverse direction (USDC -> BTC): the user locks USDC first.
	StateAwaitingUSDC  State = "awaiting_usdc"
	StateUSDCFunded    State = "usdc_funded"
	StateM1LockedSelf  State = "m1_locked_self"
	StateBTCLockedUser State = "btc_locked_user"
	StateBTCClaimedBy  State = "btc_claimed_by_user"
	StateUSDCSelfClaim State = "usdc_self_claimed"

	// Per-leg handoff states, split at the M1 rail.
	StateM1LockedForLPOut State = "m1_locked_for_lp_out"
	StateM1LockedSeen     State = "m1_locked_seen"
	StateM1ClaimedFromIn  State = "m1_claimed_from_lp_in"

	// Terminal states.
	StateRefunded State = "refunded"
	StateFailed   State = "failed"

	// Non-terminal warning states.
	StatePeerUnreachable        State = "peer_unreachable"
	StateBTCRefundUnrecoverable State = "btc_refund_unrecoverable"
)

// IsTerminal reports whether s is one of the three states a swap is
// permitted to end in.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateRefunded, StateFailed:
		return true
	default:
		return false
	}
}

// LegKind names which chain a leg lives on.
type LegKind string

const (
	LegBTC LegKind = "btc"
	LegM1  LegKind = "m1"
	LegEVM LegKind = "evm"
)

// Leg is the on-chain HTLC descriptor for one chain participating in a swap,
// per the shared capability set every chain HTLC implementation exposes.
type Leg struct {
	Kind LegKind `json:"kind"`

	Address    string `json:"address,omitempty"`     // BTC/M1 P2WSH address
	ContractID string `json:"contract_id,omitempty"` // EVM htlcId (bytes32 hex)
	Outpoint   string `json:"outpoint,omitempty"`     // "txid:vout" once funded

	Amount   int64 `json:"amount"`   // sats for BTC/M1, micro-USDC for USDC
	Timelock int64 `json:"timelock"` // absolute block height (BTC/M1) or unix seconds (EVM)

	SenderPubkey    string `json:"sender_pubkey,omitempty"`
	RecipientPubkey string `json:"recipient_pubkey,omitempty"`

	Funded   bool `json:"funded"`
	Claimed  bool `json:"claimed"`
	Refunded bool `json:"refunded"`

	FundTxID   string `json:"fund_txid,omitempty"`
	ClaimTxID  string `json:"claim_txid,omitempty"`
	RefundTxID string `json:"refund_txid,omitempty"`

	Confirmations int64 `json:"confirmations"`

	FundEvidence  string `json:"fund_evidence,omitempty"`  // opaque hash of the observation, for idempotence dedup
	ClaimEvidence string `json:"claim_evidence,omitempty"`
}

// TimelineEvent is one append-only audit entry for a swap.
type TimelineEvent struct {
	Timestamp int64  `json:"timestamp"`
	State     State  `json:"state"`
	Note      string `json:"note"`
}

// SecretReveal carries the three preimages as extracted by a watcher from a
// claim witness or event log, hex-encoded for transport into the engine.
type SecretReveal struct {
	SUser string
	SLp1  string
	SLp2  string
}

// Reservation is an inventory claim a swap holds against a wallet balance.
type Reservation struct {
	Asset  Asset  `json:"asset"`
	Amount int64  `json:"amount"`
	SwapID string `json:"swap_id"`
}

// Swap is the canonical unit of the engine's state machine.
type Swap struct {
	SwapID       string      `json:"swap_id"`
	Direction    Direction   `json:"direction"`
	RoutingMode  RoutingMode `json:"routing_mode"`
	LegRole      LegRole     `json:"leg_role,omitempty"`
	PeerURL      string      `json:"peer_url,omitempty"`
	PeerM1Pubkey string      `json:"peer_m1_pubkey,omitempty"` // per_leg only: the other LP's M1 claim key

	FromAsset Asset `json:"from_asset"`
	ToAsset   Asset `json:"to_asset"`

	FromAmount int64 `json:"from_amount"`
	ToAmount   int64 `json:"to_amount"`

	HUser string `json:"h_user"`
	HLp1  string `json:"h_lp1"`
	HLp2  string `json:"h_lp2"`

	SUser string `json:"s_user,omitempty"`
	SLp1  string `json:"s_lp1,omitempty"`
	SLp2  string `json:"s_lp2,omitempty"`

	BTCLeg *Leg `json:"btc_leg,omitempty"`
	M1Leg  *Leg `json:"m1_leg,omitempty"`
	EVMLeg *Leg `json:"evm_leg,omitempty"`

	State    State           `json:"state"`
	Timeline []TimelineEvent `json:"timeline"`

	UserRefundAddress string `json:"user_refund_address,omitempty"`
	UserPayoutAddress string `json:"user_payout_address,omitempty"`

	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	TerminalAt *int64 `json:"terminal_at,omitempty"`

	Reservations []Reservation `json:"reservations,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// NewSwapID returns an opaque unique id, the fs_ prefix plus 128 bits of
// CSPRNG entropy hex-encoded.
func NewSwapID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating swap id: %w", err)
	}
	return "fs_" + hex.EncodeToString(buf), nil
}

// LegFor returns the leg of the given kind, or nil if the swap does not use
// that chain.
func (s *Swap) LegFor(kind LegKind) *Leg {
	switch kind {
	case LegBTC:
		return s.BTCLeg
	case LegM1:
		return s.M1Leg
	case LegEVM:
		return s.EVMLeg
	default:
		return nil
	}
}

// AppendEvent pushes an audit-trail entry. It does not persist; callers
// flush the owning Swap through the store under the store mutex.
func (s *Swap) AppendEvent(now int64, note string) {
	s.Timeline = append(s.Timeline, TimelineEvent{Timestamp: now, State: s.State, Note: note})
	s.UpdatedAt = now
}

// Transition moves the swap to newState, appending an audit event and, if
// newState is terminal, stamping TerminalAt. Callers must hold the swap's
// per-swap lock (see engine.lockTable).
func (s *Swap) Transition(now int64, newState State, note string) {
	s.State = newState
	s.AppendEvent(now, note)
	if newState.IsTerminal() {
		t := now
		s.TerminalAt = &t
	}
}

// ReservedTotal sums this swap's reservations for a given asset.
func (s *Swap) ReservedTotal(asset Asset) int64 {
	var total int64
	for _, r := range s.Reservations {
		if r.Asset == asset {
			total += r.Amount
		}
	}
	return total
}

// SwapRepository fronts the durable swap index so the engine stays
// storage-agnostic. Implemented by pkg/store.
type SwapRepository interface {
	// Add inserts a brand-new swap. Returns an error if the id already exists.
	Add(swap *Swap) error

	// Get retrieves a swap by id.
	Get(swapID string) (*Swap, error)

	// GetAll returns every swap currently in the hot index.
	GetAll() ([]*Swap, error)

	// GetByState returns every swap currently in the given state.
	GetByState(state State) ([]*Swap, error)

	// Update persists an in-place mutation of an already-loaded swap.
	Update(swap *Swap) error

	// Archive removes a terminal swap from the hot index into the rotating
	// archive file. Refuses non-terminal swaps.
	Archive(swapID string) error

	// Close flushes and releases the backing file.
	Close() error
}
