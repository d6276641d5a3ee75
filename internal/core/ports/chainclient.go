// Package ports declares the narrow interfaces the engine, watchers, and
// API layer depend on, so infrastructure stays swappable behind each
// collaborator's contract.
package ports

import (
	"context"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/pkg/htlc"
)

// BlockRef identifies a point on a chain's canonical history.
type BlockRef struct {
	Height int64
	Hash   string
}

// ChainClient is the thin, pure-I/O command interface each of the three
// chain clients implements: broadcast, query block/tx/UTXO/receipt/event,
// fee estimate.
type ChainClient interface {
	// Tip returns the current best block.
	Tip(ctx context.Context) (BlockRef, error)

	// BroadcastTx submits a raw signed transaction and returns its id.
	BroadcastTx(ctx context.Context, raw []byte) (string, error)

	// FeeEstimate returns a chain-appropriate fee rate (sats/vbyte for
	// BTC/M1, wei/gas for EVM).
	FeeEstimate(ctx context.Context) (int64, error)

	// TxConfirmations returns how many blocks have confirmed txID, or 0 if
	// it is unconfirmed/unknown.
	TxConfirmations(ctx context.Context, txID string) (int64, error)

	// RawTx returns the raw bytes of a transaction by id.
	RawTx(ctx context.Context, txID string) ([]byte, error)

	// BlockTxs returns the canonical block hash at height and the raw
	// bytes of every transaction it contains, the primitive each
	// watcher's forward-scanning loop re-derives funding/claim/reorg
	// events from.
	BlockTxs(ctx context.Context, height int64) (hash string, rawTxs [][]byte, err error)
}

// Watcher is the long-running per-chain polling loop. Each implementation
// watches its own chain and forwards transitions to the engine via the
// Dispatcher it is constructed with.
type Watcher interface {
	// Run blocks, polling until ctx is canceled.
	Run(ctx context.Context, hb Heartbeat) error

	// WatchLeg registers an address/outpoint/contract-id as interesting. params
	// carries the hashlocks and keys the watcher needs to recognize and parse
	// this leg's fund/claim transactions via its chain's htlc.Descriptor.
	WatchLeg(swapID string, leg *domain.Leg, params htlc.Params)

	// UnwatchLeg unregisters a leg once its swap reaches a terminal state.
	UnwatchLeg(swapID string, leg *domain.Leg)
}

// Heartbeat lets a long-running task signal liveness to its supervisor.
// Implemented by pkg/taskmon.
type Heartbeat interface {
	Tick()
}

// ChainEvent is what a watcher hands to the engine's dispatcher.
type ChainEvent struct {
	SwapID        string
	Leg           domain.LegKind
	Kind          ChainEventKind
	TxID          string
	Confirmations int64
	EvidenceHash  string // for (leg, event_kind, evidence_hash) idempotence dedup
	Secrets       *domain.SecretReveal
}

// ChainEventKind names the kinds of events a chain watcher can report.
type ChainEventKind string

const (
	EventTxConfirmed     ChainEventKind = "tx_confirmed"
	EventLog             ChainEventKind = "event_log"
	EventReorg           ChainEventKind = "reorg"
	EventTimelockExpired ChainEventKind = "timelock_expired"
)

// Dispatcher is the engine's inbound event boundary that watchers call into.
type Dispatcher interface {
	Dispatch(ctx context.Context, event ChainEvent) error
}
