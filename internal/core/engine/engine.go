// Package engine implements the swap state machine: the only component
// permitted to mutate swap state. It is driven by three event sources —
// user-facing commands, chain-watcher events, and periodic ticks —
// serialized per swap by a lock table, dispatching by
// direction/routing-mode/leg-role into per-chain HTLC codecs and chain
// clients.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/htlc"
)

// ConfirmTier maps a from_amount ceiling (in sats) to a required
// confirmation count.
type ConfirmTier struct {
	MaxAmount        int64
	RequiredConfirms int64
}

// Config holds the LP's tunable policy knobs. Safety margins and
// confirmation tiers are read-only to the engine at transition time.
type Config struct {
	// SafetyMarginBTC/M1/EVM are the minimum gap (blocks for BTC/M1,
	// seconds for EVM) required between adjacent legs' timelocks.
	// Defaults: 144, 144, 3600.
	SafetyMarginBTC int64
	SafetyMarginM1  int64
	SafetyMarginEVM int64

	// BTCConfirmTiers is the size->confirmations table; first tier whose
	// MaxAmount is >= the deposit wins.
	BTCConfirmTiers     []ConfirmTier
	M1RequiredConfirms  int64
	EVMRequiredConfirms int64

	// Now returns wall-clock seconds; overridable for deterministic tests.
	Now func() int64
}

// DefaultConfig returns the default tiers and safety margins.
func DefaultConfig() Config {
	return Config{
		SafetyMarginBTC: 144,
		SafetyMarginM1:  144,
		SafetyMarginEVM: 3600,
		BTCConfirmTiers: []ConfirmTier{
			{MaxAmount: 1_000_000, RequiredConfirms: 1},  // <= 0.01 BTC
			{MaxAmount: 10_000_000, RequiredConfirms: 2}, // <= 0.1 BTC
			{MaxAmount: 50_000_000, RequiredConfirms: 3}, // <= 0.5 BTC
			{MaxAmount: -1, RequiredConfirms: 6},         // > 0.5 BTC, unbounded
		},
		M1RequiredConfirms:  1,
		EVMRequiredConfirms: 1,
		Now:                 func() int64 { return time.Now().Unix() },
	}
}

// RequiredBTCConfirms looks up the confirmation tier for a deposit amount.
func (c Config) RequiredBTCConfirms(amountSats int64) int64 {
	for _, tier := range c.BTCConfirmTiers {
		if tier.MaxAmount < 0 || amountSats <= tier.MaxAmount {
			return tier.RequiredConfirms
		}
	}
	return 6
}

// Engine is the sole mutator of swap state.
type Engine struct {
	repo   domain.SwapRepository
	inv    ports.Inventory
	notify ports.Notifier
	signer ports.Signer
	wallet ports.Wallet

	clients map[domain.LegKind]ports.ChainClient
	codecs  map[domain.LegKind]htlc.Descriptor

	cfg Config
	log *logrus.Entry

	locks      sync.Map                       // swap_id -> *sync.Mutex, per-swap serialization
	chainMu    map[domain.LegKind]*sync.Mutex // per-chain broadcast serialization
	seen       sync.Map                       // "leg/kind/evidence" -> struct{}, idempotence dedup
	secretMu   sync.Mutex
	ownSecrets map[string]htlc.SecretSet // swap_id -> LP-generated S_lp1/S_lp2, held until confirmation (invariant 1)
}

// New wires an Engine from its collaborators.
func New(
	repo domain.SwapRepository,
	inv ports.Inventory,
	notify ports.Notifier,
	signer ports.Signer,
	wallet ports.Wallet,
	clients map[domain.LegKind]ports.ChainClient,
	codecs map[domain.LegKind]htlc.Descriptor,
	cfg Config,
	log *logrus.Entry,
) *Engine {
	if log == nil {
		log = logrus.WithField("component", "engine")
	}
	chainMu := make(map[domain.LegKind]*sync.Mutex, 3)
	for _, leg := range []domain.LegKind{domain.LegBTC, domain.LegM1, domain.LegEVM} {
		chainMu[leg] = &sync.Mutex{}
	}
	return &Engine{
		repo:       repo,
		inv:        inv,
		notify:     notify,
		signer:     signer,
		wallet:     wallet,
		clients:    clients,
		codecs:     codecs,
		cfg:        cfg,
		log:        log,
		chainMu:    chainMu,
		ownSecrets: make(map[string]htlc.SecretSet),
	}
}

// readPlanCommit implements the read-plan-commit pattern: read the
// swap under lock and decide on an action, release the lock, perform the
// action (which may block on RPC/HTTP), then re-acquire the lock to
// validate the precondition still holds and commit. If plan returns a nil
// action, commit runs immediately with no intervening unlocked work.
func (e *Engine) readPlanCommit(
	swapID string,
	plan func(swap *domain.Swap) (action func() error, commit func(swap *domain.Swap) error, err error),
) error {
	var action func() error
	var commit func(*domain.Swap) error

	if err := e.withSwapLock(swapID, func() error {
		swap, err := e.repo.Get(swapID)
		if err != nil {
			return err
		}
		action, commit, err = plan(swap)
		return err
	}); err != nil {
		return err
	}

	if action != nil {
		if err := action(); err != nil {
			return err
		}
	}
	if commit == nil {
		return nil
	}
	return e.withSwapLock(swapID, func() error {
		swap, err := e.repo.Get(swapID)
		if err != nil {
			return err
		}
		return commit(swap)
	})
}

// withSwapLock serializes every access to a given swap through its own
// per-swap mutex.
func (e *Engine) withSwapLock(swapID string, fn func() error) error {
	lockAny, _ := e.locks.LoadOrStore(swapID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// withChainLock serializes broadcasts for a given chain, avoiding UTXO
// double-spends and EVM nonce clashes.
// Holding order is store -> chain -> swap; callers must never acquire the
// swap lock first and then reach for a chain lock.
func (e *Engine) withChainLock(leg domain.LegKind, fn func() error) error {
	mu := e.chainMu[leg]
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

func (e *Engine) now() int64 { return e.cfg.Now() }

// dedupKey builds the (leg, event_kind, evidence_hash) idempotence key.
func dedupKey(swapID string, leg domain.LegKind, kind ports.ChainEventKind, evidence string) string {
	return fmt.Sprintf("%s/%s/%s/%s", swapID, leg, kind, evidence)
}

// markSeenOnce reports whether this is the first time this exact evidence
// has been observed for this swap/leg/kind. Callers should skip applying an
// event a second time but may still use it to refresh confirmations.
func (e *Engine) markSeenOnce(key string) bool {
	_, loaded := e.seen.LoadOrStore(key, struct{}{})
	return !loaded
}

func (e *Engine) setOwnSecrets(swapID string, s htlc.SecretSet) {
	e.secretMu.Lock()
	defer e.secretMu.Unlock()
	e.ownSecrets[swapID] = s
}

func (e *Engine) getOwnSecrets(swapID string) (htlc.SecretSet, bool) {
	e.secretMu.Lock()
	defer e.secretMu.Unlock()
	s, ok := e.ownSecrets[swapID]
	return s, ok
}

func (e *Engine) dropOwnSecrets(swapID string) {
	e.secretMu.Lock()
	defer e.secretMu.Unlock()
	delete(e.ownSecrets, swapID)
}

var _ ports.Dispatcher = (*Engine)(nil)

// releaseReservations frees every inventory reservation held by swap and
// clears its record of them, per invariant 5: no terminal swap may hold a
// reservation. Callers invoke this from within the commit that performs the
// swap's final transition into a terminal state (completed, refunded or
// failed).
func (e *Engine) releaseReservations(swap *domain.Swap) {
	e.inv.Release(swap.SwapID)
	swap.Reservations = nil
}

// requiredConfirms looks up the confirmation policy for a leg.
func (e *Engine) requiredConfirms(leg domain.LegKind, amount int64) int64 {
	switch leg {
	case domain.LegBTC:
		return e.cfg.RequiredBTCConfirms(amount)
	case domain.LegM1:
		return e.cfg.M1RequiredConfirms
	case domain.LegEVM:
		return e.cfg.EVMRequiredConfirms
	default:
		return 1
	}
}
