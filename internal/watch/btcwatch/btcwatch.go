// Package btcwatch is the BTC leg's chain watcher: a polling loop that
// scans new blocks forward for funding outputs and claim witnesses against
// every leg the engine has registered interest in, and reports what it
// finds to the engine's Dispatcher.
package btcwatch

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/htlc"
)

// subscription is one leg the watcher has been told to track.
type subscription struct {
	swapID string
	leg    *domain.Leg
	params htlc.Params
}

// Watcher implements ports.Watcher for the BTC rail by re-scanning blocks
// forward from the last height it processed, reusing btc3s's parsing
// functions through the htlc.Descriptor the engine wires it with.
type Watcher struct {
	client ports.ChainClient
	codec  htlc.Descriptor

	dispatcher ports.Dispatcher

	pollInterval time.Duration
	reorgDepth   int64

	mu         sync.Mutex
	subs       map[string]*subscription
	lastHeight int64
	blockHash  map[int64]string

	consecutiveFailures int
	degraded            bool

	log *logrus.Entry
}

// degradeAfter consecutive scan failures, the watcher backs off to
// degradedInterval polling until a scan succeeds again.
const (
	degradeAfter     = 3
	degradedInterval = 60 * time.Second
)

// New returns a BTC watcher polling client every pollInterval, re-scanning
// reorgDepth blocks back from the tip the first time it runs.
func New(client ports.ChainClient, codec htlc.Descriptor, dispatcher ports.Dispatcher, pollInterval time.Duration, reorgDepth int64, log *logrus.Entry) *Watcher {
	if log == nil {
		log = logrus.WithField("component", "btcwatch")
	}
	return &Watcher{
		client:       client,
		codec:        codec,
		dispatcher:   dispatcher,
		pollInterval: pollInterval,
		reorgDepth:   reorgDepth,
		subs:         make(map[string]*subscription),
		blockHash:    make(map[int64]string),
		log:          log,
	}
}

var _ ports.Watcher = (*Watcher)(nil)

func subKey(swapID string, leg domain.LegKind) string {
	return swapID + "/" + string(leg)
}

// WatchLeg registers a BTC leg for fund/claim scanning.
func (w *Watcher) WatchLeg(swapID string, leg *domain.Leg, params htlc.Params) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs[subKey(swapID, leg.Kind)] = &subscription{swapID: swapID, leg: leg, params: params}
}

// UnwatchLeg drops a leg once its swap no longer needs BTC-side attention.
func (w *Watcher) UnwatchLeg(swapID string, leg *domain.Leg) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, subKey(swapID, leg.Kind))
}

// Run polls until ctx is canceled, ticking the supplied heartbeat on every
// pass so its supervising taskmon.Monitor can detect a stall. After
// degradeAfter consecutive scan failures the watcher marks the chain
// degraded and backs off to degradedInterval polling until a scan succeeds.
func (w *Watcher) Run(ctx context.Context, hb ports.Heartbeat) error {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if hb != nil {
				hb.Tick()
			}
			if err := w.scanOnce(ctx); err != nil {
				w.onScanFailure(err)
			} else {
				w.onScanSuccess()
			}
			timer.Reset(w.currentInterval())
		}
	}
}

func (w *Watcher) onScanFailure(err error) {
	w.mu.Lock()
	w.consecutiveFailures++
	becameDegraded := !w.degraded && w.consecutiveFailures >= degradeAfter
	if becameDegraded {
		w.degraded = true
	}
	w.mu.Unlock()
	w.log.WithError(err).Warn("btcwatch: scan pass failed")
	if becameDegraded {
		w.log.WithField("poll_interval", degradedInterval).Warn("btcwatch: chain degraded, backing off polling")
	}
}

func (w *Watcher) onScanSuccess() {
	w.mu.Lock()
	wasDegraded := w.degraded
	w.consecutiveFailures = 0
	w.degraded = false
	w.mu.Unlock()
	if wasDegraded {
		w.log.Info("btcwatch: chain recovered, resuming normal polling")
	}
}

func (w *Watcher) currentInterval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.degraded {
		return degradedInterval
	}
	return w.pollInterval
}

// scanOnce advances the watcher's view of the chain by one pass: it walks
// forward from the last scanned height to the tip, re-scanning any height
// whose block hash has changed since last observed (a reorg), then checks
// every still-open leg's timelock against the new tip.
func (w *Watcher) scanOnce(ctx context.Context) error {
	tip, err := w.client.Tip(ctx)
	if err != nil {
		return fmt.Errorf("btcwatch: Tip: %w", err)
	}

	w.mu.Lock()
	from := w.lastHeight + 1
	if w.lastHeight == 0 {
		from = tip.Height - w.reorgDepth
		if from < 0 {
			from = 0
		}
	}
	w.mu.Unlock()

	for h := from; h <= tip.Height; h++ {
		hash, raws, err := w.client.BlockTxs(ctx, h)
		if err != nil {
			return fmt.Errorf("btcwatch: BlockTxs(%d): %w", h, err)
		}

		w.mu.Lock()
		prevHash, seen := w.blockHash[h]
		w.blockHash[h] = hash
		w.mu.Unlock()

		if seen && prevHash != hash {
			w.reportReorg(ctx, h)
		}
		w.scanBlock(ctx, h, tip.Height, raws)
	}

	w.mu.Lock()
	w.lastHeight = tip.Height
	for height := range w.blockHash {
		if height < tip.Height-w.reorgDepth {
			delete(w.blockHash, height)
		}
	}
	w.mu.Unlock()

	w.checkTimelocks(ctx, tip.Height)
	return nil
}

// scanBlock checks every raw transaction in a block against every open
// subscription, looking for funding outputs on unfunded legs and claim
// witnesses on funded-but-unsettled legs.
func (w *Watcher) scanBlock(ctx context.Context, height, tipHeight int64, raws [][]byte) {
	w.mu.Lock()
	subs := make([]*subscription, 0, len(w.subs))
	for _, s := range w.subs {
		subs = append(subs, s)
	}
	w.mu.Unlock()

	confirmations := tipHeight - height + 1
	for _, sub := range subs {
		for _, raw := range raws {
			if !sub.leg.Funded {
				if ev, ok := w.tryFundEvidence(sub, raw, confirmations); ok {
					w.dispatch(ctx, ev)
					continue
				}
			}
			if sub.leg.Funded && !sub.leg.Claimed && !sub.leg.Refunded {
				if ev, ok := w.tryClaim(sub, raw); ok {
					w.dispatch(ctx, ev)
				}
			}
		}
	}
}

func (w *Watcher) tryFundEvidence(sub *subscription, raw []byte, confirmations int64) (ports.ChainEvent, bool) {
	evidence, err := w.codec.ParseFundEvidence(sub.params, raw)
	if err != nil {
		return ports.ChainEvent{}, false
	}
	return ports.ChainEvent{
		SwapID:        sub.swapID,
		Leg:           sub.leg.Kind,
		Kind:          ports.EventTxConfirmed,
		TxID:          evidence.TxID,
		Confirmations: confirmations,
		EvidenceHash:  fmt.Sprintf("%s:%d", evidence.TxID, evidence.VOut),
	}, true
}

func (w *Watcher) tryClaim(sub *subscription, raw []byte) (ports.ChainEvent, bool) {
	if sub.leg.Outpoint != "" && !spendsOutpoint(raw, sub.leg.Outpoint) {
		return ports.ChainEvent{}, false
	}
	secrets, err := w.codec.ParseClaimWitness(sub.params, raw)
	if err != nil {
		return ports.ChainEvent{}, false
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return ports.ChainEvent{}, false
	}
	txid := tx.TxHash().String()
	return ports.ChainEvent{
		SwapID:       sub.swapID,
		Leg:          sub.leg.Kind,
		Kind:         ports.EventLog,
		TxID:         txid,
		EvidenceHash: txid,
		Secrets: &domain.SecretReveal{
			SUser: fmt.Sprintf("%x", secrets.SUser[:]),
			SLp1:  fmt.Sprintf("%x", secrets.SLp1[:]),
			SLp2:  fmt.Sprintf("%x", secrets.SLp2[:]),
		},
	}, true
}

// spendsOutpoint reports whether raw's first input spends outpoint,
// formatted as "txid:vout".
func spendsOutpoint(raw []byte, outpoint string) bool {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil || len(tx.TxIn) == 0 {
		return false
	}
	want := fmt.Sprintf("%s:%d", tx.TxIn[0].PreviousOutPoint.Hash.String(), tx.TxIn[0].PreviousOutPoint.Index)
	return want == outpoint
}

// checkTimelocks reports a timelock_expired event for every open leg whose
// absolute-height timelock the new tip has passed. onTimelockExpired is
// idempotent, so firing this every tick past expiry is safe.
func (w *Watcher) checkTimelocks(ctx context.Context, tipHeight int64) {
	w.mu.Lock()
	subs := make([]*subscription, 0, len(w.subs))
	for _, s := range w.subs {
		subs = append(subs, s)
	}
	w.mu.Unlock()

	for _, sub := range subs {
		if sub.leg.Claimed || sub.leg.Refunded {
			continue
		}
		if tipHeight < sub.leg.Timelock {
			continue
		}
		w.dispatch(ctx, ports.ChainEvent{
			SwapID:       sub.swapID,
			Leg:          sub.leg.Kind,
			Kind:         ports.EventTimelockExpired,
			EvidenceHash: fmt.Sprintf("timelock:%d", sub.leg.Timelock),
		})
	}
}

// reportReorg notifies the engine that the block at height was replaced,
// so it can roll back any transition it derived from the orphaned chain.
func (w *Watcher) reportReorg(ctx context.Context, height int64) {
	w.mu.Lock()
	subs := make([]*subscription, 0, len(w.subs))
	for _, s := range w.subs {
		subs = append(subs, s)
	}
	w.mu.Unlock()

	for _, sub := range subs {
		w.dispatch(ctx, ports.ChainEvent{
			SwapID:       sub.swapID,
			Leg:          sub.leg.Kind,
			Kind:         ports.EventReorg,
			EvidenceHash: fmt.Sprintf("reorg:%d", height),
		})
	}
}

func (w *Watcher) dispatch(ctx context.Context, ev ports.ChainEvent) {
	if err := w.dispatcher.Dispatch(ctx, ev); err != nil {
		w.log.WithError(err).WithField("swap_id", ev.SwapID).Warn("btcwatch: dispatch failed")
	}
}
