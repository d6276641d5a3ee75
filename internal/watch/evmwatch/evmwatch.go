// Package evmwatch is the EVM (USDC) leg's chain watcher. Unlike the
// BTC/M1 watchers it does not scan raw transactions for a funding output:
// the HTLC3S contract emits indexed events, so this watcher polls
// eth_getLogs over the block range since its last pass and hands matching
// logs to evmhtlc's typed decoders. It depends on the concrete
// evmclient.Client and evmhtlc.Codec rather than the narrow
// ports.ChainClient/htlc.Descriptor interfaces, since it needs
// FilterLogs and the codec's log-typed parse entry points that
// those interfaces don't expose.
package evmwatch

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/chainclient/evmclient"
	"github.com/flowswap/lp-node/pkg/htlc"
	"github.com/flowswap/lp-node/pkg/htlc/evmhtlc"
)

type subscription struct {
	swapID string
	leg    *domain.Leg
	params htlc.Params
}

// Watcher implements ports.Watcher for the EVM rail.
type Watcher struct {
	client *evmclient.Client
	codec  *evmhtlc.Codec

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

// New returns an EVM watcher polling client every pollInterval, re-scanning
// reorgDepth blocks back from the tip the first time it runs.
func New(client *evmclient.Client, codec *evmhtlc.Codec, dispatcher ports.Dispatcher, pollInterval time.Duration, reorgDepth int64, log *logrus.Entry) *Watcher {
	if log == nil {
		log = logrus.WithField("component", "evmwatch")
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

// WatchLeg registers an EVM leg for create/claim log matching.
func (w *Watcher) WatchLeg(swapID string, leg *domain.Leg, params htlc.Params) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs[subKey(swapID, leg.Kind)] = &subscription{swapID: swapID, leg: leg, params: params}
}

// UnwatchLeg drops a leg once its swap no longer needs EVM-side attention.
func (w *Watcher) UnwatchLeg(swapID string, leg *domain.Leg) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.subs, subKey(swapID, leg.Kind))
}

// Run polls until ctx is canceled, backing off to degradedInterval after
// degradeAfter consecutive scan failures.
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
	w.log.WithError(err).Warn("evmwatch: scan pass failed")
	if becameDegraded {
		w.log.WithField("poll_interval", degradedInterval).Warn("evmwatch: chain degraded, backing off polling")
	}
}

func (w *Watcher) onScanSuccess() {
	w.mu.Lock()
	wasDegraded := w.degraded
	w.consecutiveFailures = 0
	w.degraded = false
	w.mu.Unlock()
	if wasDegraded {
		w.log.Info("evmwatch: chain recovered, resuming normal polling")
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

func (w *Watcher) scanOnce(ctx context.Context) error {
	tip, err := w.client.Tip(ctx)
	if err != nil {
		return fmt.Errorf("evmwatch: Tip: %w", err)
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

	if from > tip.Height {
		return nil
	}

	for h := from; h <= tip.Height; h++ {
		hash, _, err := w.client.BlockTxs(ctx, h)
		if err != nil {
			return fmt.Errorf("evmwatch: BlockTxs(%d): %w", h, err)
		}
		w.mu.Lock()
		prevHash, seen := w.blockHash[h]
		w.blockHash[h] = hash
		w.mu.Unlock()
		if seen && prevHash != hash {
			w.reportReorg(ctx, h)
		}
	}

	if err := w.scanLogs(ctx, from, tip.Height); err != nil {
		return err
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

var (
	createdTopic = evmhtlc.ABI.Events["HTLCCreated"].ID
	claimedTopic = evmhtlc.ABI.Events["HTLCClaimed"].ID
)

func (w *Watcher) scanLogs(ctx context.Context, from, to int64) error {
	w.mu.Lock()
	subs := make([]*subscription, 0, len(w.subs))
	for _, s := range w.subs {
		subs = append(subs, s)
	}
	contract := w.codec.ContractAddress
	w.mu.Unlock()

	if len(subs) == 0 {
		return nil
	}

	logs, err := w.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{createdTopic, claimedTopic}},
	})
	if err != nil {
		return fmt.Errorf("evmwatch: FilterLogs: %w", err)
	}

	for i := range logs {
		log := logs[i]
		confirmations := to - int64(log.BlockNumber) + 1
		switch log.Topics[0] {
		case createdTopic:
			w.handleCreated(ctx, subs, &log, confirmations)
		case claimedTopic:
			w.handleClaimed(ctx, subs, &log)
		}
	}
	return nil
}

func (w *Watcher) handleCreated(ctx context.Context, subs []*subscription, log *types.Log, confirmations int64) {
	evidence, err := w.codec.ParseFundEventLog(log)
	if err != nil {
		w.log.WithError(err).Warn("evmwatch: decoding HTLCCreated log")
		return
	}
	for _, sub := range subs {
		if sub.leg.Funded {
			continue
		}
		if !w.createdMatchesSub(sub, log) {
			continue
		}
		w.dispatch(ctx, ports.ChainEvent{
			SwapID:        sub.swapID,
			Leg:           sub.leg.Kind,
			Kind:          ports.EventTxConfirmed,
			TxID:          evidence.TxID,
			Confirmations: confirmations,
			EvidenceHash:  evidence.ContractID,
		})
	}
}

// createdMatchesSub binds an observed HTLCCreated log to a registered leg
// by comparing the event's hashlock triple against the subscription's
// params: H_user/H_lp1/H_lp2 are swap-unique, so this is the same
// collision-free binding the claim path relies on.
func (w *Watcher) createdMatchesSub(sub *subscription, log *types.Log) bool {
	event := struct {
		Token    common.Address
		Amount   *big.Int
		HUser    [32]byte
		HLp1     [32]byte
		HLp2     [32]byte
		Timelock *big.Int
	}{}
	if err := evmhtlc.ABI.UnpackIntoInterface(&event, "HTLCCreated", log.Data); err != nil {
		return false
	}
	return event.HUser == sub.params.Hashlocks.HUser &&
		event.HLp1 == sub.params.Hashlocks.HLp1 &&
		event.HLp2 == sub.params.Hashlocks.HLp2
}

func (w *Watcher) handleClaimed(ctx context.Context, subs []*subscription, log *types.Log) {
	if len(log.Topics) < 2 {
		return
	}
	htlcID := log.Topics[1].Hex()
	for _, sub := range subs {
		if !sub.leg.Funded || sub.leg.Claimed || sub.leg.Refunded {
			continue
		}
		if sub.leg.ContractID != htlcID {
			continue
		}
		secrets, err := w.codec.ParseClaimEventLog(sub.params, log)
		if err != nil {
			w.log.WithError(err).WithField("swap_id", sub.swapID).Warn("evmwatch: claim log failed hashlock verification")
			continue
		}
		w.dispatch(ctx, ports.ChainEvent{
			SwapID:       sub.swapID,
			Leg:          sub.leg.Kind,
			Kind:         ports.EventLog,
			TxID:         log.TxHash.Hex(),
			EvidenceHash: log.TxHash.Hex(),
			Secrets: &domain.SecretReveal{
				SUser: fmt.Sprintf("%x", secrets.SUser[:]),
				SLp1:  fmt.Sprintf("%x", secrets.SLp1[:]),
				SLp2:  fmt.Sprintf("%x", secrets.SLp2[:]),
			},
		})
	}
}

// checkTimelocks reports a timelock_expired event for every open leg whose
// absolute Unix-second timelock the local wall clock has passed; tipHeight
// is not consulted.
func (w *Watcher) checkTimelocks(ctx context.Context, tipHeight int64) {
	w.mu.Lock()
	subs := make([]*subscription, 0, len(w.subs))
	for _, s := range w.subs {
		subs = append(subs, s)
	}
	w.mu.Unlock()

	now := time.Now().Unix()
	for _, sub := range subs {
		if sub.leg.Claimed || sub.leg.Refunded {
			continue
		}
		if now < sub.leg.Timelock {
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
		w.log.WithError(err).WithField("swap_id", ev.SwapID).Warn("evmwatch: dispatch failed")
	}
}
