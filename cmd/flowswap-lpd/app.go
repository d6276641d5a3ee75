package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/flowswap/lp-node/internal/config"
	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/engine"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/internal/infrastructure/repomanager"
	scheduler "github.com/flowswap/lp-node/internal/infrastructure/scheduler/gocron"
	"github.com/flowswap/lp-node/internal/interface/httpapi"
	"github.com/flowswap/lp-node/internal/watch/btcwatch"
	"github.com/flowswap/lp-node/internal/watch/evmwatch"
	"github.com/flowswap/lp-node/internal/watch/m1watch"
	"github.com/flowswap/lp-node/internal/watch/reconcile"
	"github.com/flowswap/lp-node/pkg/chainclient/btcclient"
	"github.com/flowswap/lp-node/pkg/chainclient/evmclient"
	"github.com/flowswap/lp-node/pkg/chainclient/m1client"
	"github.com/flowswap/lp-node/pkg/htlc"
	"github.com/flowswap/lp-node/pkg/htlc/btc3s"
	"github.com/flowswap/lp-node/pkg/htlc/evmhtlc"
	"github.com/flowswap/lp-node/pkg/htlc/m1htlc"
	"github.com/flowswap/lp-node/pkg/inventory"
	"github.com/flowswap/lp-node/pkg/notify"
	"github.com/flowswap/lp-node/pkg/taskmon"
	"github.com/flowswap/lp-node/pkg/wallet"
)

// reconcileInterval is how often the reconciler re-derives watcher
// subscriptions from the store, independent of each chain's poll cadence.
const reconcileInterval = 15 * time.Second

// AppContext is the node's process-wide state: config, the store, the
// engine, the chain clients/watchers, and the HTTP surface, constructed
// once at startup and torn down in reverse order on shutdown. Nothing here
// is a package-level singleton.
type AppContext struct {
	cfg *config.Config
	log *logrus.Entry

	repos      *repomanager.Manager
	engine     *engine.Engine
	watch      map[domain.LegKind]ports.Watcher
	reconciler *reconcile.Reconciler
	monitor    *taskmon.Monitor
	sched      ports.SchedulerService
	server     *httpapi.Server

	inv *inventory.Inventory
	wal *wallet.Wallet
}

// NewAppContext wires every collaborator the node needs from cfg. It opens
// the store and dials the three chain clients but does not yet start any
// background loop; call Start for that.
func NewAppContext(cfg *config.Config, log *logrus.Entry) (*AppContext, error) {
	repos, err := repomanager.Open(cfg.FlowswapDB, cfg.LPID)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	keys, err := wallet.LoadKeyDir(cfg.KeyDir)
	if err != nil {
		repos.Close()
		return nil, fmt.Errorf("loading keys: %w", err)
	}

	btcNet := parseBTCNetwork(cfg.BTCNetwork)
	m1Net := parseBTCNetwork(cfg.M1Network)

	btcClient, err := btcclient.New(btcclient.Config{Host: cfg.BTCRPCHost, User: cfg.BTCRPCUser, Pass: cfg.BTCRPCPass, DisableTLS: true})
	if err != nil {
		repos.Close()
		return nil, fmt.Errorf("dialing btc rpc: %w", err)
	}
	m1Cli, err := m1client.New(m1client.Config{Host: cfg.M1RPCHost, User: cfg.M1RPCUser, Pass: cfg.M1RPCPass, DisableTLS: true})
	if err != nil {
		repos.Close()
		return nil, fmt.Errorf("dialing m1 rpc: %w", err)
	}
	evmCli, err := evmclient.Dial(context.Background(), cfg.EVMRPCURL)
	if err != nil {
		repos.Close()
		return nil, fmt.Errorf("dialing evm rpc: %w", err)
	}

	htlcAddr := common.HexToAddress(cfg.EVMHTLCAddress)
	usdcAddr := common.HexToAddress(cfg.EVMUSDCAddress)

	wal, err := wallet.New(wallet.Config{
		BTCClient:      btcClient,
		M1Client:       m1Cli,
		EVMClient:      evmCli,
		BTCNet:         btcNet,
		M1Net:          m1Net,
		EVMChainID:     cfg.EVMChainID,
		EVMHTLCAddress: htlcAddr,
		EVMUSDCAddress: usdcAddr,
		Keys:           keys,
	})
	if err != nil {
		repos.Close()
		return nil, fmt.Errorf("constructing wallet: %w", err)
	}

	btcCodec := btc3s.New(btcNet)
	m1Codec := m1htlc.New(m1Net, m1htlc.DefaultOpcodes)
	evmCodec := evmhtlc.New(htlcAddr, usdcAddr)

	clients := map[domain.LegKind]ports.ChainClient{
		domain.LegBTC: btcClient,
		domain.LegM1:  m1Cli,
		domain.LegEVM: evmCli,
	}
	codecs := map[domain.LegKind]htlc.Descriptor{
		domain.LegBTC: btcCodec,
		domain.LegM1:  m1Codec,
		domain.LegEVM: evmCodec,
	}

	inv := inventory.New()
	notifier := notify.New()

	eng := engine.New(repos.Swap(), inv, notifier, wal, wal, clients, codecs, cfg.EngineConfig(), log.WithField("component", "engine"))

	watchers := map[domain.LegKind]ports.Watcher{
		domain.LegBTC: btcwatch.New(btcClient, btcCodec, eng, time.Duration(cfg.PollIntervalBTCSeconds)*time.Second, cfg.ReorgDepthBTC, log.WithField("component", "btcwatch")),
		domain.LegM1:  m1watch.New(m1Cli, m1Codec, eng, time.Duration(cfg.PollIntervalM1Seconds)*time.Second, cfg.ReorgDepthM1, log.WithField("component", "m1watch")),
		domain.LegEVM: evmwatch.New(evmCli, evmCodec, eng, time.Duration(cfg.PollIntervalEVMSeconds)*time.Second, cfg.ReorgDepthEVM, log.WithField("component", "evmwatch")),
	}

	reconciler := reconcile.New(repos.Swap(), watchers, log.WithField("component", "reconcile"))

	return &AppContext{
		cfg:        cfg,
		log:        log,
		repos:      repos,
		engine:     eng,
		watch:      watchers,
		reconciler: reconciler,
		monitor:    taskmon.New(),
		sched:      scheduler.New(),
		server:     httpapi.New(eng, repos),
		inv:        inv,
		wal:        wal,
	}, nil
}

// Start launches every supervised background loop: the three chain
// watchers, the reconciler, and the periodic maintenance jobs. It does not
// block; the HTTP server is started separately by the caller.
func (a *AppContext) Start(ctx context.Context) error {
	for leg, w := range a.watch {
		watcher := w
		a.monitor.Go(fmt.Sprintf("watch-%s", leg), func(ctx context.Context, hb taskmon.Heartbeat) error {
			return watcher.Run(ctx, hb)
		})
	}
	a.monitor.Go("reconcile", func(ctx context.Context, hb taskmon.Heartbeat) error {
		return a.reconciler.Run(ctx, hb, reconcileInterval)
	})

	a.sched.Start()
	if err := a.sched.ScheduleRecurring("wallet-refresh", time.Duration(a.cfg.WalletRefreshIntervalSeconds)*time.Second, a.refreshWalletBalances); err != nil {
		return fmt.Errorf("scheduling wallet refresh: %w", err)
	}
	if err := a.sched.ScheduleRecurring("archive-cleanup", time.Duration(a.cfg.ArchiveGraceHours)*time.Hour, a.cleanupTerminalSwaps); err != nil {
		return fmt.Errorf("scheduling archive cleanup: %w", err)
	}
	return nil
}

// refreshWalletBalances pulls the LP's current on-chain balance for each
// asset and mirrors it into the inventory the engine reserves against.
func (a *AppContext) refreshWalletBalances() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for leg, asset := range map[domain.LegKind]domain.Asset{
		domain.LegBTC: domain.AssetBTC,
		domain.LegM1:  domain.AssetM1,
		domain.LegEVM: domain.AssetUSDC,
	} {
		balance, err := a.wal.Balance(ctx, leg)
		if err != nil {
			a.log.WithField("leg", leg).WithError(err).Warn("wallet balance refresh failed")
			continue
		}
		a.inv.RefreshBalance(asset, balance)
	}
}

// cleanupTerminalSwaps archives every terminal swap past the configured
// grace period, keeping the hot store index from growing without bound.
func (a *AppContext) cleanupTerminalSwaps() {
	cutoff := time.Now().Add(-time.Duration(a.cfg.ArchiveGraceHours) * time.Hour).Unix()
	swaps, err := a.repos.Swap().GetAll()
	if err != nil {
		a.log.WithError(err).Warn("archive sweep: listing swaps failed")
		return
	}
	for _, swap := range swaps {
		if !swap.State.IsTerminal() || swap.UpdatedAt > cutoff {
			continue
		}
		if err := a.repos.Swap().Archive(swap.SwapID); err != nil {
			a.log.WithField("swap_id", swap.SwapID).WithError(err).Warn("archive sweep: archiving swap failed")
		}
	}
}

// Shutdown drains in-flight work for up to drain, then tears down every
// collaborator in the reverse order Start/NewAppContext brought them up.
func (a *AppContext) Shutdown(drain time.Duration) {
	a.sched.Stop()

	done := make(chan struct{})
	go func() {
		a.monitor.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drain):
		a.log.Warn("shutdown: watchers did not drain in time, proceeding")
	}

	if err := a.repos.Close(); err != nil {
		a.log.WithError(err).Error("shutdown: closing store failed")
	}
}

func parseBTCNetwork(network string) *chaincfg.Params {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "mainnet", "bitcoin":
		return &chaincfg.MainNetParams
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}
