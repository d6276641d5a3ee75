package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/chainerr"
	"github.com/flowswap/lp-node/pkg/htlc"
	"github.com/flowswap/lp-node/pkg/inventory"
)

// scenarioChainClient is a per-leg ports.ChainClient stub whose tip never
// advances; BroadcastTx hands back a deterministic, incrementing txid.
type scenarioChainClient struct {
	tip   ports.BlockRef
	leg   string
	calls int
}

func (c *scenarioChainClient) Tip(ctx context.Context) (ports.BlockRef, error) { return c.tip, nil }
func (c *scenarioChainClient) BroadcastTx(ctx context.Context, raw []byte) (string, error) {
	c.calls++
	return fmt.Sprintf("%s-tx-%d", c.leg, c.calls), nil
}
func (c *scenarioChainClient) FeeEstimate(ctx context.Context) (int64, error) { return 1, nil }
func (c *scenarioChainClient) TxConfirmations(ctx context.Context, txID string) (int64, error) {
	return 0, nil
}
func (c *scenarioChainClient) RawTx(ctx context.Context, txID string) ([]byte, error) { return nil, nil }
func (c *scenarioChainClient) BlockTxs(ctx context.Context, height int64) (string, [][]byte, error) {
	return "", nil, nil
}

// scenarioCodec is a per-leg htlc.Descriptor stub: every build returns an
// opaque placeholder blob, since the engine's own dispatch logic under test
// never inspects transaction contents, only that codec calls succeed.
type scenarioCodec struct {
	leg string
}

func (c *scenarioCodec) DeriveAddress(params htlc.Params) (string, error) {
	return c.leg + "-addr", nil
}
func (c *scenarioCodec) BuildFundTx(params htlc.Params, inputs any) (htlc.UnsignedTx, error) {
	return htlc.UnsignedTx("fund-" + c.leg), nil
}
func (c *scenarioCodec) BuildClaimTx(params htlc.Params, secrets htlc.SecretSet, destination string) (htlc.UnsignedTx, error) {
	return htlc.UnsignedTx("claim-" + c.leg), nil
}
func (c *scenarioCodec) BuildRefundTx(params htlc.Params, destination string) (htlc.UnsignedTx, error) {
	return htlc.UnsignedTx("refund-" + c.leg), nil
}
func (c *scenarioCodec) ParseClaimWitness(params htlc.Params, raw []byte) (htlc.SecretSet, error) {
	return htlc.SecretSet{}, nil
}
func (c *scenarioCodec) ParseFundEvidence(params htlc.Params, raw []byte) (htlc.FundEvidence, error) {
	return htlc.FundEvidence{}, nil
}

type scenarioWallet struct{}

func (w *scenarioWallet) FundInputsFor(ctx context.Context, leg domain.LegKind, amount int64, recipient []byte) (any, []int64, error) {
	return nil, []int64{amount}, nil
}
func (w *scenarioWallet) Pubkey(ctx context.Context, leg domain.LegKind) ([]byte, error) {
	return []byte("lp-pubkey-" + string(leg)), nil
}
func (w *scenarioWallet) PayoutAddress(ctx context.Context, leg domain.LegKind) (string, error) {
	return "lp-payout-" + string(leg), nil
}
func (w *scenarioWallet) Balance(ctx context.Context, leg domain.LegKind) (int64, error) { return 0, nil }

type scenarioSigner struct{}

func (s *scenarioSigner) Sign(ctx context.Context, leg domain.LegKind, unsigned htlc.UnsignedTx, amounts []int64) ([]byte, error) {
	return append([]byte("signed-"), unsigned...), nil
}

// scenarioNotifier records every call it receives so tests can assert a
// peer notification fired (or didn't), and can be told to fail M1-locked
// notifies to simulate an unreachable peer.
type scenarioNotifier struct {
	mu             sync.Mutex
	failM1Locked   error
	btcClaimedCalls []ports.BTCClaimedPayload
}

func (n *scenarioNotifier) NotifyM1Locked(ctx context.Context, peerURL, swapID string, payload ports.M1LockedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.failM1Locked
}
func (n *scenarioNotifier) NotifyBTCClaimed(ctx context.Context, peerURL, swapID string, payload ports.BTCClaimedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.btcClaimedCalls = append(n.btcClaimedCalls, payload)
	return nil
}

// memRepo is a minimal in-memory domain.SwapRepository, enough to drive a
// swap end to end without a real store file.
type memRepo struct {
	mu    sync.Mutex
	swaps map[string]*domain.Swap
}

func newMemRepo() *memRepo {
	return &memRepo{swaps: make(map[string]*domain.Swap)}
}

func (r *memRepo) Add(swap *domain.Swap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.swaps[swap.SwapID]; ok {
		return fmt.Errorf("swap %s already exists", swap.SwapID)
	}
	r.swaps[swap.SwapID] = swap
	return nil
}

func (r *memRepo) Get(swapID string) (*domain.Swap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	swap, ok := r.swaps[swapID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return swap, nil
}

func (r *memRepo) GetAll() ([]*domain.Swap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Swap, 0, len(r.swaps))
	for _, s := range r.swaps {
		out = append(out, s)
	}
	return out, nil
}

func (r *memRepo) GetByState(state domain.State) ([]*domain.Swap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Swap
	for _, s := range r.swaps {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) Update(swap *domain.Swap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swaps[swap.SwapID] = swap
	return nil
}

func (r *memRepo) Archive(swapID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.swaps, swapID)
	return nil
}

func (r *memRepo) Close() error { return nil }

// scenarioEngine wires a fully-functional Engine from the stubs above, ready
// to drive a swap from Init through to a terminal state.
func scenarioEngine(t *testing.T, repo *memRepo, inv *inventory.Inventory, notify *scenarioNotifier) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Now = func() int64 { return 1_700_000_000 }

	clients := map[domain.LegKind]ports.ChainClient{
		domain.LegBTC: &scenarioChainClient{tip: ports.BlockRef{Height: 0}, leg: "btc"},
		domain.LegM1:  &scenarioChainClient{tip: ports.BlockRef{Height: 0}, leg: "m1"},
		domain.LegEVM: &scenarioChainClient{tip: ports.BlockRef{Height: 0}, leg: "evm"},
	}
	codecs := map[domain.LegKind]htlc.Descriptor{
		domain.LegBTC: &scenarioCodec{leg: "btc"},
		domain.LegM1:  &scenarioCodec{leg: "m1"},
		domain.LegEVM: &scenarioCodec{leg: "evm"},
	}
	return New(repo, inv, notify, &scenarioSigner{}, &scenarioWallet{}, clients, codecs, cfg, nil)
}

func TestForwardSingleLPHappyPathReachesCompletedWithEmptyReservations(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	inv := inventory.New()
	inv.RefreshBalance(domain.AssetUSDC, 1_000_000)
	eng := scenarioEngine(t, repo, inv, &scenarioNotifier{})

	sUser, hUser, err := mintSecret()
	require.NoError(t, err)

	swap, err := eng.Init(ctx, InitParams{
		Direction:         domain.DirectionForward,
		FromAmount:        500_000,
		ToAmount:          400_000,
		HUser:             encodeHash32(hUser),
		UserRefundAddress: "03" + strings.Repeat("a", 64),
		UserPayoutAddress: "02" + strings.Repeat("b", 64),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingBTC, swap.State)
	require.Equal(t, int64(600_000), inv.Available(domain.AssetUSDC))

	ownSecrets, ok := eng.getOwnSecrets(swap.SwapID)
	require.True(t, ok)

	require.NoError(t, eng.Dispatch(ctx, ports.ChainEvent{
		SwapID: swap.SwapID, Leg: domain.LegBTC, Kind: ports.EventTxConfirmed,
		TxID: "btc-fund-tx", Confirmations: 1, EvidenceHash: "btc-fund-evidence",
	}))
	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, domain.StateM1Locked, swap.State)
	require.True(t, swap.BTCLeg.Funded)
	require.NotNil(t, swap.M1Leg)

	require.NoError(t, eng.Dispatch(ctx, ports.ChainEvent{
		SwapID: swap.SwapID, Leg: domain.LegM1, Kind: ports.EventTxConfirmed,
		TxID: "m1-fund-tx", Confirmations: 1, EvidenceHash: "m1-fund-evidence",
	}))
	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, domain.StateUSDCLocked, swap.State)
	require.NotEmpty(t, swap.SLp1)
	require.NotNil(t, swap.EVMLeg)

	require.NoError(t, eng.Dispatch(ctx, ports.ChainEvent{
		SwapID: swap.SwapID, Leg: domain.LegEVM, Kind: ports.EventTxConfirmed,
		TxID: "usdc-fund-tx", Confirmations: 1, EvidenceHash: "usdc-fund-evidence",
	}))
	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, domain.StateUSDCLocked, swap.State)
	require.NotEmpty(t, swap.SLp2)

	require.NoError(t, eng.Dispatch(ctx, ports.ChainEvent{
		SwapID: swap.SwapID, Leg: domain.LegEVM, Kind: ports.EventLog,
		TxID: "usdc-claim-tx", EvidenceHash: "usdc-claim-evidence",
		Secrets: &domain.SecretReveal{
			SUser: encodeHash32(sUser),
			SLp1:  encodeHash32(ownSecrets.SLp1),
			SLp2:  encodeHash32(ownSecrets.SLp2),
		},
	}))

	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, swap.State)
	require.NotNil(t, swap.TerminalAt)
	require.Empty(t, swap.Reservations)
	require.True(t, swap.EVMLeg.Claimed)
	require.True(t, swap.M1Leg.Claimed)
	require.True(t, swap.BTCLeg.Claimed)
	require.Equal(t, int64(1_000_000), inv.Available(domain.AssetUSDC))
}

func TestForwardSingleLPUnfundedBTCLegRefundsAndReleasesReservations(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	inv := inventory.New()
	inv.RefreshBalance(domain.AssetUSDC, 1_000_000)
	eng := scenarioEngine(t, repo, inv, &scenarioNotifier{})

	_, hUser, err := mintSecret()
	require.NoError(t, err)

	swap, err := eng.Init(ctx, InitParams{
		Direction:         domain.DirectionForward,
		FromAmount:        500_000,
		ToAmount:          400_000,
		HUser:             encodeHash32(hUser),
		UserRefundAddress: "03" + strings.Repeat("a", 64),
		UserPayoutAddress: "02" + strings.Repeat("b", 64),
	})
	require.NoError(t, err)
	require.Len(t, swap.Reservations, 1)
	require.Equal(t, int64(600_000), inv.Available(domain.AssetUSDC))

	require.NoError(t, eng.Dispatch(ctx, ports.ChainEvent{
		SwapID: swap.SwapID, Leg: domain.LegBTC, Kind: ports.EventTimelockExpired,
	}))

	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, domain.StateRefunded, swap.State)
	require.True(t, swap.BTCLeg.Refunded)
	require.NotEmpty(t, swap.BTCLeg.RefundTxID)
	require.Empty(t, swap.Reservations)
	require.Equal(t, int64(1_000_000), inv.Available(domain.AssetUSDC))
}

// TestPerLegLPOutHappyPathReachesCompleted drives the LP_OUT side of a
// per-leg route from the PeerM1Locked webhook through to completion,
// exercising the webhook-driven init->m1_locked_seen transition and the
// M1 leg descriptor it must populate for the claim to be possible at all.
func TestPerLegLPOutHappyPathReachesCompleted(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	inv := inventory.New()
	inv.RefreshBalance(domain.AssetUSDC, 1_000_000)
	notifier := &scenarioNotifier{}
	eng := scenarioEngine(t, repo, inv, notifier)

	sUser, hUser, err := mintSecret()
	require.NoError(t, err)
	sLp1, hLp1, err := mintSecret()
	require.NoError(t, err)
	sLp2, hLp2, err := mintSecret()
	require.NoError(t, err)

	swap, err := eng.InitLeg(ctx, InitLegParams{
		Direction:         domain.DirectionForward,
		LegRole:           domain.LegRoleLPOut,
		PeerURL:           "https://lp-in.example",
		PeerM1Pubkey:      strings.Repeat("a", 66),
		FromAmount:        500_000,
		ToAmount:          400_000,
		HUser:             encodeHash32(hUser),
		HLp1:              encodeHash32(hLp1),
		HLp2:              encodeHash32(hLp2),
		UserRefundAddress: "03" + strings.Repeat("a", 64),
		UserPayoutAddress: "02" + strings.Repeat("b", 64),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StateInit, swap.State)
	require.NotNil(t, swap.M1Leg)
	require.Empty(t, swap.M1Leg.Outpoint)

	require.NoError(t, eng.PeerM1Locked(ctx, swap.SwapID, ports.M1LockedPayload{
		Outpoint:     "lp-in-m1-outpoint:0",
		AmountSats:   500_000,
		ExpiryHeight: 123456,
	}))

	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, "lp-in-m1-outpoint:0", swap.M1Leg.Outpoint)
	require.Equal(t, int64(123456), swap.M1Leg.Timelock)
	require.NotEmpty(t, swap.M1Leg.RecipientPubkey)
	require.NotEmpty(t, swap.M1Leg.SenderPubkey)
	require.Equal(t, domain.StateUSDCLocked, swap.State)
	require.NotNil(t, swap.EVMLeg)

	require.NoError(t, eng.Dispatch(ctx, ports.ChainEvent{
		SwapID: swap.SwapID, Leg: domain.LegEVM, Kind: ports.EventTxConfirmed,
		TxID: "usdc-fund-tx", Confirmations: 1, EvidenceHash: "usdc-fund-evidence",
	}))
	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, domain.StateUSDCLocked, swap.State)
	require.True(t, swap.EVMLeg.Funded)

	require.NoError(t, eng.Dispatch(ctx, ports.ChainEvent{
		SwapID: swap.SwapID, Leg: domain.LegEVM, Kind: ports.EventLog,
		TxID: "usdc-claim-tx", EvidenceHash: "usdc-claim-evidence",
		Secrets: &domain.SecretReveal{
			SUser: encodeHash32(sUser),
			SLp1:  encodeHash32(sLp1),
			SLp2:  encodeHash32(sLp2),
		},
	}))

	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, swap.State)
	require.NotNil(t, swap.TerminalAt)
	require.Empty(t, swap.Reservations)
	require.True(t, swap.EVMLeg.Claimed)
	require.True(t, swap.M1Leg.Claimed)
	require.Equal(t, int64(1_000_000), inv.Available(domain.AssetUSDC))

	require.Len(t, notifier.btcClaimedCalls, 1)
	require.NotEmpty(t, notifier.btcClaimedCalls[0].ClaimTxID)
	require.Equal(t, encodeHash32(sUser), notifier.btcClaimedCalls[0].SUser)
	require.Equal(t, encodeHash32(sLp1), notifier.btcClaimedCalls[0].SLp1)
	require.Equal(t, encodeHash32(sLp2), notifier.btcClaimedCalls[0].SLp2)
}

// TestPerLegLPInPeerUnreachableParksSwapWithoutLosingOnChainLock drives the
// LP_IN side of a per-leg route through BTC confirmation while the peer
// notify fails with PeerUnreachable, asserting the already-broadcast M1
// lock is still committed and the swap parks in peer_unreachable rather
// than silently discarding the on-chain fact.
func TestPerLegLPInPeerUnreachableParksSwapWithoutLosingOnChainLock(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	inv := inventory.New()
	inv.RefreshBalance(domain.AssetM1, 1_000_000)
	notifier := &scenarioNotifier{failM1Locked: chainerr.New(chainerr.PeerUnreachable, "notify.postWithRetry", fmt.Errorf("peer offline"))}
	eng := scenarioEngine(t, repo, inv, notifier)

	_, hUser, err := mintSecret()
	require.NoError(t, err)
	_, hLp1, err := mintSecret()
	require.NoError(t, err)
	_, hLp2, err := mintSecret()
	require.NoError(t, err)

	swap, err := eng.InitLeg(ctx, InitLegParams{
		Direction:         domain.DirectionForward,
		LegRole:           domain.LegRoleLPIn,
		PeerURL:           "https://lp-out.example",
		PeerM1Pubkey:      strings.Repeat("b", 66),
		FromAmount:        500_000,
		ToAmount:          400_000,
		HUser:             encodeHash32(hUser),
		HLp1:              encodeHash32(hLp1),
		HLp2:              encodeHash32(hLp2),
		UserRefundAddress: "03" + strings.Repeat("a", 64),
		UserPayoutAddress: "02" + strings.Repeat("b", 64),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingBTC, swap.State)

	require.NoError(t, eng.Dispatch(ctx, ports.ChainEvent{
		SwapID: swap.SwapID, Leg: domain.LegBTC, Kind: ports.EventTxConfirmed,
		TxID: "btc-fund-tx", Confirmations: 1, EvidenceHash: "btc-fund-evidence",
	}))

	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, domain.StatePeerUnreachable, swap.State)
	require.True(t, swap.BTCLeg.Funded)
	require.NotNil(t, swap.M1Leg)
	require.NotEmpty(t, swap.M1Leg.FundTxID)

	client := eng.clients[domain.LegM1].(*scenarioChainClient)
	require.Equal(t, 1, client.calls)

	require.NoError(t, eng.Dispatch(ctx, ports.ChainEvent{
		SwapID: swap.SwapID, Leg: domain.LegBTC, Kind: ports.EventTxConfirmed,
		TxID: "btc-fund-tx", Confirmations: 2, EvidenceHash: "btc-fund-evidence-2",
	}))
	swap, err = repo.Get(swap.SwapID)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls, "a repeated confirmation tick must not re-broadcast the M1 HTLC")
}
