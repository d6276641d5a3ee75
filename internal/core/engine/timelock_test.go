package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
)

type fakeChainClient struct {
	tip ports.BlockRef
}

func (f *fakeChainClient) Tip(ctx context.Context) (ports.BlockRef, error) { return f.tip, nil }
func (f *fakeChainClient) BroadcastTx(ctx context.Context, raw []byte) (string, error) {
	return "", nil
}
func (f *fakeChainClient) FeeEstimate(ctx context.Context) (int64, error) { return 1, nil }
func (f *fakeChainClient) TxConfirmations(ctx context.Context, txID string) (int64, error) {
	return 0, nil
}
func (f *fakeChainClient) RawTx(ctx context.Context, txID string) ([]byte, error) { return nil, nil }
func (f *fakeChainClient) BlockTxs(ctx context.Context, height int64) (string, [][]byte, error) {
	return "", nil, nil
}

func testEngine(t *testing.T, btcTip int64) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Now = func() int64 { return 10_000 }
	clients := map[domain.LegKind]ports.ChainClient{
		domain.LegBTC: &fakeChainClient{tip: ports.BlockRef{Height: btcTip}},
		domain.LegM1:  &fakeChainClient{tip: ports.BlockRef{Height: btcTip}},
	}
	return New(nil, nil, nil, nil, nil, clients, nil, cfg, nil)
}

func TestRemainingSecondsEVMUsesWallClock(t *testing.T) {
	e := testEngine(t, 1000)
	leg := &domain.Leg{Kind: domain.LegEVM, Timelock: 10_600}
	remaining, err := e.remainingSeconds(context.Background(), leg)
	require.NoError(t, err)
	require.Equal(t, int64(600), remaining)
}

func TestRemainingSecondsBTCUsesTipHeight(t *testing.T) {
	e := testEngine(t, 1000)
	leg := &domain.Leg{Kind: domain.LegBTC, Timelock: 1010}
	remaining, err := e.remainingSeconds(context.Background(), leg)
	require.NoError(t, err)
	require.Equal(t, int64(10*avgBlockSeconds), remaining)
}

func TestDeadlineFromNowEVM(t *testing.T) {
	e := testEngine(t, 1000)
	deadline, err := e.deadlineFromNow(context.Background(), domain.LegEVM, 3600)
	require.NoError(t, err)
	require.Equal(t, int64(10_000+3600), deadline)
}

func TestDeadlineFromNowBTC(t *testing.T) {
	e := testEngine(t, 1000)
	deadline, err := e.deadlineFromNow(context.Background(), domain.LegBTC, 6*avgBlockSeconds)
	require.NoError(t, err)
	require.Equal(t, int64(1006), deadline)
}

func TestMarginSecondsPerLeg(t *testing.T) {
	e := testEngine(t, 1000)
	require.Equal(t, e.cfg.SafetyMarginBTC*avgBlockSeconds, e.marginSeconds(domain.LegBTC))
	require.Equal(t, e.cfg.SafetyMarginM1*avgBlockSeconds, e.marginSeconds(domain.LegM1))
	require.Equal(t, e.cfg.SafetyMarginEVM, e.marginSeconds(domain.LegEVM))
}

func TestNextLegTimelockAppliesSafetyMargin(t *testing.T) {
	e := testEngine(t, 1000)
	fromLeg := &domain.Leg{Kind: domain.LegBTC, Timelock: 1000 + 1000}

	deadline, err := e.nextLegTimelock(context.Background(), fromLeg, domain.LegEVM)
	require.NoError(t, err)

	wantBudget := 1000*avgBlockSeconds - e.marginSeconds(domain.LegBTC)
	require.Equal(t, int64(10_000)+wantBudget, deadline)
}

func TestNextLegTimelockFailsWhenNoMarginLeft(t *testing.T) {
	e := testEngine(t, 1000)
	fromLeg := &domain.Leg{Kind: domain.LegBTC, Timelock: 1001} // one block out, margin of 144 blocks won't fit

	_, err := e.nextLegTimelock(context.Background(), fromLeg, domain.LegEVM)
	require.Error(t, err)
}

func TestRequiredBTCConfirmsTiers(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, int64(1), cfg.RequiredBTCConfirms(500_000))
	require.Equal(t, int64(2), cfg.RequiredBTCConfirms(5_000_000))
	require.Equal(t, int64(3), cfg.RequiredBTCConfirms(50_000_000))
	require.Equal(t, int64(6), cfg.RequiredBTCConfirms(100_000_000))
}
