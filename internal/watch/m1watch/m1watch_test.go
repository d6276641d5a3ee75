package m1watch

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/htlc"
)

type fakeDispatcher struct {
	events []ports.ChainEvent
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, ev ports.ChainEvent) error {
	d.events = append(d.events, ev)
	return nil
}

type noopCodec struct{}

func (noopCodec) DeriveAddress(htlc.Params) (string, error)             { return "", nil }
func (noopCodec) BuildFundTx(htlc.Params, any) (htlc.UnsignedTx, error) { return nil, nil }
func (noopCodec) BuildClaimTx(htlc.Params, htlc.SecretSet, string) (htlc.UnsignedTx, error) {
	return nil, nil
}
func (noopCodec) BuildRefundTx(htlc.Params, string) (htlc.UnsignedTx, error) { return nil, nil }
func (noopCodec) ParseClaimWitness(htlc.Params, []byte) (htlc.SecretSet, error) {
	return htlc.SecretSet{}, nil
}
func (noopCodec) ParseFundEvidence(htlc.Params, []byte) (htlc.FundEvidence, error) {
	return htlc.FundEvidence{}, nil
}

func testWatcher() (*Watcher, *fakeDispatcher) {
	disp := &fakeDispatcher{}
	w := New(nil, noopCodec{}, disp, time.Second, 6, logrus.WithField("test", "m1watch"))
	return w, disp
}

func TestWatchLegAndUnwatchLeg(t *testing.T) {
	w, _ := testWatcher()
	leg := &domain.Leg{Kind: domain.LegM1}
	w.WatchLeg("fs_1", leg, htlc.Params{})
	require.Len(t, w.subs, 1)

	w.UnwatchLeg("fs_1", leg)
	require.Len(t, w.subs, 0)
}

func TestOnScanFailureDegradesAfterThreshold(t *testing.T) {
	w, _ := testWatcher()
	for i := 0; i < degradeAfter-1; i++ {
		w.onScanFailure(require.AnError)
		require.Equal(t, w.pollInterval, w.currentInterval())
	}
	w.onScanFailure(require.AnError)
	require.Equal(t, degradedInterval, w.currentInterval())
}

func TestOnScanSuccessResetsDegradedState(t *testing.T) {
	w, _ := testWatcher()
	for i := 0; i < degradeAfter; i++ {
		w.onScanFailure(require.AnError)
	}
	require.Equal(t, degradedInterval, w.currentInterval())

	w.onScanSuccess()
	require.Equal(t, w.pollInterval, w.currentInterval())
	require.Equal(t, 0, w.consecutiveFailures)
}

func TestCheckTimelocksDispatchesExpiredLeg(t *testing.T) {
	w, disp := testWatcher()
	leg := &domain.Leg{Kind: domain.LegM1, Timelock: 100}
	w.WatchLeg("fs_1", leg, htlc.Params{})

	w.checkTimelocks(context.Background(), 150)
	require.Len(t, disp.events, 1)
	require.Equal(t, ports.EventTimelockExpired, disp.events[0].Kind)
}

func TestReportReorgDispatchesToAllSubs(t *testing.T) {
	w, disp := testWatcher()
	w.WatchLeg("fs_1", &domain.Leg{Kind: domain.LegM1}, htlc.Params{})
	w.WatchLeg("fs_2", &domain.Leg{Kind: domain.LegM1}, htlc.Params{})

	w.reportReorg(context.Background(), 500)
	require.Len(t, disp.events, 2)
}
