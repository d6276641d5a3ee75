package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/chainerr"
)

func TestNotifyM1LockedSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New()
	err := c.NotifyM1Locked(context.Background(), srv.URL, "fs_1", ports.M1LockedPayload{
		Outpoint:     "abc:0",
		AmountSats:   1000,
		ExpiryHeight: 100,
	})
	require.NoError(t, err)
	require.Equal(t, "/api/flowswap/fs_1/m1-locked", gotPath)
}

func TestNotifyBTCClaimedPermanentRejectionStopsImmediately(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New()
	err := c.NotifyBTCClaimed(context.Background(), srv.URL, "fs_1", ports.BTCClaimedPayload{
		ClaimTxID: "tx1",
		SUser:     "s1",
		SLp1:      "s2",
		SLp2:      "s3",
	})
	require.Error(t, err)
	require.True(t, chainerr.Is(err, chainerr.PeerUnreachable))
	require.Equal(t, 1, calls)
}
