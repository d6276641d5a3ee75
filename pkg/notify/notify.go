// Package notify implements the outbound HTTP client to a peer LP's
// FlowSwap endpoints: net/http with small JSON request helpers, and
// github.com/cenkalti/backoff/v4 driving the exponential retry instead of
// a hand-rolled loop.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/chainerr"
)

// MaxAttempts and the backoff bounds: exponential backoff 1s -> 60s cap,
// 10 attempts, then park the swap peer_unreachable.
const (
	MaxAttempts    = 10
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 60 * time.Second
)

// Client is an HTTP client to a peer LP's FlowSwap HTTP surface.
type Client struct {
	http *http.Client
	log  *logrus.Entry
}

// New returns a Client with a sane request timeout.
func New() *Client {
	return &Client{
		http: &http.Client{Timeout: 10 * time.Second},
		log:  logrus.WithField("component", "notify"),
	}
}

var _ ports.Notifier = (*Client)(nil)

// NotifyM1Locked POSTs /api/flowswap/{id}/m1-locked to the peer.
func (c *Client) NotifyM1Locked(ctx context.Context, peerURL, swapID string, payload ports.M1LockedPayload) error {
	return c.postWithRetry(ctx, fmt.Sprintf("%s/api/flowswap/%s/m1-locked", peerURL, swapID), payload)
}

// NotifyBTCClaimed POSTs /api/flowswap/{id}/btc-claimed to the peer.
func (c *Client) NotifyBTCClaimed(ctx context.Context, peerURL, swapID string, payload ports.BTCClaimedPayload) error {
	return c.postWithRetry(ctx, fmt.Sprintf("%s/api/flowswap/%s/btc-claimed", peerURL, swapID), payload)
}

// postWithRetry sends a JSON POST with exponential backoff, classifying
// the final failure as chainerr.PeerUnreachable once the retry budget is
// exhausted.
func (c *Client) postWithRetry(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return chainerr.New(chainerr.InvariantViolation, "notify.postWithRetry", fmt.Errorf("marshaling payload: %w", err))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = InitialBackoff
	b.MaxInterval = MaxBackoff
	b.Multiplier = 2
	bctx := backoff.WithContext(backoff.WithMaxRetries(b, MaxAttempts-1), ctx)

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.WithField("url", url).WithField("attempt", attempt).WithError(err).Warn("peer notify failed, retrying")
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("peer returned %d: %s", resp.StatusCode, string(respBody))
		}
		if resp.StatusCode >= 400 {
			respBody, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("peer rejected notify with %d: %s", resp.StatusCode, string(respBody)))
		}
		return nil
	}

	if err := backoff.Retry(op, bctx); err != nil {
		return chainerr.New(chainerr.PeerUnreachable, "notify.postWithRetry", fmt.Errorf("after %d attempts to %s: %w", attempt, url, err))
	}
	return nil
}
