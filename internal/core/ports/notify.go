package ports

import "context"

// M1LockedPayload is the body of the per-leg peer notification sent after
// LP_IN's M1 HTLC confirms.
type M1LockedPayload struct {
	Outpoint     string `json:"outpoint"`
	AmountSats   int64  `json:"amount_sats"`
	ExpiryHeight int64  `json:"expiry_height"`
}

// BTCClaimedPayload is the body of the per-leg peer notification sent after
// LP_OUT sweeps BTC, handing the revealed secrets back to LP_IN.
type BTCClaimedPayload struct {
	ClaimTxID string `json:"claim_txid"`
	SUser     string `json:"s_user"`
	SLp1      string `json:"s_lp1"`
	SLp2      string `json:"s_lp2"`
}

// Notifier is the outbound HTTP client to a peer LP's FlowSwap endpoints
//. Implemented by pkg/notify.
type Notifier interface {
	NotifyM1Locked(ctx context.Context, peerURL, swapID string, payload M1LockedPayload) error
	NotifyBTCClaimed(ctx context.Context, peerURL, swapID string, payload BTCClaimedPayload) error
}
