package config

// EnvVar documents one environment variable this node reads, for the
// generated ops reference (see tools/gen-env-doc).
type EnvVar struct {
	Name        string // mapstructure key, e.g. "LP_ID"
	Type        string // human-readable type
	Default     string // default value as a string ("" if none)
	Description string // one-liner for docs
	Notes       string // optional: constraints, examples, etc.
}

// EnvSpecs enumerates every environment variable LoadConfig binds. Its
// defaults are checked by TestSpecMatchesViperDefaults against a table in
// that test that restates the Config struct's envDefault tags.
func EnvSpecs() []EnvVar {
	return []EnvVar{
		{Name: "LP_ID", Type: "string", Default: "", Description: "Opaque identifier for this LP, stamped into the persisted store document"},
		{Name: "LP_NAME", Type: "string", Default: "flowswap-lp", Description: "Human-readable LP name"},
		{Name: "PORT", Type: "uint32 (port)", Default: "8080", Description: "HTTP listen port for the collaborator API surface"},

		{Name: "LP_FLOWSWAP_DB", Type: "string (path)", Default: "", Description: "Path to the single-JSON-document swap store"},
		{Name: "LP_KEY_DIR", Type: "string (path)", Default: "", Description: "Key directory (mode 700/600); formats are a collaborator out of scope"},

		{Name: "LOG_LEVEL", Type: "string", Default: "info", Description: "Log verbosity: trace|debug|info|warn|error"},

		{Name: "BTC_RPC_HOST", Type: "string (host:port)", Default: "", Description: "bitcoind/btcd RPC host:port"},
		{Name: "BTC_RPC_USER", Type: "string", Default: "", Description: "bitcoind/btcd RPC username"},
		{Name: "BTC_RPC_PASS", Type: "string", Default: "", Description: "bitcoind/btcd RPC password"},
		{Name: "BTC_NETWORK", Type: "string", Default: "regtest", Description: "mainnet|testnet3|signet|regtest"},

		{Name: "M1_RPC_HOST", Type: "string (host:port)", Default: "", Description: "M1 chain daemon RPC host:port"},
		{Name: "M1_RPC_USER", Type: "string", Default: "", Description: "M1 chain daemon RPC username"},
		{Name: "M1_RPC_PASS", Type: "string", Default: "", Description: "M1 chain daemon RPC password"},
		{Name: "M1_NETWORK", Type: "string", Default: "regtest", Description: "M1's Bitcoin-style network tag: mainnet|testnet|signet|regtest"},

		{Name: "EVM_RPC_URL", Type: "string (URL)", Default: "", Description: "EVM JSON-RPC endpoint"},
		{Name: "EVM_HTLC_ADDRESS", Type: "string (0x address)", Default: "", Description: "Deployed HTLC3S contract address"},
		{Name: "EVM_USDC_ADDRESS", Type: "string (0x address)", Default: "", Description: "USDC ERC-20 token contract address"},
		{Name: "EVM_CHAIN_ID", Type: "int64", Default: "1337", Description: "EVM chain id used to sign transactions"},

		{Name: "POLL_INTERVAL_BTC_SECONDS", Type: "int64 (seconds)", Default: "10", Description: "BTC watcher poll cadence"},
		{Name: "POLL_INTERVAL_M1_SECONDS", Type: "int64 (seconds)", Default: "10", Description: "M1 watcher poll cadence"},
		{Name: "POLL_INTERVAL_EVM_SECONDS", Type: "int64 (seconds)", Default: "5", Description: "EVM watcher poll cadence"},

		{Name: "REORG_DEPTH_BTC", Type: "int64 (blocks)", Default: "12", Description: "Blocks a BTC watcher re-scans on restart"},
		{Name: "REORG_DEPTH_M1", Type: "int64 (blocks)", Default: "24", Description: "Blocks an M1 watcher re-scans on restart"},
		{Name: "REORG_DEPTH_EVM", Type: "int64 (blocks)", Default: "32", Description: "Blocks an EVM watcher re-scans on restart"},

		{Name: "SAFETY_MARGIN_BTC_BLOCKS", Type: "int64 (blocks)", Default: "144", Description: "Minimum BTC-leg timelock gap, in blocks"},
		{Name: "SAFETY_MARGIN_M1_BLOCKS", Type: "int64 (blocks)", Default: "144", Description: "Minimum M1-leg timelock gap, in blocks"},
		{Name: "SAFETY_MARGIN_EVM_SECONDS", Type: "int64 (seconds)", Default: "3600", Description: "Minimum EVM-leg timelock gap, in seconds"},

		{Name: "RATE_REFRESH_INTERVAL_SECONDS", Type: "int64 (seconds)", Default: "30", Description: "Price-feed refresh cadence (collaborator)"},
		{Name: "WALLET_REFRESH_INTERVAL_SECONDS", Type: "int64 (seconds)", Default: "60", Description: "Wallet balance refresh cadence"},
		{Name: "ARCHIVE_GRACE_HOURS", Type: "int64 (hours)", Default: "24", Description: "Hours a terminal swap sits in the hot index before archival eligibility"},

		{Name: "AUTO_CLAIM", Type: "bool", Default: "true", Description: "Read into Config.AutoClaim; the engine does not consult it and always claims once secrets are known"},
		{Name: "AUTO_REFUND", Type: "bool", Default: "true", Description: "Read into Config.AutoRefund; the engine does not consult it and always refunds expired legs the LP owns"},

		{Name: "LP_PAIRS_CONFIG", Type: "string (path)", Default: "", Description: "Path to a JSON pair-table file; empty uses the built-in single-pair default"},
	}
}

//go:generate go run ../../tools/gen-env-doc/main.go
