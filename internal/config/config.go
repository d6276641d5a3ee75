// Package config loads the LP node's process configuration: identity,
// bind address, persisted-state path, chain-client endpoints, key
// directory, and the policy knobs (safety margins, confirmation tiers,
// pair table, refresh cadences) the engine treats as read-only at
// transition time.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/spf13/viper"

	"github.com/flowswap/lp-node/internal/core/engine"
)

// PairConfig is one entry of the LP's pair table: per-direction enable
// toggle, bid/ask spread in basis points, and min/max from_amount bounds.
type PairConfig struct {
	Direction string `mapstructure:"direction" json:"direction"`
	Enabled   bool   `mapstructure:"enabled" json:"enabled"`
	SpreadBps int64  `mapstructure:"spread_bps" json:"spread_bps"`
	MinAmount int64  `mapstructure:"min_amount" json:"min_amount"`
	MaxAmount int64  `mapstructure:"max_amount" json:"max_amount"`
}

// Config is the LP node's full process configuration.
type Config struct {
	LPID   string `mapstructure:"LP_ID" envDefault:"" envInfo:"Opaque identifier for this LP, stamped into the persisted store document"`
	LPName string `mapstructure:"LP_NAME" envDefault:"flowswap-lp" envInfo:"Human-readable LP name"`
	Port   uint32 `mapstructure:"PORT" envDefault:"8080" envInfo:"HTTP listen port for the collaborator API surface"`

	FlowswapDB string `mapstructure:"LP_FLOWSWAP_DB" envDefault:"" envInfo:"Path to the single-JSON-document swap store"`
	KeyDir     string `mapstructure:"LP_KEY_DIR" envDefault:"" envInfo:"Key directory (mode 700/600); formats are a collaborator out of scope"`

	LogLevel string `mapstructure:"LOG_LEVEL" envDefault:"info" envInfo:"Log verbosity: trace|debug|info|warn|error"`

	BTCRPCHost string `mapstructure:"BTC_RPC_HOST" envDefault:"" envInfo:"bitcoind/btcd RPC host:port"`
	BTCRPCUser string `mapstructure:"BTC_RPC_USER" envDefault:"" envInfo:"bitcoind/btcd RPC username"`
	BTCRPCPass string `mapstructure:"BTC_RPC_PASS" envDefault:"" envInfo:"bitcoind/btcd RPC password"`
	BTCNetwork string `mapstructure:"BTC_NETWORK" envDefault:"regtest" envInfo:"mainnet|testnet3|signet|regtest"`

	M1RPCHost string `mapstructure:"M1_RPC_HOST" envDefault:"" envInfo:"M1 chain daemon RPC host:port"`
	M1RPCUser string `mapstructure:"M1_RPC_USER" envDefault:"" envInfo:"M1 chain daemon RPC username"`
	M1RPCPass string `mapstructure:"M1_RPC_PASS" envDefault:"" envInfo:"M1 chain daemon RPC password"`
	M1Network string `mapstructure:"M1_NETWORK" envDefault:"regtest" envInfo:"M1's Bitcoin-style network tag: mainnet|testnet|signet|regtest"`

	EVMRPCURL      string `mapstructure:"EVM_RPC_URL" envDefault:"" envInfo:"EVM JSON-RPC endpoint"`
	EVMHTLCAddress string `mapstructure:"EVM_HTLC_ADDRESS" envDefault:"" envInfo:"Deployed HTLC3S contract address"`
	EVMUSDCAddress string `mapstructure:"EVM_USDC_ADDRESS" envDefault:"" envInfo:"USDC ERC-20 token contract address"`
	EVMChainID     int64  `mapstructure:"EVM_CHAIN_ID" envDefault:"1337" envInfo:"EVM chain id used to sign transactions"`

	PollIntervalBTCSeconds int64 `mapstructure:"POLL_INTERVAL_BTC_SECONDS" envDefault:"10" envInfo:"BTC watcher poll cadence"`
	PollIntervalM1Seconds  int64 `mapstructure:"POLL_INTERVAL_M1_SECONDS" envDefault:"10" envInfo:"M1 watcher poll cadence"`
	PollIntervalEVMSeconds int64 `mapstructure:"POLL_INTERVAL_EVM_SECONDS" envDefault:"5" envInfo:"EVM watcher poll cadence"`

	ReorgDepthBTC int64 `mapstructure:"REORG_DEPTH_BTC" envDefault:"12" envInfo:"Blocks a BTC watcher re-scans on restart"`
	ReorgDepthM1  int64 `mapstructure:"REORG_DEPTH_M1" envDefault:"24" envInfo:"Blocks an M1 watcher re-scans on restart"`
	ReorgDepthEVM int64 `mapstructure:"REORG_DEPTH_EVM" envDefault:"32" envInfo:"Blocks an EVM watcher re-scans on restart"`

	SafetyMarginBTCBlocks  int64 `mapstructure:"SAFETY_MARGIN_BTC_BLOCKS" envDefault:"144" envInfo:"Minimum BTC-leg timelock gap, in blocks"`
	SafetyMarginM1Blocks   int64 `mapstructure:"SAFETY_MARGIN_M1_BLOCKS" envDefault:"144" envInfo:"Minimum M1-leg timelock gap, in blocks"`
	SafetyMarginEVMSeconds int64 `mapstructure:"SAFETY_MARGIN_EVM_SECONDS" envDefault:"3600" envInfo:"Minimum EVM-leg timelock gap, in seconds"`

	RateRefreshIntervalSeconds   int64 `mapstructure:"RATE_REFRESH_INTERVAL_SECONDS" envDefault:"30" envInfo:"Price-feed refresh cadence (collaborator)"`
	WalletRefreshIntervalSeconds int64 `mapstructure:"WALLET_REFRESH_INTERVAL_SECONDS" envDefault:"60" envInfo:"Wallet balance refresh cadence"`
	ArchiveGraceHours            int64 `mapstructure:"ARCHIVE_GRACE_HOURS" envDefault:"24" envInfo:"Hours a terminal swap sits in the hot index before archival eligibility"`

	AutoClaim  bool `mapstructure:"AUTO_CLAIM" envDefault:"true" envInfo:"Read into Config.AutoClaim; the engine does not consult it and always claims once secrets are known"`
	AutoRefund bool `mapstructure:"AUTO_REFUND" envDefault:"true" envInfo:"Read into Config.AutoRefund; the engine does not consult it and always refunds expired legs the LP owns"`

	// PairsConfigFile, if set, is a JSON file of []PairConfig; absent, a
	// single enabled forward+reverse pair with 30bps spread is assumed.
	PairsConfigFile string `mapstructure:"LP_PAIRS_CONFIG" envDefault:"" envInfo:"Path to a JSON pair-table file; empty uses the built-in single-pair default"`

	Pairs []PairConfig `mapstructure:"-" json:"-"`
}

// DefaultPairs is the LP config's fallback pair table when no
// LP_PAIRS_CONFIG file is supplied: both directions enabled, 30bps spread,
// amounts bounded to 10,000..500,000,000.
func DefaultPairs() []PairConfig {
	return []PairConfig{
		{Direction: "forward", Enabled: true, SpreadBps: 30, MinAmount: 10_000, MaxAmount: 500_000_000},
		{Direction: "reverse", Enabled: true, SpreadBps: 30, MinAmount: 10_000, MaxAmount: 500_000_000},
	}
}

// LoadConfig reads the process environment (bare names, no prefix) into a
// Config, applying envDefault tags, then fills in derived state: the data
// directory for the store, and the pair table.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if err := setDefaultConfig(v); err != nil {
		return nil, fmt.Errorf("error setting default config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.FlowswapDB == "" {
		cfg.FlowswapDB = filepath.Join(".", "data", "flowswap-lp.json")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FlowswapDB), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	pairs, err := cfg.loadPairs()
	if err != nil {
		return nil, fmt.Errorf("loading pair config: %w", err)
	}
	cfg.Pairs = pairs

	return &cfg, nil
}

func (c *Config) loadPairs() ([]PairConfig, error) {
	if c.PairsConfigFile == "" {
		return DefaultPairs(), nil
	}
	raw, err := os.ReadFile(c.PairsConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.PairsConfigFile, err)
	}
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.PairsConfigFile, err)
	}
	var pairs []PairConfig
	if err := v.UnmarshalKey("pairs", &pairs); err != nil {
		return nil, fmt.Errorf("decoding pair table from %s: %w", c.PairsConfigFile, err)
	}
	if len(pairs) == 0 {
		return DefaultPairs(), nil
	}
	return pairs, nil
}

// EngineConfig translates the loaded process config into the engine's
// read-only policy knobs.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.SafetyMarginBTC = c.SafetyMarginBTCBlocks
	cfg.SafetyMarginM1 = c.SafetyMarginM1Blocks
	cfg.SafetyMarginEVM = c.SafetyMarginEVMSeconds
	return cfg
}

func setDefaultConfig(v *viper.Viper) error {
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if def := f.Tag.Get("envDefault"); def != "" {
			v.SetDefault(key, def)
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("error binding env variable for key %s: %w", key, err)
		}
	}
	return nil
}

//go:generate go run ../../tools/gen-env-doc/main.go
