package config_test

import (
	"fmt"
	"testing"

	cfg "github.com/flowswap/lp-node/internal/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// TestSpecMatchesViperDefaults checks EnvSpecs' defaults against the table
// below, which restates the Config struct's envDefault tags by hand (the
// tags themselves are not read), and checks that each of those defaults
// reads back from viper as the same string.
func TestSpecMatchesViperDefaults(t *testing.T) {
	v := viper.New()
	v.AutomaticEnv()

	defaults := map[string]string{
		"LP_NAME":                         "flowswap-lp",
		"PORT":                            "8080",
		"BTC_NETWORK":                     "regtest",
		"LOG_LEVEL":                       "info",
		"EVM_CHAIN_ID":                    "1337",
		"POLL_INTERVAL_BTC_SECONDS":       "10",
		"POLL_INTERVAL_M1_SECONDS":        "10",
		"POLL_INTERVAL_EVM_SECONDS":       "5",
		"REORG_DEPTH_BTC":                 "12",
		"REORG_DEPTH_M1":                  "24",
		"REORG_DEPTH_EVM":                 "32",
		"SAFETY_MARGIN_BTC_BLOCKS":        "144",
		"SAFETY_MARGIN_M1_BLOCKS":         "144",
		"SAFETY_MARGIN_EVM_SECONDS":       "3600",
		"RATE_REFRESH_INTERVAL_SECONDS":   "30",
		"WALLET_REFRESH_INTERVAL_SECONDS": "60",
		"ARCHIVE_GRACE_HOURS":             "24",
		"AUTO_CLAIM":                      "true",
		"AUTO_REFUND":                     "true",
	}
	for k, dv := range defaults {
		v.SetDefault(k, dv)
	}

	specDefaults := map[string]string{}
	for _, s := range cfg.EnvSpecs() {
		if s.Default == "" {
			continue
		}
		specDefaults[s.Name] = s.Default
	}

	for k, want := range defaults {
		require.Equal(t, want, specDefaults[k], "EnvSpecs default for %s drifted from Config", k)
	}
	for k, want := range specDefaults {
		if _, ok := defaults[k]; !ok {
			continue
		}
		got := v.Get(k)
		require.Equal(t, want, coerce(got), "type mismatch for %s: viper=%T spec=%v", k, got, want)
	}
}

func coerce(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int, int8, int16, int32, int64:
		return fmt.Sprintf("%d", x)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32, float64:
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
