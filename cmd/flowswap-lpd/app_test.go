package main

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

func TestParseBTCNetwork(t *testing.T) {
	cases := map[string]*chaincfg.Params{
		"mainnet":    &chaincfg.MainNetParams,
		"Bitcoin":    &chaincfg.MainNetParams,
		"testnet":    &chaincfg.TestNet3Params,
		"testnet3":   &chaincfg.TestNet3Params,
		"signet":     &chaincfg.SigNetParams,
		" SigNet  ":  &chaincfg.SigNetParams,
		"regtest":    &chaincfg.RegressionNetParams,
		"":           &chaincfg.RegressionNetParams,
		"not-a-net":  &chaincfg.RegressionNetParams,
	}
	for input, want := range cases {
		require.Same(t, want, parseBTCNetwork(input), "input=%q", input)
	}
}
