package wallet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/pkg/chainclient/btcclient"
	"github.com/flowswap/lp-node/pkg/chainclient/m1client"
)

func TestSelectUTXOsPicksFewestLargestFirst(t *testing.T) {
	utxos := []btcclient.UTXO{
		{Value: 10_000},
		{Value: 100_000},
		{Value: 50_000},
	}
	selected, err := selectUTXOs(utxos, 80_000, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, int64(100_000), selected[0].Value)
}

func TestSelectUTXOsAccumulatesAcrossMultiple(t *testing.T) {
	utxos := []btcclient.UTXO{
		{Value: 10_000},
		{Value: 20_000},
		{Value: 5_000},
	}
	selected, err := selectUTXOs(utxos, 25_000, 1)
	require.NoError(t, err)
	require.Len(t, selected, 2)
}

func TestSelectUTXOsInsufficientReturnsError(t *testing.T) {
	utxos := []btcclient.UTXO{{Value: 1_000}}
	_, err := selectUTXOs(utxos, 1_000_000, 1)
	require.Error(t, err)
}

func TestSelectM1UTXOsPicksFewestLargestFirst(t *testing.T) {
	utxos := []m1client.UTXO{
		{Value: 5_000},
		{Value: 60_000},
	}
	selected, err := selectM1UTXOs(utxos, 40_000, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	require.Equal(t, int64(60_000), selected[0].Value)
}

func TestSelectM1UTXOsInsufficientReturnsError(t *testing.T) {
	utxos := []m1client.UTXO{{Value: 100}}
	_, err := selectM1UTXOs(utxos, 1_000_000, 1)
	require.Error(t, err)
}
