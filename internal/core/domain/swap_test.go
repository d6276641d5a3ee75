package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSwapIDIsPrefixedAndUnique(t *testing.T) {
	id1, err := NewSwapID()
	require.NoError(t, err)
	require.Regexp(t, `^fs_[0-9a-f]{32}$`, id1)

	id2, err := NewSwapID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestIsTerminal(t *testing.T) {
	terminal := []State{StateCompleted, StateRefunded, StateFailed}
	for _, s := range terminal {
		require.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}

	nonTerminal := []State{StateInit, StateAwaitingBTC, StateM1Locked, StatePeerUnreachable}
	for _, s := range nonTerminal {
		require.False(t, s.IsTerminal(), "expected %s to be non-terminal", s)
	}
}

func TestLegFor(t *testing.T) {
	s := &Swap{
		BTCLeg: &Leg{Kind: LegBTC, Amount: 1},
		M1Leg:  &Leg{Kind: LegM1, Amount: 2},
	}
	require.Equal(t, s.BTCLeg, s.LegFor(LegBTC))
	require.Equal(t, s.M1Leg, s.LegFor(LegM1))
	require.Nil(t, s.LegFor(LegEVM))
}

func TestAppendEventUpdatesTimestamp(t *testing.T) {
	s := &Swap{State: StateInit}
	s.AppendEvent(1000, "created")
	require.Len(t, s.Timeline, 1)
	require.Equal(t, int64(1000), s.Timeline[0].Timestamp)
	require.Equal(t, StateInit, s.Timeline[0].State)
	require.Equal(t, int64(1000), s.UpdatedAt)
}

func TestTransitionStampsTerminalAt(t *testing.T) {
	s := &Swap{State: StateM1Locked}
	s.Transition(2000, StateCompleted, "claimed")

	require.Equal(t, StateCompleted, s.State)
	require.NotNil(t, s.TerminalAt)
	require.Equal(t, int64(2000), *s.TerminalAt)
	require.Len(t, s.Timeline, 1)
}

func TestTransitionNonTerminalLeavesTerminalAtNil(t *testing.T) {
	s := &Swap{State: StateInit}
	s.Transition(1000, StateAwaitingBTC, "initiated")
	require.Nil(t, s.TerminalAt)
}

func TestReservedTotalSumsByAsset(t *testing.T) {
	s := &Swap{
		Reservations: []Reservation{
			{Asset: AssetBTC, Amount: 10, SwapID: "fs_1"},
			{Asset: AssetBTC, Amount: 5, SwapID: "fs_1"},
			{Asset: AssetUSDC, Amount: 100, SwapID: "fs_1"},
		},
	}
	require.Equal(t, int64(15), s.ReservedTotal(AssetBTC))
	require.Equal(t, int64(100), s.ReservedTotal(AssetUSDC))
	require.Equal(t, int64(0), s.ReservedTotal(AssetM1))
}
