package mnsync_test

import (
	"testing"
	"time"

	"github.com/cmwaters/mnpay/payments"
	"github.com/cmwaters/mnpay/pkg/mnsync"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStages(t *testing.T) {
	tracker := mnsync.New(time.Minute, zerolog.Nop())
	require.False(t, tracker.IsBlockchainSynced())

	require.Equal(t, mnsync.StageBlockchain, tracker.SwitchToNext())
	require.False(t, tracker.IsBlockchainSynced())

	require.Equal(t, mnsync.StageList, tracker.SwitchToNext())
	require.True(t, tracker.IsBlockchainSynced())
	require.False(t, tracker.IsMasternodeListSynced())

	require.Equal(t, mnsync.StageWinners, tracker.SwitchToNext())
	require.True(t, tracker.IsMasternodeListSynced())
	require.False(t, tracker.IsWinnersListSynced())
	require.False(t, tracker.IsSynced())

	require.Equal(t, mnsync.StageFinished, tracker.SwitchToNext())
	require.True(t, tracker.IsWinnersListSynced())
	require.True(t, tracker.IsSynced())

	// finished is terminal
	require.Equal(t, mnsync.StageFinished, tracker.SwitchToNext())

	tracker.Reset()
	require.Equal(t, mnsync.StageInitial, tracker.Stage())
}

func TestWinnersStageTimesOut(t *testing.T) {
	tracker := mnsync.New(time.Minute, zerolog.Nop())
	tracker.SetStage(mnsync.StageWinners)

	tracker.BumpAssetLastTime(payments.SyncAssetVotes)
	last, ok := tracker.AssetLastTime(payments.SyncAssetVotes)
	require.True(t, ok)

	require.Equal(t, mnsync.StageWinners, tracker.Tick(last.Add(30*time.Second)))
	require.Equal(t, mnsync.StageFinished, tracker.Tick(last.Add(2*time.Minute)))
	require.True(t, tracker.IsSynced())
}
