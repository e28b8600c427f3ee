package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotStartedWhenNoPriorSnapshotAndNothingPlaced(t *testing.T) {
	tr := New("alpha")
	result := tr.ProcessDiff(1000, 100, 100, 0, 0, false)
	assert.Equal(t, NotStarted, result.Status)
	assert.Equal(t, "alpha: Not started", tr.LastLogMessage)
}

func TestInProgressWithPriorSnapshotEvenAtZeroProgress(t *testing.T) {
	tr := New("alpha")
	result := tr.ProcessDiff(1000, 100, 100, 0, 0, true)
	assert.Equal(t, InProgress, result.Status)
}

func TestCompleteWhenNothingRemains(t *testing.T) {
	tr := New("alpha")
	result := tr.ProcessDiff(1000, 100, 0, 100, 0, true)
	assert.Equal(t, Complete, result.Status)
	assert.Equal(t, "alpha: Complete! 100 pixels total.", tr.LastLogMessage)
}

func TestMaxCompletionRatchetsDownwardOnly(t *testing.T) {
	tr := New("alpha")
	tr.ProcessDiff(1000, 100, 50, 10, 0, true)
	assert.Equal(t, 50, tr.MaxCompletionPixels)

	// Regress: remaining goes back up, ratchet must not move.
	tr.ProcessDiff(1010, 100, 60, 0, 10, true)
	assert.Equal(t, 50, tr.MaxCompletionPixels)

	// Improves past the old best.
	tr.ProcessDiff(1020, 100, 30, 30, 0, true)
	assert.Equal(t, 30, tr.MaxCompletionPixels)
}

func TestLargestRegressTracksWorstEvent(t *testing.T) {
	tr := New("alpha")
	tr.ProcessDiff(1000, 100, 60, 0, 5, true)
	assert.Equal(t, 5, tr.LargestRegressPixels)

	tr.ProcessDiff(1010, 100, 50, 0, 2, true)
	assert.Equal(t, 5, tr.LargestRegressPixels, "smaller regress must not overwrite the record")

	tr.ProcessDiff(1020, 100, 70, 0, 20, true)
	assert.Equal(t, 20, tr.LargestRegressPixels)
}

func TestChangeStreakSurvivesNochangeButResetsOnTypeSwitch(t *testing.T) {
	tr := New("alpha")
	tr.ProcessDiff(1000, 100, 90, 10, 0, true) // progress x1
	assert.Equal(t, StreakProgress, tr.ChangeStreakType)
	assert.Equal(t, 1, tr.ChangeStreakCount)

	tr.ProcessDiff(1010, 100, 90, 0, 0, true) // nochange, doesn't break change streak
	assert.Equal(t, StreakProgress, tr.ChangeStreakType)
	assert.Equal(t, 1, tr.NochangeStreak)

	tr.ProcessDiff(1020, 100, 80, 10, 0, true) // progress again
	assert.Equal(t, 2, tr.ChangeStreakCount)
	assert.Equal(t, 0, tr.NochangeStreak)

	tr.ProcessDiff(1030, 100, 85, 0, 5, true) // switches to regress
	assert.Equal(t, StreakRegress, tr.ChangeStreakType)
	assert.Equal(t, 1, tr.ChangeStreakCount)
}

func TestMixedStreakWhenBothProgressAndRegressOccur(t *testing.T) {
	tr := New("alpha")
	tr.ProcessDiff(1000, 100, 90, 8, 3, true)
	assert.Equal(t, StreakMixed, tr.ChangeStreakType)
}

func TestRateWindowOpensOnFirstChangeAndComputesNetRate(t *testing.T) {
	tr := New("alpha")
	tr.ProcessDiff(1000, 100, 90, 10, 0, true)
	assert.Equal(t, int64(1000), tr.RateWindowStart)

	tr.ProcessDiff(1000+3600, 100, 80, 10, 0, true)
	assert.InDelta(t, 10.0, tr.RecentRatePerHour, 0.001)
}

func TestRateWindowResetsAfter24Hours(t *testing.T) {
	tr := New("alpha")
	tr.ProcessDiff(1000, 100, 90, 10, 0, true)
	tr.ProcessDiff(1000+86401, 100, 85, 5, 0, true)
	assert.Equal(t, int64(1000+86401), tr.RateWindowStart)
	assert.Equal(t, 0.0, tr.RecentRatePerHour)
}

func TestStatusLineIncludesDeltaAndETA(t *testing.T) {
	tr := New("alpha")
	result := tr.ProcessDiff(1000, 100, 40, 5, 2, true)
	assert.Equal(t, 40, result.NumRemaining)
	assert.Contains(t, tr.LastLogMessage, "alpha:")
	assert.Contains(t, tr.LastLogMessage, "40px remaining")
	assert.Contains(t, tr.LastLogMessage, "[+5/-2]")
	assert.Contains(t, tr.LastLogMessage, "ETA:")
}

func TestStatusLineETAIsAnchoredToCheckedAtNotWallClock(t *testing.T) {
	// checkedAt is a fixed point far in the past; the ETA's "to" date must be
	// derived from it, not from time.Now(), so a replayed or backdated diff
	// always reports the same ETA.
	checkedAt := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	tr := New("alpha")
	tr.ProcessDiff(checkedAt, 100, 1, 99, 0, true)

	wantWhen := time.Unix(checkedAt, 0).UTC().Add(secondsPerPixel * time.Second).Format("Jan 02 15:04")
	assert.Contains(t, tr.LastLogMessage, "ETA: 0d0h to "+wantWhen)
}
