package campaign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddSecondsRespectsCap(t *testing.T) {
	assert.Equal(t, int64(100), AddSeconds(90, 50, 100))
	assert.Equal(t, int64(140), AddSeconds(90, 50, 0))
	assert.Equal(t, int64(0), AddSeconds(10, -50, 0))
}

func TestAddSecondsSequenceNeverExceedsCap(t *testing.T) {
	remaining := int64(0)
	deltas := []int64{30, 45, 60, 90, 120}
	for _, d := range deltas {
		remaining = AddSeconds(remaining, d, 200)
		assert.LessOrEqual(t, remaining, int64(200))
	}
}

func TestDisplayRemainingFreezesWhenPaused(t *testing.T) {
	now := time.Now()
	started := now.Add(-30 * time.Second)
	paused := now.Add(-10 * time.Second)
	assert.Equal(t, int64(120), DisplayRemaining(120, &started, &paused, now))
}

func TestDisplayRemainingCountsDownWhileRunning(t *testing.T) {
	now := time.Now()
	started := now.Add(-10 * time.Second)
	got := DisplayRemaining(120, &started, nil, now)
	assert.Equal(t, int64(110), got)
}

func TestDisplayRemainingNeverNegative(t *testing.T) {
	now := time.Now()
	started := now.Add(-1000 * time.Second)
	assert.Equal(t, int64(0), DisplayRemaining(10, &started, nil, now))
}
