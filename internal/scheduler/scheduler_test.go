package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecideAdActionFiresAtOrPastZero(t *testing.T) {
	assert.Equal(t, adActionFire, decideAdAction(0, false))
	assert.Equal(t, adActionFire, decideAdAction(-5*time.Second, true))
}

func TestDecideAdActionOpensWarningWindow(t *testing.T) {
	assert.Equal(t, adActionOpenWarning, decideAdAction(45*time.Second, false))
	assert.Equal(t, adActionOpenWarning, decideAdAction(warningWindow, false))
}

func TestDecideAdActionDoesNotReopenActiveWarning(t *testing.T) {
	assert.Equal(t, adActionCheckpoint, decideAdAction(45*time.Second, true))
}

func TestDecideAdActionNoneOutsideWindow(t *testing.T) {
	assert.Equal(t, adActionNone, decideAdAction(10*time.Minute, false))
}

func TestMatchCheckpointHitsExactSeconds(t *testing.T) {
	for _, cp := range warningCheckpoints {
		got, ok := matchCheckpoint(time.Duration(cp) * time.Second)
		assert.True(t, ok)
		assert.Equal(t, cp, got)
	}
}

func TestMatchCheckpointMissesOffSeconds(t *testing.T) {
	_, ok := matchCheckpoint(47 * time.Second)
	assert.False(t, ok)
}
