package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitBreakKeys(t *testing.T) {
	assert.Equal(t, "limitbreak:count:reward-1", LimitBreakKey("reward-1"))
	assert.Equal(t, "limitbreak:count:reward-1:fallback", LimitBreakFallbackKey("reward-1"))
}

func TestReservedKeyNames(t *testing.T) {
	assert.Equal(t, "ads:warning_lock", KeyAdsWarningLock)
	assert.Equal(t, "eventsub:last_event_time", KeyEventSubLastEventTime)
	assert.Equal(t, "ironmon:current_state", KeyIronmonCurrentState)
}
