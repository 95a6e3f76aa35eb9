package eventsub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupCacheFirstSeenIsFalse(t *testing.T) {
	c := newDedupCache(10)
	assert.False(t, c.SeenOrRecord("evt-1"))
}

func TestDedupCacheRepeatIsTrue(t *testing.T) {
	c := newDedupCache(10)
	c.SeenOrRecord("evt-1")
	assert.True(t, c.SeenOrRecord("evt-1"))
}

func TestDedupCacheEvictsOldestHalfOnOverflow(t *testing.T) {
	c := newDedupCache(4)
	for i := 0; i < 4; i++ {
		c.SeenOrRecord(fmt.Sprintf("evt-%d", i))
	}
	// Capacity full; next insert evicts the oldest half (evt-0, evt-1).
	assert.False(t, c.SeenOrRecord("evt-4"))
	assert.False(t, c.SeenOrRecord("evt-0"), "evt-0 should have been evicted and is seen as new again")
}

func TestDedupCacheEmptyIDNeverDeduplicates(t *testing.T) {
	c := newDedupCache(10)
	assert.False(t, c.SeenOrRecord(""))
	assert.False(t, c.SeenOrRecord(""))
}
