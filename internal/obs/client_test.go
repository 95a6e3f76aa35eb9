package obs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthStringIsDeterministic(t *testing.T) {
	a := authString("hunter2", "saltvalue", "challengevalue")
	b := authString("hunter2", "saltvalue", "challengevalue")
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestAuthStringChangesWithPassword(t *testing.T) {
	a := authString("hunter2", "salt", "challenge")
	b := authString("different", "salt", "challenge")
	assert.NotEqual(t, a, b)
}

func TestTranslateEventTypeKnownEvents(t *testing.T) {
	assert.Equal(t, "obs.scene.changed", translateEventType("CurrentProgramSceneChanged"))
	assert.Equal(t, "obs.recording.changed", translateEventType("RecordStateChanged"))
	assert.Equal(t, "obs.streaming.changed", translateEventType("StreamStateChanged"))
	assert.Equal(t, "obs.input.muted", translateEventType("InputMuteStateChanged"))
}

func TestTranslateEventTypeUnknownIsEmpty(t *testing.T) {
	assert.Empty(t, translateEventType("SomeUnhandledEvent"))
}
