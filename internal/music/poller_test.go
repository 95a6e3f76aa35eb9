package music

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTrackChanged(t *testing.T) {
	last := &NowPlaying{Station: "main", TrackID: "1"}
	np := &NowPlaying{Station: "main", TrackID: "2"}
	eventType, payload, next := transition(last, np)
	assert.Equal(t, "music.update", eventType)
	assert.Equal(t, np, payload)
	assert.Equal(t, np, next)
}

func TestTransitionStationChangedSameTrackID(t *testing.T) {
	last := &NowPlaying{Station: "main", TrackID: "1"}
	np := &NowPlaying{Station: "alt", TrackID: "1"}
	eventType, _, _ := transition(last, np)
	assert.Equal(t, "music.update", eventType)
}

func TestTransitionTunedOut(t *testing.T) {
	last := &NowPlaying{Station: "main", TrackID: "1"}
	eventType, payload, next := transition(last, nil)
	assert.Equal(t, "music.update", eventType)
	assert.Equal(t, map[string]interface{}{"playing": false, "station": "main"}, payload)
	assert.Nil(t, next)
}

func TestTransitionNoChangeIsSilent(t *testing.T) {
	last := &NowPlaying{Station: "main", TrackID: "1"}
	same := &NowPlaying{Station: "main", TrackID: "1"}
	eventType, _, next := transition(last, same)
	assert.Empty(t, eventType)
	assert.Equal(t, last, next)
}

func TestTransitionFromNilStaysNilWhenNoTrack(t *testing.T) {
	eventType, _, next := transition(nil, nil)
	assert.Empty(t, eventType)
	assert.Nil(t, next)
}
