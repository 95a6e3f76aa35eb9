package ironmon

import (
	"bufio"
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrameParsesLengthPrefixedMessage(t *testing.T) {
	payload := []byte(`{"type":"heartbeat"}`)
	frame := fmt.Sprintf("%d %s", len(payload), payload)
	r := bufio.NewReader(bytes.NewReader([]byte(frame)))

	got, err := readFrame(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsNonNumericLength(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("abc {}")))
	_, err := readFrame(r)
	assert.Error(t, err)
}

func TestProcessIgnoresHeartbeat(t *testing.T) {
	s := &Server{}
	// process() with no kv/bus wired must not panic on a heartbeat, which
	// short-circuits before touching either.
	assert.NotPanics(t, func() {
		s.process(nil, message{Type: "heartbeat"})
	})
}

// Runs the slot-padding loop handleTeamUpdate uses inline; handleTeamUpdate
// itself is not called here because it needs kv and bus wired.
func TestTeamSlotPaddingLoopExpandsSlots(t *testing.T) {
	s := &Server{}
	assert.NotPanics(t, func() {
		s.state.Team = nil
	})
	idx := 2
	for len(s.state.Team) <= idx {
		s.state.Team = append(s.state.Team, nil)
	}
	assert.Len(t, s.state.Team, 3)
}
