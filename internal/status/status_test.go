package status

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusJSONRoundTrip(t *testing.T) {
	st := Status{State: StateOnline, Message: "live now"}
	data, err := json.Marshal(st)
	assert.NoError(t, err)

	var out Status
	assert.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, st.State, out.State)
	assert.Equal(t, st.Message, out.Message)
}

func TestStatusDefaultsOmitEmptyMessage(t *testing.T) {
	data, _ := json.Marshal(Status{State: StateBusy})
	assert.NotContains(t, string(data), "message")
}
