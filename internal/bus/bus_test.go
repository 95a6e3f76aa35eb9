package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := json.Marshal(map[string]any{"total_subs": 42})
	require.NoError(t, err)

	env := Envelope{
		EventType: "campaign.update",
		Source:    "campaign",
		Timestamp: time.Now().UTC().Truncate(time.Second),
		EventID:   "evt-1",
		Payload:   payload,
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, env.EventType, decoded.EventType)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, env.Timestamp.Unix(), decoded.Timestamp.Unix())
	assert.JSONEq(t, string(payload), string(decoded.Payload))
}

func TestEnvelopeDecodeMalformedIsRejected(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte("{not json"), &env)
	assert.Error(t, err)
}

func TestChannelNamesMatchTaxonomy(t *testing.T) {
	names := []string{
		ChannelTwitch, ChannelOBS, ChannelLimitBreak, ChannelMusic,
		ChannelStatus, ChannelChat, ChannelAudio, ChannelCampaign,
		ChannelAds, ChannelGamesFFBot, ChannelGamesIronmon,
	}
	seen := map[string]bool{}
	for _, n := range names {
		assert.False(t, seen[n], "duplicate channel name %s", n)
		seen[n] = true
		assert.Contains(t, n, "events")
	}
}
