package overlay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

func TestClassifyEnvelopeExtractsNoticeType(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"notice_type": "resub"})
	env := bus.Envelope{EventType: "channel.chat.notification", Payload: payload}
	frames := classifyEnvelope(env)
	assert.Contains(t, typesOf(frames), "timeline:append")
}

func TestClassifyEnvelopeExtractsFFBotType(t *testing.T) {
	payload, _ := json.Marshal(map[string]string{"player": "p1"})
	env := bus.Envelope{Source: "ffbot", EventType: "ffbot.save", Payload: payload}
	frames := classifyEnvelope(env)
	assert.Equal(t, []string{"ffbot:save"}, typesOf(frames))
}

func TestClassifyEnvelopeMalformedPayloadDropsSilently(t *testing.T) {
	env := bus.Envelope{EventType: "channel.chat.notification", Payload: json.RawMessage(`not json`)}
	assert.NotPanics(t, func() { classifyEnvelope(env) })
}
