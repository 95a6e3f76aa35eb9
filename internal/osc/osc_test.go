package osc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pad(s string) []byte {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// encodeFloatMessage builds a minimal OSC packet with one float32 argument,
// matching the wire shape the mixer sends for /1/muteN and /1/volumeN.
func encodeFloatMessage(address string, value float32) []byte {
	out := pad(address)
	out = append(out, pad(",f")...)

	u := math.Float32bits(value)
	out = append(out, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	return out
}

func TestDecodeMuteMessage(t *testing.T) {
	packet := encodeFloatMessage("/1/mute3", 1.0)
	msg, err := Decode(packet)
	require.NoError(t, err)
	assert.Equal(t, "/1/mute3", msg.Address)
	require.Len(t, msg.Args, 1)
	assert.Equal(t, float32(1.0), msg.Args[0])
}

func TestDecodeRejectsUnterminatedString(t *testing.T) {
	_, err := Decode([]byte("/1/mute3"))
	assert.Error(t, err)
}

func TestDecodeRejectsMissingTypeTagComma(t *testing.T) {
	packet := append(pad("/1/mute3"), pad("f")...)
	_, err := Decode(packet)
	assert.Error(t, err)
}

func TestMuteAndVolumeAddressPatterns(t *testing.T) {
	assert.True(t, muteAddr.MatchString("/1/mute12"))
	assert.True(t, volumeAddr.MatchString("/1/volume2"))
	assert.False(t, muteAddr.MatchString("/1/volume2"))
}
