package wsgateway

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFrame(tsNS uint64, sampleRate, channels, bitDepth uint32, sourceID, sourceName string, data []byte) []byte {
	buf := make([]byte, audioHeaderSize+len(sourceID)+len(sourceName)+len(data))
	binary.LittleEndian.PutUint64(buf[0:8], tsNS)
	binary.LittleEndian.PutUint32(buf[8:12], sampleRate)
	binary.LittleEndian.PutUint32(buf[12:16], channels)
	binary.LittleEndian.PutUint32(buf[16:20], bitDepth)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(sourceID)))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(sourceName)))
	n := audioHeaderSize
	n += copy(buf[n:], sourceID)
	n += copy(buf[n:], sourceName)
	copy(buf[n:], data)
	return buf
}

func newTestAudioHandler() *AudioHandler {
	return NewAudioHandler(nil, 256, 1<<20, 100, nil)
}

func TestDecodeBinaryValid(t *testing.T) {
	h := newTestAudioHandler()
	frame := encodeFrame(1_700_000_000_000_000_000, 44100, 2, 16, "mic-1", "Studio Mic", []byte{1, 2, 3, 4})

	chunk, err := h.decodeBinary(frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), chunk.SampleRate)
	assert.Equal(t, uint32(2), chunk.Channels)
	assert.Equal(t, uint32(16), chunk.BitDepth)
	assert.Equal(t, "mic-1", chunk.SourceID)
	assert.Equal(t, "Studio Mic", chunk.SourceName)
	assert.Equal(t, []byte{1, 2, 3, 4}, chunk.Data)
}

func TestDecodeBinaryTruncatedHeader(t *testing.T) {
	h := newTestAudioHandler()
	_, err := h.decodeBinary([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecodeBinarySampleRateOutOfRange(t *testing.T) {
	h := newTestAudioHandler()
	frame := encodeFrame(0, 7999, 2, 16, "", "", nil)
	_, err := h.decodeBinary(frame)
	assert.Error(t, err)

	frame = encodeFrame(0, 192001, 2, 16, "", "", nil)
	_, err = h.decodeBinary(frame)
	assert.Error(t, err)
}

func TestDecodeBinaryChannelsOutOfRange(t *testing.T) {
	h := newTestAudioHandler()
	frame := encodeFrame(0, 44100, 0, 16, "", "", nil)
	_, err := h.decodeBinary(frame)
	assert.Error(t, err)

	frame = encodeFrame(0, 44100, 9, 16, "", "", nil)
	_, err = h.decodeBinary(frame)
	assert.Error(t, err)
}

func TestDecodeBinaryInvalidBitDepth(t *testing.T) {
	h := newTestAudioHandler()
	frame := encodeFrame(0, 44100, 2, 12, "", "", nil)
	_, err := h.decodeBinary(frame)
	assert.Error(t, err)
}

func TestDecodeBinaryDataTooLarge(t *testing.T) {
	h := NewAudioHandler(nil, 256, 4, 100, nil)
	frame := encodeFrame(0, 44100, 2, 16, "", "", []byte{1, 2, 3, 4, 5})
	_, err := h.decodeBinary(frame)
	assert.Error(t, err)
}

func TestDecodeBinaryStringTooLong(t *testing.T) {
	h := NewAudioHandler(nil, 4, 1<<20, 100, nil)
	frame := encodeFrame(0, 44100, 2, 16, "this-source-id-is-too-long", "", nil)
	_, err := h.decodeBinary(frame)
	assert.Error(t, err)
}

func TestDecodeJSONValid(t *testing.T) {
	h := newTestAudioHandler()
	raw := []byte(`{"sample_rate":48000,"channels":1,"bit_depth":24,"source_id":"a","source_name":"b","data":"AQIDBA=="}`)
	chunk, err := h.decodeJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), chunk.SampleRate)
	assert.Equal(t, []byte{1, 2, 3, 4}, chunk.Data)
}
