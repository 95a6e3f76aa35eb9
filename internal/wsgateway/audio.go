package wsgateway

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

// audioHeaderSize is the fixed 28-byte little-endian binary chunk header:
// u64 timestamp_ns, u32 sample_rate, u32 channels, u32 bit_depth,
// u32 source_id_len, u32 source_name_len.
const audioHeaderSize = 28

var validBitDepths = map[uint32]bool{8: true, 16: true, 24: true, 32: true}

// AudioChunk is one validated audio frame, decoded from either the binary
// wire format or its JSON alternate form.
type AudioChunk struct {
	TimestampNS time.Time
	SampleRate  uint32
	Channels    uint32
	BitDepth    uint32
	SourceID    string
	SourceName  string
	Data        []byte
}

// AudioHandler accepts a per-connection stream of audio chunks, validating
// and rate-limiting each before republishing a lightweight envelope onto
// events:audio (the raw bytes themselves are not republished over Redis;
// only chunk metadata is, matching the bus's role as a control/event plane).
type AudioHandler struct {
	bus               bus.Bus
	log               *zap.Logger
	maxStringLength   int
	maxDataSize       int
	rateLimitPerSec   int
}

func NewAudioHandler(b bus.Bus, maxStringLength, maxDataSize, rateLimitPerSec int, log *zap.Logger) *AudioHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if maxStringLength <= 0 {
		maxStringLength = 256
	}
	if maxDataSize <= 0 {
		maxDataSize = 1 << 20
	}
	if rateLimitPerSec <= 0 {
		rateLimitPerSec = 100
	}
	return &AudioHandler{
		bus: b, log: log.With(zap.String("module", "wsgateway.audio")),
		maxStringLength: maxStringLength, maxDataSize: maxDataSize, rateLimitPerSec: rateLimitPerSec,
	}
}

func (h *AudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	windowStart := time.Now()
	windowCount := 0

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			windowCount = 0
		}
		windowCount++
		if windowCount > h.rateLimitPerSec {
			h.log.Warn("audio chunk dropped: rate limit exceeded")
			continue
		}

		var chunk AudioChunk
		switch msgType {
		case websocket.BinaryMessage:
			chunk, err = h.decodeBinary(data)
		case websocket.TextMessage:
			chunk, err = h.decodeJSON(data)
		default:
			continue
		}
		if err != nil {
			h.log.Warn("dropping invalid audio frame", zap.Error(err))
			continue
		}

		h.publish(ctx, chunk)
	}
}

func (h *AudioHandler) decodeBinary(data []byte) (AudioChunk, error) {
	if len(data) < audioHeaderSize {
		return AudioChunk{}, fmt.Errorf("truncated audio header: %d bytes", len(data))
	}
	tsNS := binary.LittleEndian.Uint64(data[0:8])
	sampleRate := binary.LittleEndian.Uint32(data[8:12])
	channels := binary.LittleEndian.Uint32(data[12:16])
	bitDepth := binary.LittleEndian.Uint32(data[16:20])
	sourceIDLen := binary.LittleEndian.Uint32(data[20:24])
	sourceNameLen := binary.LittleEndian.Uint32(data[24:28])

	if err := h.validateFields(sampleRate, channels, bitDepth, int(sourceIDLen), int(sourceNameLen)); err != nil {
		return AudioChunk{}, err
	}

	rest := data[audioHeaderSize:]
	if len(rest) < int(sourceIDLen)+int(sourceNameLen) {
		return AudioChunk{}, fmt.Errorf("truncated audio frame: expected %d string bytes, got %d", sourceIDLen+sourceNameLen, len(rest))
	}
	sourceID := string(rest[:sourceIDLen])
	rest = rest[sourceIDLen:]
	sourceName := string(rest[:sourceNameLen])
	audioData := rest[sourceNameLen:]

	if len(audioData) > h.maxDataSize {
		return AudioChunk{}, fmt.Errorf("audio payload %d bytes exceeds max %d", len(audioData), h.maxDataSize)
	}

	return AudioChunk{
		TimestampNS: time.Unix(0, int64(tsNS)).UTC(),
		SampleRate:  sampleRate,
		Channels:    channels,
		BitDepth:    bitDepth,
		SourceID:    sourceID,
		SourceName:  sourceName,
		Data:        audioData,
	}, nil
}

type audioJSONFrame struct {
	TimestampNS int64  `json:"timestamp_ns"`
	SampleRate  uint32 `json:"sample_rate"`
	Channels    uint32 `json:"channels"`
	BitDepth    uint32 `json:"bit_depth"`
	SourceID    string `json:"source_id"`
	SourceName  string `json:"source_name"`
	Data        []byte `json:"data"` // base64 via encoding/json
}

func (h *AudioHandler) decodeJSON(data []byte) (AudioChunk, error) {
	var f audioJSONFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return AudioChunk{}, fmt.Errorf("decode json audio frame: %w", err)
	}
	if err := h.validateFields(f.SampleRate, f.Channels, f.BitDepth, len(f.SourceID), len(f.SourceName)); err != nil {
		return AudioChunk{}, err
	}
	if len(f.Data) > h.maxDataSize {
		return AudioChunk{}, fmt.Errorf("audio payload %d bytes exceeds max %d", len(f.Data), h.maxDataSize)
	}
	ts := time.Now().UTC()
	if f.TimestampNS > 0 {
		ts = time.Unix(0, f.TimestampNS).UTC()
	}
	return AudioChunk{
		TimestampNS: ts, SampleRate: f.SampleRate, Channels: f.Channels, BitDepth: f.BitDepth,
		SourceID: f.SourceID, SourceName: f.SourceName, Data: f.Data,
	}, nil
}

func (h *AudioHandler) validateFields(sampleRate, channels, bitDepth uint32, sourceIDLen, sourceNameLen int) error {
	if sampleRate < 8000 || sampleRate > 192000 {
		return fmt.Errorf("sample_rate %d out of range [8000, 192000]", sampleRate)
	}
	if channels < 1 || channels > 8 {
		return fmt.Errorf("channels %d out of range [1, 8]", channels)
	}
	if !validBitDepths[bitDepth] {
		return fmt.Errorf("bit_depth %d not one of 8/16/24/32", bitDepth)
	}
	if sourceIDLen > h.maxStringLength || sourceNameLen > h.maxStringLength {
		return fmt.Errorf("source string exceeds max length %d", h.maxStringLength)
	}
	return nil
}

// publish republishes chunk metadata (not the raw bytes) so overlay/metrics
// consumers can observe channel activity without the bus carrying audio
// payloads.
func (h *AudioHandler) publish(ctx context.Context, chunk AudioChunk) {
	payload, err := json.Marshal(map[string]interface{}{
		"source_id":   chunk.SourceID,
		"source_name": chunk.SourceName,
		"sample_rate": chunk.SampleRate,
		"channels":    chunk.Channels,
		"bit_depth":   chunk.BitDepth,
		"bytes":       len(chunk.Data),
	})
	if err != nil {
		return
	}
	env := bus.Envelope{EventType: "audio.chunk.received", Source: "audio", Timestamp: chunk.TimestampNS, Payload: payload}
	if err := h.bus.Publish(ctx, bus.ChannelAudio, env); err != nil {
		h.log.Warn("publish audio chunk event failed", zap.Error(err))
	}
}
