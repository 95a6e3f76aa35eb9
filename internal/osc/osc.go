// Package osc implements a minimal OSC 1.0 UDP listener: just enough of the
// protocol to decode the address pattern, type tag string, and arguments of
// one packet, and to translate the mixer's mute/volume controls onto the bus.
package osc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

// Message is one decoded OSC packet: an address pattern plus its arguments,
// already type-converted per the tag string.
type Message struct {
	Address string
	Args    []interface{}
}

var (
	muteAddr   = regexp.MustCompile(`^/1/mute(\d+)$`)
	volumeAddr = regexp.MustCompile(`^/1/volume(\d+)$`)
)

// Listener binds a UDP socket and translates mixer control messages onto the bus.
type Listener struct {
	conn *net.UDPConn
	bus  bus.Bus
	log  *zap.Logger

	mu    sync.Mutex
	mutes map[int]bool
	levels map[int]float32
}

func Listen(addr string, b bus.Bus, log *zap.Logger) (*Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve osc addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen osc udp: %w", err)
	}
	return &Listener{
		conn:   conn,
		bus:    b,
		log:    log.With(zap.String("module", "osc")),
		mutes:  make(map[int]bool),
		levels: make(map[int]float32),
	}, nil
}

// Run reads packets until ctx is cancelled. Malformed packets are dropped
// with a warning; the listener never stops serving because of one bad frame.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, 1500)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				l.log.Warn("osc read failed", zap.Error(err))
				continue
			}
		}
		msg, err := Decode(buf[:n])
		if err != nil {
			l.log.Warn("dropping malformed osc packet", zap.Error(err))
			continue
		}
		l.handle(ctx, msg)
	}
}

func (l *Listener) handle(ctx context.Context, msg Message) {
	var (
		eventType string
		channel   int
		payload   map[string]interface{}
	)

	switch {
	case muteAddr.MatchString(msg.Address):
		matches := muteAddr.FindStringSubmatch(msg.Address)
		channel, _ = strconv.Atoi(matches[1])
		eventType = "audio.mic.mute"
		muted := false
		if len(msg.Args) > 0 {
			if f, ok := msg.Args[0].(float32); ok {
				muted = f >= 0.5
			}
		}
		payload = map[string]interface{}{"channel": channel, "muted": muted}
		l.mu.Lock()
		l.mutes[channel] = muted
		l.mu.Unlock()
	case volumeAddr.MatchString(msg.Address):
		matches := volumeAddr.FindStringSubmatch(msg.Address)
		channel, _ = strconv.Atoi(matches[1])
		eventType = "audio.channels.update"
		var level float32
		if len(msg.Args) > 0 {
			if f, ok := msg.Args[0].(float32); ok {
				level = f
			}
		}
		payload = map[string]interface{}{"channel": channel, "level": level}
		l.mu.Lock()
		l.levels[channel] = level
		l.mu.Unlock()
	default:
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := bus.Envelope{EventType: eventType, Source: "osc", Timestamp: time.Now().UTC(), Payload: data}
	if err := l.bus.Publish(ctx, bus.ChannelAudio, env); err != nil {
		l.log.Warn("publish osc event failed", zap.Error(err))
	}
}

// SnapshotMutes implements the overlay's audio:rme-layer sync: the mute
// state of every channel observed so far, keyed by channel number.
func (l *Listener) SnapshotMutes() map[int]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]bool, len(l.mutes))
	for k, v := range l.mutes {
		out[k] = v
	}
	return out
}

// SnapshotLevels implements the overlay's audio:channels-layer sync: the
// last reported volume level of every channel observed so far.
func (l *Listener) SnapshotLevels() map[int]float32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]float32, len(l.levels))
	for k, v := range l.levels {
		out[k] = v
	}
	return out
}

// Decode parses one OSC 1.0 packet: a NUL-padded address pattern, a NUL-padded
// type tag string beginning with ',', then each argument in order, each
// NUL-padded to a 4-byte boundary.
func Decode(data []byte) (Message, error) {
	address, rest, err := readPaddedString(data)
	if err != nil {
		return Message{}, fmt.Errorf("read address: %w", err)
	}
	if len(address) == 0 || address[0] != '/' {
		return Message{}, fmt.Errorf("invalid address pattern %q", address)
	}

	tags, rest, err := readPaddedString(rest)
	if err != nil {
		return Message{}, fmt.Errorf("read type tags: %w", err)
	}
	if len(tags) == 0 || tags[0] != ',' {
		return Message{}, fmt.Errorf("invalid type tag string %q", tags)
	}

	msg := Message{Address: address}
	for _, tag := range tags[1:] {
		switch tag {
		case 'f':
			if len(rest) < 4 {
				return Message{}, fmt.Errorf("truncated float32 argument")
			}
			bits := uint32(rest[0])<<24 | uint32(rest[1])<<16 | uint32(rest[2])<<8 | uint32(rest[3])
			msg.Args = append(msg.Args, math.Float32frombits(bits))
			rest = rest[4:]
		case 'i':
			if len(rest) < 4 {
				return Message{}, fmt.Errorf("truncated int32 argument")
			}
			v := int32(rest[0])<<24 | int32(rest[1])<<16 | int32(rest[2])<<8 | int32(rest[3])
			msg.Args = append(msg.Args, v)
			rest = rest[4:]
		case 's':
			s, tail, err := readPaddedString(rest)
			if err != nil {
				return Message{}, fmt.Errorf("read string argument: %w", err)
			}
			msg.Args = append(msg.Args, s)
			rest = tail
		default:
			return Message{}, fmt.Errorf("unsupported type tag %q", tag)
		}
	}
	return msg, nil
}

func readPaddedString(data []byte) (string, []byte, error) {
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return "", nil, fmt.Errorf("unterminated string")
	}
	s := string(data[:end])
	padded := ((end / 4) + 1) * 4
	if padded > len(data) {
		return "", nil, fmt.Errorf("truncated padding")
	}
	return s, data[padded:], nil
}
