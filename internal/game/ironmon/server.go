// Package ironmon implements the length-prefixed TCP ingest for the IronMON
// Connect game plugin: frames are "<decimal length> <json bytes>", persisted
// run state is restored from kv when Run starts and written back after every
// state-changing message (item_usage, error and heartbeat messages are not
// persisted), and messages turn into run-lifecycle envelopes on the bus.
package ironmon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/kv"
)

// games matches the IronMON Connect plugin's game id enumeration.
var games = map[int]string{1: "Ruby/Sapphire", 2: "Emerald", 3: "FireRed/LeafGreen"}

// State is the persisted run snapshot restored on process restart.
type State struct {
	Game               map[string]interface{} `json:"game"`
	Seed               map[string]interface{} `json:"seed"`
	Team               []interface{}          `json:"team"`
	Items              []interface{}          `json:"items"`
	Stats              map[string]interface{} `json:"stats"`
	LocationID         interface{}            `json:"location_id"`
	Battle             map[string]interface{} `json:"battle"`
	CheckpointsCleared []interface{}          `json:"checkpoints_cleared"`
}

type message struct {
	Type     string                 `json:"type"`
	Data     map[string]interface{} `json:"data"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Server accepts plugin connections on a TCP listener.
type Server struct {
	addr string
	kv   *kv.Store
	bus  bus.Bus
	log  *zap.Logger

	state State
}

func NewServer(addr string, kvStore *kv.Store, b bus.Bus, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{addr: addr, kv: kvStore, bus: b, log: log.With(zap.String("module", "ironmon"))}
}

// Run listens until ctx is cancelled, restoring persisted state first.
func (s *Server) Run(ctx context.Context) error {
	s.restoreState(ctx)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen ironmon tcp: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Warn("accept failed", zap.Error(err))
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) restoreState(ctx context.Context) {
	var st State
	if err := s.kv.Get(ctx, kv.KeyIronmonCurrentState, &st); err == nil {
		s.state = st
	}
}

func (s *Server) persistState(ctx context.Context) {
	if err := s.kv.Set(ctx, kv.KeyIronmonCurrentState, s.state, 0); err != nil {
		s.log.Warn("persist ironmon state failed", zap.Error(err))
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		raw, err := readFrame(r)
		if err != nil {
			return
		}
		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Warn("dropping malformed ironmon frame", zap.Error(err))
			continue
		}
		s.process(ctx, msg)
	}
}

// readFrame reads one "<length> <json>" frame: a decimal ASCII length, a
// single space, then exactly that many bytes.
func readFrame(r *bufio.Reader) ([]byte, error) {
	lengthStr, err := r.ReadString(' ')
	if err != nil {
		return nil, err
	}
	lengthStr = lengthStr[:len(lengthStr)-1]
	length, err := strconv.Atoi(lengthStr)
	if err != nil {
		return nil, fmt.Errorf("invalid frame length %q: %w", lengthStr, err)
	}

	buf := make([]byte, length)
	if _, err := readFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Server) process(ctx context.Context, msg message) {
	data := msg.Data
	if data == nil {
		data = msg.Metadata
	}
	if msg.Type == "" || msg.Type == "heartbeat" {
		return
	}
	if data == nil {
		s.log.Warn("ironmon message missing data/metadata", zap.String("type", msg.Type))
		return
	}

	switch msg.Type {
	case "init":
		s.handleInit(ctx, data)
	case "seed":
		s.handleSeed(ctx, data)
	case "checkpoint":
		s.handleCheckpoint(ctx, data)
	case "location":
		s.handleLocation(ctx, data)
	case "battle_started":
		s.handleBattleStarted(ctx, data)
	case "battle_ended":
		s.handleBattleEnded(ctx, data)
	case "team_update":
		s.handleTeamUpdate(ctx, data)
	case "item_usage":
		s.publish(ctx, "ironmon.item_usage", data)
	case "healing_summary":
		s.handleHealingSummary(ctx, data)
	case "error":
		s.publish(ctx, "ironmon.error", data)
	default:
		s.log.Warn("unknown ironmon message type", zap.String("type", msg.Type))
	}
}

func (s *Server) handleInit(ctx context.Context, data map[string]interface{}) {
	gameID, _ := data["game"].(float64)
	name := games[int(gameID)]
	s.state.Game = map[string]interface{}{"version": data["version"], "name": name, "id": data["game"]}
	s.persistState(ctx)
	s.publish(ctx, "ironmon.init", map[string]interface{}{"version": data["version"], "game": name, "game_id": data["game"]})
}

func (s *Server) handleSeed(ctx context.Context, data map[string]interface{}) {
	attempt := data["attempt"]
	if attempt == nil {
		attempt = data["count"]
	}
	s.state.Seed = map[string]interface{}{"id": attempt}
	s.state.Team = nil
	s.state.Items = nil
	s.state.Stats = map[string]interface{}{}
	s.state.LocationID = nil
	s.state.Battle = nil
	s.state.CheckpointsCleared = nil
	s.persistState(ctx)
	s.publish(ctx, "ironmon.seed", map[string]interface{}{"seed_id": attempt})
}

func (s *Server) handleCheckpoint(ctx context.Context, data map[string]interface{}) {
	name, _ := data["name"].(string)
	if name == "" {
		s.log.Warn("checkpoint message missing name")
		return
	}
	s.state.CheckpointsCleared = append(s.state.CheckpointsCleared, map[string]interface{}{"name": name})
	s.persistState(ctx)
	s.publish(ctx, "ironmon.checkpoint", map[string]interface{}{"checkpoint_name": name})
}

func (s *Server) handleLocation(ctx context.Context, data map[string]interface{}) {
	s.state.LocationID = data["mapId"]
	s.persistState(ctx)
	s.publish(ctx, "ironmon.location", map[string]interface{}{"location_id": data["mapId"], "location_name": data["name"]})
}

func (s *Server) handleBattleStarted(ctx context.Context, data map[string]interface{}) {
	s.state.Battle = map[string]interface{}{
		"active": true, "is_wild": data["isWild"], "trainer": data["trainer"], "opponent": data["opponent"],
	}
	s.persistState(ctx)
	s.publish(ctx, "ironmon.battle_start", map[string]interface{}{
		"is_wild": data["isWild"], "trainer": data["trainer"], "opponent": data["opponent"],
	})
}

func (s *Server) handleBattleEnded(ctx context.Context, data map[string]interface{}) {
	if s.state.Battle != nil {
		s.state.Battle["active"] = false
		s.state.Battle["player_won"] = data["playerWon"]
	}
	s.persistState(ctx)
	s.publish(ctx, "ironmon.battle_end", map[string]interface{}{"player_won": data["playerWon"], "duration": data["duration"]})
}

func (s *Server) handleTeamUpdate(ctx context.Context, data map[string]interface{}) {
	slot, _ := data["slot"].(float64)
	idx := int(slot) - 1
	if idx >= 0 && idx < 6 {
		for len(s.state.Team) <= idx {
			s.state.Team = append(s.state.Team, nil)
		}
		s.state.Team[idx] = data["pokemon"]
	}
	s.persistState(ctx)
	s.publish(ctx, "ironmon.team_update", map[string]interface{}{"slot": data["slot"], "pokemon": data["pokemon"]})
}

func (s *Server) handleHealingSummary(ctx context.Context, data map[string]interface{}) {
	if s.state.Stats == nil {
		s.state.Stats = map[string]interface{}{}
	}
	s.state.Stats["healing"] = map[string]interface{}{
		"total_healing": data["totalHealing"], "healing_percentage": data["healingPercentage"],
	}
	s.persistState(ctx)
	s.publish(ctx, "ironmon.healing_summary", map[string]interface{}{
		"total_healing": data["totalHealing"], "healing_percentage": data["healingPercentage"],
	})
}

func (s *Server) publish(ctx context.Context, eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	env := bus.Envelope{EventType: eventType, Source: "ironmon", Timestamp: time.Now().UTC(), Payload: payload}
	if err := s.bus.Publish(ctx, bus.ChannelGamesIronmon, env); err != nil {
		s.log.Warn("publish ironmon event failed", zap.Error(err))
	}
}
