package overlay

import (
	"context"
	"encoding/json"

	"github.com/bryanveloso/eventfabric/internal/campaign"
	"github.com/bryanveloso/eventfabric/internal/limitbreak"
	"github.com/bryanveloso/eventfabric/internal/music"
	"github.com/bryanveloso/eventfabric/internal/obs"
	"github.com/bryanveloso/eventfabric/internal/osc"
	"github.com/bryanveloso/eventfabric/internal/status"
	"github.com/bryanveloso/eventfabric/internal/store"
)

// CompositeSnapshotter implements overlay.Snapshotter by dispatching each
// layer to whichever subsystem owns its state. Every dependency is optional:
// a nil field yields an empty/null sync for that layer rather than an error,
// so a deployment can wire only the adapters it runs.
type CompositeSnapshotter struct {
	Store      *store.Queries
	Campaign   *campaign.Service
	OBS        *obs.Client
	OSC        *osc.Listener
	Music      *music.Poller
	Status     *status.Service
	LimitBreak *limitbreak.Service

	// TimelineLimit bounds the timeline-layer sync query; defaults to 20.
	TimelineLimit int
}

var emptyArray = json.RawMessage(`[]`)
var emptyObject = json.RawMessage(`{}`)
var nullValue = json.RawMessage(`null`)

func (s *CompositeSnapshotter) Snapshot(ctx context.Context, layer Layer) (json.RawMessage, error) {
	switch layer {
	case LayerBase:
		return s.baseSnapshot(ctx)
	case LayerTimeline, LayerTicker:
		return s.timelineSnapshot(ctx)
	case LayerAlerts, LayerChat:
		return emptyArray, nil
	case LayerOBS:
		if s.OBS == nil {
			return nullValue, nil
		}
		return json.Marshal(s.OBS.Snapshot())
	case LayerAudioRME:
		if s.OSC == nil {
			return emptyObject, nil
		}
		return json.Marshal(s.OSC.SnapshotMutes())
	case LayerAudioChannels:
		if s.OSC == nil {
			return emptyObject, nil
		}
		return json.Marshal(s.OSC.SnapshotLevels())
	case LayerCampaign:
		if s.Campaign == nil {
			return nullValue, nil
		}
		snap, err := s.Campaign.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nullValue, nil
		}
		return json.Marshal(snap)
	case LayerLimitBreak:
		if s.LimitBreak == nil {
			return nullValue, nil
		}
		snap, err := s.LimitBreak.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	case LayerMusic:
		if s.Music == nil {
			return nullValue, nil
		}
		return json.Marshal(s.Music.Snapshot())
	case LayerStatus:
		if s.Status == nil {
			return nullValue, nil
		}
		return s.Status.Snapshot(ctx)
	case LayerFFBot:
		// The ffbot adapter keeps no persistent run state to restore; new
		// connections simply wait for the next live frame.
		return nullValue, nil
	default:
		return nullValue, nil
	}
}

// baseSnapshot reports the last viewer interaction (follow/sub/cheer/raid),
// the shape the overlay's base/alerts chrome uses to restore its most recent
// on-screen alert after a reconnect.
func (s *CompositeSnapshotter) baseSnapshot(ctx context.Context) (json.RawMessage, error) {
	if s.Store == nil {
		return nullValue, nil
	}
	ev, ok, err := s.Store.GetLastViewerInteraction(ctx, s.Store.DB())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nullValue, nil
	}
	return eventToFrame(ev)
}

// timelineSnapshot reports the recent chronological feed of timeline-eligible
// events (follows, cheers, and the timeline notice-type subset of chat
// notifications), newest first.
func (s *CompositeSnapshotter) timelineSnapshot(ctx context.Context) (json.RawMessage, error) {
	if s.Store == nil {
		return emptyArray, nil
	}
	limit := s.TimelineLimit
	if limit <= 0 {
		limit = 20
	}
	events, err := s.Store.GetRecentTimelineEvents(ctx, s.Store.DB(), limit)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		frame, err := eventToFrame(ev)
		if err != nil {
			continue
		}
		out = append(out, frame)
	}
	return json.Marshal(out)
}

func eventToFrame(ev store.Event) (json.RawMessage, error) {
	memberID := ""
	if ev.MemberID.Valid {
		memberID = ev.MemberID.String
	}
	return json.Marshal(struct {
		ID        string          `json:"id"`
		Source    string          `json:"source"`
		EventType string          `json:"event_type"`
		MemberID  string          `json:"member_id,omitempty"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp interface{}     `json:"timestamp"`
	}{
		ID: ev.ID, Source: ev.Source, EventType: ev.EventType,
		MemberID: memberID, Payload: ev.Payload, Timestamp: ev.Timestamp,
	})
}
