package campaign

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
	"github.com/bryanveloso/eventfabric/internal/store"
)

// recordingBus captures every published envelope for assertion; the store
// mutations themselves require a live Postgres instance and are exercised
// there, not here.
type recordingBus struct {
	mu  sync.Mutex
	pub []bus.Envelope
}

func (r *recordingBus) Publish(ctx context.Context, channel string, env bus.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pub = append(r.pub, env)
	return nil
}

func (r *recordingBus) Subscribe(ctx context.Context, channels ...string) bus.Subscription { return nil }
func (r *recordingBus) Close() error                                                       { return nil }

func (r *recordingBus) last() bus.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pub[len(r.pub)-1]
}

func TestProcessBitsRejectsNegativeAmount(t *testing.T) {
	s := New(nil, nil, zap.NewNop())
	res, err := s.ProcessBits(context.Background(), -1)
	require.Error(t, err)
	assert.Equal(t, Result{}, res)
}

func TestPublishUpdateIncludesTimerAndMetricFields(t *testing.T) {
	b := &recordingBus{}
	s := New(nil, b, zap.NewNop())

	res := Result{
		Campaign:          dummyCampaign(),
		Metric:            dummyMetric(),
		TimerSecondsAdded: 30,
	}
	s.publishUpdate(context.Background(), res)

	env := b.last()
	assert.Equal(t, "update", env.EventType)
	assert.Equal(t, "campaign", env.Source)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.EqualValues(t, 5, payload["total_subs"])
	assert.EqualValues(t, 30, payload["timer_seconds_added"])
}

func TestPublishMilestoneIncludesThresholdAndTitle(t *testing.T) {
	b := &recordingBus{}
	s := New(nil, b, zap.NewNop())

	c := dummyCampaign()
	m := dummyMilestone()
	s.publishMilestone(context.Background(), c, m)

	env := b.last()
	assert.Equal(t, "milestone", env.EventType)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, m.ID, payload["milestone"])
	assert.EqualValues(t, m.Threshold, payload["threshold"])
	assert.Equal(t, m.Title, payload["title"])
}

// publishEvent's subType must reach the bus unprefixed; classify.go is
// responsible for attaching the "campaign:" overlay layer.
func TestPublishEventDoesNotPrefixSubType(t *testing.T) {
	b := &recordingBus{}
	s := New(nil, b, zap.NewNop())

	s.publishEvent(context.Background(), "timer:started", Result{Campaign: dummyCampaign(), Metric: dummyMetric()})

	env := b.last()
	assert.Equal(t, "timer:started", env.EventType)
}

func TestPublishRawNoopsWithNilBus(t *testing.T) {
	s := New(nil, nil, zap.NewNop())
	assert.NotPanics(t, func() {
		s.publishRaw(context.Background(), "update", json.RawMessage(`{}`))
	})
}

func dummyCampaign() store.Campaign {
	return store.Campaign{ID: "campaign-1", TimerMode: true, TimerInitialSeconds: 60}
}

func dummyMetric() store.Metric {
	return store.Metric{TotalSubs: 5, TotalResubs: 1, TotalBits: 100, TimerSecondsRemaining: 90}
}

func dummyMilestone() store.Milestone {
	return store.Milestone{ID: "milestone-1", Threshold: 10, Title: "First milestone"}
}
