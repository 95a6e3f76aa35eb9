// Package music polls a now-playing HTTP endpoint and republishes track
// changes onto the bus, tracking station identity and "tuned out" separately
// from "track changed".
package music

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

const (
	pollInterval    = 15 * time.Second
	maxBackoff      = 60 * time.Second
	breakerInterval = 2 * time.Minute
)

// NowPlaying is the shape decoded from the polled endpoint.
type NowPlaying struct {
	Station string `json:"station"`
	TrackID string `json:"track_id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Album   string `json:"album,omitempty"`
}

// Poller polls url on an interval, publishing a music.update envelope when
// the now-playing state transitions (track changed or tuned out).
type Poller struct {
	url     string
	client  *http.Client
	bus     bus.Bus
	log     *zap.Logger
	breaker *gobreaker.CircuitBreaker

	mu   sync.Mutex
	last *NowPlaying
}

func NewPoller(url string, b bus.Bus, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "music-poll",
		Timeout: breakerInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &Poller{
		url:     url,
		client:  &http.Client{Timeout: 5 * time.Second},
		bus:     b,
		log:     log.With(zap.String("module", "music")),
		breaker: breaker,
	}
}

// Run polls until ctx is cancelled. Consecutive failures grow the interval
// via exponential backoff, capped at maxBackoff, and reset to pollInterval on
// the next success.
func (p *Poller) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pollInterval
	bo.MaxInterval = maxBackoff
	bo.MaxElapsedTime = 0

	interval := pollInterval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := p.pollOnce(ctx); err != nil {
			p.log.Warn("music poll failed", zap.Error(err))
			interval = bo.NextBackOff()
		} else {
			bo.Reset()
			interval = pollInterval
		}
		timer.Reset(interval)
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		np, err := p.fetch(ctx)
		if err != nil {
			return nil, err
		}
		p.handle(ctx, np)
		return nil, nil
	})
	return err
}

func (p *Poller) fetch(ctx context.Context) (*NowPlaying, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{resp.StatusCode}
	}

	var np NowPlaying
	if err := json.NewDecoder(resp.Body).Decode(&np); err != nil {
		return nil, err
	}
	return &np, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return http.StatusText(e.code) }

// handle distinguishes a track change from a tune-out (no track currently
// playing) and publishes the corresponding envelope only on transition.
func (p *Poller) handle(ctx context.Context, np *NowPlaying) {
	p.mu.Lock()
	eventType, payload, next := transition(p.last, np)
	p.last = next
	p.mu.Unlock()
	if eventType != "" {
		p.publish(ctx, eventType, payload)
	}
}

// Snapshot implements the overlay's music-layer sync: the currently playing
// track, or nil if nothing is playing.
func (p *Poller) Snapshot() *NowPlaying {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// transition is the pure decision core: given the previously observed track
// and the freshly polled one, it says what (if anything) changed and what
// the new "last seen" state should be.
func transition(last, np *NowPlaying) (eventType string, payload interface{}, next *NowPlaying) {
	switch {
	case np == nil || np.TrackID == "":
		if last != nil {
			return "music.update", map[string]interface{}{"playing": false, "station": last.Station}, nil
		}
		return "", nil, nil
	case last == nil || last.TrackID != np.TrackID || last.Station != np.Station:
		return "music.update", np, np
	default:
		return "", nil, last
	}
}

func (p *Poller) publish(ctx context.Context, eventType string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	env := bus.Envelope{EventType: eventType, Source: "music", Timestamp: time.Now().UTC(), Payload: payload}
	if err := p.bus.Publish(ctx, bus.ChannelMusic, env); err != nil {
		p.log.Warn("publish music event failed", zap.Error(err))
	}
}
