package ffbot

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/bus"
)

type noopBus struct{}

func (noopBus) Publish(ctx context.Context, channel string, env bus.Envelope) error { return nil }
func (noopBus) Subscribe(ctx context.Context, channels ...string) bus.Subscription  { return nil }
func (noopBus) Close() error                                                        { return nil }

func TestServeHTTPRejectsNonPost(t *testing.T) {
	h := &Handler{log: zap.NewNop()}
	req := httptest.NewRequest("GET", "/api/games/ffbot", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, 405, w.Code)
}

func TestServeHTTPRejectsMissingType(t *testing.T) {
	h := &Handler{log: zap.NewNop()}
	req := httptest.NewRequest("POST", "/api/games/ffbot", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, 400, w.Code)
}

func TestServeHTTPAcceptsValidSaveEvent(t *testing.T) {
	h := &Handler{log: zap.NewNop(), bus: noopBus{}}
	req := httptest.NewRequest("POST", "/api/games/ffbot", bytes.NewBufferString(`{"type":"save","player_count":4}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, 202, w.Code)
	time.Sleep(10 * time.Millisecond)
}
