// Package twitch implements the one outbound Helix call the scheduler needs:
// starting a commercial break. Credential lookup is delegated to
// eventsub.TokenStore so the adapter and the scheduler authenticate the same
// way against the same boundary.
package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bryanveloso/eventfabric/internal/eventsub"
)

const startCommercialURL = "https://api.twitch.tv/helix/channels/commercial"

// CommercialStarter calls the Helix start-commercial endpoint, satisfying
// scheduler.CommercialStarter.
type CommercialStarter struct {
	client  *http.Client
	tokens  eventsub.TokenStore
	service string
	userID  string
	log     *zap.Logger
}

func NewCommercialStarter(tokens eventsub.TokenStore, service, userID string, log *zap.Logger) *CommercialStarter {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommercialStarter{
		client:  &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
		service: service,
		userID:  userID,
		log:     log.With(zap.String("module", "twitch")),
	}
}

// StartCommercial requests a commercial break of durationSeconds on the
// configured broadcaster's channel.
func (c *CommercialStarter) StartCommercial(ctx context.Context, durationSeconds int) error {
	creds, err := c.tokens.Get(ctx, c.service, c.userID)
	if err != nil {
		return fmt.Errorf("get credentials: %w", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"broadcaster_id": c.userID,
		"length":         durationSeconds,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, startCommercialURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", creds.ClientID)
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("start commercial request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if _, err := c.tokens.Refresh(ctx, c.service, c.userID); err != nil {
			return fmt.Errorf("refresh credentials after 401: %w", err)
		}
		return fmt.Errorf("start commercial: unauthorized, token refreshed, retry next tick")
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("start commercial: unexpected status %d", resp.StatusCode)
	}

	c.log.Info("commercial started", zap.Int("duration_seconds", durationSeconds))
	return nil
}
