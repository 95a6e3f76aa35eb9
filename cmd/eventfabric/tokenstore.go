package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bryanveloso/eventfabric/internal/eventsub"
)

// staticTokenStore satisfies eventsub.TokenStore from a single long-lived
// access token supplied at process start. Real OAuth storage/refresh is out
// of scope here; this is the concrete stand-in the boundary interface exists
// to allow swapping out later.
type staticTokenStore struct {
	clientID    string
	accessToken string
}

func newStaticTokenStoreFromEnv(clientID string) *staticTokenStore {
	return &staticTokenStore{
		clientID:    clientID,
		accessToken: os.Getenv("TWITCH_ACCESS_TOKEN"),
	}
}

func (s *staticTokenStore) Get(ctx context.Context, service, userID string) (eventsub.Credentials, error) {
	if s.accessToken == "" {
		return eventsub.Credentials{}, fmt.Errorf("no access token configured for %s/%s", service, userID)
	}
	return eventsub.Credentials{AccessToken: s.accessToken, ClientID: s.clientID}, nil
}

func (s *staticTokenStore) Refresh(ctx context.Context, service, userID string) (eventsub.Credentials, error) {
	return eventsub.Credentials{}, fmt.Errorf("token refresh not implemented: reauthorize %s/%s manually", service, userID)
}
