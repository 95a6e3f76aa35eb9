package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// resolveMember's malformed/empty-identity guard clauses return before ever
// touching p.store, so a nil *Queries is safe here; the upsert path itself
// requires a live Postgres instance and is exercised there, not here.
func nilPersister() *Persister {
	return &Persister{store: nil}
}

func TestResolveMemberIgnoresMalformedPayload(t *testing.T) {
	p := nilPersister()
	got := p.resolveMember(context.Background(), []byte(`not json`))
	assert.False(t, got.Valid)
}

func TestResolveMemberIgnoresPayloadWithNoIdentity(t *testing.T) {
	p := nilPersister()
	got := p.resolveMember(context.Background(), []byte(`{"notice_type":"announcement"}`))
	assert.False(t, got.Valid)
}
