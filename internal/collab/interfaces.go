// Package collab defines the interfaces this module expects its caller to
// supply — transport, directory lookup, clock, and durable persistence —
// plus small in-memory reference implementations useful for demos and
// tests. None of these are the module's concern: a real deployment backs
// Transport with a relay or DHT client and Persistence with disk or a
// database, the way the teacher's internal/relay and internal/store
// packages did for a single fixed backend.
package collab

import (
	"context"
	"time"

	"qiyashash/internal/domain"
)

// Transport delivers opaque, already-encrypted envelopes between peers. It
// has no knowledge of the protocol running over it.
type Transport interface {
	Put(ctx context.Context, to domain.PeerID, envelope []byte) error
	Get(ctx context.Context, to domain.PeerID) ([][]byte, error)
}

// Directory resolves a peer's published pre-key bundle.
type Directory interface {
	FetchBundle(ctx context.Context, peer domain.PeerID) (domain.PreKeyBundle, error)
	PublishBundle(ctx context.Context, bundle domain.PreKeyBundle) error
}

// Clock supplies the current time, so callers can inject a fake clock in
// tests without this module reaching for time.Now itself.
type Clock interface {
	Now() int64
}

// Persistence stores durable protocol state: identities, pre-key pools, and
// chain-state proofs. Consumption of a one-time pre-key must be durable
// before it is reported to the caller as consumed, per SPEC_FULL.md §6.
type Persistence interface {
	SaveBlob(ctx context.Context, key string, data []byte) error
	LoadBlob(ctx context.Context, key string) ([]byte, bool, error)
	DeleteBlob(ctx context.Context, key string) error
}

// SystemClock is the trivial Clock backed by the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }
