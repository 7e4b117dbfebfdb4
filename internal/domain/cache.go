package domain

import (
	"context"
	"time"
)

// BookCache stores the latest order book snapshot per pair. It is a
// publish-side convenience for collaborators; the live feed never reads
// from it.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, pair Pair) (OrderBookSnapshot, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locks so scheduled jobs (such as the
// trade archiver) run on at most one instance at a time.
type LockManager interface {
	// Acquire obtains the named lock or returns ErrLockHeld. The returned
	// release function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// StreamMessage represents a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// BusMessage is one pub/sub delivery. Channel is the concrete channel the
// message was published on, also when the subscription used a pattern.
type BusMessage struct {
	Channel string
	Payload []byte
}

// SignalBus provides pub/sub fanout and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
