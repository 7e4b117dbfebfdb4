package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// TradeJournal persists decoded trades for history and archival. Writes are
// fire-and-forget from the live feed's point of view: the in-memory tape
// never reads the journal back, and a journal outage must not stall a poll
// cycle.
type TradeJournal interface {
	InsertBatch(ctx context.Context, pair Pair, trades []Trade) error
	ListRecent(ctx context.Context, pair Pair, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time) ([]JournaledTrade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	GetLastCloseTime(ctx context.Context, pair Pair) (time.Time, error)
}

// JournaledTrade is a Trade together with the pair it was recorded under,
// as read back from the journal for archival.
type JournaledTrade struct {
	Pair  Pair
	Trade Trade
}

// AuditStore records operational events (pair tracking changes, archive
// runs, failover storms) for later inspection.
type AuditStore interface {
	Log(ctx context.Context, event string, payload map[string]any) error
}
