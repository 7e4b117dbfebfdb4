package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// defaultSnapshotTTL expires cached books that stopped refreshing. A live
// pair rewrites its key every poll, so expiry only ever removes dead data.
const defaultSnapshotTTL = 60 * time.Second

// BookCache implements domain.BookCache. Each pair's snapshot is replaced
// wholesale on every refresh:
//
//	book:{pair}          - JSON document with both ladders and the spread
//	book:{pair}:summary  - hash with best_ask, best_bid, spread, as_of
//
// The summary hash lets collaborators poll top-of-book cheaply without
// deserializing the full document.
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookCache creates a BookCache backed by the given Client. ttl <= 0
// selects the default expiry.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &BookCache{rdb: c.Underlying(), ttl: ttl}
}

func bookKey(pair domain.Pair) string    { return "book:" + pair.String() }
func summaryKey(pair domain.Pair) string { return bookKey(pair) + ":summary" }

// cachedSnapshot is the stored wire form of a snapshot.
type cachedSnapshot struct {
	ID     uuid.UUID     `json:"id"`
	Pair   string        `json:"pair"`
	Asks   []cachedLevel `json:"asks"`
	Bids   []cachedLevel `json:"bids"`
	Spread *cachedSpread `json:"spread,omitempty"`
	AsOf   time.Time     `json:"as_of"`
}

type cachedLevel struct {
	Price            float64 `json:"price"`
	Amount           float64 `json:"amount"`
	Total            float64 `json:"total"`
	CumulativeAmount float64 `json:"cumulative_amount"`
	CumulativeQuote  float64 `json:"cumulative_quote"`
	AveragePrice     float64 `json:"average_price"`
	OwnerAccount     string  `json:"owner_account,omitempty"`
}

type cachedSpread struct {
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"`
}

// SetSnapshot replaces the cached snapshot for the pair atomically.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	doc, err := json.Marshal(toCached(snap))
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Pair, err)
	}

	summary := map[string]any{
		"as_of": strconv.FormatInt(snap.AsOf.UnixNano(), 10),
	}
	if ask, ok := snap.BestAsk(); ok {
		summary["best_ask"] = strconv.FormatFloat(ask.Price, 'f', -1, 64)
	}
	if bid, ok := snap.BestBid(); ok {
		summary["best_bid"] = strconv.FormatFloat(bid.Price, 'f', -1, 64)
	}
	if snap.Spread != nil {
		summary["spread"] = strconv.FormatFloat(snap.Spread.Value, 'f', -1, 64)
	}

	pipe := bc.rdb.TxPipeline()
	pipe.Set(ctx, bookKey(snap.Pair), doc, bc.ttl)
	pipe.Del(ctx, summaryKey(snap.Pair))
	pipe.HSet(ctx, summaryKey(snap.Pair), summary)
	pipe.Expire(ctx, summaryKey(snap.Pair), bc.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Pair, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot for the pair, or
// domain.ErrNotFound when nothing is cached.
func (bc *BookCache) GetSnapshot(ctx context.Context, pair domain.Pair) (domain.OrderBookSnapshot, error) {
	doc, err := bc.rdb.Get(ctx, bookKey(pair)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderBookSnapshot{}, domain.ErrNotFound
		}
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", pair, err)
	}

	var cached cachedSnapshot
	if err := json.Unmarshal(doc, &cached); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", pair, err)
	}
	return fromCached(cached, pair), nil
}

func toCached(snap domain.OrderBookSnapshot) cachedSnapshot {
	out := cachedSnapshot{
		ID:   snap.ID,
		Pair: snap.Pair.String(),
		Asks: toCachedLevels(snap.Asks),
		Bids: toCachedLevels(snap.Bids),
		AsOf: snap.AsOf,
	}
	if snap.Spread != nil {
		out.Spread = &cachedSpread{Value: snap.Spread.Value, Percent: snap.Spread.Percent}
	}
	return out
}

func toCachedLevels(levels []domain.PriceLevel) []cachedLevel {
	out := make([]cachedLevel, len(levels))
	for i, lvl := range levels {
		out[i] = cachedLevel{
			Price:            lvl.Price,
			Amount:           lvl.Amount,
			Total:            lvl.Total,
			CumulativeAmount: lvl.CumulativeAmount,
			CumulativeQuote:  lvl.CumulativeQuote,
			AveragePrice:     lvl.AveragePrice,
			OwnerAccount:     lvl.OwnerAccount,
		}
	}
	return out
}

func fromCached(cached cachedSnapshot, pair domain.Pair) domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{
		ID:   cached.ID,
		Pair: pair,
		Asks: fromCachedLevels(cached.Asks),
		Bids: fromCachedLevels(cached.Bids),
		AsOf: cached.AsOf,
	}
	if cached.Spread != nil {
		snap.Spread = &domain.Spread{Value: cached.Spread.Value, Percent: cached.Spread.Percent}
	}
	return snap
}

func fromCachedLevels(levels []cachedLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(levels))
	for i, lvl := range levels {
		out[i] = domain.PriceLevel{
			Price:            lvl.Price,
			Amount:           lvl.Amount,
			Total:            lvl.Total,
			CumulativeAmount: lvl.CumulativeAmount,
			CumulativeQuote:  lvl.CumulativeQuote,
			AveragePrice:     lvl.AveragePrice,
			OwnerAccount:     lvl.OwnerAccount,
		}
	}
	return out
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
