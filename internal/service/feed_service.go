package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// FeedService fans refreshed market state out to the optional backends: the
// snapshot cache, the signal bus, and the trade journal. Every backend may
// be nil; a missing backend is skipped, and only failures of the durable
// ones (cache write, journal insert) are surfaced to the caller.
type FeedService struct {
	cache   domain.BookCache
	bus     domain.SignalBus
	journal domain.TradeJournal
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewFeedService creates a FeedService. Any backend may be nil.
func NewFeedService(
	cache domain.BookCache,
	bus domain.SignalBus,
	journal domain.TradeJournal,
	audit domain.AuditStore,
	logger *slog.Logger,
) *FeedService {
	return &FeedService{
		cache:   cache,
		bus:     bus,
		journal: journal,
		audit:   audit,
		logger:  logger,
	}
}

// PublishSnapshot caches the snapshot and announces it on the pair's book
// channel. The bus event is a compact summary; consumers fetch the full
// ladder over the API.
func (s *FeedService) PublishSnapshot(ctx context.Context, snap *domain.OrderBookSnapshot) error {
	if snap == nil {
		return nil
	}

	if s.cache != nil {
		if err := s.cache.SetSnapshot(ctx, *snap); err != nil {
			return fmt.Errorf("feed_service: cache snapshot: %w", err)
		}
	}

	if s.bus != nil {
		payload := map[string]any{
			"event":       "book_updated",
			"pair":        snap.Pair.String(),
			"snapshot_id": snap.ID,
			"ask_levels":  len(snap.Asks),
			"bid_levels":  len(snap.Bids),
			"as_of":       snap.AsOf.Format(time.RFC3339Nano),
		}
		if ask, ok := snap.BestAsk(); ok {
			payload["best_ask"] = ask.Price
		}
		if bid, ok := snap.BestBid(); ok {
			payload["best_bid"] = bid.Price
		}
		if snap.Spread != nil {
			payload["spread"] = snap.Spread.Value
			payload["spread_percent"] = snap.Spread.Percent
		}

		evt, _ := json.Marshal(payload)
		if err := s.bus.Publish(ctx, BookChannel(snap.Pair), evt); err != nil {
			s.logger.WarnContext(ctx, "feed_service: publish snapshot event failed",
				slog.String("pair", snap.Pair.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// PublishTrades journals newly decoded trades, announces each on the pair's
// trade channel, and appends them to the durable trade stream.
func (s *FeedService) PublishTrades(ctx context.Context, pair domain.Pair, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	if s.journal != nil {
		if err := s.journal.InsertBatch(ctx, pair, trades); err != nil {
			return fmt.Errorf("feed_service: journal trades: %w", err)
		}
	}

	if s.bus != nil {
		channel := TradeChannel(pair)
		stream := TradeStream(pair)
		for _, trade := range trades {
			evt, _ := json.Marshal(map[string]any{
				"event":        "trade",
				"pair":         pair.String(),
				"trade_id":     trade.ID,
				"direction":    trade.Direction,
				"price":        trade.Price,
				"base_amount":  trade.BaseAmount,
				"quote_amount": trade.QuoteAmount,
				"counterparty": trade.Counterparty,
				"close_time":   trade.LedgerCloseTime.Format(time.RFC3339),
				"tx_hash":      trade.TxHash,
			})
			if err := s.bus.Publish(ctx, channel, evt); err != nil {
				s.logger.WarnContext(ctx, "feed_service: publish trade event failed",
					slog.String("pair", pair.String()),
					slog.String("error", err.Error()),
				)
			}
			if err := s.bus.StreamAppend(ctx, stream, evt); err != nil {
				s.logger.WarnContext(ctx, "feed_service: append trade stream failed",
					slog.String("pair", pair.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "trades_recorded", map[string]any{
			"pair":  pair.String(),
			"count": len(trades),
		}); err != nil {
			s.logger.WarnContext(ctx, "feed_service: audit log failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.DebugContext(ctx, "feed_service: trades fanned out",
		slog.String("pair", pair.String()),
		slog.Int("count", len(trades)),
	)
	return nil
}

// ---- Bus naming ----

// BookChannel is the pub/sub channel carrying book update events for a pair.
func BookChannel(pair domain.Pair) string {
	return "ch:book:" + pair.String()
}

// TradeChannel is the pub/sub channel carrying trade events for a pair.
func TradeChannel(pair domain.Pair) string {
	return "ch:trades:" + pair.String()
}

// TradeStream is the durable stream retaining recent trade events for a pair.
func TradeStream(pair domain.Pair) string {
	return "stream:trades:" + pair.String()
}
