// Package feed attaches live ledger subscriptions to pair sessions, so
// trades land on the tape the moment a ledger closes instead of waiting for
// the next poll.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/platform/xrpl"
	"github.com/seanmx/xrpldexfeed/internal/tape"
)

// TradeSink consumes freshly decoded trades for fanout.
type TradeSink interface {
	PublishTrades(ctx context.Context, pair domain.Pair, trades []domain.Trade) error
}

// StreamConfig wires one pair's live stream.
type StreamConfig struct {
	Client  *xrpl.Client
	Decoder *tape.Decoder

	// Tape receives decoded trades. Its dedup makes stream/poll double
	// delivery harmless.
	Tape *tape.Tape

	Pair  domain.Pair
	Asset domain.Asset

	// Sink may be nil; trades then stay on the tape only.
	Sink TradeSink

	// BestPrice reports the current best ask, or zero when no book snapshot
	// is available yet.
	BestPrice func() float64

	// PriceHint is the fallback estimate when BestPrice reports nothing.
	PriceHint float64
}

// LedgerStream decodes validated transactions pushed for the watched
// issuer. The underlying client replays the subscription after every
// reconnect, so one Attach covers the session's lifetime.
type LedgerStream struct {
	cfg    StreamConfig
	logger *slog.Logger
}

// NewLedgerStream creates a stream for one pair session.
func NewLedgerStream(cfg StreamConfig, logger *slog.Logger) *LedgerStream {
	return &LedgerStream{
		cfg: cfg,
		logger: logger.With(
			slog.String("component", "ledger_stream"),
			slog.String("pair", cfg.Pair.String()),
		),
	}
}

// Attach registers the stream handler and subscribes to the issuer's
// transactions.
func (s *LedgerStream) Attach(ctx context.Context) error {
	s.cfg.Client.OnStream(func(msgType string, payload json.RawMessage) {
		s.handle(ctx, msgType, payload)
	})

	req := xrpl.SubscribeRequest{Accounts: []string{s.cfg.Asset.Issuer}}
	if err := s.cfg.Client.Subscribe(ctx, req); err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", s.cfg.Pair, err)
	}

	s.logger.Info("feed: live stream attached",
		slog.String("issuer", s.cfg.Asset.Issuer),
	)
	return nil
}

// handle decodes one pushed transaction and fans out whatever is new.
func (s *LedgerStream) handle(ctx context.Context, msgType string, payload json.RawMessage) {
	if msgType != "transaction" || ctx.Err() != nil {
		return
	}

	var st xrpl.StreamTransaction
	if err := json.Unmarshal(payload, &st); err != nil {
		s.logger.Warn("feed: dropping malformed stream message",
			slog.String("error", err.Error()),
		)
		return
	}
	if !st.Validated {
		return
	}
	if st.Meta.TransactionResult == "" {
		st.Meta.TransactionResult = st.EngineResult
	}

	var bookPrice float64
	if s.cfg.BestPrice != nil {
		bookPrice = s.cfg.BestPrice()
	}

	var fresh []domain.Trade
	for _, trade := range s.cfg.Decoder.Decode(st.AsRecord(), s.cfg.Asset, bookPrice, s.cfg.PriceHint) {
		if s.cfg.Tape.Insert(trade) {
			fresh = append(fresh, trade)
		}
	}
	if len(fresh) == 0 {
		return
	}

	s.logger.Debug("feed: streamed trades decoded",
		slog.Int("count", len(fresh)),
	)
	if s.cfg.Sink != nil {
		if err := s.cfg.Sink.PublishTrades(ctx, s.cfg.Pair, fresh); err != nil && ctx.Err() == nil {
			s.logger.Warn("feed: trade fanout failed",
				slog.String("error", err.Error()),
			)
		}
	}
}
