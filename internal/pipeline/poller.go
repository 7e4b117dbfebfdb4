// Package pipeline drives the periodic refresh of tracked trading pairs.
// Each pair gets one poller owning one ledger connection; on every tick the
// book snapshot and the trade tape refresh concurrently but independently,
// so a slow book fetch never delays trade decoding.
package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/platform/xrpl"
	"github.com/seanmx/xrpldexfeed/internal/tape"
)

const (
	// defaultPollInterval is the refresh cadence when none is configured.
	defaultPollInterval = 4 * time.Second

	// defaultStallAfter is how many consecutive failed refreshes of one
	// component mark the pair as stalled.
	defaultStallAfter = 5
)

// PollerConfig tunes one pair's refresh loop.
type PollerConfig struct {
	// Interval between refresh cycles.
	Interval time.Duration

	// PriceHint is the fallback trade price estimate used when no book
	// snapshot is available yet.
	PriceHint float64

	// StallAfter is the consecutive-failure count that triggers a stall
	// report.
	StallAfter int
}

// BookSource produces the raw offers for both sides of a pair.
type BookSource interface {
	FetchBook(ctx context.Context, pair domain.Pair) (asks, bids []domain.Offer, err error)
}

// HistorySource produces recent transaction records for an account.
type HistorySource interface {
	FetchRecords(ctx context.Context, account string) ([]xrpl.TransactionRecord, error)
}

// BookAggregator folds raw offers into a snapshot.
type BookAggregator interface {
	Aggregate(pair domain.Pair, rawAsks, rawBids []domain.Offer, asOf time.Time) *domain.OrderBookSnapshot
}

// TradeDecoder extracts trades from one transaction record.
type TradeDecoder interface {
	Decode(rec xrpl.TransactionRecord, asset domain.Asset, bookPrice, priceHint float64) []domain.Trade
}

// SnapshotSink consumes refreshed state for fanout. Sink failures are
// logged, never counted against the pair: a dead cache must not look like a
// dead ledger.
type SnapshotSink interface {
	PublishSnapshot(ctx context.Context, snap *domain.OrderBookSnapshot) error
	PublishTrades(ctx context.Context, pair domain.Pair, trades []domain.Trade) error
}

// StallFunc is invoked when a component crosses the consecutive-failure
// threshold.
type StallFunc func(component string, consecutive int)

// Poller refreshes one pair. The snapshot is built fully off to the side
// and swapped in atomically, so readers never observe a partially
// aggregated ladder. A refresh still running when the next tick fires is
// skipped, not queued.
type Poller struct {
	pair    domain.Pair
	cfg     PollerConfig
	books   BookSource
	history HistorySource
	agg     BookAggregator
	decoder TradeDecoder
	tape    *tape.Tape
	sink    SnapshotSink
	onStall StallFunc
	logger  *slog.Logger

	snapshot atomic.Pointer[domain.OrderBookSnapshot]
	bookBusy atomic.Bool
	tapeBusy atomic.Bool

	bookFails atomic.Int32
	tapeFails atomic.Int32

	refreshCh chan struct{}
}

// NewPoller assembles the refresh loop for one pair. sink and onStall may
// be nil.
func NewPoller(
	pair domain.Pair,
	books BookSource,
	history HistorySource,
	agg BookAggregator,
	decoder TradeDecoder,
	tp *tape.Tape,
	sink SnapshotSink,
	onStall StallFunc,
	cfg PollerConfig,
	logger *slog.Logger,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.StallAfter <= 0 {
		cfg.StallAfter = defaultStallAfter
	}
	return &Poller{
		pair:      pair,
		cfg:       cfg,
		books:     books,
		history:   history,
		agg:       agg,
		decoder:   decoder,
		tape:      tp,
		sink:      sink,
		onStall:   onStall,
		logger:    logger.With(slog.String("component", "poller"), slog.String("pair", pair.String())),
		refreshCh: make(chan struct{}, 1),
	}
}

// Run drives the refresh loop until ctx is canceled. The first cycle fires
// immediately.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("pipeline: poller starting",
		slog.Duration("interval", p.cfg.Interval),
	)

	p.tick(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline: poller stopped")
			return ctx.Err()
		case <-p.refreshCh:
			p.tick(ctx)
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Refresh requests an immediate out-of-band cycle. Non-blocking; collapses
// into an already-pending request.
func (p *Poller) Refresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the last completed book snapshot, or nil before the
// first successful refresh.
func (p *Poller) Snapshot() *domain.OrderBookSnapshot {
	return p.snapshot.Load()
}

// Trades returns the tape contents, newest first, optionally filtered to
// one counterparty.
func (p *Poller) Trades(counterparty string) []domain.Trade {
	if counterparty != "" {
		return p.tape.FilterBy(counterparty)
	}
	return p.tape.Trades()
}

// TapeLen returns the number of trades currently held.
func (p *Poller) TapeLen() int {
	return p.tape.Len()
}

// tick starts the book and tape refreshes concurrently, each guarded
// against overlapping itself.
func (p *Poller) tick(ctx context.Context) {
	if p.bookBusy.CompareAndSwap(false, true) {
		go func() {
			defer p.bookBusy.Store(false)
			p.track(ctx, "book", &p.bookFails, p.refreshBook(ctx))
		}()
	} else {
		p.logger.Debug("pipeline: book refresh still running, tick skipped")
	}

	if p.tapeBusy.CompareAndSwap(false, true) {
		go func() {
			defer p.tapeBusy.Store(false)
			p.track(ctx, "tape", &p.tapeFails, p.refreshTape(ctx))
		}()
	} else {
		p.logger.Debug("pipeline: tape refresh still running, tick skipped")
	}
}

// track folds one refresh outcome into the stall accounting. A failed
// cycle leaves the previous state in place; stale-but-valid beats empty.
func (p *Poller) track(ctx context.Context, component string, fails *atomic.Int32, err error) {
	if err == nil {
		fails.Store(0)
		return
	}
	if ctx.Err() != nil {
		return
	}

	n := fails.Add(1)
	p.logger.Warn("pipeline: refresh failed, keeping previous state",
		slog.String("refresh", component),
		slog.Int("consecutive", int(n)),
		slog.String("error", err.Error()),
	)
	if int(n) == p.cfg.StallAfter && p.onStall != nil {
		p.onStall(component, int(n))
	}
}

// refreshBook rebuilds the order book snapshot wholesale and swaps it in.
func (p *Poller) refreshBook(ctx context.Context) error {
	asks, bids, err := p.books.FetchBook(ctx, p.pair)
	if err != nil {
		return err
	}

	snap := p.agg.Aggregate(p.pair, asks, bids, time.Now())

	// A torn-down session discards its result instead of publishing.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.snapshot.Store(snap)

	if p.sink != nil {
		if serr := p.sink.PublishSnapshot(ctx, snap); serr != nil && ctx.Err() == nil {
			p.logger.Warn("pipeline: snapshot fanout failed",
				slog.String("error", serr.Error()),
			)
		}
	}
	return nil
}

// refreshTape pulls recent issuer history, decodes trades, and inserts them
// oldest first so the tape stays newest first.
func (p *Poller) refreshTape(ctx context.Context) error {
	issued, ok := p.pair.IssuedLeg()
	if !ok {
		return nil
	}

	records, err := p.history.FetchRecords(ctx, issued.Issuer)
	if err != nil {
		return err
	}

	var bookPrice float64
	if snap := p.snapshot.Load(); snap != nil {
		if ask, ok := snap.BestAsk(); ok {
			bookPrice = ask.Price
		}
	}

	var fresh []domain.Trade
	for i := len(records) - 1; i >= 0; i-- {
		for _, trade := range p.decoder.Decode(records[i], issued, bookPrice, p.cfg.PriceHint) {
			if p.tape.Insert(trade) {
				fresh = append(fresh, trade)
			}
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if len(fresh) == 0 {
		return nil
	}

	p.logger.Debug("pipeline: new trades decoded",
		slog.Int("count", len(fresh)),
	)
	if p.sink != nil {
		if serr := p.sink.PublishTrades(ctx, p.pair, fresh); serr != nil && ctx.Err() == nil {
			p.logger.Warn("pipeline: trade fanout failed",
				slog.String("error", serr.Error()),
			)
		}
	}
	return nil
}
