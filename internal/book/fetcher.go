// Package book turns raw resting offers into depth-sorted, filtered,
// cumulative order book snapshots.
package book

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/platform/xrpl"
)

const (
	// defaultPageCap bounds how many cursor pages a single side fetch may
	// follow. A deep book must not stall the polling cycle.
	defaultPageCap = 4

	// defaultPageSize is the per-page offer limit sent to the server.
	defaultPageSize = 60
)

// Side identifies which ladder of the book a query targets.
type Side string

const (
	SideAsk Side = "ask"
	SideBid Side = "bid"
)

// BookClient is the slice of the ledger client the fetcher uses.
type BookClient interface {
	BookOffers(ctx context.Context, req xrpl.BookOffersRequest) (*xrpl.BookOffersResult, error)
}

// FetcherConfig bounds a book fetch.
type FetcherConfig struct {
	// PageCap is the hard bound on pages per side, applied even when the
	// server keeps returning a cursor.
	PageCap int

	// PageSize is the offer limit per page.
	PageSize int
}

// Fetcher issues paginated book queries for both directions of a pair and
// converts the wire entries to domain offers. It returns the raw offer set:
// no sorting, no filtering.
type Fetcher struct {
	client BookClient
	cfg    FetcherConfig
	logger *slog.Logger
}

// NewFetcher creates a fetcher over the given client.
func NewFetcher(client BookClient, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.PageCap <= 0 {
		cfg.PageCap = defaultPageCap
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Fetcher{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "book_fetcher")),
	}
}

// FetchBook fetches the raw offers resting on both sides of the pair's
// book. The two legs share one connection, so they run sequentially.
func (f *Fetcher) FetchBook(ctx context.Context, pair domain.Pair) (asks, bids []domain.Offer, err error) {
	asks, err = f.FetchSide(ctx, pair, SideAsk)
	if err != nil {
		return nil, nil, err
	}
	bids, err = f.FetchSide(ctx, pair, SideBid)
	if err != nil {
		return nil, nil, err
	}
	return asks, bids, nil
}

// FetchSide fetches the raw offers on one side of the pair's book,
// following the server cursor until it is exhausted or the page cap is hit.
// Entries that fail conversion are skipped so one bad offer never poisons
// the page.
func (f *Fetcher) FetchSide(ctx context.Context, pair domain.Pair, side Side) ([]domain.Offer, error) {
	takerGets, takerPays := legAssets(pair, side)
	req := xrpl.BookOffersRequest{
		TakerGets: xrpl.SpecFromAsset(takerGets),
		TakerPays: xrpl.SpecFromAsset(takerPays),
		Limit:     f.cfg.PageSize,
	}

	var offers []domain.Offer
	for page := 0; page < f.cfg.PageCap; page++ {
		res, err := f.client.BookOffers(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("book: fetch %s %s side: %w", pair, side, err)
		}

		for _, raw := range res.Offers {
			offer, cerr := raw.ToOffer()
			if cerr != nil {
				f.logger.Warn("book: skipping malformed offer",
					slog.String("pair", pair.String()),
					slog.String("side", string(side)),
					slog.String("error", cerr.Error()),
				)
				continue
			}
			offers = append(offers, offer)
		}

		if !xrpl.HasMarker(res.Marker) {
			break
		}
		req.Marker = res.Marker
	}
	return offers, nil
}

// legAssets orients a book query. The ask side holds offers whose owners
// give base for quote, so a taker gets base and pays quote; the bid side is
// the inverse.
func legAssets(pair domain.Pair, side Side) (takerGets, takerPays domain.Asset) {
	if side == SideAsk {
		return pair.Base, pair.Quote
	}
	return pair.Quote, pair.Base
}
