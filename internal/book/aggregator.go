package book

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

const (
	// defaultDustMinQuote drops offers worth less than this much quote
	// currency. Sub-dust offers are unfillable spam that would otherwise
	// dominate level counts.
	defaultDustMinQuote = 0.01

	// defaultBidMaxBaseSize drops bid-side offers larger than this many base
	// units. Absurd sizes are spam that would otherwise dominate depth-bar
	// scaling.
	defaultBidMaxBaseSize = 10_000_000
)

// Filters holds the noise thresholds applied during aggregation.
type Filters struct {
	// DustMinQuote is the minimum quote-asset value per offer.
	DustMinQuote float64

	// BidMaxBaseSize is the maximum base-asset amount per bid-side offer.
	// Zero disables the check.
	BidMaxBaseSize float64
}

// DefaultFilters returns the standard noise thresholds.
func DefaultFilters() Filters {
	return Filters{
		DustMinQuote:   defaultDustMinQuote,
		BidMaxBaseSize: defaultBidMaxBaseSize,
	}
}

// Aggregator converts raw offers into sorted, filtered, cumulative price
// ladders. It is pure computation: safe to call from anywhere, no I/O.
type Aggregator struct {
	filters Filters
}

// NewAggregator creates an aggregator with the given noise thresholds.
func NewAggregator(filters Filters) *Aggregator {
	return &Aggregator{filters: filters}
}

// Aggregate builds a complete snapshot from the raw offers of both sides.
// Either side may be empty; the result is still a valid snapshot, with the
// spread left nil until both sides have at least one level.
func (a *Aggregator) Aggregate(pair domain.Pair, rawAsks, rawBids []domain.Offer, asOf time.Time) *domain.OrderBookSnapshot {
	snap := &domain.OrderBookSnapshot{
		ID:   uuid.New(),
		Pair: pair,
		Asks: a.buildLadder(rawAsks, SideAsk),
		Bids: a.buildLadder(rawBids, SideBid),
		AsOf: asOf.UTC(),
	}

	if ask, ok := snap.BestAsk(); ok {
		if bid, ok := snap.BestBid(); ok {
			value := ask.Price - bid.Price
			snap.Spread = &domain.Spread{
				Value:   value,
				Percent: value / ask.Price * 100,
			}
		}
	}
	return snap
}

// buildLadder filters, prices, sorts, and accumulates one side of the book.
func (a *Aggregator) buildLadder(raw []domain.Offer, side Side) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, offer := range raw {
		base, quote := baseQuote(offer, side)
		if base <= 0 || quote <= 0 {
			continue
		}
		if quote < a.filters.DustMinQuote {
			continue
		}
		if side == SideBid && a.filters.BidMaxBaseSize > 0 && base > a.filters.BidMaxBaseSize {
			continue
		}
		levels = append(levels, domain.PriceLevel{
			Price:        quote / base,
			Amount:       base,
			Total:        quote,
			OwnerAccount: offer.Account,
		})
	}

	if side == SideAsk {
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	} else {
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	}

	// Cumulative columns are only meaningful on the sorted ladder.
	var cumAmount, cumQuote float64
	for i := range levels {
		cumAmount += levels[i].Amount
		cumQuote += levels[i].Total
		levels[i].CumulativeAmount = cumAmount
		levels[i].CumulativeQuote = cumQuote
		levels[i].AveragePrice = cumQuote / cumAmount
	}
	return levels
}

// baseQuote extracts the base and quote amounts of an offer given the side
// it was fetched for. Ask-side offers carry base in taker_gets and quote in
// taker_pays; bid-side offers are the inverse.
func baseQuote(offer domain.Offer, side Side) (base, quote float64) {
	if side == SideAsk {
		return offer.TakerGets.Value, offer.TakerPays.Value
	}
	return offer.TakerPays.Value, offer.TakerGets.Value
}
