package domain

import (
	"time"

	"github.com/google/uuid"
)

// PriceLevel is one aggregated rung of an order book ladder. Cumulative
// fields run from the best level outward, so CumulativeAmount at the last
// index equals the ladder's total base liquidity.
type PriceLevel struct {
	Price            float64
	Amount           float64
	Total            float64
	CumulativeAmount float64
	CumulativeQuote  float64
	AveragePrice     float64
	OwnerAccount     string
}

// Spread is the distance between the best ask and the best bid. Percent is
// Value relative to the best ask price. A crossed book makes Value negative;
// that is a valid transient state, not an error.
type Spread struct {
	Value   float64
	Percent float64
}

// OrderBookSnapshot is a complete view of both ladders for one pair at one
// instant. Snapshots are rebuilt from scratch every refresh and swapped in
// whole; Spread is nil while either side is empty.
type OrderBookSnapshot struct {
	ID     uuid.UUID
	Pair   Pair
	Asks   []PriceLevel
	Bids   []PriceLevel
	Spread *Spread
	AsOf   time.Time
}

// BestAsk returns the lowest-priced ask, if any.
func (s OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// BestBid returns the highest-priced bid, if any.
func (s OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}
