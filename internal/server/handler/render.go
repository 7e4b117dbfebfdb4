package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// Response shapes. Domain structs carry no JSON tags on purpose; the wire
// format is pinned here so internal renames never leak into the API.

type levelJSON struct {
	Price            float64 `json:"price"`
	Amount           float64 `json:"amount"`
	Total            float64 `json:"total"`
	CumulativeAmount float64 `json:"cumulative_amount"`
	CumulativeQuote  float64 `json:"cumulative_quote"`
	AveragePrice     float64 `json:"average_price"`
	OwnerAccount     string  `json:"owner_account,omitempty"`
}

type spreadJSON struct {
	Value   float64 `json:"value"`
	Percent float64 `json:"percent"`
}

type bookJSON struct {
	ID     string      `json:"id,omitempty"`
	Pair   string      `json:"pair"`
	Asks   []levelJSON `json:"asks"`
	Bids   []levelJSON `json:"bids"`
	Spread *spreadJSON `json:"spread"`
	AsOf   *time.Time  `json:"as_of"`
}

type tradeJSON struct {
	ID           uuid.UUID `json:"id"`
	Direction    string    `json:"direction"`
	Price        float64   `json:"price"`
	BaseAmount   float64   `json:"base_amount"`
	QuoteAmount  float64   `json:"quote_amount"`
	Counterparty string    `json:"counterparty"`
	CloseTime    time.Time `json:"close_time"`
	TxHash       string    `json:"tx_hash"`
}

type pairStatusJSON struct {
	Pair      string     `json:"pair"`
	ConnState string     `json:"conn_state"`
	Endpoint  string     `json:"endpoint"`
	BookAsOf  *time.Time `json:"book_as_of"`
	AskLevels int        `json:"ask_levels"`
	BidLevels int        `json:"bid_levels"`
	TapeSize  int        `json:"tape_size"`
}

func renderBook(snap *domain.OrderBookSnapshot) bookJSON {
	out := bookJSON{
		Pair: snap.Pair.String(),
		Asks: renderLevels(snap.Asks),
		Bids: renderLevels(snap.Bids),
		AsOf: renderTime(snap.AsOf),
	}
	if snap.ID != uuid.Nil {
		out.ID = snap.ID.String()
	}
	if snap.Spread != nil {
		out.Spread = &spreadJSON{Value: snap.Spread.Value, Percent: snap.Spread.Percent}
	}
	return out
}

func renderLevels(levels []domain.PriceLevel) []levelJSON {
	out := make([]levelJSON, len(levels))
	for i, l := range levels {
		out[i] = levelJSON{
			Price:            l.Price,
			Amount:           l.Amount,
			Total:            l.Total,
			CumulativeAmount: l.CumulativeAmount,
			CumulativeQuote:  l.CumulativeQuote,
			AveragePrice:     l.AveragePrice,
			OwnerAccount:     l.OwnerAccount,
		}
	}
	return out
}

func renderTrades(trades []domain.Trade) []tradeJSON {
	out := make([]tradeJSON, len(trades))
	for i, t := range trades {
		out[i] = tradeJSON{
			ID:           t.ID,
			Direction:    string(t.Direction),
			Price:        t.Price,
			BaseAmount:   t.BaseAmount,
			QuoteAmount:  t.QuoteAmount,
			Counterparty: t.Counterparty,
			CloseTime:    t.LedgerCloseTime,
			TxHash:       t.TxHash,
		}
	}
	return out
}

// renderTime hides zero timestamps behind null instead of 0001-01-01.
func renderTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
