package domain

import (
	"time"

	"github.com/google/uuid"
)

// TradeDirection classifies a trade from the counterparty's perspective.
type TradeDirection string

const (
	TradeBuy  TradeDirection = "buy"
	TradeSell TradeDirection = "sell"
)

// tradeNamespace seeds deterministic trade IDs. Fixed so every process
// derives the same ID for the same transaction effect.
var tradeNamespace = uuid.MustParse("c3a1952e-6f84-4be2-9f33-8b17d2f7a6d1")

// NewTradeID derives a trade's identity from its transaction hash and
// counterparty (UUIDv5). Decoding the same effect twice yields the same ID,
// which is what makes tape insertion and journal replays idempotent.
func NewTradeID(txHash, counterparty string) uuid.UUID {
	return uuid.NewSHA1(tradeNamespace, []byte(txHash+":"+counterparty))
}

// Trade is one execution inferred from a trust-line balance delta. It is
// immutable once decoded. Price is an estimate taken from the best book
// price at decode time, or a reference hint when no book is available; it
// is not the settled fill price.
type Trade struct {
	ID              uuid.UUID
	Direction       TradeDirection
	Price           float64
	BaseAmount      float64
	QuoteAmount     float64
	Counterparty    string
	LedgerCloseTime time.Time
	TxHash          string
}

// DedupKey is the (txHash, counterparty) identity the tape and journal
// deduplicate on.
func (t Trade) DedupKey() string {
	return t.TxHash + ":" + t.Counterparty
}
