package tape

import (
	"sync"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// defaultCapacity bounds the tape when no capacity is configured.
const defaultCapacity = 100

// Tape is a bounded, newest-first buffer of trades, deduplicated by
// (txHash, counterparty). Inserting an already-seen trade is a no-op, so
// overlapping history pages and stream/poll double-delivery are harmless.
// Trades must be inserted in chronological order; the buffer preserves
// arrival order with the newest at index zero.
type Tape struct {
	mu       sync.RWMutex
	capacity int
	trades   []domain.Trade
	seen     map[string]struct{}
}

// NewTape creates a tape holding at most capacity trades.
func NewTape(capacity int) *Tape {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Tape{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Insert stores a trade unless its dedup key is already present. When the
// tape is full the oldest trade is evicted. Returns true when the trade was
// stored.
func (t *Tape) Insert(trade domain.Trade) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := trade.DedupKey()
	if _, dup := t.seen[key]; dup {
		return false
	}
	t.seen[key] = struct{}{}

	t.trades = append(t.trades, domain.Trade{})
	copy(t.trades[1:], t.trades)
	t.trades[0] = trade

	if len(t.trades) > t.capacity {
		evicted := t.trades[t.capacity:]
		for _, old := range evicted {
			delete(t.seen, old.DedupKey())
		}
		t.trades = t.trades[:t.capacity]
	}
	return true
}

// InsertAll inserts trades in order, returning how many were new.
func (t *Tape) InsertAll(trades []domain.Trade) int {
	var stored int
	for _, trade := range trades {
		if t.Insert(trade) {
			stored++
		}
	}
	return stored
}

// Trades returns the stored trades, newest first.
func (t *Tape) Trades() []domain.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Trade, len(t.trades))
	copy(out, t.trades)
	return out
}

// FilterBy returns the stored trades for one counterparty, newest first.
// The tape itself is left untouched.
func (t *Tape) FilterBy(counterparty string) []domain.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []domain.Trade
	for _, trade := range t.trades {
		if trade.Counterparty == counterparty {
			out = append(out, trade)
		}
	}
	return out
}

// Len returns the number of stored trades.
func (t *Tape) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.trades)
}
