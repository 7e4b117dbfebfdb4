package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

var feedPair = domain.Pair{
	Base:  domain.Asset{Currency: "TOK", Issuer: "rIssuer"},
	Quote: domain.Asset{Currency: "XRP"},
}

type memCache struct {
	snaps map[string]domain.OrderBookSnapshot
	err   error
}

func (m *memCache) SetSnapshot(_ context.Context, snap domain.OrderBookSnapshot) error {
	if m.err != nil {
		return m.err
	}
	if m.snaps == nil {
		m.snaps = make(map[string]domain.OrderBookSnapshot)
	}
	m.snaps[snap.Pair.String()] = snap
	return nil
}

func (m *memCache) GetSnapshot(_ context.Context, pair domain.Pair) (domain.OrderBookSnapshot, error) {
	snap, ok := m.snaps[pair.String()]
	if !ok {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type memBus struct {
	published map[string][][]byte
	streamed  map[string][][]byte
	err       error
}

func (m *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.published == nil {
		m.published = make(map[string][][]byte)
	}
	m.published[channel] = append(m.published[channel], payload)
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan domain.BusMessage, error) {
	ch := make(chan domain.BusMessage)
	close(ch)
	return ch, nil
}

func (m *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.streamed == nil {
		m.streamed = make(map[string][][]byte)
	}
	m.streamed[stream] = append(m.streamed[stream], payload)
	return nil
}

func (m *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type memJournal struct {
	inserted []domain.Trade
	err      error
}

func (m *memJournal) InsertBatch(_ context.Context, _ domain.Pair, trades []domain.Trade) error {
	if m.err != nil {
		return m.err
	}
	m.inserted = append(m.inserted, trades...)
	return nil
}

func (m *memJournal) ListRecent(context.Context, domain.Pair, domain.ListOpts) ([]domain.Trade, error) {
	return m.inserted, nil
}

func (m *memJournal) ListBefore(context.Context, time.Time) ([]domain.JournaledTrade, error) {
	return nil, nil
}

func (m *memJournal) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *memJournal) GetLastCloseTime(context.Context, domain.Pair) (time.Time, error) {
	return time.Time{}, nil
}

func testSnapshot() *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		ID:   uuid.New(),
		Pair: feedPair,
		Asks: []domain.PriceLevel{{Price: 0.10, Amount: 100, Total: 10}},
		Bids: []domain.PriceLevel{{Price: 0.09, Amount: 80, Total: 7.2}},
		Spread: &domain.Spread{
			Value:   0.01,
			Percent: 10,
		},
		AsOf: time.Now().UTC(),
	}
}

func testTrades() []domain.Trade {
	return []domain.Trade{{
		ID:              domain.NewTradeID("TX1", "rHolder"),
		Direction:       domain.TradeBuy,
		Price:           0.1,
		BaseAmount:      30,
		QuoteAmount:     3,
		Counterparty:    "rHolder",
		LedgerCloseTime: time.Now().UTC(),
		TxHash:          "TX1",
	}}
}

func newFeedService(cache domain.BookCache, bus domain.SignalBus, journal domain.TradeJournal) *FeedService {
	return NewFeedService(cache, bus, journal, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishSnapshotFansOut(t *testing.T) {
	cache := &memCache{}
	bus := &memBus{}
	svc := newFeedService(cache, bus, nil)

	snap := testSnapshot()
	require.NoError(t, svc.PublishSnapshot(context.Background(), snap))

	cached, err := cache.GetSnapshot(context.Background(), feedPair)
	require.NoError(t, err)
	assert.Equal(t, snap.ID, cached.ID)

	events := bus.published[BookChannel(feedPair)]
	require.Len(t, events, 1)

	var evt map[string]any
	require.NoError(t, json.Unmarshal(events[0], &evt))
	assert.Equal(t, "book_updated", evt["event"])
	assert.Equal(t, feedPair.String(), evt["pair"])
	assert.InDelta(t, 0.10, evt["best_ask"].(float64), 1e-9)
	assert.InDelta(t, 0.01, evt["spread"].(float64), 1e-9)
}

func TestPublishSnapshotCacheFailureSurfaces(t *testing.T) {
	cache := &memCache{err: domain.ErrConnection}
	svc := newFeedService(cache, &memBus{}, nil)

	err := svc.PublishSnapshot(context.Background(), testSnapshot())
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestPublishSnapshotBusFailureIsLoggedOnly(t *testing.T) {
	svc := newFeedService(&memCache{}, &memBus{err: domain.ErrConnection}, nil)

	assert.NoError(t, svc.PublishSnapshot(context.Background(), testSnapshot()))
}

func TestPublishTradesJournalsAndAnnounces(t *testing.T) {
	bus := &memBus{}
	journal := &memJournal{}
	svc := newFeedService(nil, bus, journal)

	require.NoError(t, svc.PublishTrades(context.Background(), feedPair, testTrades()))

	assert.Len(t, journal.inserted, 1)
	assert.Len(t, bus.published[TradeChannel(feedPair)], 1)
	assert.Len(t, bus.streamed[TradeStream(feedPair)], 1)

	var evt map[string]any
	require.NoError(t, json.Unmarshal(bus.published[TradeChannel(feedPair)][0], &evt))
	assert.Equal(t, "trade", evt["event"])
	assert.Equal(t, "buy", evt["direction"])
	assert.Equal(t, "rHolder", evt["counterparty"])
}

func TestPublishTradesJournalFailureSurfaces(t *testing.T) {
	svc := newFeedService(nil, &memBus{}, &memJournal{err: domain.ErrConnection})

	err := svc.PublishTrades(context.Background(), feedPair, testTrades())
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestPublishWithAllBackendsDisabled(t *testing.T) {
	svc := newFeedService(nil, nil, nil)

	assert.NoError(t, svc.PublishSnapshot(context.Background(), testSnapshot()))
	assert.NoError(t, svc.PublishTrades(context.Background(), feedPair, testTrades()))
	assert.NoError(t, svc.PublishTrades(context.Background(), feedPair, nil))
}
