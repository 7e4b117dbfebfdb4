package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/seanmx/xrpldexfeed/internal/book"
	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/feed"
	"github.com/seanmx/xrpldexfeed/internal/platform/xrpl"
	"github.com/seanmx/xrpldexfeed/internal/tape"
)

// ClientFactory builds a per-pair ledger client. Each tracked pair gets its
// own connection so a deep fetch for one pair cannot starve another.
type ClientFactory func() (*xrpl.Client, error)

// EventSink receives operational events worth surfacing beyond the logs.
type EventSink interface {
	EndpointFailover(pair domain.Pair, from, to string)
	PairStalled(pair domain.Pair, component string, consecutive int)
}

// TrackerConfig assembles the per-pair machinery.
type TrackerConfig struct {
	// Pairs tracked at startup. More can be added at runtime.
	Pairs []domain.Pair

	Poll      PollerConfig
	BookPages book.FetcherConfig
	TapePages tape.FetcherConfig
	Filters   book.Filters
	Decoder   tape.DecoderConfig

	// TapeCapacity bounds each pair's trade buffer.
	TapeCapacity int

	// Streaming additionally subscribes to live issuer transactions, so
	// trades land between polls. The tape dedup makes the double delivery
	// harmless.
	Streaming bool
}

// Tracker owns the lifecycle of tracked pairs: one connection, one poller,
// and one goroutine per pair. Tearing a pair down cancels its session;
// whatever its in-flight requests return afterwards is discarded, so no
// stale data from a dropped pair can reach a new one.
type Tracker struct {
	cfg       TrackerConfig
	newClient ClientFactory
	sink      SnapshotSink
	events    EventSink
	logger    *slog.Logger

	mu       sync.Mutex
	runCtx   context.Context
	sessions map[string]*session
}

type session struct {
	pair    domain.Pair
	client  *xrpl.Client
	poller  *Poller
	decoder *tape.Decoder
	tape    *tape.Tape
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTracker creates a tracker. sink and events may be nil.
func NewTracker(newClient ClientFactory, sink SnapshotSink, events EventSink, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	return &Tracker{
		cfg:       cfg,
		newClient: newClient,
		sink:      sink,
		events:    events,
		logger:    logger.With(slog.String("component", "tracker")),
		sessions:  make(map[string]*session),
	}
}

// Run tracks the configured pairs and blocks until ctx is canceled, then
// waits for every session to drain.
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.Lock()
	t.runCtx = ctx
	t.mu.Unlock()

	for _, pair := range t.cfg.Pairs {
		if err := t.Track(pair); err != nil {
			t.logger.Error("pipeline: cannot track configured pair",
				slog.String("pair", pair.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	<-ctx.Done()

	t.mu.Lock()
	draining := make([]*session, 0, len(t.sessions))
	for _, sess := range t.sessions {
		draining = append(draining, sess)
	}
	t.sessions = make(map[string]*session)
	t.mu.Unlock()

	for _, sess := range draining {
		<-sess.done
	}
	t.logger.Info("pipeline: tracker stopped")
	return nil
}

// Track starts a session for the pair. Tracking an already-tracked pair is
// a no-op.
func (t *Tracker) Track(pair domain.Pair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runCtx == nil || t.runCtx.Err() != nil {
		return fmt.Errorf("pipeline: tracker not running: %w", domain.ErrConnection)
	}
	key := pair.String()
	if _, exists := t.sessions[key]; exists {
		return nil
	}

	client, err := t.newClient()
	if err != nil {
		return fmt.Errorf("pipeline: build client for %s: %w", key, err)
	}

	books := book.NewFetcher(client, t.cfg.BookPages, t.logger)
	history := tape.NewFetcher(client, t.cfg.TapePages, t.logger)
	agg := book.NewAggregator(t.cfg.Filters)
	decoder := tape.NewDecoder(t.cfg.Decoder, t.logger)
	tp := tape.NewTape(t.cfg.TapeCapacity)

	var onStall StallFunc
	if t.events != nil {
		events := t.events
		onStall = func(component string, consecutive int) {
			events.PairStalled(pair, component, consecutive)
		}
		client.OnFailover(func(from, to string) {
			events.EndpointFailover(pair, from, to)
		})
	}

	poller := NewPoller(pair, books, history, agg, decoder, tp, t.sink, onStall, t.cfg.Poll, t.logger)

	sctx, cancel := context.WithCancel(t.runCtx)
	sess := &session{
		pair:    pair,
		client:  client,
		poller:  poller,
		decoder: decoder,
		tape:    tp,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	t.sessions[key] = sess

	go t.runSession(sctx, sess)

	t.logger.Info("pipeline: tracking pair", slog.String("pair", key))
	return nil
}

// Untrack tears a pair's session down. In-flight work is canceled and its
// results are discarded.
func (t *Tracker) Untrack(pair domain.Pair) error {
	t.mu.Lock()
	sess, ok := t.sessions[pair.String()]
	if ok {
		delete(t.sessions, pair.String())
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("pipeline: pair %s: %w", pair, domain.ErrNotTracked)
	}

	sess.cancel()
	t.logger.Info("pipeline: untracked pair", slog.String("pair", pair.String()))
	return nil
}

// Refresh requests an immediate out-of-band cycle for the pair.
func (t *Tracker) Refresh(pair domain.Pair) error {
	sess, err := t.lookup(pair)
	if err != nil {
		return err
	}
	sess.poller.Refresh()
	return nil
}

// Pairs returns the tracked pairs, sorted by key.
func (t *Tracker) Pairs() []domain.Pair {
	t.mu.Lock()
	defer t.mu.Unlock()

	pairs := make([]domain.Pair, 0, len(t.sessions))
	for _, sess := range t.sessions {
		pairs = append(pairs, sess.pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// Snapshot returns the latest book snapshot for a tracked pair. Before the
// first successful refresh the snapshot is an empty result, not a failure.
func (t *Tracker) Snapshot(pair domain.Pair) (*domain.OrderBookSnapshot, error) {
	sess, err := t.lookup(pair)
	if err != nil {
		return nil, err
	}
	snap := sess.poller.Snapshot()
	if snap == nil {
		return nil, fmt.Errorf("pipeline: no snapshot yet for %s: %w", pair, domain.ErrEmptyResult)
	}
	return snap, nil
}

// Trades returns a pair's tape, newest first, optionally filtered by
// counterparty and truncated to limit.
func (t *Tracker) Trades(pair domain.Pair, counterparty string, limit int) ([]domain.Trade, error) {
	sess, err := t.lookup(pair)
	if err != nil {
		return nil, err
	}
	trades := sess.poller.Trades(counterparty)
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return trades, nil
}

// PairStatus is one tracked pair's health summary.
type PairStatus struct {
	Pair      domain.Pair
	ConnState string
	Endpoint  string
	BookAsOf  time.Time
	AskLevels int
	BidLevels int
	TapeSize  int
}

// Status reports every tracked pair, sorted by key.
func (t *Tracker) Status() []PairStatus {
	t.mu.Lock()
	sessions := make([]*session, 0, len(t.sessions))
	for _, sess := range t.sessions {
		sessions = append(sessions, sess)
	}
	t.mu.Unlock()

	statuses := make([]PairStatus, 0, len(sessions))
	for _, sess := range sessions {
		st := PairStatus{
			Pair:      sess.pair,
			ConnState: sess.client.State().String(),
			Endpoint:  sess.client.Endpoint(),
			TapeSize:  sess.poller.TapeLen(),
		}
		if snap := sess.poller.Snapshot(); snap != nil {
			st.BookAsOf = snap.AsOf
			st.AskLevels = len(snap.Asks)
			st.BidLevels = len(snap.Bids)
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Pair.String() < statuses[j].Pair.String()
	})
	return statuses
}

// lookup finds a live session.
func (t *Tracker) lookup(pair domain.Pair) (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[pair.String()]
	if !ok {
		return nil, fmt.Errorf("pipeline: pair %s: %w", pair, domain.ErrNotTracked)
	}
	return sess, nil
}

// runSession connects the pair's client, optionally attaches the live
// stream, and drives the poller until the session context ends.
func (t *Tracker) runSession(ctx context.Context, sess *session) {
	defer close(sess.done)
	defer sess.client.Close()

	if err := sess.client.Connect(ctx); err != nil {
		t.logger.Warn("pipeline: initial connect failed, poller will retry",
			slog.String("pair", sess.pair.String()),
			slog.String("error", err.Error()),
		)
	}

	if t.cfg.Streaming {
		t.attachStream(ctx, sess)
	}

	_ = sess.poller.Run(ctx)
}

// attachStream subscribes the session to live issuer transactions. Failure
// is non-fatal: polling alone still keeps the tape fresh.
func (t *Tracker) attachStream(ctx context.Context, sess *session) {
	issued, ok := sess.pair.IssuedLeg()
	if !ok {
		return
	}

	poller := sess.poller
	stream := feed.NewLedgerStream(feed.StreamConfig{
		Client:  sess.client,
		Decoder: sess.decoder,
		Tape:    sess.tape,
		Pair:    sess.pair,
		Asset:   issued,
		Sink:    t.sink,
		BestPrice: func() float64 {
			if snap := poller.Snapshot(); snap != nil {
				if ask, ok := snap.BestAsk(); ok {
					return ask.Price
				}
			}
			return 0
		},
		PriceHint: t.cfg.Poll.PriceHint,
	}, t.logger)

	if err := stream.Attach(ctx); err != nil {
		t.logger.Warn("pipeline: live stream unavailable, relying on polling",
			slog.String("pair", sess.pair.String()),
			slog.String("error", err.Error()),
		)
	}
}
