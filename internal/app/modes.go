package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seanmx/xrpldexfeed/internal/book"
	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/pipeline"
	"github.com/seanmx/xrpldexfeed/internal/platform/xrpl"
	"github.com/seanmx/xrpldexfeed/internal/server"
	"github.com/seanmx/xrpldexfeed/internal/server/handler"
	"github.com/seanmx/xrpldexfeed/internal/server/ws"
	"github.com/seanmx/xrpldexfeed/internal/service"
	"github.com/seanmx/xrpldexfeed/internal/tape"
)

// FeedMode runs the live aggregation pipeline: one tracker session per
// configured pair, the REST and WebSocket surface when the server is
// enabled, and a periodic archive sweep when cold storage is wired. It
// blocks until the context is cancelled or a component fails.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	pairs, err := parsePairs(a.cfg.Feed.Pairs)
	if err != nil {
		return fmt.Errorf("feed mode: %w", err)
	}

	feedSvc := service.NewFeedService(
		deps.BookCache,
		deps.SignalBus,
		deps.TradeJournal,
		deps.AuditStore,
		a.logger,
	)

	xrplCfg := xrpl.Config{
		Endpoints:        a.cfg.XRPL.Endpoints,
		RequestTimeout:   a.cfg.XRPL.RequestTimeout.Duration,
		HandshakeTimeout: a.cfg.XRPL.HandshakeTimeout.Duration,
	}
	newClient := func() (*xrpl.Client, error) {
		return xrpl.NewClient(xrplCfg, a.logger)
	}

	tracker := pipeline.NewTracker(newClient, feedSvc, deps.FeedEvents, pipeline.TrackerConfig{
		Pairs: pairs,
		Poll: pipeline.PollerConfig{
			Interval:   a.cfg.Feed.PollInterval.Duration,
			StallAfter: a.cfg.Feed.StallAfter,
		},
		BookPages: book.FetcherConfig{
			PageCap:  a.cfg.Feed.PageCap,
			PageSize: a.cfg.Feed.PageSize,
		},
		TapePages: tape.FetcherConfig{
			PageCap:  a.cfg.Feed.PageCap,
			PageSize: a.cfg.Feed.PageSize,
		},
		Filters: book.Filters{
			DustMinQuote:   a.cfg.Feed.DustMinQuote,
			BidMaxBaseSize: a.cfg.Feed.BidMaxBaseSize,
		},
		Decoder:      tape.DecoderConfig{Materiality: a.cfg.Feed.Materiality},
		TapeCapacity: a.cfg.Feed.TapeCapacity,
		Streaming:    a.cfg.Feed.Streaming,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return tracker.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, tracker)
	}

	a.startArchiveLoop(ctx, g, deps)

	a.logger.InfoContext(ctx, "feed mode started",
		slog.Int("pairs", len(pairs)),
		slog.Bool("server", a.cfg.Server.Enabled),
		slog.Bool("streaming", a.cfg.Feed.Streaming),
	)

	return g.Wait()
}

// ArchiveMode runs a single archive sweep and exits. It suits cron style
// scheduling next to a long-lived feed process; the sweep lock keeps the
// two from uploading the same rows twice.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	svc := service.NewArchiveService(deps.Archiver, deps.TradeJournal, deps.LockManager, a.logger)
	cutoff := time.Now().UTC().Add(-a.cfg.Archive.Cutoff.Duration)

	res, err := svc.Run(ctx, cutoff)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive sweep already running elsewhere, nothing to do")
			return nil
		}
		return fmt.Errorf("archive mode: %w", err)
	}

	if res.Archived > 0 {
		deps.FeedEvents.ArchiveCompleted(res.Cutoff, res.Archived, res.Deleted)
	}
	a.logger.InfoContext(ctx, "archive sweep finished",
		slog.Time("cutoff", res.Cutoff),
		slog.Int64("archived", res.Archived),
		slog.Int64("deleted", res.Deleted),
	)
	return nil
}

// startHTTPServer adds the REST and WebSocket surface to the errgroup and
// shuts it down when the context is cancelled. Routes degrade with the
// wired backends: without Redis there is no hub, without Postgres no
// history endpoint.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, tracker *pipeline.Tracker) {
	startedAt := time.Now().UTC()

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: startedAt,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, startedAt, tracker),
		Pairs:  handler.NewPairsHandler(tracker, deps.AuditStore, a.logger),
		Book:   handler.NewBookHandler(tracker, deps.BookCache, a.logger),
		Trades: handler.NewTradesHandler(tracker, a.logger),
	}
	if deps.TradeJournal != nil {
		handlers.History = handler.NewHistoryHandler(deps.TradeJournal, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, deps.RateLimiter, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "http server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "http server shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveLoop schedules periodic archive sweeps inside the feed
// process. A sweep runs once at startup and then on every interval tick.
// No-op unless cold storage and the journal are wired.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil || deps.TradeJournal == nil {
		return
	}

	svc := service.NewArchiveService(deps.Archiver, deps.TradeJournal, deps.LockManager, a.logger)
	interval := a.cfg.Archive.Interval.Duration
	cutoffAge := a.cfg.Archive.Cutoff.Duration

	g.Go(func() error {
		run := func() {
			res, err := svc.Run(ctx, time.Now().UTC().Add(-cutoffAge))
			switch {
			case errors.Is(err, domain.ErrLockHeld):
				a.logger.InfoContext(ctx, "archive sweep skipped, lock held elsewhere")
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				a.logger.ErrorContext(ctx, "archive sweep failed",
					slog.String("error", err.Error()))
			case res.Archived > 0:
				deps.FeedEvents.ArchiveCompleted(res.Cutoff, res.Archived, res.Deleted)
			}
		}

		run()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				run()
			}
		}
	})

	a.logger.Info("archive loop scheduled",
		slog.Duration("interval", interval),
		slog.Duration("cutoff_age", cutoffAge),
	)
}

func parsePairs(raw []string) ([]domain.Pair, error) {
	pairs := make([]domain.Pair, 0, len(raw))
	for _, s := range raw {
		p, err := domain.ParsePair(s)
		if err != nil {
			return nil, fmt.Errorf("pair %q: %w", s, err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}
