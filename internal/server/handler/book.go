package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// BookHandler serves order book snapshots.
type BookHandler struct {
	tracker FeedTracker
	cache   domain.BookCache
	logger  *slog.Logger
}

// NewBookHandler creates a BookHandler. cache may be nil; when present it
// backs the response for pairs whose first poll has not landed yet.
func NewBookHandler(tracker FeedTracker, cache domain.BookCache, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		tracker: tracker,
		cache:   cache,
		logger:  logHandler(logger, "book"),
	}
}

// GetBook responds with the latest snapshot for a tracked pair. A tracked
// pair that has not completed a poll yet yields 200 with empty ladders, or
// the cached copy from a previous process if one survives. Untracked pairs
// yield 404.
// GET /api/pairs/{pair}/book
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	pair, err := parsePairParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	snap, err := h.tracker.Snapshot(pair)
	if err == nil {
		writeJSON(w, http.StatusOK, renderBook(snap))
		return
	}
	if !errors.Is(err, domain.ErrEmptyResult) {
		writeDomainError(w, err)
		return
	}

	if h.cache != nil {
		cached, cerr := h.cache.GetSnapshot(r.Context(), pair)
		if cerr == nil {
			writeJSON(w, http.StatusOK, renderBook(&cached))
			return
		}
		if !errors.Is(cerr, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "book cache lookup failed",
				slog.String("pair", pair.String()),
				slog.String("error", cerr.Error()))
		}
	}

	writeJSON(w, http.StatusOK, renderBook(&domain.OrderBookSnapshot{Pair: pair}))
}
