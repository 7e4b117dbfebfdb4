package handler

import (
	"log/slog"
	"net/http"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// TradesHandler serves the in-memory trade tape.
type TradesHandler struct {
	tracker FeedTracker
	logger  *slog.Logger
}

// NewTradesHandler creates a TradesHandler.
func NewTradesHandler(tracker FeedTracker, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{
		tracker: tracker,
		logger:  logHandler(logger, "trades"),
	}
}

// GetTrades responds with a pair's tape, newest first. Optional query
// parameters: counterparty (exact account match) and limit.
// GET /api/pairs/{pair}/trades?counterparty=rXXX&limit=N
func (h *TradesHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	pair, err := parsePairParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	counterparty := r.URL.Query().Get("counterparty")
	opts := parseListOpts(r)

	trades, err := h.tracker.Trades(pair, counterparty, opts.Limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tradesResponse(pair, trades))
}

func tradesResponse(pair domain.Pair, trades []domain.Trade) map[string]any {
	rendered := renderTrades(trades)
	return map[string]any{
		"pair":   pair.String(),
		"trades": rendered,
		"count":  len(rendered),
	}
}
