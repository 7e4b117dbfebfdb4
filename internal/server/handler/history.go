package handler

import (
	"log/slog"
	"net/http"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// HistoryHandler serves journaled trades from Postgres. The endpoint is
// only registered when the journal is wired, so the tape's in-memory cap
// stops being the horizon for API consumers.
type HistoryHandler struct {
	journal domain.TradeJournal
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(journal domain.TradeJournal, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		journal: journal,
		logger:  logHandler(logger, "history"),
	}
}

// GetHistory responds with journaled trades for a pair, newest first.
// GET /api/pairs/{pair}/history?limit=N&offset=M
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	pair, err := parsePairParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	opts := parseListOpts(r)
	trades, err := h.journal.ListRecent(r.Context(), pair, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "journal query failed",
			slog.String("pair", pair.String()),
			slog.String("error", err.Error()))
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pair":   pair.String(),
		"trades": renderTrades(trades),
		"count":  len(trades),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
