package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/seanmx/xrpldexfeed/internal/domain"
	"github.com/seanmx/xrpldexfeed/internal/pipeline"
)

// FeedTracker is the slice of the pipeline tracker the API exposes.
type FeedTracker interface {
	Track(pair domain.Pair) error
	Untrack(pair domain.Pair) error
	Refresh(pair domain.Pair) error
	Status() []pipeline.PairStatus
	Snapshot(pair domain.Pair) (*domain.OrderBookSnapshot, error)
	Trades(pair domain.Pair, counterparty string, limit int) ([]domain.Trade, error)
}

// PairsHandler manages the tracked-pair set over HTTP.
type PairsHandler struct {
	tracker FeedTracker
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewPairsHandler creates a PairsHandler. audit may be nil.
func NewPairsHandler(tracker FeedTracker, audit domain.AuditStore, logger *slog.Logger) *PairsHandler {
	return &PairsHandler{
		tracker: tracker,
		audit:   audit,
		logger:  logHandler(logger, "pairs"),
	}
}

// ListPairs responds with every tracked pair and its feed state.
// GET /api/pairs
func (h *PairsHandler) ListPairs(w http.ResponseWriter, r *http.Request) {
	statuses := h.tracker.Status()
	out := make([]pairStatusJSON, len(statuses))
	for i, st := range statuses {
		out[i] = renderPairStatus(st)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pairs": out,
		"count": len(out),
	})
}

// TrackPair starts tracking a new pair.
// POST /api/pairs  body: {"base":"TOK.rIssuer","quote":"XRP"}
func (h *PairsHandler) TrackPair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Base  string `json:"base"`
		Quote string `json:"quote"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	base, err := domain.ParseAsset(req.Base)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	quote, err := domain.ParseAsset(req.Quote)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	pair := domain.Pair{Base: base, Quote: quote}

	if err := h.tracker.Track(pair); err != nil {
		writeDomainError(w, err)
		return
	}

	h.auditLog(r.Context(), "pair.tracked", pair)
	writeJSON(w, http.StatusCreated, map[string]string{"pair": pair.String()})
}

// UntrackPair stops tracking a pair and tears its feed down.
// DELETE /api/pairs/{pair}
func (h *PairsHandler) UntrackPair(w http.ResponseWriter, r *http.Request) {
	pair, err := parsePairParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.tracker.Untrack(pair); err != nil {
		writeDomainError(w, err)
		return
	}

	h.auditLog(r.Context(), "pair.untracked", pair)
	w.WriteHeader(http.StatusNoContent)
}

// RefreshPair nudges the pair's poller to run a cycle now.
// POST /api/pairs/{pair}/refresh
func (h *PairsHandler) RefreshPair(w http.ResponseWriter, r *http.Request) {
	pair, err := parsePairParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.tracker.Refresh(pair); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"pair":   pair.String(),
		"status": "refresh scheduled",
	})
}

func (h *PairsHandler) auditLog(ctx context.Context, event string, pair domain.Pair) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(ctx, event, map[string]any{"pair": pair.String()}); err != nil {
		h.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

func renderPairStatus(st pipeline.PairStatus) pairStatusJSON {
	return pairStatusJSON{
		Pair:      st.Pair.String(),
		ConnState: st.ConnState,
		Endpoint:  st.Endpoint,
		BookAsOf:  renderTime(st.BookAsOf),
		AskLevels: st.AskLevels,
		BidLevels: st.BidLevels,
		TapeSize:  st.TapeSize,
	}
}
