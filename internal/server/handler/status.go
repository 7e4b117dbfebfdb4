package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the backend status (mode, uptime, tracked pairs)
// for the terminal dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	tracker   FeedTracker
}

// NewStatusHandler creates a StatusHandler. tracker may be nil in modes
// that run no feed.
func NewStatusHandler(mode string, startedAt time.Time, tracker FeedTracker) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, tracker: tracker}
}

// GetStatus responds with the current mode, uptime and per-pair feed state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.tracker != nil {
		statuses := h.tracker.Status()
		pairs := make([]pairStatusJSON, len(statuses))
		for i, st := range statuses {
			pairs[i] = renderPairStatus(st)
		}
		out["pairs"] = pairs
	}
	writeJSON(w, http.StatusOK, out)
}
