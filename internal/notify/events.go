package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// eventSendTimeout bounds one fire-and-forget delivery.
const eventSendTimeout = 10 * time.Second

// statusChannel carries operational events to bus subscribers, alongside
// the per-pair book and trade channels.
const statusChannel = "ch:status"

// FeedEvents turns feed lifecycle events into operator notifications,
// status-channel bus events, and audit entries. It satisfies the tracker's
// event sink. Delivery is asynchronous: these methods are called from
// connection and poll goroutines and must not block them.
type FeedEvents struct {
	notifier *Notifier
	audit    domain.AuditStore
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewFeedEvents creates a FeedEvents. audit and bus may be nil.
func NewFeedEvents(notifier *Notifier, audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *FeedEvents {
	return &FeedEvents{
		notifier: notifier,
		audit:    audit,
		bus:      bus,
		logger:   logger.With(slog.String("component", "feed_events")),
	}
}

// EndpointFailover reports that a pair's connection rotated to another
// ledger endpoint.
func (e *FeedEvents) EndpointFailover(pair domain.Pair, from, to string) {
	e.emit("endpoint_failover",
		"Ledger endpoint failover",
		fmt.Sprintf("%s rotated from %s to %s", pair, from, to),
		map[string]any{"pair": pair.String(), "from": from, "to": to})
}

// PairStalled reports that a pair's book or tape refresh has failed
// repeatedly and the feed is serving stale state.
func (e *FeedEvents) PairStalled(pair domain.Pair, component string, consecutive int) {
	e.emit("pair_stalled",
		"Pair feed stalled",
		fmt.Sprintf("%s %s failed %d consecutive refreshes", pair, component, consecutive),
		map[string]any{"pair": pair.String(), "component": component, "consecutive": consecutive})
}

// ArchiveCompleted reports a finished archive sweep.
func (e *FeedEvents) ArchiveCompleted(cutoff time.Time, archived, deleted int64) {
	e.emit("archive_completed",
		"Trade archive completed",
		fmt.Sprintf("archived %d trades before %s, purged %d journal rows",
			archived, cutoff.Format(time.RFC3339), deleted),
		map[string]any{
			"cutoff":   cutoff.Format(time.RFC3339),
			"archived": archived,
			"deleted":  deleted,
		})
}

func (e *FeedEvents) emit(event, title, message string, payload map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventSendTimeout)
		defer cancel()

		// Per-sender failures are logged inside the notifier.
		_ = e.notifier.Notify(ctx, event, title, message)

		if e.bus != nil {
			evt := make(map[string]any, len(payload)+1)
			for k, v := range payload {
				evt[k] = v
			}
			evt["event"] = event
			blob, _ := json.Marshal(evt)
			if err := e.bus.Publish(ctx, statusChannel, blob); err != nil {
				e.logger.WarnContext(ctx, "status publish failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}

		if e.audit != nil {
			if err := e.audit.Log(ctx, event, payload); err != nil {
				e.logger.WarnContext(ctx, "audit log failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}
