package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

type captureSender struct {
	mu       sync.Mutex
	name     string
	err      error
	titles   []string
	messages []string
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.titles = append(c.titles, title)
	c.messages = append(c.messages, message)
	return nil
}

func (c *captureSender) Name() string { return c.name }

func (c *captureSender) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.titles)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersByEventType(t *testing.T) {
	sender := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{sender}, []string{"pair_stalled"}, quietLogger())

	require.NoError(t, n.Notify(context.Background(), "endpoint_failover", "Failover", "rotated"))
	assert.Zero(t, sender.sent(), "filtered event reached the sender")

	require.NoError(t, n.Notify(context.Background(), "pair_stalled", "Stalled", "5 failures"))
	assert.Equal(t, 1, sender.sent())
	assert.Equal(t, []string{"Stalled"}, sender.titles)
}

func TestNotifierEmptyAllowlistPassesEverything(t *testing.T) {
	sender := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{sender}, nil, quietLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "T", "m"))
	assert.Equal(t, 1, sender.sent())
}

func TestNotifierIsolatesSenderFailures(t *testing.T) {
	broken := &captureSender{name: "broken", err: errors.New("webhook gone")}
	healthy := &captureSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, quietLogger())

	err := n.Notify(context.Background(), "pair_stalled", "Stalled", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 1, healthy.sent(), "healthy sender skipped after a failure")
}

func TestNotifierNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, quietLogger())
	assert.NoError(t, n.Notify(context.Background(), "pair_stalled", "T", "m"))
}

func TestDiscordSenderPostsWebhook(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "Pair feed stalled", "details"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "**Pair feed stalled**\ndetails", body["content"])
}

func TestDiscordSenderRejectedWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid webhook token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "T", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

type captureAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *captureAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *captureAudit) logged() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

type captureBus struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func (b *captureBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *captureBus) Subscribe(context.Context, string) (<-chan domain.BusMessage, error) {
	ch := make(chan domain.BusMessage)
	close(ch)
	return ch, nil
}

func (b *captureBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *captureBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *captureBus) statusEvents() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published["ch:status"]...)
}

func TestFeedEventsDeliversAsync(t *testing.T) {
	sender := &captureSender{name: "capture"}
	audit := &captureAudit{}
	bus := &captureBus{}
	events := NewFeedEvents(NewNotifier([]Sender{sender}, nil, quietLogger()), audit, bus, quietLogger())

	pair := domain.Pair{
		Base:  domain.Asset{Currency: "TOK", Issuer: "rIssuer"},
		Quote: domain.Asset{Currency: "XRP"},
	}

	events.PairStalled(pair, "book", 5)
	events.EndpointFailover(pair, "wss://a.example", "wss://b.example")
	events.ArchiveCompleted(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), 12, 12)

	require.Eventually(t, func() bool {
		return sender.sent() == 3 && len(audit.logged()) == 3 && len(bus.statusEvents()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t,
		[]string{"endpoint_failover", "pair_stalled", "archive_completed"},
		audit.logged())

	var kinds []string
	for _, blob := range bus.statusEvents() {
		var evt map[string]any
		require.NoError(t, json.Unmarshal(blob, &evt))
		kinds = append(kinds, evt["event"].(string))
	}
	assert.ElementsMatch(t,
		[]string{"endpoint_failover", "pair_stalled", "archive_completed"}, kinds)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	joined := strings.Join(sender.messages, "\n")
	assert.Contains(t, joined, "TOK.rIssuer-XRP")
	assert.Contains(t, joined, "wss://b.example")
	assert.Contains(t, joined, "archived 12 trades")
}

func TestFeedEventsWithoutBackends(t *testing.T) {
	sender := &captureSender{name: "capture"}
	events := NewFeedEvents(NewNotifier([]Sender{sender}, nil, quietLogger()), nil, nil, quietLogger())

	events.PairStalled(domain.Pair{
		Base:  domain.Asset{Currency: "TOK", Issuer: "rIssuer"},
		Quote: domain.Asset{Currency: "XRP"},
	}, "tape", 5)

	require.Eventually(t, func() bool {
		return sender.sent() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
