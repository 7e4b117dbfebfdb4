package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

// fakeBus hands out pre-made buffered channels per subscription so tests can
// push deliveries without racing the hub's subscribe goroutines.
type fakeBus struct {
	channels map[string]chan domain.BusMessage
}

func newFakeBus(patterns ...string) *fakeBus {
	chans := make(map[string]chan domain.BusMessage, len(patterns))
	for _, p := range patterns {
		chans[p] = make(chan domain.BusMessage, 16)
	}
	return &fakeBus{channels: chans}
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (f *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan domain.BusMessage, error) {
	ch, ok := f.channels[channel]
	if !ok {
		ch = make(chan domain.BusMessage, 16)
		f.channels[channel] = ch
	}
	return ch, nil
}

func (f *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error { return nil }

func (f *fakeBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (f *fakeBus) push(channel string, msg domain.BusMessage) {
	f.channels[channel] <- msg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHubSendsFeedStatusOnConnect(t *testing.T) {
	bus := newFakeBus(defaultChannels...)
	hub := NewHub(bus, quietLogger(), Config{Mode: "Feed", StartedAt: time.Now().Add(-time.Minute)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	frame := readFrame(t, conn)

	assert.Equal(t, "feed_status", frame["type"])
	payload := frame["payload"].(map[string]any)
	assert.Equal(t, "feed", payload["mode"])
	assert.Equal(t, true, payload["ws_connected"])
	assert.GreaterOrEqual(t, payload["uptime_seconds"].(float64), float64(59))
}

func TestHubFansOutBusMessages(t *testing.T) {
	bus := newFakeBus(defaultChannels...)
	hub := NewHub(bus, quietLogger(), Config{Mode: "feed"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	readFrame(t, conn) // feed_status

	bus.push("ch:book:*", domain.BusMessage{
		Channel: "ch:book:TOK.rIssuer-XRP",
		Payload: []byte(`{"pair":"TOK.rIssuer-XRP","best_ask":0.52}`),
	})

	frame := readFrame(t, conn)
	assert.Equal(t, "ch:book:TOK.rIssuer-XRP", frame["channel"])
	payload := frame["payload"].(map[string]any)
	assert.Equal(t, "TOK.rIssuer-XRP", payload["pair"])
	assert.InDelta(t, 0.52, payload["best_ask"], 1e-9)
}

func TestHubRoutesStatusChannel(t *testing.T) {
	bus := newFakeBus(defaultChannels...)
	hub := NewHub(bus, quietLogger(), Config{Mode: "feed"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dialHub(t, hub)
	readFrame(t, conn) // feed_status

	bus.push("ch:status", domain.BusMessage{
		Channel: "ch:status",
		Payload: []byte(`{"event":"endpoint_failover"}`),
	})

	frame := readFrame(t, conn)
	assert.Equal(t, "ch:status", frame["channel"])
}

func TestIsSubscribed(t *testing.T) {
	cases := []struct {
		name    string
		subs    []string
		channel string
		want    bool
	}{
		{"direct match", []string{"ch:status"}, "ch:status", true},
		{"wildcard match", []string{"ch:book:*"}, "ch:book:TOK.rIssuer-XRP", true},
		{"wildcard wrong prefix", []string{"ch:book:*"}, "ch:trades:TOK.rIssuer-XRP", false},
		{"no subscription", []string{"ch:trades:*"}, "ch:status", false},
		{"concrete pair only", []string{"ch:book:TOK.rIssuer-XRP"}, "ch:book:OTHER.rElse-XRP", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &client{subs: make(map[string]bool)}
			for _, s := range tc.subs {
				c.subs[s] = true
			}
			assert.Equal(t, tc.want, c.isSubscribed(tc.channel))
		})
	}
}

func TestHandleSubscriptionNarrowsSet(t *testing.T) {
	c := &client{subs: map[string]bool{
		"ch:book:*":   true,
		"ch:trades:*": true,
		"ch:status":   true,
	}}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:trades:*", "ch:book:*"}})
	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"ch:book:TOK.rIssuer-XRP"}})

	assert.True(t, c.isSubscribed("ch:book:TOK.rIssuer-XRP"))
	assert.True(t, c.isSubscribed("ch:status"))
	assert.False(t, c.isSubscribed("ch:book:OTHER.rElse-XRP"))
	assert.False(t, c.isSubscribed("ch:trades:TOK.rIssuer-XRP"))
}
