package xrpl

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
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

// newWSServer runs a WebSocket server that feeds each inbound request to
// handler. Handlers reply on the same connection.
func newWSServer(t *testing.T, handler func(conn *websocket.Conn, req map[string]any)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			handler(conn, req)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// deadEndpoint returns a loopback URL with nothing listening on it.
func deadEndpoint(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	return "ws://" + addr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, endpoints ...string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Endpoints:      endpoints,
		RequestTimeout: 2 * time.Second,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientCallRoundTrip(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, req map[string]any) {
		assert.Equal(t, "server_info", req["command"])
		_ = conn.WriteJSON(map[string]any{
			"id":     req["id"],
			"type":   "response",
			"status": "success",
			"result": map[string]any{"hostid": "TEST"},
		})
	})

	c := newTestClient(t, wsURL(srv))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, wsURL(srv), c.Endpoint())

	raw, err := c.Call(context.Background(), "server_info", nil)
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "TEST", result["hostid"])
}

func TestClientServerErrorMapsToSentinel(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, req map[string]any) {
		_ = conn.WriteJSON(map[string]any{
			"id":            req["id"],
			"type":          "response",
			"status":        "error",
			"error":         "actNotFound",
			"error_message": "Account not found.",
		})
	})

	c := newTestClient(t, wsURL(srv))
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Call(context.Background(), "account_tx", AccountTxRequest{Account: "rMissing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClientFailoverSkipsDeadEndpoint(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, req map[string]any) {
		_ = conn.WriteJSON(map[string]any{
			"id":     req["id"],
			"type":   "response",
			"status": "success",
			"result": map[string]any{},
		})
	})

	c := newTestClient(t, deadEndpoint(t), wsURL(srv))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, wsURL(srv), c.Endpoint())

	_, err := c.Call(context.Background(), "ping", nil)
	assert.NoError(t, err)
}

func TestClientAllEndpointsDown(t *testing.T) {
	c := newTestClient(t, deadEndpoint(t), deadEndpoint(t))

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnection)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientRequestTimeout(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, req map[string]any) {
		// Never reply.
	})

	c, err := NewClient(Config{
		Endpoints:      []string{wsURL(srv)},
		RequestTimeout: 100 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(context.Background()))

	_, err = c.Call(context.Background(), "book_offers", nil)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestClientStreamDispatch(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, req map[string]any) {
		// Confirm the subscription, then push one stream message.
		_ = conn.WriteJSON(map[string]any{
			"id":     req["id"],
			"type":   "response",
			"status": "success",
			"result": map[string]any{},
		})
		_ = conn.WriteJSON(map[string]any{
			"type":          "transaction",
			"validated":     true,
			"engine_result": "tesSUCCESS",
			"transaction":   map[string]any{"hash": "DEADBEEF"},
		})
	})

	c := newTestClient(t, wsURL(srv))

	got := make(chan string, 1)
	c.OnStream(func(msgType string, payload json.RawMessage) {
		if msgType != "transaction" {
			return
		}
		var st StreamTransaction
		if err := json.Unmarshal(payload, &st); err == nil {
			got <- st.Transaction.Hash
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Subscribe(context.Background(), SubscribeRequest{Accounts: []string{"rIssuer"}}))

	select {
	case hash := <-got:
		assert.Equal(t, "DEADBEEF", hash)
	case <-time.After(2 * time.Second):
		t.Fatal("stream message not dispatched")
	}
}

func TestClientCallAfterClose(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, req map[string]any) {})

	c := newTestClient(t, wsURL(srv))
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())

	_, err := c.Call(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestNewClientRequiresEndpoints(t *testing.T) {
	_, err := NewClient(Config{}, testLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
