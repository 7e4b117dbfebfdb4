// Package xrpl implements a client for the XRPL WebSocket API. It owns one
// connection selected from an ordered candidate list, correlates JSON-RPC
// requests with responses, keeps the socket alive, rotates endpoints on
// failure, and dispatches server-pushed stream messages to registered
// handlers.
package xrpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seanmx/xrpldexfeed/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames. Book pages at the configured limit
	// stay well under a mebibyte.
	maxMessageSize = 1 << 20

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// defaultRequestTimeout bounds a single request/response round trip when
	// the config does not override it.
	defaultRequestTimeout = 6 * time.Second

	// defaultHandshakeTimeout bounds the WebSocket handshake per candidate
	// endpoint.
	defaultHandshakeTimeout = 15 * time.Second
)

// ConnState is the connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StreamHandler consumes server-pushed messages that carry no request id
// (subscription streams). msgType is the envelope "type" field.
type StreamHandler func(msgType string, payload json.RawMessage)

// FailoverHandler is notified after the client settles on a different
// endpoint than the one it was using.
type FailoverHandler func(from, to string)

// Config holds the connection parameters for the client.
type Config struct {
	// Endpoints are candidate WebSocket URLs in preference order, e.g.
	// "wss://s1.ripple.com:51233". The first to complete a handshake wins
	// the session.
	Endpoints []string

	// RequestTimeout bounds each request/response round trip. A timed-out
	// request is treated as a connection failure and feeds failover.
	RequestTimeout time.Duration

	// HandshakeTimeout bounds the WebSocket handshake per candidate.
	HandshakeTimeout time.Duration
}

// callResult carries one response (or failure) back to a waiting caller.
type callResult struct {
	resp rpcResponse
	err  error
}

// Client is a request/response client over one XRPL WebSocket connection.
// Callers never select endpoints themselves: Connect walks the candidate
// list in order, and a dead connection is transparently re-established
// before an error surfaces.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	endpoint string
	pending  map[uint64]chan callResult
	subs     [][]byte // subscribe frames to replay after reconnect
	closed   bool

	state  atomic.Int32
	nextID atomic.Uint64

	handlerMu      sync.RWMutex
	streamHandlers []StreamHandler
	onFailover     FailoverHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewClient creates a client for the given candidate endpoints. No
// connection is made until Connect or the first Call.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("xrpl: no candidate endpoints: %w", domain.ErrInvalidInput)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Client{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "xrpl_client")),
		pending: make(map[uint64]chan callResult),
		done:    make(chan struct{}),
	}, nil
}

// Connect tries each candidate endpoint in order and keeps the first one
// that completes a handshake. It replays tracked subscriptions on the new
// connection. Safe to call again after a failure.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("xrpl: connect: client closed: %w", domain.ErrConnection)
	}
	if c.conn != nil {
		return nil
	}

	c.state.Store(int32(StateConnecting))

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	var lastErr error
	for _, endpoint := range c.cfg.Endpoints {
		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			lastErr = err
			c.logger.Warn("xrpl: endpoint unreachable",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		c.conn = conn
		c.endpoint = endpoint
		c.state.Store(int32(StateConnected))

		c.logger.Info("xrpl: connected",
			slog.String("endpoint", endpoint),
		)

		go c.readLoop(conn)
		go c.pingLoop(conn)

		c.replaySubscriptionsLocked(conn)
		return nil
	}

	c.state.Store(int32(StateDisconnected))
	if lastErr == nil {
		lastErr = errors.New("no endpoints configured")
	}
	return fmt.Errorf("xrpl: connect: all %d endpoints failed (last: %v): %w",
		len(c.cfg.Endpoints), lastErr, domain.ErrConnection)
}

// Close shuts the connection down and fails any in-flight calls.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	c.failPendingLocked(fmt.Errorf("xrpl: client closed: %w", domain.ErrConnection))
	c.state.Store(int32(StateDisconnected))

	if c.conn != nil {
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// State returns the current connection lifecycle state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

// Endpoint returns the endpoint serving the current session, or "" when
// disconnected.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// OnStream registers a handler for server-pushed stream messages.
func (c *Client) OnStream(h StreamHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.streamHandlers = append(c.streamHandlers, h)
}

// OnFailover registers a handler invoked after the session moves to a
// different endpoint.
func (c *Client) OnFailover(h FailoverHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onFailover = h
}

// Call issues one command and waits for the matching response. Each call
// carries the configured request timeout; a deadline hit is surfaced as
// domain.ErrTimeout and tears the connection down so the next attempt goes
// through failover. A dead connection is transparently re-established once
// before the error reaches the caller.
func (c *Client) Call(ctx context.Context, command string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	res, err := c.call(ctx, command, params)
	if err != nil && errors.Is(err, domain.ErrConnection) && ctx.Err() == nil {
		if rerr := c.Connect(ctx); rerr != nil {
			return nil, rerr
		}
		return c.call(ctx, command, params)
	}
	return res, err
}

// Subscribe issues a subscribe command and tracks it so the subscription is
// replayed after every reconnect.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) error {
	if _, err := c.Call(ctx, "subscribe", req); err != nil {
		return fmt.Errorf("xrpl: subscribe: %w", err)
	}

	id := c.nextID.Add(1)
	frame, err := encodeRequest(id, "subscribe", req)
	if err != nil {
		return fmt.Errorf("xrpl: subscribe: %w", err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, frame)
	c.mu.Unlock()
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// call performs a single request/response round trip on the live connection.
func (c *Client) call(ctx context.Context, command string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	frame, err := encodeRequest(id, command, params)
	if err != nil {
		return nil, fmt.Errorf("xrpl: %s: %w", command, err)
	}

	ch := make(chan callResult, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("xrpl: %s: client closed: %w", command, domain.ErrConnection)
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("xrpl: %s: not connected: %w", command, domain.ErrConnection)
	}
	c.pending[id] = ch
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	werr := conn.WriteMessage(websocket.TextMessage, frame)
	if werr != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		c.teardown(conn, werr)
		return nil, fmt.Errorf("xrpl: %s: write: %v: %w", command, werr, domain.ErrConnection)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// A deadline hit counts as a connection failure: kill the socket
			// so the read loop rotates to the next endpoint.
			c.teardown(conn, ctx.Err())
			return nil, fmt.Errorf("xrpl: %s: %w", command, domain.ErrTimeout)
		}
		return nil, fmt.Errorf("xrpl: %s: %w", command, ctx.Err())

	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("xrpl: %s: %w", command, res.err)
		}
		if res.resp.Status != "success" {
			return nil, serverError(command, res.resp)
		}
		return res.resp.Result, nil
	}
}

// readLoop reads frames from one connection until it dies, routing replies
// to waiting callers and stream messages to handlers. On failure it fails
// all in-flight calls and starts the reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			c.state.Store(int32(StateDegraded))
			c.logger.Warn("xrpl: connection lost",
				slog.String("endpoint", c.Endpoint()),
				slog.String("error", err.Error()),
			)
			if c.teardown(conn, err) {
				go c.reconnect()
			}
			return
		}

		c.handleMessage(message)
	}
}

// pingLoop keeps the connection alive. When a ping cannot be written the
// loop exits; the stalled read deadline wakes readLoop shortly after.
func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage routes one inbound frame: replies (frames with an id) go to
// the pending caller, everything else goes to the stream handlers.
func (c *Client) handleMessage(raw []byte) {
	var env struct {
		ID   *uint64 `json:"id"`
		Type string  `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("xrpl: dropping unparseable frame",
			slog.Int("bytes", len(raw)),
		)
		return
	}

	if env.ID != nil {
		var resp rpcResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			resp = rpcResponse{
				ID:           *env.ID,
				Status:       "error",
				ErrorCode:    "malformedResponse",
				ErrorMessage: err.Error(),
			}
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		// Unmatched ids are replies to replayed subscriptions or calls that
		// already timed out.
		if ok {
			ch <- callResult{resp: resp}
		}
		return
	}

	c.handlerMu.RLock()
	handlers := c.streamHandlers
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(env.Type, raw)
	}
}

// teardown closes a dead connection and fails its in-flight calls. It
// returns true for the caller that actually performed the teardown, so only
// one reconnect loop is started per failure.
func (c *Client) teardown(conn *websocket.Conn, cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		// Another goroutine already replaced or tore down this connection.
		conn.Close()
		return false
	}
	c.conn = nil
	conn.Close()
	c.failPendingLocked(fmt.Errorf("connection lost: %v: %w", cause, domain.ErrConnection))
	return !c.closed
}

// failPendingLocked delivers err to every waiting caller. Caller holds c.mu.
func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		ch <- callResult{err: err}
		delete(c.pending, id)
	}
}

// reconnect re-establishes the session with exponential backoff, walking
// the candidate list in preference order on every attempt. It blocks until
// connected or the client is closed.
func (c *Client) reconnect() {
	prev := c.Endpoint()
	c.state.Store(int32(StateReconnecting))

	delay := reconnectDelay
	for {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(),
			c.cfg.HandshakeTimeout*time.Duration(len(c.cfg.Endpoints)))
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			next := c.Endpoint()
			if prev != "" && next != prev {
				c.handlerMu.RLock()
				h := c.onFailover
				c.handlerMu.RUnlock()
				if h != nil {
					h(prev, next)
				}
			}
			return
		}

		c.logger.Warn("xrpl: reconnect failed",
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// replaySubscriptionsLocked re-issues tracked subscribe frames on a fresh
// connection. Responses are ignored; failures surface through the read
// loop. Caller holds c.mu.
func (c *Client) replaySubscriptionsLocked(conn *websocket.Conn) {
	for _, frame := range c.subs {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.logger.Warn("xrpl: replay subscription failed",
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// encodeRequest builds one JSON-RPC frame: the params object with "id" and
// "command" injected at the top level, as the XRPL WebSocket API expects.
func encodeRequest(id uint64, command string, params any) ([]byte, error) {
	fields := make(map[string]any)
	if params != nil {
		blob, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		if err := json.Unmarshal(blob, &fields); err != nil {
			return nil, fmt.Errorf("params must encode to an object: %w", err)
		}
	}
	fields["id"] = id
	fields["command"] = command
	return json.Marshal(fields)
}

// rpcResponse is the reply envelope for a single request.
type rpcResponse struct {
	ID           uint64          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	ErrorCode    string          `json:"error"`
	ErrorMessage string          `json:"error_message"`
}

// serverError maps an XRPL error reply onto the domain error taxonomy.
func serverError(command string, resp rpcResponse) error {
	switch resp.ErrorCode {
	case "actNotFound", "lgrNotFound", "entryNotFound":
		return fmt.Errorf("xrpl: %s: %s: %w", command, resp.ErrorCode, domain.ErrNotFound)
	case "invalidParams", "srcCurMalformed", "dstAmtMalformed":
		return fmt.Errorf("xrpl: %s: %s: %s: %w", command, resp.ErrorCode, resp.ErrorMessage, domain.ErrInvalidInput)
	case "slowDown", "tooBusy":
		return fmt.Errorf("xrpl: %s: %s: %w", command, resp.ErrorCode, domain.ErrRateLimited)
	default:
		return fmt.Errorf("xrpl: %s: server error %s: %s", command, resp.ErrorCode, resp.ErrorMessage)
	}
}
