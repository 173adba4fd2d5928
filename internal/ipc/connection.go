package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"nhooyr.io/websocket"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/eventbus"
)

// rpcRequest is the wire shape of a JSON-RPC 2.0 request (spec §4.7).
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is the wire shape of a JSON-RPC 2.0 response or push
// notification (no id).
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ClawdError     `json:"error,omitempty"`
}

// connection is one authenticated (or authenticating) WebSocket client.
// Responses may be returned out of order relative to receipt (spec
// §4.7), so a worker pool handles requests concurrently while a single
// writer goroutine serializes everything onto the socket — nhooyr's
// websocket.Conn.Write is not safe for concurrent callers.
type connection struct {
	ws     *websocket.Conn
	appCtx *app.Context
	table  map[string]Handler
	pool   *workerPool
	limit  *tokenBucket

	authed atomic.Bool
	out    chan rpcResponse
}

func serveConnection(ctx context.Context, ws *websocket.Conn, appCtx *app.Context, table map[string]Handler, pool *workerPool, rate float64) {
	subID, events := appCtx.Bus.Subscribe()
	defer appCtx.Bus.Unsubscribe(subID)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &connection{
		ws:     ws,
		appCtx: appCtx,
		table:  table,
		pool:   pool,
		limit:  newTokenBucket(rate),
		out:    make(chan rpcResponse, 64),
	}

	go c.writeLoop(connCtx, events)
	c.readLoop(connCtx)
}

func (c *connection) writeLoop(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.write(ctx, rpcResponse{JSONRPC: "2.0", Method: ev.Name, Params: ev.Payload})
		case resp, ok := <-c.out:
			if !ok {
				return
			}
			c.write(ctx, resp)
		}
	}
}

func (c *connection) write(ctx context.Context, resp rpcResponse) {
	resp.JSONRPC = "2.0"
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("ipc: marshal response failed", "error", err)
		return
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("ipc: write failed, connection likely closed", "error", err)
	}
}

func (c *connection) readLoop(ctx context.Context) {
	done := ctx.Done()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}

		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.enqueue(rpcResponse{Error: newClawdError(codeParseError, "parse error")})
			continue
		}
		if req.Method == "" {
			c.enqueue(rpcResponse{ID: req.ID, Error: newClawdError(codeInvalidRequest, "invalid request")})
			continue
		}
		if !c.limit.Allow() {
			c.enqueue(rpcResponse{ID: req.ID, Error: newClawdError(codeIPCRateLimited, "rate limited")})
			continue
		}

		c.pool.Go(done, func() {
			c.handle(ctx, req)
		})
	}
}

func (c *connection) enqueue(resp rpcResponse) {
	select {
	case c.out <- resp:
	default:
		slog.Warn("ipc: outbound queue full, dropping response", "id", string(resp.ID))
	}
}

// handle dispatches one request, converting a handler panic into -32603
// (spec §4.7: "handler panics are caught and returned as -32603").
func (c *connection) handle(ctx context.Context, req rpcRequest) {
	resp := rpcResponse{ID: req.ID}
	defer func() {
		if r := recover(); r != nil {
			resp.Error = newClawdError(codeInternal, fmt.Sprintf("panic: %v", r))
		}
		c.enqueue(resp)
	}()

	if req.Method != "daemon.auth" && !c.authed.Load() {
		resp.Error = newClawdError(codeUnauthorized, "unauthorized")
		return
	}

	handler, ok := c.table[req.Method]
	if !ok {
		resp.Error = newClawdError(codeMethodNotFound, "method not found: "+req.Method)
		return
	}

	result, err := handler(ctx, c.appCtx, req.Params)
	if err != nil {
		resp.Error = mapError(err)
		return
	}
	if req.Method == "daemon.auth" {
		c.authed.Store(true)
	}
	resp.Result = result
}
