// Package ipc implements the IPC Dispatcher of spec §4.7: a single
// TCP listener multiplexing a plain HTTP /health route and WebSocket
// JSON-RPC 2.0 connections at /rpc, built on github.com/rakunlabs/ada the
// same way the teacher's internal/server.Server wires its gateway.
package ipc

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/rakunlabs/ada"
	mcors "github.com/rakunlabs/ada/middleware/cors"
	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"
	"nhooyr.io/websocket"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/config"
)

// Config bundles the listener's own settings, separate from app.Context
// since a server can in principle be rebuilt against a hot-reloaded
// config without rebuilding the whole app context (spec §4.8: port/bind
// changes still require restart, but the split keeps that an explicit
// daemon-level decision rather than an ipc-level one).
type Config struct {
	Bind string
	Port string

	RateLimitPerSec   int
	NewConnRatePerMin int

	ForwardAuth *mforwardauth.ForwardAuth
}

// Server is the daemon's single TCP listener.
type Server struct {
	cfg    Config
	appCtx *app.Context

	server *ada.Server
	table  map[string]Handler
	pool   *workerPool
	conns  *connLimiters
}

// New builds the ada.Server, wires the teacher's standard middleware
// stack, and registers /health and /rpc.
func New(cfg Config, appCtx *app.Context) *Server {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		cfg:    cfg,
		appCtx: appCtx,
		server: mux,
		table:  buildDispatchTable(appCtx),
		pool:   newWorkerPool(32),
		conns:  newConnLimiters(float64(cfg.NewConnRatePerMin)),
	}

	base := mux.Group("")
	if cfg.ForwardAuth != nil {
		slog.Info("ipc: forward auth enabled", "url", cfg.ForwardAuth.Address)
		base.Use(mforwardauth.Middleware(mforwardauth.WithConfig(*cfg.ForwardAuth)))
	}

	base.GET("/health", s.handleHealth)
	base.GET("/rpc", s.handleRPC)

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpResponseJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.conns.Allow(r.RemoteAddr) {
		httpResponse(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// clawd's clients are local-only by default (spec §6: bind
		// 127.0.0.1); when ForwardAuth fronts the daemon from elsewhere,
		// CORS is already enforced by mcors above the WS upgrade.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("ipc: websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	rate := float64(s.cfg.RateLimitPerSec)
	serveConnection(r.Context(), ws, s.appCtx, s.table, s.pool, rate)
}

// Start blocks until ctx is cancelled or the listener fails, matching
// the teacher's Server.Start signature/body exactly
// (internal/server/server.go).
func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.cfg.Bind, s.cfg.Port))
}
