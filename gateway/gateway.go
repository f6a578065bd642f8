// Package gateway serves both MCP transports and a health check from a single
// http.Handler.
//
//	eng := engine.NewEngine(dispatcher)
//	gw := gateway.New(eng, gateway.WithLogger(log))
//	go gw.Run(ctx)
//	http.ListenAndServe(":8080", gw)
//
// The streamable transport lives at /mcp, the legacy SSE transport at /sse
// and /messages. Both share the engine, so a tool call behaves the same on
// either.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/mcp-wordpress-gateway/internal/engine"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/logctx"
	"github.com/ggoodman/mcp-wordpress-gateway/ssetransport"
	"github.com/ggoodman/mcp-wordpress-gateway/streaminghttp"
	"github.com/google/uuid"
)

// HealthPath is the liveness endpoint.
const HealthPath = "/health"

var _ http.Handler = (*Gateway)(nil)

// Option configures a Gateway.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	keepAlive time.Duration
	idleTTL   time.Duration
}

// WithLogger sets the logger for the gateway and both transports.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithKeepAlive sets the comment interval on every event stream.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// WithIdleTTL sets how long an idle streamable session survives.
func WithIdleTTL(d time.Duration) Option {
	return func(c *config) { c.idleTTL = d }
}

// Gateway routes requests to the transport that owns the path.
type Gateway struct {
	mux        *http.ServeMux
	log        *slog.Logger
	streamable *streaminghttp.StreamingHTTPHandler
	legacy     *ssetransport.Handler
}

// New builds a Gateway serving eng over both transports.
func New(eng *engine.Engine, opts ...Option) *Gateway {
	cfg := config{
		logger:    slog.New(slog.DiscardHandler),
		keepAlive: streaminghttp.DefaultKeepAlive,
		idleTTL:   streaminghttp.DefaultIdleTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &Gateway{
		log: slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		streamable: streaminghttp.New(eng,
			streaminghttp.WithLogger(cfg.logger),
			streaminghttp.WithKeepAlive(cfg.keepAlive),
			streaminghttp.WithIdleTTL(cfg.idleTTL),
		),
		legacy: ssetransport.New(eng,
			ssetransport.WithLogger(cfg.logger),
			ssetransport.WithKeepAlive(cfg.keepAlive),
		),
	}

	mux := http.NewServeMux()
	mux.Handle(streaminghttp.DefaultPath, g.streamable)
	mux.Handle(ssetransport.DefaultStreamPath, g.legacy)
	mux.Handle(ssetransport.DefaultMessagesPath, g.legacy)
	mux.HandleFunc("GET "+HealthPath, g.handleHealth)
	g.mux = mux
	return g
}

// ServeHTTP tags the request with a fresh id before routing it.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	g.log.DebugContext(ctx, "http.request.start")
	g.mux.ServeHTTP(w, r.WithContext(ctx))
}

// Run reaps idle streamable sessions until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	return g.streamable.Run(ctx)
}

// Shutdown tears down every session on both transports, which ends their
// event streams, and waits for accepted legacy calls to settle.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.streamable.Close()
	return g.legacy.Shutdown(ctx)
}

// SessionCounts is the number of live sessions on each transport.
type SessionCounts struct {
	Streamable int `json:"streamable"`
	SSE        int `json:"sse"`
}

// Sessions reports live session counts per transport.
func (g *Gateway) Sessions() SessionCounts {
	return SessionCounts{Streamable: g.streamable.Len(), SSE: g.legacy.Len()}
}

type healthResponse struct {
	Status   string        `json:"status"`
	Sessions SessionCounts `json:"sessions"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", Sessions: g.Sessions()}); err != nil {
		g.log.ErrorContext(r.Context(), "health.write.fail", slog.String("err", err.Error()))
	}
}
