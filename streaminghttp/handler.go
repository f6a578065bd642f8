package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/engine"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/jsonrpc"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/logctx"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/sse"
	"github.com/ggoodman/mcp-wordpress-gateway/mcp"
	"github.com/ggoodman/mcp-wordpress-gateway/sessions"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType(sse.ContentType)
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
	responseMediaTypes    = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	// DefaultPath is where the endpoint is mounted unless WithPath is given.
	DefaultPath = "/mcp"
	// DefaultKeepAlive is the interval between comment frames on an idle
	// GET stream.
	DefaultKeepAlive = 25 * time.Second
	// DefaultIdleTTL is how long a session may go without requests before
	// it is reaped.
	DefaultIdleTTL = 30 * time.Minute

	maxBodyBytes = 4 << 20
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a JSON-RPC
// message exchange is possible. We do NOT claim JSON-RPC framing here; this is
// transport-level. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	logger    *slog.Logger
	path      string
	keepAlive time.Duration
	idleTTL   time.Duration
	outboxCap int
	now       func() time.Time
}

// WithLogger sets the logger used by the handler. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithPath mounts the endpoint somewhere other than DefaultPath.
func WithPath(p string) Option {
	return func(c *newConfig) { c.path = p }
}

// WithKeepAlive overrides DefaultKeepAlive.
func WithKeepAlive(d time.Duration) Option {
	return func(c *newConfig) { c.keepAlive = d }
}

// WithIdleTTL overrides DefaultIdleTTL. Zero disables reaping.
func WithIdleTTL(d time.Duration) Option {
	return func(c *newConfig) { c.idleTTL = d }
}

// WithOutboxCapacity bounds the number of undelivered server-initiated
// messages kept per session.
func WithOutboxCapacity(n int) Option {
	return func(c *newConfig) { c.outboxCap = n }
}

// session is the handle stored for each streamable session.
type session struct {
	protocolVersion string
	outbox          *sessions.Outbox
	streaming       atomic.Bool
	lastSeen        atomic.Int64
}

func (s *session) touch(now time.Time) { s.lastSeen.Store(now.UnixNano()) }

func (s *session) lastSeenAt() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// WriteMessage queues a server-initiated message for the session's GET
// stream. Messages are dropped while no stream is attached.
func (s *session) WriteMessage(_ context.Context, msg *jsonrpc.Request) error {
	if !s.streaming.Load() {
		return nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.outbox.Offer(b)
}

// StreamingHTTPHandler implements the streamable HTTP transport of the Model
// Context Protocol: every POST carries one JSON-RPC message and requests are
// answered in the POST response body.
type StreamingHTTPHandler struct {
	mux   *http.ServeMux
	log   *slog.Logger
	eng   *engine.Engine
	store *sessions.Store[*session]
	cfg   newConfig
}

// New constructs a StreamingHTTPHandler serving eng.
func New(eng *engine.Engine, opts ...Option) *StreamingHTTPHandler {
	cfg := newConfig{
		logger:    slog.New(slog.DiscardHandler),
		path:      DefaultPath,
		keepAlive: DefaultKeepAlive,
		idleTTL:   DefaultIdleTTL,
		outboxCap: 64,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &StreamingHTTPHandler{
		log: slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		eng: eng,
		cfg: cfg,
	}
	h.store = sessions.NewStore[*session](sessions.KindStreamable,
		sessions.WithRelease[*session](func(s *session) { s.outbox.Close() }),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cfg.path, h.handlePostMCP)
	mux.HandleFunc("GET "+cfg.path, h.handleGetMCP)
	mux.HandleFunc("DELETE "+cfg.path, h.handleDeleteMCP)
	h.mux = mux
	return h
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := logctx.RequestDataFrom(ctx); !ok {
		ctx = logctx.WithRequestData(ctx, &logctx.RequestData{
			RequestID:  uuid.NewString(),
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})
	}
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// Len returns the number of live sessions.
func (h *StreamingHTTPHandler) Len() int { return h.store.Len() }

// Run reaps idle sessions until ctx is done.
func (h *StreamingHTTPHandler) Run(ctx context.Context) error {
	return h.store.Reap(ctx, h.cfg.idleTTL, 0, (*session).lastSeenAt)
}

// Close tears down every session, ending any attached GET streams.
func (h *StreamingHTTPHandler) Close() {
	h.store.Close()
}

func (h *StreamingHTTPHandler) lookup(ctx context.Context, w http.ResponseWriter, r *http.Request) (*sessions.Session[*session], context.Context, bool) {
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		h.log.WarnContext(ctx, "session.id.missing")
		return nil, ctx, false
	}
	sess, ok := h.store.Get(sessID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.load.miss", slog.String("session_id", sessID))
		return nil, ctx, false
	}
	sess.Handle().touch(h.cfg.now())
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		Kind:            sess.Kind(),
		ProtocolVersion: sess.Handle().protocolVersion,
	})
	return sess, ctx, true
}

// handleDeleteMCP terminates an existing session.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, ctx, ok := h.lookup(ctx, w, r)
	if !ok {
		return
	}
	if !h.store.Remove(sess.ID()) {
		// Lost a race with another DELETE or the reaper.
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.delete.miss")
		return
	}
	cancelled := h.eng.CancelSession(sess.ID())

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "session.delete.ok", slog.Int("cancelled_calls", cancelled))
}

// handlePostMCP handles the POST endpoint, which is used by the client to send
// MCP messages to the server and to establish a session.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		h.log.WarnContext(ctx, "http.body.read.fail", slog.String("err", err.Error()))
		return
	}

	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		if errors.Is(err, jsonrpc.ErrBatchUnsupported) {
			writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
			h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	if r.Header.Get(mcpSessionIDHeader) == "" {
		h.initializeSession(ctx, w, msg, start)
		return
	}

	sess, ctx, ok := h.lookup(ctx, w, r)
	if !ok {
		return
	}
	handle := sess.Handle()

	if msg.Method == string(mcp.InitializeMethod) {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != handle.protocolVersion {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}
	w.Header().Set(mcpProtocolVersionHeader, handle.protocolVersion)

	switch msg.Type() {
	case "notification":
		h.eng.HandleNotification(ctx, sess.ID(), msg.AsRequest())
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok")
		return
	case "response":
		// The gateway never issues server-to-client requests.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ignored")
		return
	}

	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, responseMediaTypes); err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json")
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
			return
		}
	}

	res := h.eng.HandleRequest(ctx, sess.ID(), msg.AsRequest(), handle)
	h.writeResponse(ctx, w, res)
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

func (h *StreamingHTTPHandler) initializeSession(ctx context.Context, w http.ResponseWriter, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != string(mcp.InitializeMethod) || req.IsNotification() {
		writeJSONError(w, http.StatusBadRequest, "expected initialize request")
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}

	initRes, rej := h.eng.Initialize(ctx, req)
	if rej != nil {
		h.writeResponse(ctx, w, rej)
		return
	}

	handle := &session{
		protocolVersion: initRes.ProtocolVersion,
		outbox:          sessions.NewOutbox(h.cfg.outboxCap),
	}
	handle.touch(h.cfg.now())
	sess, err := h.store.Create(handle)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		Kind:            sess.Kind(),
		ProtocolVersion: initRes.ProtocolVersion,
	})

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		h.store.Remove(sess.ID())
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	w.Header().Set(mcpSessionIDHeader, sess.ID())
	w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
	h.writeResponse(ctx, w, resp)
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

func (h *StreamingHTTPHandler) writeResponse(ctx context.Context, w http.ResponseWriter, res *jsonrpc.Response) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
	}
}

// handleGetMCP attaches the session's push channel. Only one stream may be
// attached per session at a time.
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	sess, ctx, ok := h.lookup(ctx, w, r)
	if !ok {
		return
	}
	handle := sess.Handle()

	if !handle.streaming.CompareAndSwap(false, true) {
		writeJSONError(w, http.StatusConflict, "stream already attached")
		h.log.WarnContext(ctx, "sse.stream.conflict")
		return
	}
	defer handle.streaming.Store(false)

	w.Header().Set(mcpProtocolVersionHeader, handle.protocolVersion)
	sw, err := sse.NewWriter(ctx, w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	h.log.InfoContext(ctx, "sse.stream.start")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.keepAlive(ctx, cancel, sw, handle)

	err = handle.outbox.Drain(ctx, func(frame []byte) error {
		if err := sw.Event("", "", frame); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return err
		}
		return nil
	})
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, sessions.ErrOutboxClosed):
		h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
	default:
		h.log.WarnContext(ctx, "sse.stream.fail", slog.String("err", err.Error()), slog.Duration("dur", time.Since(start)))
	}
}

func (h *StreamingHTTPHandler) keepAlive(ctx context.Context, cancel context.CancelFunc, sw *sse.Writer, handle *session) {
	if h.cfg.keepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sw.Comment("keepalive"); err != nil {
				cancel()
				return
			}
			// An attached stream keeps the session alive.
			handle.touch(h.cfg.now())
		}
	}
}
