package ssetransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
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

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaTypes = []contenttype.MediaType{contenttype.NewMediaType(sse.ContentType)}
)

const (
	// DefaultStreamPath serves the event stream.
	DefaultStreamPath = "/sse"
	// DefaultMessagesPath accepts client messages.
	DefaultMessagesPath = "/messages"
	// DefaultKeepAlive is the interval between comment frames on the stream.
	DefaultKeepAlive = 25 * time.Second

	sessionIDParam = "sessionId"
	maxBodyBytes   = 4 << 20

	eventEndpoint = "endpoint"
	eventMessage  = "message"
)

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures a Handler.
type Option func(*config)

type config struct {
	logger       *slog.Logger
	streamPath   string
	messagesPath string
	keepAlive    time.Duration
	outboxCap    int
}

// WithLogger sets the logger used by the handler. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithPaths overrides DefaultStreamPath and DefaultMessagesPath.
func WithPaths(stream, messages string) Option {
	return func(c *config) { c.streamPath, c.messagesPath = stream, messages }
}

// WithKeepAlive overrides DefaultKeepAlive.
func WithKeepAlive(d time.Duration) Option {
	return func(c *config) { c.keepAlive = d }
}

// WithOutboxCapacity bounds how many replies may be pending per session
// before POST /messages blocks.
func WithOutboxCapacity(n int) Option {
	return func(c *config) { c.outboxCap = n }
}

// session is the handle stored for each event-stream session: the ordered
// mailbox its stream drains.
type session struct {
	outbox          *sessions.Outbox
	initialized     atomic.Bool
	protocolVersion atomic.Pointer[string]
}

func (s *session) version() string {
	if v := s.protocolVersion.Load(); v != nil {
		return *v
	}
	return ""
}

// Handler implements the legacy HTTP+SSE transport: a long-lived GET stream
// per session and a separate POST endpoint whose replies are delivered on
// that stream in submission order.
type Handler struct {
	mux   *http.ServeMux
	log   *slog.Logger
	eng   *engine.Engine
	store *sessions.Store[*session]
	cfg   config

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// New constructs a Handler serving eng.
func New(eng *engine.Engine, opts ...Option) *Handler {
	cfg := config{
		logger:       slog.New(slog.DiscardHandler),
		streamPath:   DefaultStreamPath,
		messagesPath: DefaultMessagesPath,
		keepAlive:    DefaultKeepAlive,
		outboxCap:    64,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Handler{
		log: slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		eng: eng,
		cfg: cfg,
	}
	h.store = sessions.NewStore[*session](sessions.KindSSE,
		sessions.WithRelease[*session](func(s *session) { s.outbox.Close() }),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+cfg.streamPath, h.handleStream)
	mux.HandleFunc("POST "+cfg.messagesPath, h.handleMessage)
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

// Len returns the number of open streams.
func (h *Handler) Len() int { return h.store.Len() }

// Shutdown closes every stream and waits for dispatched calls to finish or
// ctx to expire. Their results are discarded.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.store.Close()

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) endpointURL(sessID string) string {
	return h.cfg.messagesPath + "?" + url.Values{sessionIDParam: {sessID}}.Encode()
}

// handleStream opens a session and holds its event stream until the client
// goes away or the session is closed.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if r.Header.Get("Accept") != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
			h.log.WarnContext(ctx, "http.get.unsupported_media_type")
			return
		}
	}

	sess, err := h.store.Create(&session{outbox: sessions.NewOutbox(h.cfg.outboxCap)})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}
	defer func() {
		h.store.Remove(sess.ID())
		h.eng.CancelSession(sess.ID())
	}()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Kind: sess.Kind()})

	sw, err := sse.NewWriter(ctx, w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	if err := sw.Event(eventEndpoint, "", []byte(h.endpointURL(sess.ID()))); err != nil {
		h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "session.create.ok")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.keepAlive(ctx, cancel, sw)

	delivered := 0
	err = sess.Handle().outbox.Drain(ctx, func(frame []byte) error {
		if err := sw.Event(eventMessage, "", frame); err != nil {
			return err
		}
		delivered++
		return nil
	})
	dur := slog.Duration("dur", time.Since(start))
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, sessions.ErrOutboxClosed):
		h.log.InfoContext(ctx, "session.close.ok", dur, slog.Int("delivered", delivered))
	default:
		h.log.WarnContext(ctx, "sse.stream.fail", dur, slog.Int("delivered", delivered), slog.String("err", err.Error()))
	}
}

func (h *Handler) keepAlive(ctx context.Context, cancel context.CancelFunc, sw *sse.Writer) {
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
		}
	}
}

// handleMessage accepts one JSON-RPC message for a session. Requests get a
// reserved slot on the session's outbox before 202 is written, so replies
// leave the stream in the order the POSTs were accepted.
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessID := r.URL.Query().Get(sessionIDParam)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing sessionId")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	sess, ok := h.store.Get(sessID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.load.miss", slog.String("session_id", sessID))
		return
	}
	handle := sess.Handle()
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), Kind: sess.Kind(), ProtocolVersion: handle.version()})

	if r.Header.Get("Content-Type") != "" {
		if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(jsonMediaType) {
			writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
			h.log.WarnContext(ctx, "content_type.unsupported")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		h.log.WarnContext(ctx, "http.body.read.fail", slog.String("err", err.Error()))
		return
	}
	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	switch msg.Type() {
	case "notification":
		h.eng.HandleNotification(ctx, sess.ID(), msg.AsRequest())
		w.WriteHeader(http.StatusAccepted)
		return
	case "response":
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ignored")
		return
	}

	slot, err := handle.outbox.Reserve(ctx)
	if err != nil {
		// The stream closed between lookup and reservation.
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.closed", slog.String("err", err.Error()))
		return
	}

	req := msg.AsRequest()
	if req.Method == string(mcp.InitializeMethod) && !handle.initialized.CompareAndSwap(false, true) {
		h.fill(ctx, slot, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil))
		w.WriteHeader(http.StatusAccepted)
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		slot.Abandon()
		writeJSONError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	h.inflight.Add(1)
	h.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)

	// The call outlives the POST; keep its log context but not its cancellation.
	callCtx := context.WithoutCancel(ctx)
	go func() {
		defer h.inflight.Done()
		start := time.Now()
		res := h.eng.HandleRequest(callCtx, sess.ID(), req, nil)
		if req.Method == string(mcp.InitializeMethod) {
			h.recordInitialize(handle, res)
		}
		h.fill(callCtx, slot, res)
		h.log.InfoContext(callCtx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
	}()
}

func (h *Handler) recordInitialize(handle *session, res *jsonrpc.Response) {
	if res.Error != nil {
		handle.initialized.Store(false)
		return
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(res.Result, &initRes); err == nil {
		handle.protocolVersion.Store(&initRes.ProtocolVersion)
	}
}

func (h *Handler) fill(ctx context.Context, slot *sessions.Slot, res *jsonrpc.Response) {
	b, err := json.Marshal(res)
	if err != nil {
		slot.Abandon()
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	slot.Fill(b)
}
