package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ggoodman/mcp-wordpress-gateway/internal/jsonrpc"
	"github.com/ggoodman/mcp-wordpress-gateway/internal/logctx"
	"github.com/ggoodman/mcp-wordpress-gateway/mcp"
	"github.com/ggoodman/mcp-wordpress-gateway/mcpservice"
)

var (
	ErrCancelled = errors.New("operation cancelled")
)

// Engine routes decoded JSON-RPC messages to the dispatcher. It holds no
// session state of its own apart from the cancel functions of in-flight tool
// calls, so both transports share one instance.
type Engine struct {
	dispatcher   *mcpservice.Dispatcher
	levels       mcpservice.LevelSetter
	info         mcp.ImplementationInfo
	instructions string
	log          *slog.Logger

	// tool call tracking: sessionID + reqID -> cancel
	toolCtxMu      sync.Mutex
	toolCtxCancels map[callKey]context.CancelCauseFunc
}

type callKey struct {
	sessionID string
	reqID     string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a custom logger for the Engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithLevelSetter enables the logging capability. Without it
// logging/setLevel reports method not found.
func WithLevelSetter(ls mcpservice.LevelSetter) EngineOption {
	return func(e *Engine) { e.levels = ls }
}

// WithServerInfo overrides the implementation info returned by initialize.
func WithServerInfo(info mcp.ImplementationInfo) EngineOption {
	return func(e *Engine) { e.info = info }
}

// WithInstructions sets the instructions returned by initialize.
func WithInstructions(s string) EngineOption {
	return func(e *Engine) { e.instructions = s }
}

func NewEngine(d *mcpservice.Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		dispatcher:     d,
		info:           mcp.ImplementationInfo{Name: "mcp-wordpress-gateway", Version: "dev"},
		log:            slog.New(slog.DiscardHandler),
		toolCtxCancels: make(map[callKey]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// NegotiateProtocolVersion echoes the client's requested revision when it is
// supported and otherwise offers the latest one.
func NegotiateProtocolVersion(requested string) string {
	if slices.Contains(mcp.SupportedProtocolVersions, requested) {
		return requested
	}
	return mcp.LatestProtocolVersion
}

// Initialize validates an initialize request and builds its result. The
// caller owns session creation; a non-nil response means the request was
// rejected and no session should be created.
func (e *Engine) Initialize(ctx context.Context, req *jsonrpc.Request) (*mcp.InitializeResult, *jsonrpc.Response) {
	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ProtocolVersion == "" {
		e.log.InfoContext(ctx, "engine.initialize.invalid")
		return nil, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: NegotiateProtocolVersion(params.ProtocolVersion),
		Capabilities: mcp.ServerCapabilities{
			Tools: &mcp.ToolsServerCapability{},
		},
		ServerInfo:   e.info,
		Instructions: e.instructions,
	}
	if e.levels != nil {
		res.Capabilities.Logging = &struct{}{}
	}

	e.log.InfoContext(ctx, "engine.initialize.ok",
		slog.String("client", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.String("requested_version", params.ProtocolVersion),
		slog.String("negotiated_version", res.ProtocolVersion),
	)
	return res, nil
}

// HandleRequest answers a request on an established session. Server-initiated
// messages produced while handling it (progress) go through w, which may be
// nil when the transport has no push channel open.
func (e *Engine) HandleRequest(ctx context.Context, sessionID string, req *jsonrpc.Request, w MessageWriter) *jsonrpc.Response {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	switch req.Method {
	case string(mcp.InitializeMethod):
		res, rej := e.Initialize(ctx, req)
		if rej != nil {
			return rej
		}
		return e.result(ctx, req, res)
	case string(mcp.PingMethod):
		return e.result(ctx, req, &mcp.EmptyResult{})
	case string(mcp.ToolsListMethod):
		return e.handleToolsList(ctx, req)
	case string(mcp.ToolsCallMethod):
		return e.handleToolCall(ctx, sessionID, req, w)
	case string(mcp.LoggingSetLevelMethod):
		return e.handleSetLoggingLevel(ctx, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unknown")
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
}

func (e *Engine) result(ctx context.Context, req *jsonrpc.Request, v any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(req.ID, v)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	return res
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	if e.levels == nil {
		e.log.InfoContext(ctx, "engine.handle_request.unsupported")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "logging not supported", nil)
	}

	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil || !mcp.IsValidLoggingLevel(params.Level) {
		e.log.InfoContext(ctx, "engine.handle_request.invalid")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
	}

	if err := e.levels.SetLevel(ctx, params.Level); err != nil {
		if errors.Is(err, mcpservice.ErrInvalidLoggingLevel) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
		}
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}

	e.log.InfoContext(ctx, "engine.logging.level", slog.String("level", string(params.Level)))
	return e.result(ctx, req, &mcp.EmptyResult{})
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
		}
	}

	// The command set is small and fixed, so every listing is one page.
	tools := e.dispatcher.Tools()
	e.log.DebugContext(ctx, "engine.handle_request.ok", slog.Int("tool_count", len(tools)))
	return e.result(ctx, req, &mcp.ListToolsResult{Tools: tools})
}

func (e *Engine) handleToolCall(ctx context.Context, sessionID string, req *jsonrpc.Request, w MessageWriter) *jsonrpc.Response {
	start := time.Now()

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
	}

	// Track the call so notifications/cancelled from the same session can
	// abort it.
	key := callKey{sessionID: sessionID, reqID: req.ID.String()}
	toolCtx, toolCancel := context.WithCancelCause(ctx)
	defer toolCancel(context.Canceled)

	e.toolCtxMu.Lock()
	if _, exists := e.toolCtxCancels[key]; exists {
		e.toolCtxMu.Unlock()
		e.log.WarnContext(ctx, "engine.handle_request.duplicate_id")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "duplicate request id", nil)
	}
	e.toolCtxCancels[key] = toolCancel
	e.toolCtxMu.Unlock()

	defer func() {
		e.toolCtxMu.Lock()
		delete(e.toolCtxCancels, key)
		e.toolCtxMu.Unlock()
	}()

	if params.Meta != nil && params.Meta.ProgressToken != nil && w != nil {
		toolCtx = mcpservice.WithProgressReporter(toolCtx, &progressReporter{token: params.Meta.ProgressToken, w: w})
	}

	res := e.dispatcher.Invoke(toolCtx, params.Name, params.Arguments)
	e.log.DebugContext(ctx, "engine.handle_request.ok", slog.Duration("duration", time.Since(start)), slog.Bool("is_error", res.IsError))
	return e.result(ctx, req, res)
}

// HandleNotification processes a client notification. Nothing is ever sent
// back; unknown notifications are ignored.
func (e *Engine) HandleNotification(ctx context.Context, sessionID string, note *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: note.Method, Type: "notification"})

	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		e.log.InfoContext(ctx, "engine.session.initialized")
	case string(mcp.CancelledNotificationMethod):
		var params struct {
			RequestID *jsonrpc.RequestID `json:"requestId"`
			Reason    string             `json:"reason,omitempty"`
		}
		if err := json.Unmarshal(note.Params, &params); err != nil || params.RequestID.IsNil() {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid")
			return
		}
		found := e.cancelInFlightRequest(callKey{sessionID: sessionID, reqID: params.RequestID.String()})
		e.log.InfoContext(ctx, "engine.call.cancel", slog.String("request_id", params.RequestID.String()), slog.Bool("found", found), slog.String("reason", params.Reason))
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored")
	}
}

func (e *Engine) cancelInFlightRequest(key callKey) bool {
	e.toolCtxMu.Lock()
	cancel, ok := e.toolCtxCancels[key]
	e.toolCtxMu.Unlock()
	if ok {
		cancel(ErrCancelled)
	}
	return ok
}

// CancelSession aborts every in-flight tool call of a session, typically
// because the session was torn down.
func (e *Engine) CancelSession(sessionID string) int {
	e.toolCtxMu.Lock()
	var cancels []context.CancelCauseFunc
	for k, cancel := range e.toolCtxCancels {
		if k.sessionID == sessionID {
			cancels = append(cancels, cancel)
		}
	}
	e.toolCtxMu.Unlock()

	for _, cancel := range cancels {
		cancel(ErrCancelled)
	}
	return len(cancels)
}

type progressReporter struct {
	token mcp.ProgressToken
	w     MessageWriter
}

func (p *progressReporter) Report(ctx context.Context, progress, total float64, message string) error {
	note, err := jsonrpc.NewNotification(string(mcp.ProgressNotificationMethod), &mcp.ProgressNotificationParams{
		ProgressToken: p.token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
	if err != nil {
		return err
	}
	return p.w.WriteMessage(ctx, note)
}
