package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-wordpress-gateway/internal/logctx"
	"github.com/ggoodman/mcp-wordpress-gateway/mcp"
)

// DefaultCallTimeout bounds a command when no WithCallTimeout option is given.
const DefaultCallTimeout = 30 * time.Second

// PublicError is implemented by errors that carry a message safe to show to
// the caller. The dispatcher prefers it over Error() when building failure
// envelopes.
type PublicError interface {
	error
	PublicMessage() string
}

// Dispatcher is the single entry point for command execution. It validates
// arguments against the registry, runs the handler under a timeout and turns
// every outcome into a CallToolResult. It holds no mutable state.
type Dispatcher struct {
	reg     *Registry
	timeout time.Duration
	log     *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithCallTimeout bounds every handler invocation. Non-positive values
// restore the default.
func WithCallTimeout(d time.Duration) DispatcherOption {
	return func(x *Dispatcher) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithLogger sets the logger for boundary logs. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(x *Dispatcher) {
		if l != nil {
			x.log = l
		}
	}
}

// NewDispatcher builds a dispatcher over reg.
func NewDispatcher(reg *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:     reg,
		timeout: DefaultCallTimeout,
		log:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Tools lists the registered commands as MCP tools.
func (d *Dispatcher) Tools() []mcp.Tool { return d.reg.Tools() }

// Invoke runs the named command with raw JSON arguments. It never returns
// nil and never panics past its boundary: unknown commands, invalid
// arguments, handler errors and timeouts all yield failure envelopes.
func (d *Dispatcher) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) *mcp.CallToolResult {
	start := time.Now()
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: name})

	cmd, ok := d.reg.lookup(name)
	if !ok {
		raw, _ := parseArgs(rawArgs)
		d.log.WarnContext(ctx, "tool.call.unknown", slog.Any("params", redactRaw(nil, raw)))
		return Errorf("%s: %s", ErrUnknownCommand, name)
	}

	raw, err := parseArgs(rawArgs)
	if err == nil {
		var args Args
		if args, err = validateArgs(cmd.params, raw); err == nil {
			return d.run(ctx, cmd, args, start)
		}
	}
	d.log.InfoContext(ctx, "tool.call.invalid",
		slog.String("err", err.Error()),
		slog.Any("params", redactRaw(cmd.params, raw)),
	)
	return Errorf("invalid parameters: %s", err)
}

type callOutcome struct {
	value any
	err   error
}

func (d *Dispatcher) run(ctx context.Context, cmd *registeredCommand, args Args, start time.Time) *mcp.CallToolResult {
	params := slog.Any("params", redactArgs(cmd.params, args))

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ReportProgress(ctx, 0, 1, "calling "+cmd.name)

	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callOutcome{err: fmt.Errorf("command %s failed unexpectedly", cmd.name)}
				d.log.ErrorContext(ctx, "tool.call.panic", slog.Any("panic", p))
			}
		}()
		v, err := cmd.handler(callCtx, args)
		done <- callOutcome{value: v, err: err}
	}()

	var out callOutcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out.err = callCtx.Err()
	}
	dur := slog.Duration("duration", time.Since(start))

	if out.err != nil {
		msg := d.failureMessage(ctx, callCtx, out.err)
		d.log.WarnContext(ctx, "tool.call.fail", dur, params, slog.String("err", out.err.Error()))
		return Errorf("%s", msg)
	}

	b, err := json.MarshalIndent(out.value, "", "  ")
	if err != nil {
		d.log.ErrorContext(ctx, "tool.call.encode.fail", dur, params, slog.String("err", err.Error()))
		return Errorf("failed to encode result of %s", cmd.name)
	}
	ReportProgress(ctx, 1, 1, "done")
	d.log.InfoContext(ctx, "tool.call.ok", dur, params)
	return TextResult(string(b))
}

func (d *Dispatcher) failureMessage(parent, callCtx context.Context, err error) string {
	var pub PublicError
	switch {
	case parent.Err() != nil:
		return "call cancelled"
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("command timed out after %s", d.timeout)
	case errors.As(err, &pub):
		return pub.PublicMessage()
	}
	return err.Error()
}

// TextResult returns a success CallToolResult with a single text block.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
