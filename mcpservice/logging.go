package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-wordpress-gateway/mcp"
)

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// LevelSetter applies a client's logging/setLevel request.
type LevelSetter interface {
	SetLevel(ctx context.Context, level mcp.LoggingLevel) error
}

// NewSlogLevelVarLogging returns a LevelSetter that maps MCP LoggingLevel
// onto lv. Handlers built from the same LevelVar follow the change.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LevelSetter {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

func (l *slogLevelVarLogging) SetLevel(_ context.Context, level mcp.LoggingLevel) error {
	lvl, ok := SlogLevel(level)
	if !ok {
		return ErrInvalidLoggingLevel
	}
	if l.lv != nil {
		l.lv.Set(lvl)
	}
	return nil
}

// SlogLevel converts an MCP syslog severity to the nearest slog level.
func SlogLevel(level mcp.LoggingLevel) (slog.Level, bool) {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug, true
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo, true
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn, true
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		return slog.LevelError, true
	}
	return 0, false
}
