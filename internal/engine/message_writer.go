package engine

import (
	"context"

	"github.com/ggoodman/mcp-wordpress-gateway/internal/jsonrpc"
)

// MessageWriter delivers server-initiated messages to a session's client.
// Transports back it with whatever push channel they have.
type MessageWriter interface {
	WriteMessage(ctx context.Context, msg *jsonrpc.Request) error
}

type MessageWriterFunc func(ctx context.Context, msg *jsonrpc.Request) error

func (f MessageWriterFunc) WriteMessage(ctx context.Context, msg *jsonrpc.Request) error {
	return f(ctx, msg)
}
