// Package sse writes Server-Sent Events frames to an HTTP response.
package sse

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// Writer serializes concurrent frame writes to a single response and refuses
// to write once ctx is canceled.
type Writer struct {
	w   io.Writer
	f   http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

// NewWriter prepares w for streaming: it sets the event-stream headers,
// writes the status line and flushes. It fails if w cannot flush.
func NewWriter(ctx context.Context, w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &Writer{w: w, f: f, ctx: ctx}, nil
}

// Event writes one frame. Empty event and id fields are omitted. Multi-line
// payloads are split across data lines.
func (sw *Writer) Event(event, id string, data []byte) error {
	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	if id != "" {
		fmt.Fprintf(&b, "id: %s\n", id)
	}
	for _, line := range strings.Split(string(data), "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return sw.write(b.String())
}

// Comment writes an SSE comment line, used as a keepalive.
func (sw *Writer) Comment(text string) error {
	return sw.write(": " + text + "\n\n")
}

func (sw *Writer) write(frame string) error {
	if err := sw.ctx.Err(); err != nil {
		return err
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	// Re-check under the lock; the stream may have closed while waiting.
	if err := sw.ctx.Err(); err != nil {
		return err
	}
	if _, err := io.WriteString(sw.w, frame); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	sw.f.Flush()
	return nil
}
