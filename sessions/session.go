package sessions

import (
	"sync/atomic"
	"time"
)

// Kind identifies the transport family a session belongs to.
type Kind string

const (
	// KindStreamable is the request/response transport with an optional push channel.
	KindStreamable Kind = "request-response"
	// KindSSE is the event-stream transport with decoupled replies.
	KindSSE Kind = "event-stream"
)

// Session binds a gateway-generated identifier to a transport handle of type H.
// Everything but the closed flag is fixed at creation. Implementations of H
// are owned exclusively by the session.
type Session[H any] struct {
	id        string
	kind      Kind
	createdAt time.Time
	handle    H
	closed    atomic.Bool
}

func (s *Session[H]) ID() string           { return s.id }
func (s *Session[H]) Kind() Kind           { return s.kind }
func (s *Session[H]) CreatedAt() time.Time { return s.createdAt }
func (s *Session[H]) Handle() H            { return s.handle }

// Closed reports whether the session was removed from its store.
func (s *Session[H]) Closed() bool { return s.closed.Load() }
