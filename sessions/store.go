package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned by transports when a correlation token
	// does not resolve to a live session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrIDExhausted is returned when the id generator keeps colliding with
	// live sessions.
	ErrIDExhausted = errors.New("unable to generate a unique session id")
)

const maxIDAttempts = 8

// Store is a concurrency-safe registry of live sessions keyed by id. One
// store exists per transport family; H is that family's transport handle.
type Store[H any] struct {
	kind    Kind
	newID   func() string
	release func(H)
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session[H]
}

// StoreOption configures a Store.
type StoreOption[H any] func(*Store[H])

// WithRelease registers a hook invoked exactly once with the handle of every
// removed session, after it has left the store.
func WithRelease[H any](fn func(H)) StoreOption[H] {
	return func(s *Store[H]) { s.release = fn }
}

// WithIDGenerator overrides the session id source. The default is a random
// UUID.
func WithIDGenerator[H any](fn func() string) StoreOption[H] {
	return func(s *Store[H]) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore creates an empty store for the given transport family.
func NewStore[H any](kind Kind, opts ...StoreOption[H]) *Store[H] {
	s := &Store[H]{
		kind:     kind,
		newID:    uuid.NewString,
		now:      time.Now,
		sessions: make(map[string]*Session[H]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the transport family served by this store.
func (s *Store[H]) Kind() Kind { return s.kind }

// Create registers a new session owning handle. The session is fully
// constructed before it becomes visible to Get.
func (s *Store[H]) Create(handle H) (*Session[H], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range maxIDAttempts {
		id := s.newID()
		if id == "" {
			continue
		}
		if _, exists := s.sessions[id]; exists {
			continue
		}
		sess := &Session[H]{id: id, kind: s.kind, createdAt: s.now(), handle: handle}
		s.sessions[id] = sess
		return sess, nil
	}
	return nil, ErrIDExhausted
}

// Get looks up a live session by id.
func (s *Store[H]) Get(id string) (*Session[H], bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || sess.Closed() {
		return nil, false
	}
	return sess, true
}

// Remove deletes the session and releases its handle. It reports whether an
// entry existed; removing an unknown or already removed id is a no-op.
func (s *Store[H]) Remove(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if sess.closed.CompareAndSwap(false, true) && s.release != nil {
		s.release(sess.handle)
	}
	return true
}

// Len returns the number of live sessions.
func (s *Store[H]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Range calls fn for a snapshot of the live sessions until fn returns false.
// fn runs without the store lock held and may call Remove.
func (s *Store[H]) Range(fn func(*Session[H]) bool) {
	s.mu.RLock()
	snapshot := make([]*Session[H], 0, len(s.sessions))
	for _, sess := range s.sessions {
		snapshot = append(snapshot, sess)
	}
	s.mu.RUnlock()

	for _, sess := range snapshot {
		if !fn(sess) {
			return
		}
	}
}

// Close removes every session, releasing their handles.
func (s *Store[H]) Close() {
	s.Range(func(sess *Session[H]) bool {
		s.Remove(sess.ID())
		return true
	})
}

// Reap periodically removes sessions whose handle has been idle for longer
// than ttl, as reported by lastSeen. It blocks until ctx is done.
func (s *Store[H]) Reap(ctx context.Context, ttl, interval time.Duration, lastSeen func(H) time.Time) error {
	if ttl <= 0 || lastSeen == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if interval <= 0 {
		interval = ttl / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.reapOnce(ttl, lastSeen)
		}
	}
}

func (s *Store[H]) reapOnce(ttl time.Duration, lastSeen func(H) time.Time) int {
	cutoff := s.now().Add(-ttl)
	reaped := 0
	s.Range(func(sess *Session[H]) bool {
		if lastSeen(sess.Handle()).Before(cutoff) && s.Remove(sess.ID()) {
			reaped++
		}
		return true
	})
	return reaped
}
