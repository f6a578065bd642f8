package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrOutboxClosed is returned once the outbox has been closed.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxBusy is returned by Drain when another consumer is attached.
	ErrOutboxBusy = errors.New("outbox already has a consumer")
	// ErrOutboxFull is returned by Offer when the queue has no free capacity.
	ErrOutboxFull = errors.New("outbox full")
)

// Outbox is a per-session ordered queue of outbound frames. Producers reserve
// a slot in submission order and fill it whenever their result is ready; a
// single consumer emits frames strictly in reservation order. Writes after
// Close are silently dropped.
type Outbox struct {
	slots     chan *Slot
	done      chan struct{}
	closeOnce sync.Once
	draining  atomic.Bool
}

// Slot is a reserved position in an Outbox. Exactly one of Fill or Abandon
// takes effect; later calls are no-ops.
type Slot struct {
	ch   chan []byte
	once sync.Once
}

// Fill delivers the frame for this position.
func (s *Slot) Fill(frame []byte) {
	s.once.Do(func() {
		s.ch <- frame
		close(s.ch)
	})
}

// Abandon releases the position without emitting anything. Used for
// notifications and calls that produce no reply.
func (s *Slot) Abandon() {
	s.once.Do(func() { close(s.ch) })
}

// NewOutbox creates an outbox holding up to capacity reserved slots.
func NewOutbox(capacity int) *Outbox {
	if capacity <= 0 {
		capacity = 64
	}
	return &Outbox{
		slots: make(chan *Slot, capacity),
		done:  make(chan struct{}),
	}
}

// Reserve claims the next position. Callers must reserve in the order their
// frames are to be delivered. It blocks while the queue is full.
func (o *Outbox) Reserve(ctx context.Context) (*Slot, error) {
	select {
	case <-o.done:
		return nil, ErrOutboxClosed
	default:
	}

	slot := &Slot{ch: make(chan []byte, 1)}
	select {
	case o.slots <- slot:
		return slot, nil
	case <-o.done:
		return nil, ErrOutboxClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Post reserves a slot and fills it immediately.
func (o *Outbox) Post(ctx context.Context, frame []byte) error {
	slot, err := o.Reserve(ctx)
	if err != nil {
		return err
	}
	slot.Fill(frame)
	return nil
}

// Offer enqueues a ready frame without blocking. Used for best-effort
// server-initiated notifications.
func (o *Outbox) Offer(frame []byte) error {
	select {
	case <-o.done:
		return ErrOutboxClosed
	default:
	}

	slot := &Slot{ch: make(chan []byte, 1)}
	slot.Fill(frame)
	select {
	case o.slots <- slot:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Close stops delivery. Pending and future frames are discarded. Safe to
// call more than once.
func (o *Outbox) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// Done is closed when the outbox is closed.
func (o *Outbox) Done() <-chan struct{} { return o.done }

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Drain attaches the single consumer. It calls emit for every filled slot in
// reservation order until ctx is done, the outbox is closed, or emit fails.
// Abandoned slots are skipped. Only one Drain may run at a time.
func (o *Outbox) Drain(ctx context.Context, emit func([]byte) error) error {
	if !o.draining.CompareAndSwap(false, true) {
		return ErrOutboxBusy
	}
	defer o.draining.Store(false)

	for {
		var slot *Slot
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.done:
			return ErrOutboxClosed
		case slot = <-o.slots:
		}

		var (
			frame []byte
			ok    bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.done:
			return ErrOutboxClosed
		case frame, ok = <-slot.ch:
		}
		if !ok {
			continue
		}
		if err := emit(frame); err != nil {
			return err
		}
	}
}
