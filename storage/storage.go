// Package storage defines the byte cache used to hold backend records
// between calls. Keys live in namespaces, one per resource kind, so that a
// whole kind can be invalidated at once.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage is a namespaced key/value cache with optional expiry.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the item stored under key, or nil if it is absent or has
	// expired. An error is returned only for backend failures.
	Get(ctx context.Context, key string, opts ...Option) (*Item, error)

	// Set stores data under key, replacing any previous value.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Delete removes the key given by WithKey, or the whole namespace when
	// no key is given.
	Delete(ctx context.Context, opts ...Option) error

	// Close releases backend resources.
	Close() error
}

// Item is a stored value with metadata.
type Item struct {
	Data      []byte
	CreatedAt time.Time
	ExpiresAt *time.Time // nil means no expiry
}

// IsExpired reports whether the item has passed its expiry time.
func (i *Item) IsExpired() bool {
	return i.ExpiresAt != nil && time.Now().After(*i.ExpiresAt)
}

// Option configures a storage operation.
type Option func(*Options)

// Options is the resolved set of per-call options.
type Options struct {
	Namespace string
	Key       *string
	TTL       *time.Duration
}

// Apply resolves opts.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithNamespace scopes the operation to a namespace. The empty namespace is
// the global one.
func WithNamespace(ns string) Option {
	return func(o *Options) { o.Namespace = ns }
}

// WithKey selects a single key for Delete.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = &key }
}

// WithTTL sets the time-to-live of stored data.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.TTL = &ttl
		}
	}
}

// ErrInvalidOptions is returned when incompatible options are provided.
var ErrInvalidOptions = errors.New("storage: invalid option combination")
