// Package memory provides an in-process storage.Storage backed by
// github.com/hashicorp/golang-lru/v2.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/mcp-wordpress-gateway/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultSweepInterval = time.Minute

// Storage keeps at most maxItems entries and evicts the least recently used.
type Storage struct {
	cache *lru.Cache[string, *storage.Item]

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a memory store holding up to maxItems entries and starts the
// background sweep of expired items.
func New(maxItems int) (*Storage, error) {
	return NewWithSweep(maxItems, defaultSweepInterval)
}

// NewWithSweep is New with an explicit expiry sweep interval.
func NewWithSweep(maxItems int, sweep time.Duration) (*Storage, error) {
	cache, err := lru.New[string, *storage.Item](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	s := &Storage{cache: cache, stop: make(chan struct{})}
	if sweep > 0 {
		go s.sweepExpired(sweep)
	}
	return s, nil
}

func (s *Storage) Get(_ context.Context, key string, opts ...storage.Option) (*storage.Item, error) {
	o := storage.Apply(opts...)
	k := buildKey(o.Namespace, key)

	item, ok := s.cache.Get(k)
	if !ok {
		return nil, nil
	}
	if item.IsExpired() {
		s.cache.Remove(k)
		return nil, nil
	}
	return item, nil
}

func (s *Storage) Set(_ context.Context, key string, data []byte, opts ...storage.Option) error {
	o := storage.Apply(opts...)
	now := time.Now()
	item := &storage.Item{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if o.TTL != nil {
		exp := now.Add(*o.TTL)
		item.ExpiresAt = &exp
	}
	s.cache.Add(buildKey(o.Namespace, key), item)
	return nil
}

func (s *Storage) Delete(_ context.Context, opts ...storage.Option) error {
	o := storage.Apply(opts...)
	if o.Key != nil {
		s.cache.Remove(buildKey(o.Namespace, *o.Key))
		return nil
	}
	// LRU has no prefix iteration; scan the keys.
	prefix := namespacePrefix(o.Namespace)
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

// Close stops the sweeper and drops every entry.
func (s *Storage) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.cache.Purge()
	return nil
}

// Len returns the number of entries, including expired ones not yet swept.
func (s *Storage) Len() int { return s.cache.Len() }

func namespacePrefix(ns string) string {
	if ns == "" {
		return "global:"
	}
	return "ns:" + ns + ":"
}

func buildKey(ns, key string) string { return namespacePrefix(ns) + key }

func (s *Storage) sweepExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			for _, k := range s.cache.Keys() {
				if item, ok := s.cache.Peek(k); ok && item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
					s.cache.Remove(k)
				}
			}
		}
	}
}
