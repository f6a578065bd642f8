// Package storagetest holds behaviour tests shared by every storage.Storage
// implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/mcp-wordpress-gateway/storage"
)

// Run exercises s. The store must be empty.
func Run(t *testing.T, s storage.Storage) {
	t.Helper()
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, s) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, s) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, s) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, s) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, s) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, s) })
}

func mustGet(t *testing.T, s storage.Storage, key string, opts ...storage.Option) *storage.Item {
	t.Helper()
	item, err := s.Get(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	return item
}

func mustSet(t *testing.T, s storage.Storage, key, val string, opts ...storage.Option) {
	t.Helper()
	if err := s.Set(context.Background(), key, []byte(val), opts...); err != nil {
		t.Fatalf("Set(%q) failed: %v", key, err)
	}
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	mustSet(t, s, "k1", "v1")
	item := mustGet(t, s, "k1")
	if item == nil {
		t.Fatal("Get() returned nil item")
	}
	if string(item.Data) != "v1" {
		t.Fatalf("Get() returned wrong data: got %s, want v1", item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}

	mustSet(t, s, "k1", "v2")
	if got := string(mustGet(t, s, "k1").Data); got != "v2" {
		t.Fatalf("overwrite: got %s, want v2", got)
	}
}

func testGetMissing(t *testing.T, s storage.Storage) {
	if item := mustGet(t, s, "does-not-exist"); item != nil {
		t.Fatalf("expected nil item, got %+v", item)
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	mustSet(t, s, "ttl", "soon-gone", storage.WithTTL(100*time.Millisecond))
	item := mustGet(t, s, "ttl")
	if item == nil || item.ExpiresAt == nil {
		t.Fatalf("expected item with expiry, got %+v", item)
	}
	time.Sleep(250 * time.Millisecond)
	if item := mustGet(t, s, "ttl"); item != nil {
		t.Fatalf("expected expired item to be gone, got %s", item.Data)
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	mustSet(t, s, "1", "post-1", storage.WithNamespace("posts"))
	mustSet(t, s, "1", "page-1", storage.WithNamespace("pages"))

	if got := string(mustGet(t, s, "1", storage.WithNamespace("posts")).Data); got != "post-1" {
		t.Fatalf("posts ns: got %s", got)
	}
	if got := string(mustGet(t, s, "1", storage.WithNamespace("pages")).Data); got != "page-1" {
		t.Fatalf("pages ns: got %s", got)
	}
	if item := mustGet(t, s, "1"); item != nil {
		t.Fatalf("global ns should not see namespaced key, got %s", item.Data)
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ns := storage.WithNamespace("del-key")
	mustSet(t, s, "a", "1", ns)
	mustSet(t, s, "b", "2", ns)
	if err := s.Delete(context.Background(), ns, storage.WithKey("a")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if mustGet(t, s, "a", ns) != nil {
		t.Fatal("deleted key still present")
	}
	if mustGet(t, s, "b", ns) == nil {
		t.Fatal("sibling key removed")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	gone := storage.WithNamespace("del-ns")
	kept := storage.WithNamespace("keep-ns")
	mustSet(t, s, "a", "1", gone)
	mustSet(t, s, "b", "2", gone)
	mustSet(t, s, "a", "3", kept)

	if err := s.Delete(context.Background(), gone); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if mustGet(t, s, "a", gone) != nil || mustGet(t, s, "b", gone) != nil {
		t.Fatal("namespace not cleared")
	}
	if mustGet(t, s, "a", kept) == nil {
		t.Fatal("other namespace affected")
	}
}
