package wordpress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/ggoodman/mcp-wordpress-gateway/storage"
)

// collection implements CRUD for one REST resource kind. R is the record
// type and I its writable input.
type collection[R, I any] struct {
	c    *Client
	kind string

	// writes counts completed writes to this kind. A read that overlaps a
	// write must not leave its response in the cache.
	writes *atomic.Uint64
}

func (col collection[R, I]) itemPath(id int64) string {
	return "/" + col.kind + "/" + strconv.FormatInt(id, 10)
}

func (col collection[R, I]) list(ctx context.Context, opts ListOptions) (*List[R], error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.FormatInt(opts.Page, 10))
	}
	if opts.PerPage > 0 {
		q.Set("per_page", strconv.FormatInt(opts.PerPage, 10))
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.OrderBy != "" {
		q.Set("orderby", opts.OrderBy)
	}
	if opts.Order != "" {
		q.Set("order", opts.Order)
	}
	if len(opts.Categories) > 0 {
		q.Set("categories", joinIDs(opts.Categories))
	}
	if len(opts.Tags) > 0 {
		q.Set("tags", joinIDs(opts.Tags))
	}
	if opts.Parent != nil {
		q.Set("parent", strconv.FormatInt(*opts.Parent, 10))
	}

	var items []R
	resp, err := col.c.do(ctx, http.MethodGet, "/"+col.kind, q, nil, &items)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []R{}
	}
	page := opts.Page
	if page == 0 {
		page = 1
	}
	return &List[R]{
		Items:      items,
		Page:       page,
		Total:      headerInt(resp.header, "X-WP-Total"),
		TotalPages: headerInt(resp.header, "X-WP-TotalPages"),
	}, nil
}

func (col collection[R, I]) get(ctx context.Context, id int64) (*R, error) {
	if rec, ok := col.cached(ctx, id); ok {
		return rec, nil
	}
	gen := col.writes.Load()
	var rec R
	if _, err := col.c.do(ctx, http.MethodGet, col.itemPath(id), nil, nil, &rec); err != nil {
		return nil, err
	}
	col.store(ctx, id, &rec)
	if col.writes.Load() != gen {
		col.invalidate(ctx, id)
	}
	return &rec, nil
}

func (col collection[R, I]) create(ctx context.Context, in I) (*R, error) {
	var rec R
	if _, err := col.c.do(ctx, http.MethodPost, "/"+col.kind, nil, in, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// update sends a partial update. in may be I or any JSON-encodable patch.
func (col collection[R, I]) update(ctx context.Context, id int64, in any) (*R, error) {
	defer col.written(ctx, id)
	var rec R
	if _, err := col.c.do(ctx, http.MethodPost, col.itemPath(id), nil, in, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (col collection[R, I]) delete(ctx context.Context, id int64, force bool) (*Deleted[R], error) {
	defer col.written(ctx, id)
	q := url.Values{}
	if force {
		q.Set("force", "true")
		var out Deleted[R]
		if _, err := col.c.do(ctx, http.MethodDelete, col.itemPath(id), q, nil, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}
	var rec R
	if _, err := col.c.do(ctx, http.MethodDelete, col.itemPath(id), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &Deleted[R]{Trashed: true, Previous: &rec}, nil
}

// Cache failures are logged and otherwise ignored; the API stays the source
// of truth.

func (col collection[R, I]) cached(ctx context.Context, id int64) (*R, bool) {
	if col.c.cache == nil {
		return nil, false
	}
	key := strconv.FormatInt(id, 10)
	item, err := col.c.cache.Get(ctx, key, storage.WithNamespace(col.kind))
	if err != nil {
		col.c.log.WarnContext(ctx, "wordpress.cache.get.fail", slog.String("kind", col.kind), slog.String("err", err.Error()))
		return nil, false
	}
	if item == nil {
		return nil, false
	}
	var rec R
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return nil, false
	}
	col.c.log.DebugContext(ctx, "wordpress.cache.hit", slog.String("kind", col.kind), slog.Int64("id", id))
	return &rec, true
}

func (col collection[R, I]) store(ctx context.Context, id int64, rec *R) {
	if col.c.cache == nil {
		return
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := strconv.FormatInt(id, 10)
	if err := col.c.cache.Set(ctx, key, b, storage.WithNamespace(col.kind), storage.WithTTL(col.c.cacheTTL)); err != nil {
		col.c.log.WarnContext(ctx, "wordpress.cache.set.fail", slog.String("kind", col.kind), slog.String("err", err.Error()))
	}
}

// written runs after every update or delete, failed ones included. A read
// that stored its response before the bump has the entry dropped here; one
// that stored after it sees the new count and drops the entry itself.
func (col collection[R, I]) written(ctx context.Context, id int64) {
	col.writes.Add(1)
	col.invalidate(context.WithoutCancel(ctx), id)
}

func (col collection[R, I]) invalidate(ctx context.Context, id int64) {
	if col.c.cache == nil {
		return
	}
	key := strconv.FormatInt(id, 10)
	if err := col.c.cache.Delete(ctx, storage.WithNamespace(col.kind), storage.WithKey(key)); err != nil {
		col.c.log.WarnContext(ctx, "wordpress.cache.delete.fail", slog.String("kind", col.kind), slog.String("err", err.Error()))
	}
}
