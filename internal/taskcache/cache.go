package taskcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is one cached task result.
type Entry struct {
	Fingerprint string          `json:"-"`
	DocumentID  string          `json:"document_id"`
	Kind        string          `json:"kind"`
	Result      json.RawMessage `json:"result"`
	Truncated   bool            `json:"truncated"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store persists cache entries. Get returns (nil, nil) on a miss.
// Implementations may bound total size (e.g. LRU over entries) as long as
// Get/Put/DeleteByDocument stay atomic per key.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	DeleteByDocument(ctx context.Context, documentID string) error
	CountEntries(ctx context.Context) (int, error)
}

// ComputeFunc produces the result payload for a cache miss, reporting whether
// input was truncated to fit the model's context window.
type ComputeFunc func(ctx context.Context) (json.RawMessage, bool, error)

// Cache serves task results, collapsing concurrent computations for the same
// fingerprint into a single in-flight call.
type Cache struct {
	store Store
	group singleflight.Group
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// GetOrCompute returns the cached entry for key, or runs compute exactly once
// per fingerprint while concurrent callers for the same key wait for that
// result. Failed computations are never stored.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (*Entry, bool, error) {
	fp := key.Fingerprint()

	if e, err := c.store.Get(ctx, fp); err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	} else if e != nil {
		return e, true, nil
	}

	type outcome struct {
		entry *Entry
		hit   bool
	}

	v, err, _ := c.group.Do(fp, func() (interface{}, error) {
		// A racing caller may have completed and stored while we queued.
		if e, err := c.store.Get(ctx, fp); err != nil {
			return nil, fmt.Errorf("cache lookup: %w", err)
		} else if e != nil {
			return outcome{entry: e, hit: true}, nil
		}

		result, truncated, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		e := &Entry{
			Fingerprint: fp,
			DocumentID:  key.DocumentID,
			Kind:        string(key.Kind),
			Result:      result,
			Truncated:   truncated,
			CreatedAt:   time.Now().UTC(),
		}
		if err := c.store.Put(ctx, e); err != nil {
			// The result is good even if persisting it failed; serve it and
			// let the next request recompute.
			slog.WarnContext(ctx, "failed to persist cache entry", "fingerprint", fp, "error", err)
		}
		return outcome{entry: e}, nil
	})
	if err != nil {
		return nil, false, err
	}

	out := v.(outcome)
	return out.entry, out.hit, nil
}

// Lookup checks the store without computing. Used by the streaming path,
// which manages its own generation lifecycle.
func (c *Cache) Lookup(ctx context.Context, key Key) (*Entry, error) {
	return c.store.Get(ctx, key.Fingerprint())
}

// Save stores a completed result. Callers must only invoke this for
// generations that ran to completion; cancelled or failed streams are not
// cache-worthy.
func (c *Cache) Save(ctx context.Context, key Key, result json.RawMessage, truncated bool) error {
	e := &Entry{
		Fingerprint: key.Fingerprint(),
		DocumentID:  key.DocumentID,
		Kind:        string(key.Kind),
		Result:      result,
		Truncated:   truncated,
		CreatedAt:   time.Now().UTC(),
	}
	return c.store.Put(ctx, e)
}

// DeleteByDocument purges every entry keyed to a document.
func (c *Cache) DeleteByDocument(ctx context.Context, documentID string) error {
	return c.store.DeleteByDocument(ctx, documentID)
}

// CountEntries reports the number of stored entries.
func (c *Cache) CountEntries(ctx context.Context) (int, error) {
	return c.store.CountEntries(ctx)
}
