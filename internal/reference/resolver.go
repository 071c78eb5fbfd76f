package reference

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source loads the authoritative catalogue.
type Source interface {
	Load(ctx context.Context) (*Catalogue, error)
}

// Cache shares a loaded catalogue between processes.
type Cache interface {
	Get(ctx context.Context) (*Catalogue, bool, error)
	Put(ctx context.Context, c *Catalogue, ttl time.Duration) error
}

// Resolver memoizes the catalogue index and refreshes it once the TTL has
// elapsed. A failed refresh keeps serving the previous index.
type Resolver struct {
	source Source
	cache  Cache
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	group    singleflight.Group
	mu       sync.RWMutex
	index    *Index
	loadedAt time.Time
}

type Option func(*Resolver)

func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(source Source, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		ttl:    15 * time.Minute,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewStatic returns a resolver over a fixed catalogue that never refreshes.
func NewStatic(c *Catalogue) (*Resolver, error) {
	idx, err := NewIndex(c)
	if err != nil {
		return nil, err
	}
	r := NewResolver(nil)
	r.index = idx
	r.ttl = 0
	return r, nil
}

// Index returns the current catalogue index, loading or refreshing it when
// needed.
func (r *Resolver) Index(ctx context.Context) (*Index, error) {
	r.mu.RLock()
	idx, loadedAt := r.index, r.loadedAt
	r.mu.RUnlock()

	if idx != nil && (r.source == nil || r.ttl <= 0 || r.now().Sub(loadedAt) < r.ttl) {
		return idx, nil
	}

	v, err, _ := r.group.Do("catalogue", func() (any, error) {
		return r.refresh(ctx)
	})
	if err != nil {
		if idx != nil {
			r.logger.Warn("reference catalogue refresh failed, serving stale copy", "error", err)
			return idx, nil
		}
		return nil, err
	}
	return v.(*Index), nil
}

func (r *Resolver) refresh(ctx context.Context) (*Index, error) {
	if r.source == nil {
		return nil, fmt.Errorf("reference catalogue has no source")
	}
	r.mu.RLock()
	current, loadedAt := r.index, r.loadedAt
	r.mu.RUnlock()
	if current != nil && r.now().Sub(loadedAt) < r.ttl {
		return current, nil
	}

	var catalogue *Catalogue
	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx)
		if err != nil {
			r.logger.Warn("reference cache read failed", "error", err)
		} else if ok {
			catalogue = cached
		}
	}
	fromSource := false
	if catalogue == nil {
		loaded, err := r.source.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load catalogue: %w", err)
		}
		catalogue = loaded
		fromSource = true
	}

	idx, err := NewIndex(catalogue)
	if err != nil {
		return nil, fmt.Errorf("index catalogue: %w", err)
	}
	if fromSource && r.cache != nil {
		if err := r.cache.Put(ctx, catalogue, r.ttl); err != nil {
			r.logger.Warn("reference cache write failed", "error", err)
		}
	}

	r.mu.Lock()
	r.index = idx
	r.loadedAt = r.now()
	r.mu.Unlock()
	r.logger.Info("reference catalogue loaded", "version", idx.Version(), "from_source", fromSource)
	return idx, nil
}
