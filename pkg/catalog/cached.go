package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// CachedOptions configures a Cached catalog.
type CachedOptions struct {
	// Size is the cache budget in bytes (freecache allocates it up front).
	Size int `koanf:"size" validate:"gte=0"`
	// TTL bounds staleness; zero keeps entries until evicted.
	TTL time.Duration `koanf:"ttl"`
}

// DefaultCacheSize is used when CachedOptions.Size is zero.
const DefaultCacheSize = 8 * 1024 * 1024

// Cached is a read-through cache in front of a catalog. Entries are stored
// msgpack-encoded, so every read returns a fresh copy.
type Cached struct {
	next  core.Catalog
	cache *freecache.Cache
	ttl   int
}

var (
	_ core.Catalog          = (*Cached)(nil)
	_ core.FormulaErrorSink = (*Cached)(nil)
)

// NewCached wraps next.
func NewCached(next core.Catalog, opts CachedOptions) *Cached {
	size := opts.Size
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cached{
		next:  next,
		cache: freecache.NewCache(size),
		ttl:   int(opts.TTL.Seconds()),
	}
}

// Invalidate drops every cached entry.
func (c *Cached) Invalidate() {
	c.cache.Clear()
}

// HitRate reports the fraction of reads served from the cache.
func (c *Cached) HitRate() float64 {
	return c.cache.HitRate()
}

// Table implements core.Catalog.
func (c *Cached) Table(ctx context.Context, id string) (*core.Table, error) {
	return readThrough(c, "table:"+id, func() (*core.Table, error) { return c.next.Table(ctx, id) })
}

// Columns implements core.Catalog.
func (c *Cached) Columns(ctx context.Context, tableID string) ([]*core.Column, error) {
	cols, err := readThrough(c, "columns:"+tableID, func() (*[]*core.Column, error) {
		cols, err := c.next.Columns(ctx, tableID)
		if cols == nil {
			return nil, err
		}
		return &cols, err
	})
	if cols == nil {
		return nil, err
	}
	return *cols, err
}

// Column implements core.Catalog.
func (c *Cached) Column(ctx context.Context, id string) (*core.Column, error) {
	return readThrough(c, "column:"+id, func() (*core.Column, error) { return c.next.Column(ctx, id) })
}

// RelationDescriptor implements core.Catalog.
func (c *Cached) RelationDescriptor(ctx context.Context, columnID string) (*core.RelationDescriptor, error) {
	return readThrough(c, "relation:"+columnID, func() (*core.RelationDescriptor, error) {
		return c.next.RelationDescriptor(ctx, columnID)
	})
}

// LookupDescriptor implements core.Catalog.
func (c *Cached) LookupDescriptor(ctx context.Context, columnID string) (*core.LookupDescriptor, error) {
	return readThrough(c, "lookup:"+columnID, func() (*core.LookupDescriptor, error) {
		return c.next.LookupDescriptor(ctx, columnID)
	})
}

// readThrough serves key from the cache or loads and stores it. Missing
// entities and load errors are not cached.
func readThrough[T any](c *Cached, key string, load func() (*T, error)) (*T, error) {
	k := []byte(key)
	if data, err := c.cache.Get(k); err == nil {
		var v T
		if err := msgpack.Unmarshal(data, &v); err == nil {
			return &v, nil
		}
		c.cache.Del(k)
	} else if !errors.Is(err, freecache.ErrNotFound) {
		return nil, fmt.Errorf("failed to read catalog cache: %w", err)
	}

	v, err := load()
	if err != nil || v == nil {
		return v, err
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	// Entries larger than a cache segment are simply not cached.
	_ = c.cache.Set(k, data, c.ttl)
	return v, nil
}

// SetFormulaError forwards to the wrapped catalog when it records formula
// errors, then drops the entries embedding the column.
func (c *Cached) SetFormulaError(ctx context.Context, columnID, msg string) error {
	sink, ok := c.next.(core.FormulaErrorSink)
	if !ok {
		return nil
	}
	if err := sink.SetFormulaError(ctx, columnID, msg); err != nil {
		return err
	}
	c.cache.Del([]byte("column:" + columnID))
	col, err := c.next.Column(ctx, columnID)
	if err != nil || col == nil {
		return err
	}
	c.cache.Del([]byte("table:" + col.TableID))
	c.cache.Del([]byte("columns:" + col.TableID))
	return nil
}
