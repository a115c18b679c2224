package runstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/hupe1980/segmesh/core"
)

// CacheOptions configures a Cache.
type CacheOptions struct {
	// Capacity bounds the number of runs kept. Defaults to 1000.
	Capacity int
	// TTL is how long a run stays addressable after it was last put.
	// Defaults to one hour.
	TTL time.Duration
}

// Cache is a bounded RunStore backed by an otter cache. Entries expire TTL
// after their last Put and the least valuable entries are evicted once the
// capacity is reached.
type Cache struct {
	runs otter.Cache[string, *core.AgentRun]
	ttl  time.Duration
}

var _ core.RunStore = (*Cache)(nil)

// NewCache builds a Cache.
func NewCache(optFns ...func(o *CacheOptions)) (*Cache, error) {
	opts := CacheOptions{
		Capacity: 1000,
		TTL:      time.Hour,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", opts.Capacity)
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", opts.TTL)
	}

	runs, err := otter.MustBuilder[string, *core.AgentRun](opts.Capacity).
		WithTTL(opts.TTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build run cache: %w", err)
	}

	return &Cache{runs: runs, ttl: opts.TTL}, nil
}

// TTL returns the configured expiry.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Put stores run under its id and restarts its TTL.
func (c *Cache) Put(run *core.AgentRun) error {
	if run == nil || run.ID == "" {
		return errors.New("run id is required")
	}
	c.runs.Set(run.ID, run)
	return nil
}

// Get returns a snapshot of the run stored under id.
func (c *Cache) Get(id string) (*core.AgentRun, error) {
	run, ok := c.runs.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return run.Snapshot(), nil
}

// Delete removes the run stored under id.
func (c *Cache) Delete(id string) error {
	if !c.runs.Has(id) {
		return ErrNotFound
	}
	c.runs.Delete(id)
	return nil
}

// List returns snapshots of all live runs, newest first.
func (c *Cache) List() []*core.AgentRun {
	out := make([]*core.AgentRun, 0, c.runs.Size())
	c.runs.Range(func(_ string, run *core.AgentRun) bool {
		out = append(out, run.Snapshot())
		return true
	})

	sortNewestFirst(out)

	return out
}

// Len returns the number of live runs.
func (c *Cache) Len() int { return c.runs.Size() }

// Close stops the cache's background maintenance.
func (c *Cache) Close() { c.runs.Close() }
