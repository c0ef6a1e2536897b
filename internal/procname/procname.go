// Package procname resolves process ids to executable names with a bounded,
// instance-owned cache.
package procname

import (
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 4096

// LookupFunc resolves a pid to a process name straight from the OS.
type LookupFunc func(pid int32) (string, error)

// SystemLookup queries the process table via gopsutil.
func SystemLookup(pid int32) (string, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return "", err
	}
	return p.Name()
}

// Cache memoizes pid -> name lookups. Failed lookups are not cached. When the
// cache is full an arbitrary entry is evicted to make room.
type Cache struct {
	mu      sync.Mutex
	names   map[int64]string
	max     int
	lookup  LookupFunc
	hits    uint64
	misses  uint64
	evicted uint64
}

// NewCache returns a cache holding at most maxEntries names. A nil lookup
// uses SystemLookup.
func NewCache(maxEntries int, lookup LookupFunc) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if lookup == nil {
		lookup = SystemLookup
	}
	return &Cache{
		names:  make(map[int64]string, min(maxEntries, 256)),
		max:    maxEntries,
		lookup: lookup,
	}
}

// Name returns the process name for pid, reporting false when it cannot be
// resolved.
func (c *Cache) Name(pid int64) (string, bool) {
	if pid <= 0 || pid > int64(^uint32(0)>>1) {
		return "", false
	}

	c.mu.Lock()
	if name, ok := c.names[pid]; ok {
		c.hits++
		c.mu.Unlock()
		return name, true
	}
	c.misses++
	c.mu.Unlock()

	name, err := c.lookup(int32(pid))
	if err != nil || name == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.names[pid]; !ok && len(c.names) >= c.max {
		for k := range c.names {
			delete(c.names, k)
			c.evicted++
			break
		}
	}
	c.names[pid] = name
	return name, true
}

// Len returns the number of cached names.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.names)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
	Evicted uint64
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.names), Hits: c.hits, Misses: c.misses, Evicted: c.evicted}
}
