// clock.go: monotonic + wall-clock time source for the write/read hot paths
//
// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"sync"
	"time"

	timecache "github.com/agilira/go-timecache"
)

// Clock supplies epoch-millisecond timestamps to the write path without
// paying a syscall on every record. It wraps a go-timecache instance the
// same way lethe caches time for rotation timestamps: a background
// resolution ticker keeps a cached time.Time fresh and CachedTime() reads
// it without a syscall.
type Clock struct {
	once  sync.Once
	cache *timecache.TimeCache
}

// NewClock constructs a Clock with millisecond cache resolution, matching
// the write path's need for millisecond-granularity timestamps.
func NewClock() *Clock {
	c := &Clock{}
	c.once.Do(func() {
		c.cache = timecache.NewWithResolution(time.Millisecond)
	})
	return c
}

// NowMillis returns the current epoch-millisecond timestamp. Falls back to
// time.Now when the cache was never initialized (e.g. a zero-value Clock
// used directly in a unit test).
func (c *Clock) NowMillis() int64 {
	if c == nil || c.cache == nil {
		return time.Now().UnixMilli()
	}
	return c.cache.CachedTime().UnixMilli()
}

// Stop releases the background cache ticker. Safe to call on a nil Clock.
func (c *Clock) Stop() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Stop()
}
