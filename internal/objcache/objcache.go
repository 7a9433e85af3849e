// Package objcache implements the worker's shared, content-addressed
// on-disk blob cache (spec §4.C1).
//
// Multiple workers share one cache directory. The write path is
// link-or-skip: a write lands in a temp file, is flushed and fsynced,
// then hard-linked into place; if the link fails for any reason
// (including the name already existing) the write is silently dropped.
// This is safe because every name is content-addressed, so whichever
// writer got there first is as good as any other -- no locking needed.
// This mirrors games.py's cache_read/cache_write exactly, generalised
// from the teacher's dir_cache.go storage discipline.
package objcache

import (
	"os"
	"path/filepath"

	"github.com/montytest/worker/internal/metrics"
	"github.com/montytest/worker/internal/wlog"
)

var log = wlog.Log

// Cache is an on-disk content-addressed blob store rooted at Dir. The
// zero value with an empty Dir is a valid "no cache" cache: Read always
// misses and Write is always a no-op, matching the original's
// `cache == ""` early-out.
type Cache struct {
	Dir string
}

// New returns a Cache rooted at dir. If dir is non-empty it is created if
// missing.
func New(dir string) (*Cache, error) {
	if dir == "" {
		return &Cache{}, nil
	}
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	return &Cache{Dir: dir}, nil
}

// Read returns the bytes stored under name, or (nil, false) if absent or
// unreadable for any reason. It never returns an error: a cache miss is
// not a failure condition anywhere this is called.
func (c *Cache) Read(name string) ([]byte, bool) {
	if c.Dir == "" {
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(c.Dir, name))
	if err != nil {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return data, true
}

// Write stores data under name using the link-or-skip discipline
// described above. It never returns an error: a failed write just means
// the next reader will have to fetch the content from its origin again.
func (c *Cache) Write(name string, data []byte) {
	if c.Dir == "" {
		return
	}
	tmp, err := os.CreateTemp(c.Dir, "objcache-*")
	if err != nil {
		log.Debug("Failed to create temp file in cache dir %s: %s", c.Dir, err)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		log.Debug("Failed to write temp cache file %s: %s", tmpPath, err)
		return
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		log.Debug("Failed to fsync temp cache file %s: %s", tmpPath, err)
		return
	}
	if err := tmp.Close(); err != nil {
		log.Debug("Failed to close temp cache file %s: %s", tmpPath, err)
		return
	}

	dest := filepath.Join(c.Dir, name)
	if err := os.Link(tmpPath, dest); err != nil {
		// Already present, or some other reason we can't link: fine,
		// first-writer-wins is acceptable for content-addressed data.
		log.Debug("Not linking %s into cache (already present or link failed): %s", name, err)
	}
}
