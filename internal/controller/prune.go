package controller

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/djherbis/atime"

	"github.com/montytest/worker/internal/wlog"
)

// recencyOf returns the timestamp used to rank a file for pruning. It
// prefers the modification time (when an engine was built, or a network
// was last downloaded); on filesystems that don't maintain a trustworthy
// mtime for files that are only ever read after creation (some network
// shares mount with noatime/nomtime quirks) it falls back to the access
// time, which is still updated whenever the file is staged into a build.
func recencyOf(path string, info os.FileInfo) int64 {
	if mtime := info.ModTime(); !mtime.IsZero() {
		return mtime.UnixNano()
	}
	if at, err := atime.Stat(path); err == nil {
		return at.UnixNano()
	}
	return 0
}

// pruneGlob keeps the keep most recently touched files matching pattern
// in dir and removes the rest, matching the original's engine/network
// cleanup passes. Failures to stat or remove an individual file are
// logged and skipped, never fatal: a worker that can't clean up its own
// cache should still be able to run tests.
func pruneGlob(dir, pattern string, keep int) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		wlog.Log.Warning("Failed to list %s for pruning: %s", pattern, err)
		return
	}
	if len(matches) <= keep {
		return
	}

	type entry struct {
		path    string
		recency int64
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: m, recency: recencyOf(m, info)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].recency > entries[j].recency })

	for _, e := range entries[min(keep, len(entries)):] {
		if err := os.Remove(e.path); err != nil {
			wlog.Log.Warning("Failed to remove old file %s: %s", e.path, err)
		}
	}
}

// pruneEngines removes old engine binaries in testingDir beyond keep.
func pruneEngines(testingDir string, keep int) {
	pruneGlob(testingDir, "monty_*", keep)
}

// pruneNetworks removes old network files in testingDir beyond
// maxNetworkBackups.
func pruneNetworks(testingDir string) {
	pruneGlob(testingDir, "nn-*.network", maxNetworkBackups)
}
