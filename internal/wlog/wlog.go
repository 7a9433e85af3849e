// Package wlog contains the singleton loggers used globally by the worker.
// It deliberately has little else since it's a dependency everywhere,
// mirroring github.com/thought-machine/please/src/cli/logging.
package wlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "gopkg.in/op/go-logging.v1"
)

// Log is the singleton process-wide logger instance. We never alter
// individual levels at runtime and don't log the module name, so there is
// no need for more than one, and it helps avoid race conditions.
var Log = logging.MustGetLogger("worker")

// Re-exports of the underlying levels, so callers never import the
// go-logging package directly.
const (
	CRITICAL = logging.CRITICAL
	ERROR    = logging.ERROR
	WARNING  = logging.WARNING
	NOTICE   = logging.NOTICE
	INFO     = logging.INFO
	DEBUG    = logging.DEBUG
)

// SetLevel sets the level of the singleton logger. Called once at startup.
func SetLevel(level logging.Level) {
	logging.SetLevel(level, "worker")
}

// SetVerbosity sets the logger level from a small integer (0=CRITICAL,
// 5=DEBUG), matching a typical "-v" / "-verbosity" CLI flag without
// making cmd/worker import the underlying logging package directly.
func SetVerbosity(v int) {
	switch {
	case v <= 0:
		SetLevel(CRITICAL)
	case v == 1:
		SetLevel(ERROR)
	case v == 2:
		SetLevel(WARNING)
	case v == 3:
		SetLevel(NOTICE)
	case v == 4:
		SetLevel(INFO)
	default:
		SetLevel(DEBUG)
	}
}

// apiLog is the append-only request log described in spec §6 (./api.log).
// It is initialised once via InitAPILog and is never reopened; all writes
// go through a single mutex, mirroring the original's LOG_LOCK.
type apiLog struct {
	mu   sync.Mutex
	file *os.File
}

var api apiLog

// InitAPILog opens (or rotates, then opens) the append-only API log file
// at the given path. Any pre-existing file is first renamed to
// "<path>.previous", mirroring games.py's backup_log().
func InitAPILog(path string) error {
	if _, err := os.Stat(path); err == nil {
		previous := path + ".previous"
		if err := os.Rename(path, previous); err != nil {
			Log.Warning("Failed to back up existing log %s: %s", path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
	if err != nil {
		return err
	}
	api.mu.Lock()
	api.file = f
	api.mu.Unlock()
	return nil
}

// APILogf appends a single timestamped line to the API log. It is a no-op
// if InitAPILog was never called (useful in tests).
func APILogf(format string, args ...interface{}) {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.file == nil {
		return
	}
	line := fmt.Sprintf("%s : %s\n", time.Now().UTC().Format(time.RFC3339Nano), fmt.Sprintf(format, args...))
	if _, err := api.file.WriteString(line); err != nil {
		Log.Warning("Failed to write to api log: %s", err)
	}
}
