// Package controller implements the task controller (spec §4.C9): it
// turns a single coordinator.Task into a concrete sequence of builds,
// bench verifications and match/datagen batches, tying together every
// other internal package. Grounded on the main body of run_games in the
// reference worker.
package controller

import (
	"time"
)

// Options configures a Controller for the lifetime of the process, as
// opposed to per-task values carried on coordinator.Task itself.
type Options struct {
	// WorkerDir is the worker's own source checkout, the parent of
	// TestingDir and of scratch build directories (the original's
	// Path(__file__).resolve().parent).
	WorkerDir string
	// TestingDir holds built engines, staged networks and opening books,
	// shared across tasks (the original's "testing" subdirectory).
	TestingDir string
	// Remote is the coordinator's base URL.
	Remote string
	// UniqueKey identifies this worker to the coordinator; it is folded
	// into pgn/binpack output filenames so concurrent workers never
	// collide on the same host.
	UniqueKey string
	// Concurrency is the worker's configured logical core budget
	// (worker_info["concurrency"] in the original), independent of
	// runtime.NumCPU() so operators can under-commit a shared host.
	Concurrency int
	// Password authenticates update_task/request_spsa calls.
	Password string
	// ClearBinaries forces a clean slate on the next prune pass (keep 0
	// old engines instead of 50), mirroring the original's --clear_binaries.
	ClearBinaries bool
}

// maxEngineBackups and maxNetworkBackups are the original's "num_bkps"
// retention counts for the testing directory's engine and network
// pruning passes.
const (
	maxEngineBackups  = 50
	maxNetworkBackups = 10
)

// baselineTCLimit is the LTC reference control ("60+0.6") used to derive
// the update-batch size at other time controls: a batch should cover
// roughly the same wall-clock span regardless of how fast each individual
// game finishes.
const baselineTCLimit = "60+0.6"

// signatureRecheckTimeout bounds the bench verification step as a whole:
// every "<engine> bench" child of the fan-out (and, for a match task, the
// verification of both engines) shares this one deadline.
const signatureRecheckTimeout = 5 * time.Minute
