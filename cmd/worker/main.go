// Command worker is the thin process entrypoint: parse the handful of
// process-level flags, wire the internal packages together, and drive one
// coordinator.Task to completion. Configuration file loading and a richer
// flags layer are out of scope; this mirrors the original's own
// single-shot invocation (one process, one task, exit).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/montytest/worker/internal/assets"
	"github.com/montytest/worker/internal/controller"
	"github.com/montytest/worker/internal/coordinator"
	"github.com/montytest/worker/internal/objcache"
	"github.com/montytest/worker/internal/procrunner"
	"github.com/montytest/worker/internal/wlog"
)

var log = wlog.Log

func main() {
	// A re-exec'd Ctrl-C helper invocation never falls through to here.
	procrunner.RunCtrlCHelperAndExit()

	var (
		remote        = flag.String("remote", "", "Coordinator base URL, e.g. https://tests.montychess.org")
		workerDir     = flag.String("worker-dir", ".", "Directory this worker binary runs from (source of default assets)")
		testingDir    = flag.String("testing-dir", "testing", "Scratch directory for built engines, networks and match output")
		cacheDir      = flag.String("cache-dir", "", "Shared object-cache directory; empty disables caching")
		taskFile      = flag.String("task", "-", "Path to a JSON task descriptor, or \"-\" to read one from stdin")
		concurrency   = flag.Int("concurrency", 0, "Worker concurrency (games in parallel); 0 auto-detects logical cores")
		password      = flag.String("password", "", "Shared secret sent with every update_task/request_spsa call")
		uniqueKey     = flag.String("unique-key", "", "Identifier embedded in this worker's output filenames; empty generates one")
		verbosity     = flag.Int("verbosity", 3, "Log verbosity, 0 (critical only) to 5 (debug)")
		apiLogPath    = flag.String("api-log", "./api.log", "Path to the append-only coordinator request log")
		metricsAddr   = flag.String("metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090)")
		clearBinaries = flag.Bool("clear-binaries", false, "Remove all previously built engine binaries before this run")
	)
	flag.Parse()

	wlog.SetVerbosity(*verbosity)
	if err := wlog.InitAPILog(*apiLogPath); err != nil {
		log.Warning("Failed to open api log %s: %s", *apiLogPath, err)
	}

	if *remote == "" {
		log.Critical("-remote is required")
		os.Exit(2)
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr)
	}

	concurrencyVal := *concurrency
	if concurrencyVal <= 0 {
		detected, err := controller.DetectConcurrency()
		if err != nil {
			log.Critical("Failed to detect concurrency: %s", err)
			os.Exit(1)
		}
		concurrencyVal = detected
	}

	key := *uniqueKey
	if key == "" {
		key = uuid.NewString()
	}

	task, err := loadTask(*taskFile)
	if err != nil {
		log.Critical("Failed to load task: %s", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*testingDir, 0775); err != nil {
		log.Critical("Failed to create testing dir %s: %s", *testingDir, err)
		os.Exit(1)
	}

	cache, err := objcache.New(*cacheDir)
	if err != nil {
		log.Critical("Failed to open object cache %s: %s", *cacheDir, err)
		os.Exit(1)
	}

	client := coordinator.New(*remote)
	fetcher := assets.New(client, cache)
	runner := procrunner.New()
	ctrl := controller.New(controller.Options{
		WorkerDir:     *workerDir,
		TestingDir:    *testingDir,
		Remote:        *remote,
		UniqueKey:     key,
		Concurrency:   concurrencyVal,
		Password:      *password,
		ClearBinaries: *clearBinaries,
	}, client, fetcher, runner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Notice("Starting task %s/%d with concurrency %d, unique key %s", task.RunID, task.TaskID, concurrencyVal, key)
	if err := ctrl.Run(ctx, task); err != nil {
		log.Critical("Task failed: %s", err)
		os.Exit(1)
	}
	log.Notice("Task %s/%d finished", task.RunID, task.TaskID)
}

// loadTask reads and decodes a coordinator.Task from path, or from stdin
// when path is "-".
func loadTask(path string) (*coordinator.Task, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening task descriptor: %w", err)
		}
		defer f.Close()
		r = f
	}

	var task coordinator.Task
	if err := json.NewDecoder(r).Decode(&task); err != nil {
		return nil, fmt.Errorf("decoding task descriptor: %w", err)
	}
	return &task, nil
}

// serveMetrics runs the Prometheus scrape endpoint until the process
// exits; a failure here is logged but never fatal to the task itself.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("Metrics server stopped: %s", err)
	}
}
