package controller

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/montytest/worker/internal/assets"
	"github.com/montytest/worker/internal/bench"
	"github.com/montytest/worker/internal/coordinator"
	"github.com/montytest/worker/internal/datagen"
	"github.com/montytest/worker/internal/match"
	"github.com/montytest/worker/internal/procrunner"
	"github.com/montytest/worker/internal/tc"
	"github.com/montytest/worker/internal/werror"
	"github.com/montytest/worker/internal/wlog"
)

var log = wlog.Log

// exeSuffix is appended to binary names, matching the original's
// EXE_SUFFIX (".exe" on Windows, empty elsewhere).
func exeSuffix() string {
	if runtime.GOOS == "windows" {
		return ".exe"
	}
	return ""
}

// Controller drives a single worker's task loop: one Run call consumes
// one coordinator.Task to completion (or until the coordinator says it
// no longer needs the work).
type Controller struct {
	Options

	Client  *coordinator.Client
	Fetcher *assets.Fetcher
	Runner  *procrunner.Runner
}

// New builds a Controller from its dependencies.
func New(opts Options, client *coordinator.Client, fetcher *assets.Fetcher, runner *procrunner.Runner) *Controller {
	return &Controller{Options: opts, Client: client, Fetcher: fetcher, Runner: runner}
}

// Run executes task to completion, driving builds, bench verification
// and a loop of match or datagen batches, mirroring the body of
// run_games in the reference worker.
func (c *Controller) Run(ctx context.Context, task *coordinator.Task) error {
	if task.Datagen {
		return c.runDatagen(ctx, task)
	}
	return c.runMatch(ctx, task)
}

func (c *Controller) baseRequest(task *coordinator.Task) coordinator.UpdateTaskRequest {
	return coordinator.UpdateTaskRequest{
		Password: c.Password,
		RunID:    task.RunID,
		TaskID:   task.TaskID,
		Stats:    task.Stats,
		WorkerInfo: coordinator.WorkerInfo{
			UniqueKey:   c.UniqueKey,
			Concurrency: c.Concurrency,
		},
	}
}

// datagenTCDivisor reproduces "tc_factor = BASELINE_NPS / (nps / 4)": a
// datagen engine searches with a node budget rather than a clock, so its
// reported NPS is divided by 4 before computing the deadline factor, an
// empirical correction carried over unchanged from the reference worker.
const datagenTCDivisor = 4

func (c *Controller) runDatagen(ctx context.Context, task *coordinator.Task) error {
	gamesRemaining := task.RemainingGames()
	if gamesRemaining <= 0 {
		return nil
	}

	name := "monty_datagen_" + task.New + exeSuffix()
	dest := filepath.Join(c.TestingDir, name)
	if _, err := os.Stat(dest); err != nil {
		repoURL := task.TestsRepo
		if repoURL == "" {
			repoURL = "https://github.com/official-monty/Monty"
		}
		if err := buildEngine(ctx, c.Fetcher, c.Runner, c.WorkerDir, c.TestingDir, c.Remote, repoURL, task.New, dest, true); err != nil {
			return err
		}
	}

	if err := c.Fetcher.FetchBook(ctx, "official-monty", "books", "master", task.Book, c.TestingDir); err != nil {
		return err
	}

	nps, err := c.verifyAndGate(ctx, name, task.BaseSignature, c.Concurrency)
	if err != nil {
		return err
	}
	factor := tc.Factor(nps / datagenTCDivisor)

	dataName := fmt.Sprintf("data-%s.binpack", c.UniqueKey)
	outputPath := filepath.Join(c.TestingDir, dataName)
	_ = os.Remove(outputPath)

	argv := []string{
		dest,
		"-o", dataName,
		"-n", strconv.FormatInt(task.Nodes, 10),
		"-t", strconv.Itoa(c.Concurrency),
		"-g", strconv.Itoa(gamesRemaining),
	}
	if strings.HasSuffix(task.Book, ".epd") {
		argv = append(argv, "-b", task.Book)
	}

	req := c.baseRequest(task)
	req.WorkerInfo.NPS = nps

	log.Info("Starting datagen with %s threads at %s NPS", humanize.Comma(int64(c.Concurrency)), humanize.Comma(int64(nps)))

	return datagen.Run(ctx, c.Runner, c.Client, datagen.Options{
		Command:    argv,
		Dir:        c.TestingDir,
		OutputPath: outputPath,
		TCFactor:   factor,
		Request:    req,
	})
}

func (c *Controller) runMatch(ctx context.Context, task *coordinator.Task) error {
	gamesRemaining := task.RemainingGames()
	if gamesRemaining <= 0 {
		return nil
	}
	if gamesRemaining%2 != 0 {
		return werror.New(werror.Fatal, "task %d has an odd number of games remaining", task.TaskID)
	}

	newOptions, err := parseOptions(task.NewOptions)
	if err != nil {
		return err
	}
	baseOptions, err := parseOptions(task.BaseOptions)
	if err != nil {
		return err
	}

	keep := maxEngineBackups
	if c.ClearBinaries {
		keep = 0
	}
	pruneEngines(c.TestingDir, keep)

	newEngine, err := c.ensureEngine(ctx, task.New, task.TestsRepo, false)
	if err != nil {
		return err
	}
	baseEngine, err := c.ensureEngine(ctx, task.Base, task.TestsRepo, false)
	if err != nil {
		return err
	}

	pruneNetworks(c.TestingDir)

	if err := c.Fetcher.FetchBook(ctx, "official-monty", "books", "master", task.Book, c.TestingDir); err != nil {
		return err
	}

	threads := threadsOrOne(task.Threads)
	gamesConcurrency := c.Concurrency / threads

	benchCtx, cancel := context.WithTimeout(ctx, signatureRecheckTimeout)
	defer cancel()

	var verifyErrs *multierror.Error
	baseNPS, err := bench.Verify(benchCtx, c.Runner, filepath.Join(c.TestingDir, baseEngine), task.BaseSignature, gamesConcurrency*threads)
	if err != nil {
		verifyErrs = multierror.Append(verifyErrs, err)
	}
	if task.BaseSignature != task.NewSignature || newEngine != baseEngine {
		if _, err := bench.Verify(benchCtx, c.Runner, filepath.Join(c.TestingDir, newEngine), task.NewSignature, gamesConcurrency*threads); err != nil {
			verifyErrs = multierror.Append(verifyErrs, err)
		}
	}
	if verifyErrs.ErrorOrNil() != nil {
		return werror.Wrap(werror.Run, "bench verification", verifyErrs)
	}

	if err := bench.CheckThroughput(baseNPS, c.Concurrency); err != nil {
		return err
	}
	log.Info("Verified base engine at %s NPS", humanize.Comma(int64(baseNPS)))

	factor := tc.Factor(baseNPS)

	ltc, err := tc.Parse(baselineTCLimit)
	if err != nil {
		return werror.Wrap(werror.Fatal, "parsing reference time control", err)
	}
	tcLimitLTC := tc.Scale(ltc, factor).Limit

	parsedTC, err := tc.Parse(task.TC)
	if err != nil {
		return werror.Wrap(werror.Fatal, "parsing task time control", err)
	}
	scaled := tc.Scale(parsedTC, factor)
	scaledNewTC := scaled.TC
	tcLimit := scaled.Limit

	if task.NewTC != "" {
		parsedNewTC, err := tc.Parse(task.NewTC)
		if err != nil {
			return werror.Wrap(werror.Fatal, "parsing task new_tc", err)
		}
		scaledNew := tc.Scale(parsedNewTC, factor)
		scaledNewTC = scaledNew.TC
		tcLimit = tc.MeanLimit(scaled, scaledNew)
	}

	if task.SPSA {
		tcLimit *= 2
	}

	threadsCmd := []string{}
	if !strings.Contains(strings.Join(newOptions, " "), "Threads") && !strings.Contains(strings.Join(baseOptions, " "), "Threads") {
		threadsCmd = []string{fmt.Sprintf("option.Threads=%d", threads)}
	}
	nodestimeCmd := []string{}
	if strings.Contains(strings.Join(newOptions, " "), "nodestime") || strings.Contains(strings.Join(baseOptions, " "), "nodestime") {
		nodestimeCmd = []string{"timemargin=10000"}
	}

	pgnName := fmt.Sprintf("results-%s.pgn", c.UniqueKey)
	_ = os.Remove(filepath.Join(c.TestingDir, pgnName))

	seed := runSeed(task.RunID)
	variant := "standard"
	if strings.Contains(strings.ToUpper(task.Book), "FRC") || strings.Contains(strings.ToUpper(task.Book), "960") {
		variant = "fischerandom"
	}

	openingOffset := task.TaskID * task.NumGames
	if task.Start != nil {
		openingOffset = *task.Start
	}
	startGameIndex := openingOffset + task.Stats.TotalGames()

	for gamesRemaining > 0 {
		batchSize := gamesConcurrency * 4 * maxInt(1, roundDiv(tcLimitLTC, tcLimit))
		gamesToPlay := gamesRemaining
		pgnout := []string{"-pgnout", pgnName}
		if task.SPSA {
			gamesToPlay = minInt(batchSize, gamesRemaining)
			pgnout = nil
		}
		if task.SPRT != nil {
			batchSize = 2 * maxInt(1, task.SPRT.BatchSize)
		}

		cmd := buildFastchessArgv(fastchessArgs{
			Binary:       filepath.Join(c.TestingDir, "fastchess"+exeSuffix()),
			RunID:        task.RunID,
			TaskID:       task.TaskID,
			NewTag:       firstToken(task.NewTag),
			BaseTag:      firstToken(task.BaseTag),
			Seed:         seed,
			Adjudication: task.AdjudicationEnabled(),
			Variant:      variant,
			Concurrency:  gamesConcurrency,
			PGNOut:       pgnout,
			NewEngine:    newEngineDecl(task.New, newEngine, scaledNewTC),
			BaseEngine:   baseEngineDecl(task.Base, baseEngine, scaled.TC),
			NewOptions:   newOptions,
			BaseOptions:  baseOptions,
			NodesTime:    nodestimeCmd,
			Threads:      threadsCmd,
			Openings:     openingArgs(task.Book, task.BookDepth, startGameIndex),
			Rounds:       gamesToPlay / 2,
		})

		req := c.baseRequest(task)
		alive, err := match.Run(ctx, c.Runner, c.Client, match.Options{
			Command:     cmd,
			Dir:         c.TestingDir,
			Remote:      c.Remote,
			Request:     req,
			SPSATuning:  task.SPSA,
			GamesToPlay: gamesToPlay,
			BatchSize:   batchSize,
			TCLimit:     time.Duration(tcLimit*float64(maxInt(8, gamesToPlay/gamesConcurrency))) * time.Second,
		})
		if err != nil {
			return err
		}

		gamesRemaining -= gamesToPlay
		startGameIndex += gamesToPlay
		if !alive {
			break
		}
	}
	return nil
}

// ensureEngine builds revision's engine binary into TestingDir if it
// isn't already present, returning its filename relative to TestingDir.
func (c *Controller) ensureEngine(ctx context.Context, revision, repoURL string, datagenTarget bool) (string, error) {
	name := "monty_" + revision + exeSuffix()
	dest := filepath.Join(c.TestingDir, name)
	if _, err := os.Stat(dest); err == nil {
		return name, nil
	}
	if repoURL == "" {
		repoURL = "https://github.com/official-monty/Monty"
	}
	err := buildEngine(ctx, c.Fetcher, c.Runner, c.WorkerDir, c.TestingDir, c.Remote, repoURL, revision, dest, datagenTarget)
	if err != nil {
		return "", err
	}
	return name, nil
}

func (c *Controller) verifyAndGate(ctx context.Context, engine string, signature int64, concurrency int) (float64, error) {
	benchCtx, cancel := context.WithTimeout(ctx, signatureRecheckTimeout)
	defer cancel()

	nps, err := bench.Verify(benchCtx, c.Runner, filepath.Join(c.TestingDir, engine), signature, concurrency)
	if err != nil {
		return 0, err
	}
	if err := bench.CheckThroughput(nps, c.Concurrency); err != nil {
		return 0, err
	}
	return nps, nil
}

func threadsOrOne(threads int) int {
	if threads <= 0 {
		return 1
	}
	return threads
}

func roundDiv(a, b float64) int {
	if b == 0 {
		return 1
	}
	return int(a/b + 0.5)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// runSeed reproduces the original's "int(sha1(run_id).hexdigest(), 16) %
// 2**64": a deterministic per-run seed for fastchess's -srand.
func runSeed(runID string) uint64 {
	sum := sha1.Sum([]byte(runID))
	return binary.BigEndian.Uint64(sum[len(sum)-8:])
}

// firstToken returns the first whitespace-delimited token of s, matching
// the original's make_player helper (run["args"][arg].split(" ")[0]).
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}
