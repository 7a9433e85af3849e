// Package match implements the match-runner supervisor (spec §4.C7): it
// drives a single long-lived fastchess-cli process, splices SPSA
// parameters into its command line, parses its streaming results into
// statistics updates, and reports each full batch back to the
// coordinator. Grounded on parse_fastchess_output / launch_fastchess in
// the reference worker.
package match

import (
	"context"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/montytest/worker/internal/coordinator"
	"github.com/montytest/worker/internal/metrics"
	"github.com/montytest/worker/internal/procrunner"
	"github.com/montytest/worker/internal/werror"
	"github.com/montytest/worker/internal/wlog"
)

var log = wlog.Log

// sentinel is the placeholder token in a command template that SpliceSPSA
// replaces with "option.<name>=<value>" arguments, mirroring the
// reference worker's "_spsa_" marker.
const sentinel = "_spsa_"

// UpdateRetryInterval is the delay between update_task retry attempts.
const UpdateRetryInterval = 15 * time.Second

// updateRetryAttempts bounds how many times a failed update_task POST is
// retried before the match is abandoned.
const updateRetryAttempts = 5

var (
	hashPattern = regexp.MustCompile(`(Base|New)-[a-f0-9]+`)
	wldPattern  = regexp.MustCompile(`Games: ([0-9]+), Wins: ([0-9]+), Losses: ([0-9]+), Draws: ([0-9]+), Points: ([0-9.]+) \(`)
	ptnmlPattern = regexp.MustCompile(`Ptnml\(0-2\): \[([0-9]+), ([0-9]+), ([0-9]+), ([0-9]+), ([0-9]+)\]`)
)

// shortenHashes truncates "(Base|New)-<hex>" tokens to 10 hex characters
// in printed output, matching shorten_hash.
func shortenHashes(line string) string {
	return hashPattern.ReplaceAllStringFunc(line, func(m string) string {
		parts := strings.SplitN(m, "-", 2)
		if len(parts) != 2 {
			return m
		}
		hex := parts[1]
		if len(hex) > 10 {
			hex = hex[:10]
		}
		return parts[0] + "-" + hex
	})
}

// SpliceSPSA replaces the first two occurrences of the sentinel token in
// argv with "option.<name>=<value>" tokens for wParams and bParams
// respectively, using stochastic rounding: floor(value + U[0,1)), so that
// a fractional parameter value rounds up with probability equal to its
// fractional part.
func SpliceSPSA(argv []string, wParams, bParams []coordinator.SPSAParam) ([]string, error) {
	argv, err := spliceOne(argv, wParams)
	if err != nil {
		return nil, err
	}
	return spliceOne(argv, bParams)
}

func spliceOne(argv []string, params []coordinator.SPSAParam) ([]string, error) {
	idx := indexOfSentinel(argv)
	if idx < 0 {
		return nil, werror.New(werror.Run, "command template is missing an spsa placeholder")
	}
	tokens := make([]string, 0, len(params))
	for _, p := range params {
		rounded := int64(math.Floor(p.Value + rand.Float64()))
		tokens = append(tokens, "option."+p.Name+"="+strconv.FormatInt(rounded, 10))
	}
	out := make([]string, 0, len(argv)-1+len(tokens))
	out = append(out, argv[:idx]...)
	out = append(out, tokens...)
	out = append(out, argv[idx+1:]...)
	return out, nil
}

func indexOfSentinel(argv []string) int {
	for i, a := range argv {
		if a == sentinel {
			return i
		}
	}
	return -1
}

// spliceCommand resolves opts.Command's two sentinel placeholders before
// the child is spawned. When SPSA tuning is active it requests the next
// batch's parameters from the coordinator and splices them in, seeding
// opts.Request.SPSA with the pending per-batch delta the way the
// reference worker's launch_fastchess sets result["spsa"] right after a
// successful request_spsa call. When tuning is off, it simply strips the
// sentinels by splicing in empty parameter lists. Returns alive=false if
// the coordinator says the task is no longer needed.
func spliceCommand(ctx context.Context, client *coordinator.Client, opts *Options) ([]string, bool, error) {
	if !opts.SPSATuning {
		command, err := SpliceSPSA(opts.Command, nil, nil)
		if err != nil {
			return nil, false, err
		}
		return command, true, nil
	}

	resp, err := client.RequestSPSA(ctx, &opts.Request)
	if err != nil {
		return nil, false, werror.Wrap(werror.Run, "requesting spsa parameters", err)
	}
	if resp.Error != "" {
		return nil, false, werror.New(werror.Run, "request_spsa rejected: %s", resp.Error)
	}
	if !resp.TaskAlive {
		log.Info("The server told us that no more games are needed for the current task.")
		return nil, false, nil
	}

	opts.Request.SPSA = &coordinator.SPSABatchResult{NumGames: opts.GamesToPlay}

	command, err := SpliceSPSA(opts.Command, resp.WParams, resp.BParams)
	if err != nil {
		return nil, false, err
	}
	return command, true, nil
}

// Options configures a single Run of the match supervisor.
type Options struct {
	Command     []string
	Dir         string
	Remote      string
	Request     coordinator.UpdateTaskRequest
	SPSATuning  bool
	GamesToPlay int
	BatchSize   int
	TCLimit     time.Duration
}

// Run spawns Options.Command and supervises it until the match completes,
// the coordinator signals the task is no longer needed, or the deadline
// derived from TCLimit elapses. It returns taskAlive=false if the
// coordinator says no further games are needed.
func Run(ctx context.Context, runner *procrunner.Runner, client *coordinator.Client, opts Options) (bool, error) {
	command, alive, err := spliceCommand(ctx, client, &opts)
	if err != nil {
		return false, err
	}
	if !alive {
		return false, nil
	}

	child, err := runner.Spawn(opts.Dir, nil, command)
	if err != nil {
		return false, werror.Wrap(werror.Run, "starting fastchess", err)
	}
	defer child.Terminate()

	baseline := opts.Request.Stats
	deadline := time.Now().Add(opts.TCLimit)
	log.Info("TC limit %s, end time %s", opts.TCLimit, deadline.Format(time.RFC3339))

	var pendingWLD *wldResult
	var pendingPtnml *[5]int
	gamesUpdated := 0
	live := baseline

	for {
		if time.Now().After(deadline) {
			return false, werror.New(werror.Run, "match exceeded its time-control deadline")
		}
		line, ok := child.TryRecv()
		if !ok {
			if !child.Alive() {
				break
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		line = shortenHashes(line)
		log.Debug("%s", line)

		if strings.Contains(line, "Finished match") {
			if gamesUpdated != opts.GamesToPlay {
				return false, werror.New(werror.Run, "finished match uncleanly %d vs. required %d", gamesUpdated, opts.GamesToPlay)
			}
			log.Info("Finished match cleanly")
			continue
		}
		if strings.Contains(line, "Warning:") && (strings.Contains(line, "doesn't have option") || strings.Contains(line, "Invalid value")) {
			return false, werror.New(werror.Run, "fastchess says: %q", line)
		}
		if strings.Contains(line, "disconnects") || strings.Contains(line, "connection stalls") {
			live.Crashes++
			metrics.Crashes.Inc()
		}
		if strings.Contains(line, "on time") {
			live.TimeLosses++
			metrics.TimeLosses.Inc()
		}

		if m := wldPattern.FindStringSubmatch(line); m != nil {
			r, err := parseWLD(m)
			if err != nil {
				return false, err
			}
			pendingWLD = &r
		}
		if m := ptnmlPattern.FindStringSubmatch(line); m != nil {
			p, err := parsePtnml(m)
			if err != nil {
				return false, err
			}
			pendingPtnml = &p
		}

		if pendingWLD == nil || pendingPtnml == nil {
			continue
		}

		delta := coordinator.Stats{
			Wins:        pendingWLD.wins,
			Losses:      pendingWLD.losses,
			Draws:       pendingWLD.draws,
			Pentanomial: *pendingPtnml,
		}
		combined := baseline.Add(delta)
		combined.Crashes = live.Crashes
		combined.TimeLosses = live.TimeLosses

		gamesFinished := pendingWLD.games
		pendingWLD = nil
		pendingPtnml = nil

		if !combined.Valid() {
			return false, werror.New(werror.Run, "pentanomial invariant violated after parsing match output")
		}
		if gamesFinished != 2*sumPentanomial(delta.Pentanomial) {
			return false, werror.New(werror.Run, "games-finished count disagrees with pentanomial delta")
		}
		if gamesFinished > gamesUpdated+opts.BatchSize {
			return false, werror.New(werror.Run, "reported more games finished than the current batch allows")
		}
		if gamesFinished > opts.GamesToPlay {
			return false, werror.New(werror.Run, "reported more games finished than requested")
		}

		live = combined
		metrics.GamesPlayed.WithLabelValues("match", "win").Add(float64(delta.Wins))
		metrics.GamesPlayed.WithLabelValues("match", "loss").Add(float64(delta.Losses))
		metrics.GamesPlayed.WithLabelValues("match", "draw").Add(float64(delta.Draws))

		if opts.SPSATuning {
			numGames := opts.GamesToPlay
			if opts.Request.SPSA != nil {
				numGames = opts.Request.SPSA.NumGames
			}
			opts.Request.SPSA = &coordinator.SPSABatchResult{
				NumGames: numGames,
				Wins:     delta.Wins,
				Losses:   delta.Losses,
				Draws:    delta.Draws,
			}
		}

		if gamesFinished == gamesUpdated+opts.BatchSize || gamesFinished == opts.GamesToPlay {
			opts.Request.Stats = combined
			resp, err := commitBatch(ctx, client, &opts.Request)
			if err != nil {
				return false, err
			}
			if !resp.TaskAlive {
				log.Info("The server told us that no more games are needed for the current task.")
				return false, nil
			}
			gamesUpdated = gamesFinished
		}
	}

	if err := child.Wait(); err != nil {
		return false, werror.Wrap(werror.Run, "fastchess exited with error", err)
	}
	return true, nil
}

// commitBatch POSTs an update_task request, retrying up to
// updateRetryAttempts times on transport failure with
// UpdateRetryInterval spacing, matching the reference worker's retry loop.
func commitBatch(ctx context.Context, client *coordinator.Client, req *coordinator.UpdateTaskRequest) (*coordinator.UpdateTaskResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= updateRetryAttempts; attempt++ {
		resp, err := client.UpdateTask(ctx, req)
		if err == nil && resp.Error == "" {
			return resp, nil
		}
		if err != nil {
			lastErr = err
			log.Warning("update_task attempt %d failed: %s", attempt, err)
		} else {
			lastErr = werror.New(werror.Run, "update_task rejected: %s", resp.Error)
			break
		}
		if attempt < updateRetryAttempts {
			time.Sleep(UpdateRetryInterval)
		}
	}
	return nil, werror.Wrap(werror.Run, "too many failed update attempts", lastErr)
}

type wldResult struct {
	games  int
	wins   int
	losses int
	draws  int
	points float64
}

func parseWLD(m []string) (wldResult, error) {
	games, err := strconv.Atoi(m[1])
	if err != nil {
		return wldResult{}, werror.Wrap(werror.Run, "parsing WLD games", err)
	}
	wins, err := strconv.Atoi(m[2])
	if err != nil {
		return wldResult{}, werror.Wrap(werror.Run, "parsing WLD wins", err)
	}
	losses, err := strconv.Atoi(m[3])
	if err != nil {
		return wldResult{}, werror.Wrap(werror.Run, "parsing WLD losses", err)
	}
	draws, err := strconv.Atoi(m[4])
	if err != nil {
		return wldResult{}, werror.Wrap(werror.Run, "parsing WLD draws", err)
	}
	points, err := strconv.ParseFloat(m[5], 64)
	if err != nil {
		return wldResult{}, werror.Wrap(werror.Run, "parsing WLD points", err)
	}
	return wldResult{games: games, wins: wins, losses: losses, draws: draws, points: points}, nil
}

func parsePtnml(m []string) ([5]int, error) {
	var out [5]int
	for i := 0; i < 5; i++ {
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return out, werror.Wrap(werror.Run, "parsing pentanomial", err)
		}
		out[i] = v
	}
	return out, nil
}

func sumPentanomial(p [5]int) int {
	sum := 0
	for _, v := range p {
		sum += v
	}
	return sum
}
