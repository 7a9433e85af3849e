// Package datagen implements the self-play data generation supervisor
// (spec §4.C8): drive a single engine binary producing training games
// into a binpack file, parse its periodic "finished games" summary line,
// derive a pentanomial distribution arithmetically from the win/loss
// delta (datagen has no paired-game structure to report ptnml directly),
// and report the result once at the end. Grounded on
// parse_datagen_output / run_datagen_games in the reference worker.
package datagen

import (
	"context"
	"os"
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

// DeadlineBase and DeadlineVarianceScale reproduce "tc_factor * 1800 * 2": a
// generous allowance (double the expected runtime) against the scaled
// per-game time budget, since a single datagen run produces many games
// with no per-game checkpoint to compare against.
const (
	DeadlineBase          = 1800
	DeadlineVarianceScale = 2
)

// Options configures a single Run of the datagen supervisor.
type Options struct {
	Command    []string
	Dir        string
	OutputPath string
	TCFactor   float64
	Request    coordinator.UpdateTaskRequest
}

// Run spawns Options.Command, waits for its "finished games" summary
// line, derives final statistics, and reports them once to the
// coordinator. On any failure the output binpack is removed, mirroring
// the reference worker's "Removing binpack on exception".
func Run(ctx context.Context, runner *procrunner.Runner, client *coordinator.Client, opts Options) error {
	child, err := runner.Spawn(opts.Dir, nil, opts.Command)
	if err != nil {
		return werror.Wrap(werror.Run, "starting datagen", err)
	}
	defer child.Terminate()

	baseline := opts.Request.Stats
	deadline := time.Now().Add(time.Duration(opts.TCFactor*DeadlineBase*DeadlineVarianceScale) * time.Second)
	log.Info("TC limit, end time %s", deadline.Format(time.RFC3339))

	delta, err := collectResult(ctx, child, deadline)
	if err != nil {
		removeOutput(opts.OutputPath)
		return err
	}

	if err := child.Wait(); err != nil {
		removeOutput(opts.OutputPath)
		return werror.Wrap(werror.Run, "datagen process exited with non-zero return code", err)
	}

	combined := baseline.Add(*delta)
	combined.Pentanomial = derivePentanomial(combined.Wins, combined.Losses, combined.Draws)
	opts.Request.Stats = combined

	metrics.GamesPlayed.WithLabelValues("datagen", "win").Add(float64(delta.Wins))
	metrics.GamesPlayed.WithLabelValues("datagen", "loss").Add(float64(delta.Losses))
	metrics.GamesPlayed.WithLabelValues("datagen", "draw").Add(float64(delta.Draws))

	if _, err := client.UpdateTask(ctx, &opts.Request); err != nil {
		removeOutput(opts.OutputPath)
		return werror.Wrap(werror.Run, "reporting datagen result", err)
	}
	return nil
}

// collectResult polls child until it exits, tracking the most recent
// "finished games" summary line -- datagen reports cumulative progress
// periodically, so only the final line before exit reflects the run's
// actual totals.
func collectResult(ctx context.Context, child *procrunner.Child, deadline time.Time) (*coordinator.Stats, error) {
	var latest *coordinator.Stats
	for {
		if time.Now().After(deadline) {
			return nil, werror.New(werror.Run, "datagen exceeded its time budget")
		}
		line, ok := child.TryRecv()
		if !ok {
			if !child.Alive() {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		log.Debug("%s", line)

		if !strings.Contains(line, "finished games") {
			continue
		}
		delta, err := parseFinishedGames(line)
		if err != nil {
			return nil, err
		}
		latest = delta
	}
	if latest == nil {
		return nil, werror.New(werror.Run, "datagen exited before reporting a result")
	}
	return latest, nil
}

// parseFinishedGames extracts the fixed-position win/loss/draw tokens
// from a "finished games" summary line, reproducing the original's
// chunks[8]/chunks[4]/chunks[6] indexing by whitespace-split position.
func parseFinishedGames(line string) (*coordinator.Stats, error) {
	chunks := strings.Fields(line)
	if len(chunks) <= 8 {
		return nil, werror.New(werror.Run, "failed to parse score line: %s", line)
	}
	wins, err1 := strconv.Atoi(chunks[8])
	losses, err2 := strconv.Atoi(chunks[4])
	draws, err3 := strconv.Atoi(chunks[6])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, werror.New(werror.Run, "failed to parse score line: %s", line)
	}
	return &coordinator.Stats{Wins: wins, Losses: losses, Draws: draws}, nil
}

// derivePentanomial reconstructs a pentanomial distribution from
// aggregate wins/losses/draws, since datagen games aren't paired the way
// match games are: all the "decisive" mass goes to the single-win or
// single-loss bucket (index 1 or 3) according to sign, and the rest is
// treated as draws (index 2). Matches the reference worker exactly.
func derivePentanomial(wins, losses, draws int) [5]int {
	diff := wins - losses
	absDiff := diff
	if absDiff < 0 {
		absDiff = -absDiff
	}

	var p [5]int
	if diff < 0 {
		p[1] = -diff
	}
	p[2] = (wins+draws+losses)/2 - absDiff
	if diff > 0 {
		p[3] = diff
	}
	return p
}

func removeOutput(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warning("Failed to remove datagen output %s: %s", path, err)
	} else {
		log.Info("Removed datagen output %s", path)
	}
}
