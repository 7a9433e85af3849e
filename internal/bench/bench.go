// Package bench implements the deterministic bench fan-out used both as
// a correctness gate (every worker must reproduce the expected search
// signature) and a throughput probe (spec §4.C6).
package bench

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/montytest/worker/internal/metrics"
	"github.com/montytest/worker/internal/procrunner"
	"github.com/montytest/worker/internal/werror"
	"github.com/montytest/worker/internal/wlog"
)

// pollInterval is how often runOne checks for new output while a bench
// child is still alive, matching the 100ms poll used by the match and
// datagen supervisors (spec §4.C7).
const pollInterval = 100 * time.Millisecond

var log = wlog.Log

// BaselineNPS is the throughput of the reference machine (32 threads on
// a Ryzen 9 7950X in the original deployment) that the time-control
// scaling factor is computed against. Also used by internal/tc.
const BaselineNPS = 198243

// result is the parsed outcome of a single "<engine> bench" invocation.
type result struct {
	signature int64
	nps       float64
}

// runOne spawns "<engine> bench" and parses the last line containing
// "Bench: <signature> <...> <nps>".
func runOne(ctx context.Context, runner *procrunner.Runner, engine string) (result, error) {
	child, err := runner.Spawn("", nil, []string{engine, "bench"})
	if err != nil {
		return result{}, werror.Wrap(werror.Run, "starting bench on "+engine, err)
	}
	defer child.Terminate()

	var last result
	found := false
	for child.Alive() {
		line, ok := child.TryRecv()
		if !ok {
			select {
			case <-ctx.Done():
				return result{}, werror.Runf("bench on %s timed out", engine)
			case <-time.After(pollInterval):
			}
			continue
		}
		if r, ok := parseBenchLine(line); ok {
			last = r
			found = true
		}
	}
	// Drain any remaining buffered lines after the child has exited.
	for {
		line, ok := child.TryRecv()
		if !ok {
			break
		}
		if r, ok := parseBenchLine(line); ok {
			last = r
			found = true
		}
	}
	if err := child.Wait(); err != nil {
		return result{}, werror.Wrap(werror.Run, "bench on "+engine+" exited with error", err)
	}
	if !found {
		return result{}, werror.Runf("unable to parse bench output of %s", engine)
	}
	return last, nil
}

func parseBenchLine(line string) (result, bool) {
	if !strings.Contains(line, "Bench: ") {
		return result{}, false
	}
	fields := strings.Fields(line)
	// "Bench:" "<sig>" "<kn>" "<nps>" ...
	if len(fields) < 4 {
		return result{}, false
	}
	sig, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return result{}, false
	}
	nps, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	if err != nil {
		return result{}, false
	}
	return result{signature: sig, nps: nps}, true
}

// Verify fans out `concurrency` identical "<engine> bench" children,
// requires all of them to report the expected signature, and returns the
// arithmetic mean of their reported NPS (spec §4.C6).
func Verify(ctx context.Context, runner *procrunner.Runner, engine string, signature int64, concurrency int) (float64, error) {
	results := make([]result, concurrency)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		i := i
		g.Go(func() error {
			r, err := runOne(ctx, runner, engine)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total float64
	for _, r := range results {
		if r.signature != signature {
			return 0, werror.Runf("wrong bench in %s, expected: %d but got: %d", engine, signature, r.signature)
		}
		total += r.nps
	}
	mean := total / float64(concurrency)
	metrics.MeasuredNPS.WithLabelValues(engine).Set(mean)
	log.Info("Verified %s: signature %d, mean NPS %.0f over %d workers", engine, signature, mean, concurrency)
	return mean, nil
}

// RequiredNPS returns the minimum acceptable mean NPS for a host with the
// given number of logical cores, per spec §4.C6: 61362 / (1 +
// tanh((cores-1)/8)).
func RequiredNPS(cores int) float64 {
	return 61362 / (1 + math.Tanh(float64(cores-1)/8))
}

// CheckThroughput rejects hosts whose measured NPS falls below
// RequiredNPS(cores), returning an ErrFatal as mandated by spec §4.C6.
func CheckThroughput(nps float64, cores int) error {
	required := RequiredNPS(cores)
	if nps < required {
		return werror.Fatalf("this machine is too slow (%.0f nps) to run tests effectively - required >= %.0f nps for %d cores", nps, required, cores)
	}
	return nil
}
