// Package tc parses and scales cutechess-style time controls
// ("[moves/][minutes:]seconds[+increment]") and derives the wall-clock
// deadline a match or datagen run is allowed before the supervisor
// force-terminates it (spec §4.C7 "Deadline computation", grounded on
// adjust_tc in the reference worker).
package tc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/montytest/worker/internal/bench"
	"github.com/montytest/worker/internal/werror"
)

// Control is a parsed time control.
type Control struct {
	// Moves is the number of moves per time segment, or 0 for sudden death.
	Moves int
	// Base is the base time in seconds.
	Base float64
	// Increment is the per-move increment in seconds.
	Increment float64
}

// Parse parses a cutechess-cli time-control string such as "40/60+0.5",
// "10:30" (minutes:seconds) or "8+0.08".
func Parse(s string) (Control, error) {
	var c Control

	incChunks := strings.SplitN(s, "+", 2)
	if len(incChunks) == 2 {
		inc, err := strconv.ParseFloat(incChunks[1], 64)
		if err != nil {
			return Control{}, werror.New(werror.Run, "invalid time control increment in %q", s)
		}
		c.Increment = inc
	}

	movesChunks := strings.SplitN(incChunks[0], "/", 2)
	timePart := movesChunks[0]
	if len(movesChunks) == 2 {
		moves, err := strconv.Atoi(movesChunks[0])
		if err != nil {
			return Control{}, werror.New(werror.Run, "invalid moves-per-session in %q", s)
		}
		c.Moves = moves
		timePart = movesChunks[1]
	}

	minSecChunks := strings.SplitN(timePart, ":", 2)
	if len(minSecChunks) == 2 {
		minutes, err := strconv.ParseFloat(minSecChunks[0], 64)
		if err != nil {
			return Control{}, werror.New(werror.Run, "invalid time control %q", s)
		}
		seconds, err := strconv.ParseFloat(minSecChunks[1], 64)
		if err != nil {
			return Control{}, werror.New(werror.Run, "invalid time control %q", s)
		}
		c.Base = minutes*60 + seconds
	} else {
		base, err := strconv.ParseFloat(minSecChunks[0], 64)
		if err != nil {
			return Control{}, werror.New(werror.Run, "invalid time control %q", s)
		}
		c.Base = base
	}

	return c, nil
}

// Scaled is a time control rescaled for the local machine's throughput,
// along with the deadline (in seconds) the supervisor should allow a
// single batch to run before treating the engine as hung.
type Scaled struct {
	// TC is the scaled time control string, formatted the way
	// cutechess-cli and the engine itself expect it (3 decimal places).
	TC string
	// Limit is the wall-clock deadline in seconds.
	Limit float64
}

// Scale rescales control by factor (BaselineNPS / measured NPS) and
// derives the corresponding deadline, reproducing adjust_tc's formula
// exactly: tc_limit = base*factor*3, plus increment*factor*200 when an
// increment is present, scaled by 100/moves when the control uses
// moves-per-session.
func Scale(c Control, factor float64) Scaled {
	scaledBase := c.Base * factor
	limit := scaledBase * 3

	tcStr := fmt.Sprintf("%.3f", scaledBase)
	if c.Increment > 0 {
		scaledInc := c.Increment * factor
		tcStr += fmt.Sprintf("+%.3f", scaledInc)
		limit += scaledInc * 200
	}
	if c.Moves > 0 {
		tcStr = fmt.Sprintf("%d/%s", c.Moves, tcStr)
		limit *= 100.0 / float64(c.Moves)
	}

	return Scaled{TC: tcStr, Limit: limit}
}

// Factor computes the time-control scaling factor for a machine
// measured at nps nodes/sec, relative to bench.BaselineNPS (spec §4.C9
// "factor = BASELINE_NPS / measured_nps").
func Factor(nps float64) float64 {
	if nps <= 0 {
		return 1
	}
	return bench.BaselineNPS / nps
}

// MeanLimit averages two scaled deadlines, used when a task specifies
// both tc and new_tc: the supervisor must not cut the match off before
// either time control's engine could plausibly have finished (spec
// §4.C9 "mean-of-two-limits rule").
func MeanLimit(a, b Scaled) float64 {
	return (a.Limit + b.Limit) / 2
}
