package controller

import (
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/montytest/worker/internal/werror"
)

// parseOptions formats a coordinator-supplied option string into
// "option.<name>=<value>" tokens, mirroring parse_options in the
// reference worker: the string reads "<param>=<value> <param2>=<value2>...",
// so the text between two "=" signs holds one param's value (its first
// word) followed by the next param's name (the remaining words). A
// value itself may be shell-quoted (e.g. a book name with spaces); shlex
// handles unquoting that the original's plain str.split() never needed
// to since its source data never quoted anything, but which parameters
// forwarded from arbitrary coordinator tasks might.
func parseOptions(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	chunks := strings.Split(s, "=")
	if len(chunks) <= 1 {
		return nil, nil
	}

	var results []string
	param := chunks[0]
	for _, c := range chunks[1:] {
		words, err := shlex.Split(c)
		if err != nil || len(words) == 0 {
			return nil, werror.New(werror.Fatal, "malformed option string %q", s)
		}
		results = append(results, fmt.Sprintf("option.%s=%s", param, words[0]))
		param = strings.Join(words[1:], " ")
	}
	return results, nil
}

// fastchessArgs collects everything buildFastchessArgv needs to assemble
// a single "fastchess-cli" invocation, grouping the original's many local
// variables into one value to keep the call site readable.
type fastchessArgs struct {
	Binary       string
	RunID        string
	TaskID       int
	NewTag       string
	BaseTag      string
	Seed         uint64
	Adjudication bool
	Variant      string
	Concurrency  int
	PGNOut       []string
	NewEngine    []string
	BaseEngine   []string
	NewOptions   []string
	BaseOptions  []string
	NodesTime    []string
	Threads      []string
	Openings     []string
	Rounds       int
}

// buildFastchessArgv assembles the fastchess-cli command line, matching
// the big list-concatenation in launch_fastchess's caller.
func buildFastchessArgv(a fastchessArgs) []string {
	argv := []string{
		a.Binary,
		"-recover", "-repeat",
		"-games", "2",
		"-rounds", fmt.Sprintf("%d", a.Rounds),
		"-tournament", "gauntlet",
		"-ratinginterval", "1",
		"-scoreinterval", "1",
		"-autosaveinterval", "0",
		"-report", "penta=true",
	}
	argv = append(argv, a.PGNOut...)
	argv = append(argv,
		"-site", "https://tests.montychess.org/tests/view/"+a.RunID,
		"-event", fmt.Sprintf("Batch %d: %s vs %s", a.TaskID, a.NewTag, a.BaseTag),
		"-srand", fmt.Sprintf("%d", a.Seed),
	)
	if a.Adjudication {
		argv = append(argv,
			"-resign", "movecount=3", "score=600",
			"-draw", "movenumber=34", "movecount=8", "score=20",
		)
	}
	argv = append(argv,
		"-variant", a.Variant,
		"-concurrency", fmt.Sprintf("%d", a.Concurrency),
	)
	argv = append(argv, a.Openings...)
	argv = append(argv, a.NewEngine...)
	argv = append(argv, a.NewOptions...)
	argv = append(argv, "_spsa_")
	argv = append(argv, a.BaseEngine...)
	argv = append(argv, a.BaseOptions...)
	argv = append(argv, "_spsa_")
	argv = append(argv, "-each", "proto=uci")
	argv = append(argv, a.NodesTime...)
	argv = append(argv, a.Threads...)
	return argv
}

// openingArgs builds the "-openings" flag group pointing fastchess at the
// task's opening book, mirroring the reference worker's pgn_cmd: a
// book_depth of zero means "no book", otherwise the book is replayed
// starting at a deterministic offset derived from games already
// completed, so a resumed task doesn't repeat openings it has already
// played.
func openingArgs(book string, bookDepth, startGameIndex int) []string {
	if bookDepth <= 0 {
		return nil
	}
	plies := 2 * bookDepth
	format := book
	if len(book) >= 3 {
		format = book[len(book)-3:]
	}
	return []string{
		"-openings",
		"file=" + book,
		"format=" + format,
		"order=random",
		fmt.Sprintf("plies=%d", plies),
		fmt.Sprintf("start=%d", 1+startGameIndex/2),
	}
}

// newEngineDecl and baseEngineDecl build the "-engine name=... tc=...
// cmd=... dir=." tokens for each side.
func newEngineDecl(revision, binary, scaledTC string) []string {
	return []string{
		"-engine",
		"name=New-" + revision,
		"tc=" + scaledTC,
		"cmd=./" + binary,
		"dir=.",
	}
}

func baseEngineDecl(revision, binary, scaledTC string) []string {
	return []string{
		"-engine",
		"name=Base-" + revision,
		"tc=" + scaledTC,
		"cmd=./" + binary,
		"dir=.",
	}
}
