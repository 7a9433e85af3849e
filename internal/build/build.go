// Package build implements the engine builder (spec §4.C4): fetch
// engine source for a commit, resolve its default value/policy network
// filenames, fetch and stage those networks, then invoke the engine's
// own Makefile to produce a binary at a caller-chosen destination.
package build

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/montytest/worker/internal/assets"
	"github.com/montytest/worker/internal/procrunner"
	"github.com/montytest/worker/internal/werror"
	"github.com/montytest/worker/internal/wlog"
)

var log = wlog.Log

// netNamePattern extracts a "nn-<12hex>.network" token from a source
// line, mirroring required_value_from_source/required_policy_from_source
// in the reference worker, which grep a known source file for a line
// carrying a sentinel tag and a net filename. Unlike netfile.NamePattern
// this is deliberately unanchored: it must match the token embedded
// within a larger Rust source line, not a standalone filename.
var netNamePattern = regexp.MustCompile(`nn-[a-f0-9]{12}\.network`)

// defaultNetSource names, relative to the repository root, the source
// file and sentinel tag used to recover each default network filename.
// Both files are generalisations of the original's "src/networks/*.rs"
// paths: a Makefile-built engine carries its default network names
// burned into one source file per net type, tagged by a constant name.
type defaultNetSource struct {
	path string
	tag  string
}

var (
	valueNetSource  = defaultNetSource{path: "src/networks/value.rs", tag: "ValueFileDefaultName"}
	policyNetSource = defaultNetSource{path: "src/networks/policy.rs", tag: "PolicyFileDefaultName"}
)

// scanDefaultNet opens src and returns the first "nn-<12hex>.network"
// token found on a line also containing tag.
func scanDefaultNet(src defaultNetSource) (string, error) {
	f, err := os.Open(src.path)
	if err != nil {
		return "", werror.Wrap(werror.Build, "opening "+src.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, src.tag) {
			continue
		}
		if m := netNamePattern.FindString(line); m != "" {
			return m, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", werror.Wrap(werror.Build, "reading "+src.path, err)
	}
	return "", werror.New(werror.Build, "no default network found in %s tagged %s", src.path, src.tag)
}

// Options configures a Build invocation.
type Options struct {
	// WorkerDir is the directory under which a scratch build directory is
	// created and removed (the original's tempfile.mkdtemp(dir=worker_dir)).
	WorkerDir string
	// TestingDir holds validated networks shared across builds.
	TestingDir string
	// Remote is the coordinator base URL, used to fetch missing networks.
	Remote string
	// RepoURL is the engine's GitHub repository, e.g.
	// "https://github.com/official-monty/Monty".
	RepoURL string
	// Revision is the commit SHA to build.
	Revision string
	// Destination is the path the resulting binary must be written to. It
	// must not already exist.
	Destination string
	// Datagen selects the "gen" Makefile target instead of "montytest".
	Datagen bool
}

// Build downloads engine source at Options.Revision, resolves and stages
// its default networks, and runs "make montytest|gen EXE=<destination>"
// in the extracted source tree. It always builds in a freshly created
// temporary directory beneath WorkerDir, which is removed regardless of
// outcome (spec §4.C4: "the original always builds in a scratch
// directory removed afterward, win or lose").
func Build(ctx context.Context, fetcher *assets.Fetcher, runner *procrunner.Runner, opts Options) error {
	if _, err := os.Stat(opts.Destination); err == nil {
		return werror.Fatalf("another worker is running in the same directory: %s", opts.Destination)
	}

	tmpDir, err := os.MkdirTemp(opts.WorkerDir, "build-")
	if err != nil {
		return werror.Wrap(werror.Build, "creating scratch build directory", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix, err := fetcher.FetchEngineSource(ctx, opts.RepoURL, opts.Revision, tmpDir)
	if err != nil {
		return err
	}
	srcDir := filepath.Join(tmpDir, prefix)

	origWD, err := os.Getwd()
	if err != nil {
		return werror.Wrap(werror.Build, "getting working directory", err)
	}
	if err := os.Chdir(srcDir); err != nil {
		return werror.Wrap(werror.Build, "entering source directory", err)
	}
	defer os.Chdir(origWD)

	if err := stageDefaultNet(ctx, fetcher, opts.Remote, opts.TestingDir, valueNetSource); err != nil {
		return err
	}
	if err := stageDefaultNet(ctx, fetcher, opts.Remote, opts.TestingDir, policyNetSource); err != nil {
		return err
	}

	target := "montytest"
	if opts.Datagen {
		target = "gen"
	}
	argv := []string{"make", target, fmt.Sprintf("EXE=%s", opts.Destination)}
	log.Info("Building with %v in %s", argv, srcDir)

	child, err := runner.Spawn(srcDir, nil, argv)
	if err != nil {
		return werror.Wrap(werror.Build, "starting make", err)
	}
	defer child.Terminate()

	for child.Alive() {
		if line, ok := child.TryRecv(); ok {
			log.Debug("make: %s", line)
		}
	}
	if err := child.Wait(); err != nil {
		return werror.Wrap(werror.Build, fmt.Sprintf("executing %v failed", argv), err)
	}
	return nil
}

// stageDefaultNet resolves src's default network filename from the
// freshly extracted source tree, ensures a validated copy exists in
// testingDir (fetching it via fetcher if necessary), and copies it into
// the current directory under its own name, as the Makefile expects.
func stageDefaultNet(ctx context.Context, fetcher *assets.Fetcher, remote, testingDir string, src defaultNetSource) error {
	name, err := scanDefaultNet(src)
	if err != nil {
		return err
	}
	log.Info("Build uses default network from %s: %s", src.path, name)

	if err := fetcher.FetchNet(ctx, remote, testingDir, name); err != nil {
		return err
	}
	return copyFile(filepath.Join(testingDir, name), name)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return werror.Wrap(werror.Build, "opening "+src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return werror.Wrap(werror.Build, "creating "+dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return werror.Wrap(werror.Build, "copying "+src+" to "+dst, err)
	}
	return out.Close()
}
