package controller

import (
	"context"

	"github.com/montytest/worker/internal/assets"
	"github.com/montytest/worker/internal/build"
	"github.com/montytest/worker/internal/procrunner"
	"github.com/montytest/worker/internal/werror"
)

// buildEngine is a thin adapter over build.Build binding the controller's
// own directory layout to the generic builder.
func buildEngine(ctx context.Context, fetcher *assets.Fetcher, runner *procrunner.Runner, workerDir, testingDir, remote, repoURL, revision, destination string, datagenTarget bool) error {
	err := build.Build(ctx, fetcher, runner, build.Options{
		WorkerDir:   workerDir,
		TestingDir:  testingDir,
		Remote:      remote,
		RepoURL:     repoURL,
		Revision:    revision,
		Destination: destination,
		Datagen:     datagenTarget,
	})
	if err != nil {
		// Build failures reach the task's caller as Run; Wrap keeps Fatal.
		return werror.Wrap(werror.Run, "building "+revision, err)
	}
	return nil
}
