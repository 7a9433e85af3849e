package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montytest/worker/internal/assets"
	"github.com/montytest/worker/internal/coordinator"
	"github.com/montytest/worker/internal/objcache"
	"github.com/montytest/worker/internal/procrunner"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
}

func TestParseOptionsFormatsOptionTokens(t *testing.T) {
	out, err := parseOptions("EvalFile=nn-abc.network Threads=1")
	require.NoError(t, err)
	assert.Equal(t, []string{"option.EvalFile=nn-abc.network", "option.Threads=1"}, out)
}

func TestParseOptionsEmptyStringYieldsNothing(t *testing.T) {
	out, err := parseOptions("")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestParseOptionsSingleParamNoValue(t *testing.T) {
	out, err := parseOptions("NoEquals")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRunSeedIsDeterministic(t *testing.T) {
	a := runSeed("run-123")
	b := runSeed("run-123")
	c := runSeed("run-456")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestFirstTokenSplitsOnWhitespace(t *testing.T) {
	assert.Equal(t, "MontyDev", firstToken("MontyDev build1"))
	assert.Equal(t, "solo", firstToken("solo"))
}

func TestBuildFastchessArgvIncludesBothEngines(t *testing.T) {
	argv := buildFastchessArgv(fastchessArgs{
		Binary:      "/bin/fastchess",
		RunID:       "run1",
		TaskID:      3,
		NewTag:      "new",
		BaseTag:     "base",
		Seed:        42,
		Variant:     "standard",
		Concurrency: 2,
		NewEngine:   newEngineDecl("newsha", "monty_newsha", "8.000+0.080"),
		BaseEngine:  baseEngineDecl("basesha", "monty_basesha", "8.000+0.080"),
		Rounds:      2,
	})
	joined := ""
	for _, a := range argv {
		joined += a + " "
	}
	assert.Contains(t, joined, "name=New-newsha")
	assert.Contains(t, joined, "name=Base-basesha")
	assert.Contains(t, joined, "_spsa_ -engine name=Base-basesha")
}

func TestOpeningArgsOmittedWhenBookDepthIsZero(t *testing.T) {
	assert.Nil(t, openingArgs("book.epd", 0, 40))
}

func TestOpeningArgsComputesPliesAndStart(t *testing.T) {
	args := openingArgs("book.epd", 4, 40)
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "file=book.epd")
	assert.Contains(t, joined, "format=epd")
	assert.Contains(t, joined, "plies=8")
	assert.Contains(t, joined, "start=21")
}

func TestPruneGlobKeepsOnlyMostRecent(t *testing.T) {
	dir := t.TempDir()
	base := time.Now()
	for i, name := range []string{"monty_a", "monty_b", "monty_c"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		mtime := base.Add(-time.Duration(len([]string{"monty_a", "monty_b", "monty_c"})-i) * time.Hour)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	pruneGlob(dir, "monty_*", 2)

	matches, err := filepath.Glob(filepath.Join(dir, "monty_*"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.NotContains(t, matches, filepath.Join(dir, "monty_a"))
}

func TestRunMatchDrivesSingleBatchToCompletion(t *testing.T) {
	var posted coordinator.UpdateTaskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req coordinator.UpdateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			posted = req
		}
		w.Write([]byte(`{"task_alive": true}`))
	}))
	defer srv.Close()

	testingDir := t.TempDir()
	writeScript(t, filepath.Join(testingDir, "monty_newsha"), "echo 'Bench: 12345 1 198243'\n")
	writeScript(t, filepath.Join(testingDir, "monty_basesha"), "echo 'Bench: 12345 1 198243'\n")
	writeScript(t, filepath.Join(testingDir, "fastchess"),
		"echo 'Results of New-newsha vs Base-basesha (1+0, 1t):'\n"+
			"echo 'Games: 4, Wins: 2, Losses: 1, Draws: 1, Points: 2.5 (62.50 %)'\n"+
			"echo 'Ptnml(0-2): [0, 1, 1, 0, 0], WL/DD Ratio: 1.00'\n"+
			"echo 'Finished match'\n")
	require.NoError(t, os.WriteFile(filepath.Join(testingDir, "book.epd"), []byte("epd"), 0644))

	cache, err := objcache.New(t.TempDir())
	require.NoError(t, err)
	client := coordinator.New(srv.URL)
	fetcher := assets.New(client, cache)
	runner := procrunner.New()

	c := New(Options{
		WorkerDir:   t.TempDir(),
		TestingDir:  testingDir,
		Remote:      srv.URL,
		UniqueKey:   "abc",
		Concurrency: 1,
		Password:    "pw",
	}, client, fetcher, runner)

	task := &coordinator.Task{
		RunID:         "run1",
		TaskID:        7,
		NumGames:      4,
		New:           "newsha",
		Base:          "basesha",
		NewSignature:  12345,
		BaseSignature: 12345,
		NewTag:        "new build1",
		BaseTag:       "base build1",
		Book:          "book.epd",
		Threads:       1,
		TC:            "8+0.08",
	}

	err = c.Run(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 2, posted.Stats.Wins)
	assert.Equal(t, 1, posted.Stats.Losses)
	assert.Equal(t, 1, posted.Stats.Draws)
}

func TestDetectConcurrencyReturnsPositiveCount(t *testing.T) {
	n, err := DetectConcurrency()
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}
