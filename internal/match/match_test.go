package match

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

	"github.com/montytest/worker/internal/coordinator"
	"github.com/montytest/worker/internal/procrunner"
)

func TestShortenHashesTruncatesTo10Hex(t *testing.T) {
	line := "Results of New-e443b2459eabc123 vs Base-e443b2459eabc123 (0.601+0.006, 1t):"
	got := shortenHashes(line)
	assert.Equal(t, "Results of New-e443b2459e vs Base-e443b2459e (0.601+0.006, 1t):", got)
}

func TestShortenHashesLeavesShortHexAlone(t *testing.T) {
	line := "New-abc123"
	assert.Equal(t, "New-abc123", shortenHashes(line))
}

func TestSpliceSPSAReplacesBothSentinels(t *testing.T) {
	argv := []string{"fastchess", "-engine", "_spsa_", "-engine", "_spsa_"}
	w := []coordinator.SPSAParam{{Name: "cParam", Value: 1.0}}
	b := []coordinator.SPSAParam{{Name: "cParam", Value: 2.0}}

	out, err := SpliceSPSA(argv, w, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"fastchess", "-engine", "option.cParam=1", "-engine", "option.cParam=2"}, out)
}

func TestSpliceSPSAMissingSentinelErrors(t *testing.T) {
	_, err := SpliceSPSA([]string{"fastchess"}, nil, nil)
	assert.Error(t, err)
}

func TestSpliceSPSAEmptyParamsRemovesSentinel(t *testing.T) {
	out, err := SpliceSPSA([]string{"a", "_spsa_", "b", "_spsa_", "c"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestParseWLDExtractsFields(t *testing.T) {
	m := wldPattern.FindStringSubmatch("Games: 680, Wins: 248, Losses: 266, Draws: 166, Points: 331.0 (48.68 %)")
	require.NotNil(t, m)
	r, err := parseWLD(m)
	require.NoError(t, err)
	assert.Equal(t, 680, r.games)
	assert.Equal(t, 248, r.wins)
	assert.Equal(t, 266, r.losses)
	assert.Equal(t, 166, r.draws)
}

func TestParsePtnmlExtractsFields(t *testing.T) {
	m := ptnmlPattern.FindStringSubmatch("Ptnml(0-2): [43, 61, 144, 55, 37], WL/DD Ratio: 4.76")
	require.NotNil(t, m)
	p, err := parsePtnml(m)
	require.NoError(t, err)
	assert.Equal(t, [5]int{43, 61, 144, 55, 37}, p)
}

func TestRunCommitsSingleBatchAndReportsTaskAlive(t *testing.T) {
	var posted coordinator.UpdateTaskRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req coordinator.UpdateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			posted = req
		}
		w.Write([]byte(`{"task_alive": true}`))
	}))
	defer srv.Close()

	script := "echo 'Results of New-aaaaaaaaaaaa vs Base-bbbbbbbbbbbb (1+0, 1t):'\n" +
		"echo 'Games: 4, Wins: 2, Losses: 1, Draws: 1, Points: 2.5 (62.50 %)'\n" +
		"echo 'Ptnml(0-2): [0, 1, 1, 0, 0], WL/DD Ratio: 1.00'\n" +
		"echo 'Finished match'\n"

	runner := procrunner.New()
	client := coordinator.New(srv.URL)

	alive, err := Run(context.Background(), runner, client, Options{
		Command:     []string{"sh", "-c", script, "_", "_spsa_", "_spsa_"},
		GamesToPlay: 4,
		BatchSize:   4,
		TCLimit:     5 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Equal(t, 2, posted.Stats.Wins)
	assert.Equal(t, 1, posted.Stats.Losses)
	assert.Equal(t, 1, posted.Stats.Draws)
	assert.Equal(t, [5]int{0, 1, 1, 0, 0}, posted.Stats.Pentanomial)
}

func TestRunReturnsNotAliveWhenCoordinatorStopsTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_alive": false}`))
	}))
	defer srv.Close()

	script := "echo 'Results of New-aaaaaaaaaaaa vs Base-bbbbbbbbbbbb (1+0, 1t):'\n" +
		"echo 'Games: 4, Wins: 2, Losses: 1, Draws: 1, Points: 2.5 (62.50 %)'\n" +
		"echo 'Ptnml(0-2): [0, 1, 1, 0, 0], WL/DD Ratio: 1.00'\n" +
		"sleep 5\n"

	runner := procrunner.New()
	client := coordinator.New(srv.URL)

	alive, err := Run(context.Background(), runner, client, Options{
		Command:     []string{"sh", "-c", script, "_", "_spsa_", "_spsa_"},
		GamesToPlay: 4,
		BatchSize:   4,
		TCLimit:     5 * time.Second,
	})
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestRunErrorsOnUncleanFinish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_alive": true}`))
	}))
	defer srv.Close()

	script := "echo 'Finished match'\n"

	runner := procrunner.New()
	client := coordinator.New(srv.URL)

	_, err := Run(context.Background(), runner, client, Options{
		Command:     []string{"sh", "-c", script, "_", "_spsa_", "_spsa_"},
		GamesToPlay: 4,
		BatchSize:   4,
		TCLimit:     5 * time.Second,
	})
	assert.Error(t, err)
}

// resultScript is a shell snippet that first dumps its received arguments
// into argsPath (one per line, so a literal "_spsa_" would be trivially
// greppable), then reports a clean single-batch match.
func resultScript(argsPath string) string {
	return "for a in \"$@\"; do echo \"$a\" >> " + argsPath + "; done\n" +
		"echo 'Results of New-aaaaaaaaaaaa vs Base-bbbbbbbbbbbb (1+0, 1t):'\n" +
		"echo 'Games: 4, Wins: 2, Losses: 1, Draws: 1, Points: 2.5 (62.50 %)'\n" +
		"echo 'Ptnml(0-2): [0, 1, 1, 0, 0], WL/DD Ratio: 1.00'\n" +
		"echo 'Finished match'\n"
}

func TestRunStripsSentinelsWhenSPSADisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"task_alive": true}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	argsPath := filepath.Join(dir, "args.out")
	script := resultScript(argsPath)

	runner := procrunner.New()
	client := coordinator.New(srv.URL)

	alive, err := Run(context.Background(), runner, client, Options{
		Command:     []string{"sh", "-c", script, "_", "-engine", "_spsa_", "-engine", "_spsa_"},
		SPSATuning:  false,
		GamesToPlay: 4,
		BatchSize:   4,
		TCLimit:     5 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, alive)

	seen, err := os.ReadFile(argsPath)
	require.NoError(t, err)
	assert.NotContains(t, string(seen), "_spsa_")
	assert.Equal(t, 2, strings.Count(string(seen), "-engine\n"))
}

func TestRunRequestsAndSplicesSPSAParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/request_spsa":
			w.Write([]byte(`{"task_alive": true, "w_params": [{"name": "WParam", "value": 1.9}], "b_params": [{"name": "BParam", "value": 2.1}]}`))
		default:
			w.Write([]byte(`{"task_alive": true}`))
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	argsPath := filepath.Join(dir, "args.out")
	script := resultScript(argsPath)

	runner := procrunner.New()
	client := coordinator.New(srv.URL)

	alive, err := Run(context.Background(), runner, client, Options{
		Command:     []string{"sh", "-c", script, "_", "_spsa_", "_spsa_"},
		SPSATuning:  true,
		GamesToPlay: 4,
		BatchSize:   4,
		TCLimit:     5 * time.Second,
	})
	require.NoError(t, err)
	assert.True(t, alive)

	seen, err := os.ReadFile(argsPath)
	require.NoError(t, err)
	assert.NotContains(t, string(seen), "_spsa_")
	assert.Contains(t, string(seen), "option.WParam=")
	assert.Contains(t, string(seen), "option.BParam=")
}

func TestRunStopsWhenRequestSPSASaysTaskNotAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/request_spsa":
			w.Write([]byte(`{"task_alive": false}`))
		default:
			w.Write([]byte(`{"task_alive": true}`))
		}
	}))
	defer srv.Close()

	script := "sleep 5\n"

	runner := procrunner.New()
	client := coordinator.New(srv.URL)

	alive, err := Run(context.Background(), runner, client, Options{
		Command:     []string{"sh", "-c", script, "_", "_spsa_", "_spsa_"},
		SPSATuning:  true,
		GamesToPlay: 4,
		BatchSize:   4,
		TCLimit:     5 * time.Second,
	})
	require.NoError(t, err)
	assert.False(t, alive)
}
