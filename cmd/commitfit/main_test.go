package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexshd/commitfit"
	"github.com/alexshd/commitfit/internal/panel"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, logs bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

// runID extracts the ID from the first line printed by fit.
func runID(t *testing.T, out string) string {
	t.Helper()
	first, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(first)
	require.GreaterOrEqual(t, len(fields), 2, "unexpected fit output %q", out)
	require.Equal(t, "run", fields[0])
	return strings.TrimSuffix(fields[1], ":")
}

func simulatePanel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usage.csv")
	_, err := execute(t, "simulate", "--customers", "30", "--periods", "6", "--renewal", "3", "--seed", "5", "-f", path)
	require.NoError(t, err)
	return path
}

func TestSimulate_WritesPanel(t *testing.T) {
	out, err := execute(t, "simulate", "--customers", "12", "--periods", "6", "--rates", "1,5")
	require.NoError(t, err)

	p, err := panel.Read(strings.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, p.Usage, 12)
	assert.Equal(t, []string{"m01", "m02", "m03", "m04", "m05", "m06"}, p.Periods)
}

func TestSimulate_RejectsBadRates(t *testing.T) {
	_, err := execute(t, "simulate", "--rates", "4,2")
	assert.ErrorIs(t, err, commitfit.ErrInvalidConfig)

	_, err = execute(t, "simulate", "--periods", "7", "--renewal", "3")
	assert.ErrorIs(t, err, commitfit.ErrInvalidConfig)
}

func TestFitSummaryRuns(t *testing.T) {
	data := simulatePanel(t)
	store := filepath.Join(t.TempDir(), "traces")
	metricsFile := filepath.Join(t.TempDir(), "fit.prom")

	out, err := execute(t, "fit", "-f", data, "-o", store,
		"--chains", "2", "--draws", "6", "--tune", "4", "--num-states", "2", "--seed", "3",
		"--metrics-file", metricsFile, "--label", "team=growth")
	require.NoError(t, err)
	id := runID(t, out)
	assert.Contains(t, out, "th0")
	assert.NotContains(t, out, "A[0]")

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `commitfit_runs_total{status="success"} 1`)

	out, err = execute(t, "summary", "-o", store, id)
	require.NoError(t, err)
	assert.Contains(t, out, "2 states, 2 chains × 6 draws")
	assert.Contains(t, out, "PI[1,1]")

	out, err = execute(t, "summary", "-o", store, "--param", "A[3]", id)
	require.NoError(t, err)
	assert.Contains(t, out, "A[3]")
	assert.NotContains(t, out, "th0 ")

	out, err = execute(t, "runs", "-o", store)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "team=growth")
}

func TestFit_FlagsBeatEnvironment(t *testing.T) {
	data := simulatePanel(t)
	store := filepath.Join(t.TempDir(), "traces")
	t.Setenv("COMMITFIT_SAMPLER_DRAWS", "9")
	t.Setenv("COMMITFIT_SAMPLER_TUNE", "2")
	t.Setenv("COMMITFIT_MODEL_NUM_STATES", "2")

	out, err := execute(t, "fit", "-f", data, "-o", store, "--draws", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "1 chains × 3 draws")
}

func TestFit_ConfigFile(t *testing.T) {
	data := simulatePanel(t)
	cfgPath := filepath.Join(t.TempDir(), "commitfit.yaml")
	store := filepath.Join(t.TempDir(), "traces")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
model:
  num_states: 2
sampler:
  draws: 4
  tune: 2
store:
  path: `+store+`
log_level: warn
`), 0o600))

	out, err := execute(t, "fit", "--config", cfgPath, "-f", data)
	require.NoError(t, err)
	assert.Contains(t, out, "1 chains × 4 draws")
	id := runID(t, out)

	out, err = execute(t, "runs", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, id)
}

func TestFit_Errors(t *testing.T) {
	_, err := execute(t, "fit")
	assert.Error(t, err, "missing --file")

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("id,a,b,c\nx,1,2.5,3\n"), 0o600))
	_, err = execute(t, "fit", "-f", bad, "-o", t.TempDir(), "--renewal", "3")
	assert.ErrorIs(t, err, commitfit.ErrMalformedInput)

	data := simulatePanel(t)
	_, err = execute(t, "fit", "-f", data, "-o", t.TempDir(), "--renewal", "4")
	assert.ErrorIs(t, err, commitfit.ErrMalformedInput, "renewal must divide the periods")

	_, err = execute(t, "fit", "-f", data, "-o", t.TempDir(), "--chains", "0")
	assert.ErrorIs(t, err, commitfit.ErrInvalidConfig)

	_, err = execute(t, "summary", "-o", t.TempDir(), "missing")
	assert.Error(t, err)
}
