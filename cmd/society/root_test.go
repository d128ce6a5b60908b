package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"agent_society/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunPrintsRoundsAndMetrics(t *testing.T) {
	jsonPath := filepath.Join(t.TempDir(), "report.json")
	out, err := execute(t, "run", "--rounds", "3", "--seed", "5", "--json", jsonPath)
	require.NoError(t, err)

	require.Contains(t, out, "seed=5")
	require.Contains(t, out, "Round 1\n")
	require.Contains(t, out, "Round 3\n")
	require.NotContains(t, out, "Round 4\n")
	require.Contains(t, out, "Proposals per round:")
	require.Contains(t, out, "Q-table rl_generator_1")

	b, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(b, &summary))
	require.Equal(t, "done", summary["status"])
	require.EqualValues(t, 5, summary["seed"])
}

func TestRunQuiet(t *testing.T) {
	out, err := execute(t, "run", "-n", "2", "--quiet")
	require.NoError(t, err)
	require.NotContains(t, out, "Round 1")
	require.Contains(t, out, "Syntheses per round:")
}

func TestRunStreamPrintsAppendsAsTheyLand(t *testing.T) {
	out, err := execute(t, "run", "-n", "2", "--seed", "4", "--stream")
	require.NoError(t, err)
	require.Contains(t, out, "  r1 generator_2 [proposal]: Hypothesis_")
	require.Contains(t, out, "  r2 verifier_1 [verification]: ")
	require.Contains(t, out, "Round 1 done\n")
	require.Contains(t, out, "Round 2 done\n")
	require.NotContains(t, out, "Round 1\n", "streaming replaces the per-round listing")
}

func TestRunRejectsBadSnapshotMode(t *testing.T) {
	_, err := execute(t, "run", "--snapshot", "eventual")
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestAgentsCommandReadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "society.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[agents]]
id = "explorer"
kind = "rl_generator"
epsilon = 0.5

[[agents]]
id = "critic"
kind = "verifier"
`), 0o600))

	out, err := execute(t, "--config", path, "agents")
	require.NoError(t, err)
	require.Contains(t, out, "explorer rl_generator  propose|learn  epsilon=0.5 alpha=0.1 gamma=0.9")
	require.Contains(t, out, "critic   verifier      verify  verify_rate=0.7")
	require.Equal(t, 1, strings.Count(out, "verify_rate="))
}

func TestApplyRunFlagsOnlyOverridesChangedFlags(t *testing.T) {
	cmd := newRunCmd(new(string))
	require.NoError(t, cmd.Flags().Parse([]string{"--seed", "9", "--trace", "stdout"}))

	cfg := config.Defaults()
	cfg.Simulation.Rounds = 40
	var f runFlags
	f.seed = 9
	f.traceExporter = "stdout"
	applyRunFlags(cmd.Flags(), f, &cfg)

	require.Equal(t, 40, cfg.Simulation.Rounds)
	require.Equal(t, uint64(9), cfg.Simulation.Seed)
	require.True(t, cfg.Simulation.SeedSet)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, "stdout", cfg.Tracing.Exporter)
}

func TestRunJSONNamesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "society.toml")
	require.NoError(t, os.WriteFile(path, []byte("[simulation]\nrounds = 2\nseed = 1\n"), 0o600))
	jsonPath := filepath.Join(dir, "report.json")

	_, err := execute(t, "--config", path, "run", "--quiet", "--json", jsonPath)
	require.NoError(t, err)

	b, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(b, &summary))
	require.Equal(t, path, summary["config_path"])
	require.Len(t, summary["agents"], 4)
}
