package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"agent_society/internal/agent"
	"agent_society/internal/learning"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "society.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Simulation.Rounds != 10 || cfg.Simulation.SeedSet {
		t.Fatalf("unexpected simulation %+v", cfg.Simulation)
	}
	specs, err := cfg.Specs()
	if err != nil {
		t.Fatalf("specs: %v", err)
	}
	want := []agent.Kind{agent.KindRLGenerator, agent.KindGenerator, agent.KindVerifier, agent.KindSynthesizer}
	if len(specs) != len(want) {
		t.Fatalf("specs=%d want=%d", len(specs), len(want))
	}
	for i, k := range want {
		if specs[i].Kind != k {
			t.Fatalf("specs[%d].Kind=%s want=%s", i, specs[i].Kind, k)
		}
	}
	if specs[0].Params != learning.DefaultParams() || specs[2].VerifyRate != agent.DefaultVerifyRate {
		t.Fatalf("default hyperparameters not applied: %+v", specs)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[simulation]
rounds = 50
seed = 7
snapshot_mode = "live"
round_delay_ms = 250
max_concurrency = 2

[[agents]]
id = "explorer"
kind = "rl_generator"
epsilon = 1.0
gamma = 0.5

[[agents]]
id = "strict"
kind = "verifier"
verify_rate = 1.0

[journal]
db_path = "runs.db"

[tracing]
enabled = true
exporter = "stdout"

[report]
json_path = "report.json"
quiet = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("path=%q want=%q", cfg.Path, path)
	}
	sim := cfg.Simulation
	if sim.Rounds != 50 || sim.Seed != 7 || !sim.SeedSet || sim.SnapshotMode != "live" || sim.MaxConcurrency != 2 {
		t.Fatalf("unexpected simulation %+v", sim)
	}
	if sim.RoundDelay().Milliseconds() != 250 {
		t.Fatalf("round delay=%v", sim.RoundDelay())
	}
	if cfg.Journal.DBPath != "runs.db" || !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "stdout" {
		t.Fatalf("unexpected sections %+v %+v", cfg.Journal, cfg.Tracing)
	}
	if cfg.Tracing.OTLPEndpoint != "localhost:4317" {
		t.Fatalf("tracing defaults lost: %+v", cfg.Tracing)
	}
	if cfg.Report.JSONPath != "report.json" || !cfg.Report.Quiet {
		t.Fatalf("unexpected report %+v", cfg.Report)
	}

	specs, err := cfg.Specs()
	if err != nil {
		t.Fatalf("specs: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("specs=%d want=2", len(specs))
	}
	want := learning.Params{Epsilon: 1, Alpha: 0.1, Gamma: 0.5}
	if specs[0].Params != want {
		t.Fatalf("params=%+v want=%+v", specs[0].Params, want)
	}
	if specs[1].VerifyRate != 1 {
		t.Fatalf("verify rate=%v", specs[1].VerifyRate)
	}
}

func TestLoadKeepsDefaultRosterWhenNoAgents(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[simulation]\nrounds = 3\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Agents) != 4 || cfg.Simulation.SnapshotMode != "round" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "[simulation]\nrounds = 3\nturbo = true\n",
		"zero rounds":    "[simulation]\nrounds = 0\n",
		"bad mode":       "[simulation]\nsnapshot_mode = \"eventual\"\n",
		"unknown kind":   "[[agents]]\nid = \"c\"\nkind = \"critic\"\n",
		"duplicate id":   "[[agents]]\nid = \"g\"\nkind = \"generator\"\n[[agents]]\nid = \"g\"\nkind = \"verifier\"\n",
		"bad epsilon":    "[[agents]]\nid = \"rl\"\nkind = \"rl_generator\"\nepsilon = 1.5\n",
		"bad gamma":      "[[agents]]\nid = \"rl\"\nkind = \"rl_generator\"\ngamma = 1.0\n",
		"bad verify":     "[[agents]]\nid = \"v\"\nkind = \"verifier\"\nverify_rate = -0.1\n",
		"missing id":     "[[agents]]\nkind = \"generator\"\n",
		"negative delay": "[simulation]\nround_delay_ms = -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err=%v want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil || errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err=%v want read error", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/runs/journal.db")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got != filepath.Join(home, "runs", "journal.db") {
		t.Fatalf("got %q", got)
	}
	if got, _ := ExpandPath(""); got != "" {
		t.Fatalf("empty path expanded to %q", got)
	}
}
