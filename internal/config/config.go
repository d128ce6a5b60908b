package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"agent_society/internal/agent"
	"agent_society/internal/tracing"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Simulation Simulation     `toml:"simulation"`
	Agents     []AgentConfig  `toml:"agents"`
	Journal    Journal        `toml:"journal"`
	Tracing    tracing.Config `toml:"tracing"`
	Report     Report         `toml:"report"`
	Path       string         `toml:"-"`
}

type Simulation struct {
	Rounds         int    `toml:"rounds"`
	Seed           uint64 `toml:"seed"`
	SeedSet        bool   `toml:"-"`
	SnapshotMode   string `toml:"snapshot_mode"`
	RoundDelayMS   int    `toml:"round_delay_ms"`
	MaxConcurrency int    `toml:"max_concurrency"`
}

func (s Simulation) RoundDelay() time.Duration {
	return time.Duration(s.RoundDelayMS) * time.Millisecond
}

// Unset hyperparameters keep the agent.DefaultSpec values.
type AgentConfig struct {
	ID         string   `toml:"id"`
	Kind       string   `toml:"kind"`
	Epsilon    *float64 `toml:"epsilon"`
	Alpha      *float64 `toml:"alpha"`
	Gamma      *float64 `toml:"gamma"`
	VerifyRate *float64 `toml:"verify_rate"`
}

type Journal struct {
	DBPath string `toml:"db_path"`
}

type Report struct {
	JSONPath string `toml:"json_path"`
	Quiet    bool   `toml:"quiet"`
	Stream   bool   `toml:"stream"`
}

func Defaults() Config {
	return Config{
		Simulation: Simulation{
			Rounds:       10,
			SnapshotMode: "round",
		},
		Agents: []AgentConfig{
			{ID: "rl_generator_1", Kind: string(agent.KindRLGenerator)},
			{ID: "generator_2", Kind: string(agent.KindGenerator)},
			{ID: "verifier_1", Kind: string(agent.KindVerifier)},
			{ID: "synthesizer_1", Kind: string(agent.KindSynthesizer)},
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Load reads a TOML file over Defaults. An empty path yields Defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Defaults(), nil
	}
	resolved, err := expandPath(path)
	if err != nil {
		return Config{}, err
	}

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	cfg := Defaults()
	cfg.Agents = nil
	md, err := toml.Decode(string(bytes), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = Defaults().Agents
	}
	cfg.Simulation.SeedSet = md.IsDefined("simulation", "seed")

	cfg.Path = resolved
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Simulation.Rounds <= 0 {
		return fmt.Errorf("%w: simulation.rounds must be positive, got %d", ErrInvalidConfig, c.Simulation.Rounds)
	}
	switch c.Simulation.SnapshotMode {
	case "", "round", "live":
	default:
		return fmt.Errorf("%w: simulation.snapshot_mode %q", ErrInvalidConfig, c.Simulation.SnapshotMode)
	}
	if c.Simulation.RoundDelayMS < 0 || c.Simulation.MaxConcurrency < 0 {
		return fmt.Errorf("%w: simulation.round_delay_ms and max_concurrency must not be negative", ErrInvalidConfig)
	}
	_, err := c.Specs()
	return err
}

func (c Config) Specs() ([]agent.Spec, error) {
	specs := make([]agent.Spec, 0, len(c.Agents))
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: agents[%d] has no id", ErrInvalidConfig, i)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate agent id %s", ErrInvalidConfig, id)
		}
		seen[id] = true

		kind := agent.Kind(strings.TrimSpace(a.Kind))
		switch kind {
		case agent.KindGenerator, agent.KindVerifier, agent.KindSynthesizer, agent.KindRLGenerator:
		default:
			return nil, fmt.Errorf("%w: agent %s: %w %q", ErrInvalidConfig, id, agent.ErrUnknownKind, a.Kind)
		}

		spec := agent.DefaultSpec(kind, id)
		setIf(&spec.Params.Epsilon, a.Epsilon)
		setIf(&spec.Params.Alpha, a.Alpha)
		setIf(&spec.Params.Gamma, a.Gamma)
		setIf(&spec.VerifyRate, a.VerifyRate)
		if kind == agent.KindRLGenerator {
			if err := spec.Params.Validate(); err != nil {
				return nil, fmt.Errorf("%w: agent %s: %w", ErrInvalidConfig, id, err)
			}
		}
		if kind == agent.KindVerifier && (spec.VerifyRate < 0 || spec.VerifyRate > 1) {
			return nil, fmt.Errorf("%w: agent %s: verify_rate %v outside [0,1]", ErrInvalidConfig, id, spec.VerifyRate)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func setIf(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func expandPath(path string) (string, error) {
	resolved := path
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	return filepath.Clean(resolved), nil
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return expandPath(path)
}
