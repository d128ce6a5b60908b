package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"agent_society/internal/config"
	"agent_society/internal/domain"
	"agent_society/internal/report"
	"agent_society/internal/society"
)

var version = "dev"

type runFlags struct {
	rounds         int
	seed           uint64
	snapshotMode   string
	roundDelayMS   int
	maxConcurrency int
	dbPath         string
	jsonPath       string
	quiet          bool
	stream         bool
	verbose        bool
	traceExporter  string
	traceFile      string
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "society",
		Short:         "Run a round-based society of hypothesis agents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to a TOML config (default: built-in four-agent society)")

	root.AddCommand(newRunCmd(&cfgFile), newAgentsCmd(&cfgFile))
	return root
}

func newRunCmd(cfgFile *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation and print each round",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyRunFlags(cmd.Flags(), f, &cfg)

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logOut := io.Discard
			if f.verbose {
				logOut = cmd.ErrOrStderr()
			}
			return runSociety(ctx, cfg, cmd.OutOrStdout(), log.New(logOut, "", log.LstdFlags))
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&f.rounds, "rounds", "n", 0, "number of rounds")
	flags.Uint64Var(&f.seed, "seed", 0, "seed for every agent's random source")
	flags.StringVar(&f.snapshotMode, "snapshot", "", `what a turn reads: "round" (frozen at round start) or "live"`)
	flags.IntVar(&f.roundDelayMS, "delay-ms", 0, "pause between rounds in milliseconds")
	flags.IntVar(&f.maxConcurrency, "max-concurrency", 0, "limit on concurrent agent turns (0 = one per agent)")
	flags.StringVar(&f.dbPath, "db", "", "sqlite journal path")
	flags.StringVar(&f.jsonPath, "json", "", "write a JSON summary to this path")
	flags.BoolVarP(&f.quiet, "quiet", "q", false, "only print the final metrics")
	flags.BoolVar(&f.stream, "stream", false, "print messages as they are appended instead of per round")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "log coordinator events to stderr")
	flags.StringVar(&f.traceExporter, "trace", "", `enable tracing with exporter "file", "stdout" or "otlp"`)
	flags.StringVar(&f.traceFile, "trace-file", "", "span output for the file exporter")
	return cmd
}

// applyRunFlags overrides config values with the flags the user set.
func applyRunFlags(flags *pflag.FlagSet, f runFlags, cfg *config.Config) {
	if flags.Changed("rounds") {
		cfg.Simulation.Rounds = f.rounds
	}
	if flags.Changed("seed") {
		cfg.Simulation.Seed = f.seed
		cfg.Simulation.SeedSet = true
	}
	if flags.Changed("snapshot") {
		cfg.Simulation.SnapshotMode = f.snapshotMode
	}
	if flags.Changed("delay-ms") {
		cfg.Simulation.RoundDelayMS = f.roundDelayMS
	}
	if flags.Changed("max-concurrency") {
		cfg.Simulation.MaxConcurrency = f.maxConcurrency
	}
	cfg.Journal.DBPath = firstNonEmpty(f.dbPath, cfg.Journal.DBPath)
	cfg.Report.JSONPath = firstNonEmpty(f.jsonPath, cfg.Report.JSONPath)
	if flags.Changed("quiet") {
		cfg.Report.Quiet = f.quiet
	}
	if flags.Changed("stream") {
		cfg.Report.Stream = f.stream
	}
	if f.traceExporter != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = f.traceExporter
	}
	cfg.Tracing.FilePath = firstNonEmpty(f.traceFile, cfg.Tracing.FilePath)
}

func runSociety(ctx context.Context, cfg config.Config, out io.Writer, logger *log.Logger) (err error) {
	s, err := society.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(ctx); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	console := report.NewConsole(out)
	var obs society.Observers
	if !cfg.Report.Quiet {
		console.Roster(s.Agents())
		fmt.Fprintf(out, "run=%s seed=%d\n", s.RunID, s.Seed)
		if cfg.Report.Stream {
			obs.Event = console.Event
		} else {
			obs.Round = console.Round
		}
	}

	metrics, runErr := s.Run(ctx, obs)
	console.Metrics(metrics)
	console.QTables(s.Agents())

	if cfg.Report.JSONPath != "" {
		summary := report.NewSummary(s.RunID, s.Seed, metrics, s.Agents(), runErr)
		summary.ConfigPath = cfg.Path
		if errors.Is(runErr, context.Canceled) {
			summary.Status = string(domain.RunStatusCanceled)
		}
		if err := report.WriteJSON(cfg.Report.JSONPath, summary); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

func newAgentsCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the configured agents and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			specs, err := cfg.Specs()
			if err != nil {
				return err
			}
			agents, err := society.NewAgents(specs, cfg.Simulation.Seed)
			if err != nil {
				return err
			}
			report.NewConsole(cmd.OutOrStdout()).Roster(agents)
			return nil
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
