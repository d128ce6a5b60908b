// Package society assembles a runnable simulation from configuration.
package society

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"agent_society/internal/agent"
	"agent_society/internal/blackboard"
	"agent_society/internal/config"
	"agent_society/internal/domain"
	"agent_society/internal/messaging/inproc"
	"agent_society/internal/metrics"
	"agent_society/internal/orchestrator"
	"agent_society/internal/policy"
	"agent_society/internal/store/sqlite"
	"agent_society/internal/tracing"
)

const roundObserver = "round_observer"

// Society owns every resource of one run.
type Society struct {
	RunID string
	Seed  uint64

	service *orchestrator.Service
	agents  []agent.Agent
	bus     *inproc.Bus
	store   *sqlite.Store
	tracer  *tracing.Provider
	logger  *log.Logger

	eventBuffer int
}

// Observers receive a run as it happens. Each non-nil callback runs on its
// own goroutine and has seen every delivery when Run returns.
type Observers struct {
	// Round gets every round result in order.
	Round func(domain.RoundResult)
	// Event gets board events: messages as they are appended and round
	// advances.
	Event func(blackboard.Event)
}

// Build validates cfg and wires the board, agents, journal and tracer.
func Build(ctx context.Context, cfg config.Config, logger *log.Logger) (*Society, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	specs, err := cfg.Specs()
	if err != nil {
		return nil, err
	}

	seed := cfg.Simulation.Seed
	if !cfg.Simulation.SeedSet {
		seed = rand.Uint64()
	}
	agents, err := NewAgents(specs, seed)
	if err != nil {
		return nil, err
	}

	s := &Society{
		RunID:  uuid.NewString(),
		Seed:   seed,
		agents: agents,
		bus:    inproc.New(cfg.Simulation.Rounds + 1),
		logger: logger,

		eventBuffer: cfg.Simulation.Rounds * (len(agents) + 1),
	}

	s.tracer, err = tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	var store orchestrator.Store
	if cfg.Journal.DBPath != "" {
		path, err := config.ExpandPath(cfg.Journal.DBPath)
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		s.store, err = sqlite.Open(path)
		if err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		if err := s.store.Migrate(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
		store = s.store
	}

	s.service, err = orchestrator.New(
		blackboard.New(policy.New(), 0),
		agents,
		store,
		s.bus,
		orchestrator.Config{
			RunID:          s.RunID,
			Seed:           seed,
			Rounds:         cfg.Simulation.Rounds,
			SnapshotMode:   orchestrator.SnapshotMode(cfg.Simulation.SnapshotMode),
			RoundDelay:     cfg.Simulation.RoundDelay(),
			MaxConcurrency: cfg.Simulation.MaxConcurrency,
			Tracer:         s.tracer.Tracer(),
		},
		logger,
	)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	return s, nil
}

// NewAgents builds the roster in order. Agent i draws from a PCG stream
// seeded with (seed, i), so a seed reproduces every agent's choices.
func NewAgents(specs []agent.Spec, seed uint64) ([]agent.Agent, error) {
	agents := make([]agent.Agent, 0, len(specs))
	for i, spec := range specs {
		a, err := agent.New(spec, rand.New(rand.NewPCG(seed, uint64(i))))
		if err != nil {
			return nil, fmt.Errorf("build agent %d: %w", i, err)
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func (s *Society) Agents() []agent.Agent { return s.agents }

func (s *Society) Board() *blackboard.Board { return s.service.Board() }

// Run executes the simulation and feeds obs.
func (s *Society) Run(ctx context.Context, obs Observers) (metrics.Report, error) {
	var wg sync.WaitGroup
	var stops []func()

	if obs.Round != nil {
		results := s.bus.Register(roundObserver)
		stops = append(stops, func() { s.bus.Unregister(roundObserver) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			for res := range results {
				obs.Round(res)
			}
		}()
	}
	if obs.Event != nil {
		events, cancel := s.Board().Subscribe(s.eventBuffer)
		stops = append(stops, cancel)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				obs.Event(ev)
			}
		}()
	}

	report, err := s.service.Run(ctx)
	for _, stop := range stops {
		stop()
	}
	wg.Wait()
	if dropped := s.Board().Dropped(); dropped > 0 {
		s.logger.Printf("board observers fell behind run=%s dropped=%d", s.RunID, dropped)
	}
	return report, err
}

// Close seals the board, flushes traces and closes the journal.
func (s *Society) Close(ctx context.Context) error {
	if s.service != nil {
		s.service.Board().Close()
	}
	var errs []error
	if s.tracer != nil {
		if err := s.tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	return errors.Join(errs...)
}
