package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"agent_society/internal/agent"
	"agent_society/internal/blackboard"
	"agent_society/internal/domain"
	"agent_society/internal/metrics"
	"agent_society/internal/tracing"
)

const coordinatorActorID = "coordinator"

var (
	ErrDuplicateAgent      = errors.New("duplicate agent id")
	ErrInvalidSnapshotMode = errors.New("invalid snapshot mode")
)

type SnapshotMode string

const (
	SnapshotRound SnapshotMode = "round"
	SnapshotLive  SnapshotMode = "live"
)

// Store is the run journal. Every call is best effort except CreateRun.
type Store interface {
	CreateRun(ctx context.Context, run domain.Run) error
	FinishRun(ctx context.Context, runID string, status domain.RunStatus, lastError string) error
	RecordMessages(ctx context.Context, runID string, msgs []domain.Message) error
	RecordRound(ctx context.Context, rec domain.RoundRecord) error
	RecordQUpdates(ctx context.Context, runID string, round int, updates []domain.QUpdate) error
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
}

type Bus interface {
	Publish(res domain.RoundResult) error
}

type Config struct {
	RunID          string
	Seed           uint64
	Rounds         int
	SnapshotMode   SnapshotMode
	RoundDelay     time.Duration
	MaxConcurrency int
	Tracer         trace.Tracer
}

func (c Config) withDefaults() Config {
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.Rounds <= 0 {
		c.Rounds = 10
	}
	if c.SnapshotMode == "" {
		c.SnapshotMode = SnapshotRound
	}
	if c.RoundDelay < 0 {
		c.RoundDelay = 0
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return c
}

type Service struct {
	board     *blackboard.Board
	agents    []agent.Agent
	collector *metrics.Collector
	store     Store
	bus       Bus
	cfg       Config
	logger    *log.Logger
}

func New(board *blackboard.Board, agents []agent.Agent, store Store, bus Bus, cfg Config, logger *log.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if cfg.SnapshotMode != SnapshotRound && cfg.SnapshotMode != SnapshotLive {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSnapshotMode, cfg.SnapshotMode)
	}
	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		if seen[a.ID()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID())
		}
		seen[a.ID()] = true
	}
	if board == nil {
		board = blackboard.New(nil, 0)
	}
	if store == nil {
		store = nopStore{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		board:     board,
		agents:    slices.Clone(agents),
		collector: metrics.NewCollector(),
		store:     store,
		bus:       bus,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

func (s *Service) RunID() string { return s.cfg.RunID }

func (s *Service) Board() *blackboard.Board { return s.board }

func (s *Service) Agents() []agent.Agent { return slices.Clone(s.agents) }

func (s *Service) Metrics() metrics.Report { return s.collector.Report() }

// Run honors cancellation only between rounds.
func (s *Service) Run(ctx context.Context) (metrics.Report, error) {
	ctx, span := s.cfg.Tracer.Start(ctx, tracing.SpanRun, trace.WithAttributes(
		attribute.String(tracing.AttrRunID, s.cfg.RunID),
	))
	defer span.End()

	run := domain.Run{
		ID:     s.cfg.RunID,
		Seed:   s.cfg.Seed,
		Rounds: s.cfg.Rounds,
		Agents: s.agentIDs(),
		Status: domain.RunStatusRunning,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return s.collector.Report(), fmt.Errorf("journal run %s: %w", run.ID, err)
	}
	s.logDecision(ctx, s.board.Round(), "run_started", "coordinator accepted roster", run)
	s.logger.Printf("run started run=%s rounds=%d agents=%s snapshot=%s",
		run.ID, run.Rounds, strings.Join(run.Agents, ","), s.cfg.SnapshotMode)

	for i := 0; i < s.cfg.Rounds; i++ {
		if err := ctx.Err(); err != nil {
			s.finish(ctx, domain.RunStatusCanceled, err)
			span.SetStatus(codes.Error, "canceled")
			return s.collector.Report(), err
		}

		res, err := s.runRound(ctx)
		if err != nil {
			s.finish(ctx, domain.RunStatusFailed, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return s.collector.Report(), err
		}
		s.publish(res)

		if s.cfg.RoundDelay > 0 && i < s.cfg.Rounds-1 {
			timer := time.NewTimer(s.cfg.RoundDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	s.finish(ctx, domain.RunStatusDone, nil)
	return s.collector.Report(), nil
}

func (s *Service) runRound(ctx context.Context) (domain.RoundResult, error) {
	started := time.Now()
	round := s.board.Round()
	ctx, span := s.cfg.Tracer.Start(ctx, tracing.SpanRound, trace.WithAttributes(
		attribute.String(tracing.AttrRunID, s.cfg.RunID),
		attribute.Int(tracing.AttrRound, round),
	))
	defer span.End()

	before := s.board.Len()
	var reader blackboard.Reader = s.board
	if s.cfg.SnapshotMode == SnapshotRound {
		reader = s.board.Freeze()
	}

	p := pool.New().WithErrors()
	if s.cfg.MaxConcurrency > 0 {
		p = p.WithMaxGoroutines(s.cfg.MaxConcurrency)
	}
	for _, a := range s.agents {
		p.Go(func() error {
			return s.turn(ctx, a, round, reader)
		})
	}
	if err := p.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Printf("round aborted run=%s round=%d: %v", s.cfg.RunID, round, err)
		return domain.RoundResult{}, fmt.Errorf("round %d: %w", round, err)
	}

	entries := s.board.Snapshot()
	updates := s.learn(ctx, round, entries)
	counts := s.collector.Update(entries)
	res := domain.RoundResult{
		RunID:    s.cfg.RunID,
		Round:    round,
		Appended: slices.Clone(entries[before:]),
		LogSize:  len(entries),
		Counts:   counts,
		Updates:  updates,
		Duration: time.Since(started),
	}
	span.SetAttributes(
		attribute.Int(tracing.AttrAppended, len(res.Appended)),
		attribute.Int(tracing.AttrUpdates, len(updates)),
	)
	// a round that started is journaled even if the run is being canceled
	s.journal(context.WithoutCancel(ctx), res)
	s.board.AdvanceRound()
	return res, nil
}

func (s *Service) turn(ctx context.Context, a agent.Agent, round int, reader blackboard.Reader) error {
	_, span := s.cfg.Tracer.Start(ctx, tracing.SpanTurn, trace.WithAttributes(
		attribute.String(tracing.AttrAgentID, a.ID()),
		attribute.String(tracing.AttrAgentKind, string(a.Kind())),
		attribute.Int(tracing.AttrRound, round),
	))
	defer span.End()

	msg, ok, err := agent.Act(a, round, reader, s.board)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Bool(tracing.AttrProduced, ok))
	if ok {
		span.SetAttributes(
			attribute.String(tracing.AttrMessageID, msg.ID),
			attribute.String(tracing.AttrMessageKind, string(msg.Kind)),
		)
	}
	return nil
}

func (s *Service) learn(ctx context.Context, round int, entries []domain.Message) []domain.QUpdate {
	var updates []domain.QUpdate
	for _, a := range s.agents {
		if !a.Capabilities().Has(agent.CapLearn) {
			continue
		}
		_, span := s.cfg.Tracer.Start(ctx, tracing.SpanLearn, trace.WithAttributes(
			attribute.String(tracing.AttrAgentID, a.ID()),
			attribute.Int(tracing.AttrRound, round),
		))
		applied := a.Learn(entries)
		span.SetAttributes(attribute.Int(tracing.AttrUpdates, len(applied)))
		span.End()
		updates = append(updates, applied...)
	}
	return updates
}

func (s *Service) journal(ctx context.Context, res domain.RoundResult) {
	if err := s.store.RecordMessages(ctx, res.RunID, res.Appended); err != nil {
		s.logger.Printf("journal messages failed run=%s round=%d: %v", res.RunID, res.Round, err)
	}
	if err := s.store.RecordQUpdates(ctx, res.RunID, res.Round, res.Updates); err != nil {
		s.logger.Printf("journal q updates failed run=%s round=%d: %v", res.RunID, res.Round, err)
	}
	if err := s.store.RecordRound(ctx, res.Record()); err != nil {
		s.logger.Printf("journal round failed run=%s round=%d: %v", res.RunID, res.Round, err)
	}
	for _, u := range res.Updates {
		s.logDecision(ctx, res.Round, "q_updated", "verification matched pending proposal", u)
	}
	s.logDecision(ctx, res.Round, "round_completed", "all turns joined", res.Record())
}

func (s *Service) publish(res domain.RoundResult) {
	s.logger.Printf("round completed run=%s round=%d appended=%d proposals=%d verifications=%d syntheses=%d q_updates=%d",
		res.RunID, res.Round, len(res.Appended), res.Counts.Proposals, res.Counts.Verifications,
		res.Counts.Syntheses, len(res.Updates))
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(res); err != nil {
		s.logger.Printf("publish round result failed run=%s round=%d: %v", res.RunID, res.Round, err)
	}
}

func (s *Service) finish(ctx context.Context, status domain.RunStatus, cause error) {
	ctx = context.WithoutCancel(ctx)
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	if err := s.store.FinishRun(ctx, s.cfg.RunID, status, lastError); err != nil {
		s.logger.Printf("journal finish failed run=%s: %v", s.cfg.RunID, err)
	}
	s.logDecision(ctx, s.board.Round(), "run_"+string(status), trimText(lastError, 300), s.collector.Report())
	s.logger.Printf("run finished run=%s status=%s rounds=%d", s.cfg.RunID, status, s.collector.Len())
}

func (s *Service) logDecision(ctx context.Context, round int, action, reason string, payload any) {
	_ = s.store.LogDecision(ctx, domain.DecisionLog{
		RunID:   s.cfg.RunID,
		Round:   round,
		Actor:   coordinatorActorID,
		Action:  action,
		Reason:  reason,
		Payload: mustJSON(payload),
	})
}

func (s *Service) agentIDs() []string {
	ids := make([]string, len(s.agents))
	for i, a := range s.agents {
		ids[i] = a.ID()
	}
	return ids
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

func trimText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type nopStore struct{}

func (nopStore) CreateRun(context.Context, domain.Run) error { return nil }

func (nopStore) FinishRun(context.Context, string, domain.RunStatus, string) error { return nil }

func (nopStore) RecordMessages(context.Context, string, []domain.Message) error { return nil }

func (nopStore) RecordRound(context.Context, domain.RoundRecord) error { return nil }

func (nopStore) RecordQUpdates(context.Context, string, int, []domain.QUpdate) error { return nil }

func (nopStore) LogDecision(context.Context, domain.DecisionLog) error { return nil }
