package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"agent_society/internal/domain"
)

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	runID := uuid.NewString()
	if err := store.CreateRun(ctx, domain.Run{
		ID:     runID,
		Seed:   42,
		Rounds: 3,
		Agents: []string{"generator_1", "verifier_1"},
	}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	run, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != domain.RunStatusRunning || run.Seed != 42 || len(run.Agents) != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.FinishedAt != nil {
		t.Fatalf("running run has finished_at")
	}

	if err := store.FinishRun(ctx, runID, domain.RunStatusFailed, "append proposal: boom"); err != nil {
		t.Fatalf("finish run: %v", err)
	}
	run, err = store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get finished run: %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.LastError == "" || run.FinishedAt == nil {
		t.Fatalf("unexpected finished run %+v", run)
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("get missing run err=%v", err)
	}
	if err := store.FinishRun(ctx, "missing", domain.RunStatusDone, ""); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("finish missing run err=%v", err)
	}
}

func TestRecordMessagesKeepsOrderAndSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()
	runID := createRun(t, store)

	now := time.Now().UTC()
	p := domain.Message{
		ID: uuid.NewString(), AuthorID: "generator_1", Kind: domain.MessageKindProposal,
		Content: "Hypothesis_7", Priority: domain.PriorityNormal, Confidence: 0.75, CreatedAt: now,
	}
	v := domain.Message{
		ID: uuid.NewString(), AuthorID: "verifier_1", Kind: domain.MessageKindVerification,
		Content: "Verified: Hypothesis_7", Priority: domain.PriorityHigh, Confidence: 0.5,
		RefID: p.ID, Round: 1, CreatedAt: now.Add(time.Millisecond),
	}
	if err := store.RecordMessages(ctx, runID, []domain.Message{p}); err != nil {
		t.Fatalf("record round 0: %v", err)
	}
	if err := store.RecordMessages(ctx, runID, []domain.Message{p, v}); err != nil {
		t.Fatalf("record round 1: %v", err)
	}

	msgs, err := store.ListRunMessages(ctx, runID, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages=%d want=2", len(msgs))
	}
	if msgs[0].ID != p.ID || msgs[1].RefID != p.ID || msgs[1].Round != 1 {
		t.Fatalf("unexpected order %+v", msgs)
	}
	if !msgs[0].CreatedAt.Equal(now) {
		t.Fatalf("created_at=%v want=%v", msgs[0].CreatedAt, now)
	}
}

func TestRoundsQUpdatesAndDecisions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()
	runID := createRun(t, store)

	for round := 0; round < 3; round++ {
		if err := store.RecordRound(ctx, domain.RoundRecord{
			RunID:    runID,
			Round:    round,
			Appended: 2,
			Counts:   domain.Counts{Proposals: round + 1, Verifications: round},
			Duration: 1500 * time.Microsecond,
		}); err != nil {
			t.Fatalf("record round %d: %v", round, err)
		}
	}
	if err := store.RecordRound(ctx, domain.RoundRecord{RunID: runID, Round: 1}); err == nil {
		t.Fatalf("expected duplicate round to fail")
	}

	rounds, err := store.ListRounds(ctx, runID)
	if err != nil {
		t.Fatalf("list rounds: %v", err)
	}
	if len(rounds) != 3 || rounds[2].Counts.Proposals != 3 || rounds[2].Duration != 1500*time.Microsecond {
		t.Fatalf("unexpected rounds %+v", rounds)
	}

	update := domain.QUpdate{
		AgentID: "rl_generator_1", MessageID: "m1", VerifyID: "v1",
		State: 2, Action: "high", Reward: 1, Before: 0, MaxFuture: 0, After: 0.1,
	}
	if err := store.RecordQUpdates(ctx, runID, 2, []domain.QUpdate{update}); err != nil {
		t.Fatalf("record q update: %v", err)
	}
	if err := store.RecordQUpdates(ctx, runID, 3, []domain.QUpdate{update}); err == nil {
		t.Fatalf("expected second update for the same proposal to be rejected")
	}
	updates, err := store.ListQUpdates(ctx, runID)
	if err != nil {
		t.Fatalf("list q updates: %v", err)
	}
	if len(updates) != 1 || updates[0] != update {
		t.Fatalf("unexpected updates %+v", updates)
	}

	payload, _ := json.Marshal(map[string]any{"appended": 2})
	if err := store.LogDecision(ctx, domain.DecisionLog{
		RunID: runID, Round: 0, Actor: "coordinator", Action: "round_completed",
		Reason: "all turns joined", Payload: payload,
	}); err != nil {
		t.Fatalf("log decision: %v", err)
	}
	if err := store.LogDecision(ctx, domain.DecisionLog{RunID: runID, Actor: "coordinator", Action: "run_done"}); err != nil {
		t.Fatalf("log decision without payload: %v", err)
	}
	decisions, err := store.ListRunDecisions(ctx, runID, 0)
	if err != nil {
		t.Fatalf("list decisions: %v", err)
	}
	if len(decisions) != 2 || decisions[0].Action != "round_completed" || string(decisions[1].Payload) != "{}" {
		t.Fatalf("unexpected decisions %+v", decisions)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		if err := store.CreateRun(ctx, domain.Run{
			ID: id, Rounds: 10, Agents: []string{"generator_1"}, StartedAt: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("create run %s: %v", id, err)
		}
	}
	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].Status != domain.RunStatusRunning || len(runs[0].Agents) != 1 {
		t.Fatalf("unexpected run fields %+v", runs[0])
	}
}

func TestInMemoryStore(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate memory store: %v", err)
	}
	createRun(t, store)
}

func createRun(t *testing.T, store *Store) string {
	t.Helper()
	runID := uuid.NewString()
	if err := store.CreateRun(context.Background(), domain.Run{ID: runID, Rounds: 3}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return runID
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("migrate store: %v", err)
	}
	return store
}
