package main

import (
	"strings"
	"testing"
	"time"

	"github.com/rivo/tview"

	"agent_society/internal/domain"
)

func TestRenderMessagesKeepsNewest(t *testing.T) {
	msgs := []domain.Message{
		{AuthorID: "generator_1", Kind: domain.MessageKindProposal, Content: "Hypothesis_1"},
		{AuthorID: "verifier_1", Kind: domain.MessageKindVerification, Content: "Verified: Hypothesis_1", Round: 1},
		{AuthorID: "verifier_1", Kind: domain.MessageKindVerification, Content: "Rejected: Hypothesis_[2]", Round: 2},
	}
	out := renderMessages(msgs, 2)
	if strings.Contains(out, "generator_1") {
		t.Fatalf("oldest message not trimmed:\n%s", out)
	}
	if !strings.Contains(out, "r2   [green]verifier_1[-] "+tview.Escape("[verification]")+" Verified: Hypothesis_1") {
		t.Fatalf("verified line missing:\n%s", out)
	}
	if !strings.Contains(out, "[red]verifier_1[-]") || !strings.Contains(out, tview.Escape("Hypothesis_[2]")) {
		t.Fatalf("rejected line missing or unescaped:\n%s", out)
	}
	if renderMessages(nil, 10) != "No messages" {
		t.Fatalf("empty render")
	}
}

func TestRenderRoundsUsesCumulativeMetrics(t *testing.T) {
	out := renderRounds([]domain.RoundRecord{
		{Round: 0, Appended: 2, Counts: domain.Counts{Proposals: 2}},
		{Round: 1, Appended: 3, Counts: domain.Counts{Proposals: 4, Verifications: 1}, Updates: 1, Duration: time.Millisecond},
	})
	for _, want := range []string{
		"Proposals per round:     " + tview.Escape("[2, 4]"),
		"Verifications per round: " + tview.Escape("[0, 1]"),
		"last round=2 appended=3 q_updates=1 took=1ms",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderQValuesFoldsUpdates(t *testing.T) {
	out := renderQValues([]domain.QUpdate{
		{AgentID: "rl", State: 2, Action: "high", After: 0.1},
		{AgentID: "rl", State: 0, Action: "low", After: -0.1},
		{AgentID: "rl", State: 2, Action: "high", After: 0.19},
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "state=0 action=low    value=-0.1000 visits=1") {
		t.Fatalf("first line %q", lines[0])
	}
	if !strings.Contains(lines[1], "state=2 action=high   value=+0.1900 visits=2") {
		t.Fatalf("second line %q", lines[1])
	}
}

func TestDecisionPayloadSummary(t *testing.T) {
	if got := decisionPayloadSummary([]byte(`{"round":2,"appended":3}`)); got != "appended=3, round=2" {
		t.Fatalf("got %q", got)
	}
	if got := decisionPayloadSummary([]byte(`{}`)); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := decisionPayloadSummary([]byte(`[1,2]`)); got != "[1,2]" {
		t.Fatalf("got %q", got)
	}
}
