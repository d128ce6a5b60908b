package agent

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"agent_society/internal/domain"
	"agent_society/internal/learning"
)

// RLGenerator proposes hypotheses whose flavor (the action) is chosen
// epsilon-greedily from a Q-table, and learns from verdicts on its own
// proposals.
type RLGenerator struct {
	base
	params learning.Params
	policy learning.EpsilonGreedy

	mu      sync.Mutex
	table   *learning.QTable
	pending *learning.Pending
}

func NewRLGenerator(id string, rng *rand.Rand, params learning.Params) (*RLGenerator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("rl generator %s: %w", id, err)
	}
	return &RLGenerator{
		base:    newBase(id, rng),
		params:  params,
		policy:  learning.EpsilonGreedy{Epsilon: params.Epsilon},
		table:   learning.NewQTable(learning.DefaultActions),
		pending: learning.NewPending(),
	}, nil
}

func (g *RLGenerator) Kind() Kind { return KindRLGenerator }

func (g *RLGenerator) Capabilities() Capability { return CapPropose | CapLearn }

func (g *RLGenerator) Params() learning.Params { return g.params }

func (g *RLGenerator) Decide(snapshot []domain.Message) (domain.Message, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := learning.Discretize(len(domain.OfKind(snapshot, domain.MessageKindProposal)))
	action := g.policy.Choose(g.rng, g.table, state)
	content := fmt.Sprintf("Hypothesis_%s_%d", action, g.hypothesisNumber())
	msg := g.message(domain.MessageKindProposal, content, domain.PriorityNormal, g.uniform(0.5, 1.0))

	if err := g.pending.Record(msg.ID, learning.StateAction{State: state, Action: action}); err != nil {
		// unreachable with uuid ids
		return domain.Message{}, false
	}
	return msg, true
}

// Learn consumes every verification in the log that refers to one of this
// agent's pending proposals. Matching is driven by the pending map alone, so
// rescanning a log that still holds consumed verifications is a no-op.
func (g *RLGenerator) Learn(snapshot []domain.Message) []domain.QUpdate {
	g.mu.Lock()
	defer g.mu.Unlock()

	var updates []domain.QUpdate
	for _, msg := range snapshot {
		if msg.Kind != domain.MessageKindVerification || !g.pending.Has(msg.RefID) {
			continue
		}
		verdict, ok := domain.VerdictOf(msg)
		if !ok {
			continue
		}
		reward := -1.0
		if verdict == domain.VerdictVerified {
			reward = 1.0
		}
		sa, _ := g.pending.Take(msg.RefID)
		step := g.table.Update(sa, reward, g.params.Alpha, g.params.Gamma)
		updates = append(updates, domain.QUpdate{
			AgentID:   g.id,
			MessageID: msg.RefID,
			VerifyID:  msg.ID,
			State:     int(sa.State),
			Action:    string(sa.Action),
			Reward:    reward,
			Before:    step.Before,
			MaxFuture: step.MaxFuture,
			After:     step.After,
		})
	}
	return updates
}

// Withdraw forgets the decision behind a proposal that was never appended,
// so no verification can ever be matched against it.
func (g *RLGenerator) Withdraw(messageID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending.Take(messageID)
}

func (g *RLGenerator) Values() []learning.Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.table.Entries()
}

func (g *RLGenerator) Value(s learning.State, a learning.Action) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.table.Value(s, a)
}

func (g *RLGenerator) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending.Len()
}

// IsPending reports whether feedback for messageID has not been consumed yet.
func (g *RLGenerator) IsPending(messageID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending.Has(messageID)
}
