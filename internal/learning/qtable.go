// Package learning holds the tabular Q-learning pieces used by adaptive
// agents: state discretization, the Q-table, epsilon-greedy selection and the
// map of decisions still waiting for feedback.
package learning

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

type Action string

const (
	ActionLow    Action = "low"
	ActionMedium Action = "medium"
	ActionHigh   Action = "high"
)

// DefaultActions is the action set in declaration order. Argmax ties resolve
// to the earliest action in this order.
var DefaultActions = []Action{ActionLow, ActionMedium, ActionHigh}

type State int

type StateAction struct {
	State  State
	Action Action
}

// Discretize buckets a proposal count: 0 for <3, 1 for 3..5, 2 for >5.
func Discretize(proposals int) State {
	switch {
	case proposals < 3:
		return 0
	case proposals <= 5:
		return 1
	default:
		return 2
	}
}

var ErrInvalidParams = errors.New("invalid learning parameters")

type Params struct {
	Epsilon float64 `json:"epsilon"`
	Alpha   float64 `json:"alpha"`
	Gamma   float64 `json:"gamma"`
}

func DefaultParams() Params {
	return Params{Epsilon: 0.2, Alpha: 0.1, Gamma: 0.9}
}

func (p Params) Validate() error {
	if math.IsNaN(p.Epsilon) || p.Epsilon < 0 || p.Epsilon > 1 {
		return fmt.Errorf("%w: epsilon %v outside [0,1]", ErrInvalidParams, p.Epsilon)
	}
	if math.IsNaN(p.Alpha) || p.Alpha <= 0 || p.Alpha > 1 {
		return fmt.Errorf("%w: alpha %v outside (0,1]", ErrInvalidParams, p.Alpha)
	}
	if math.IsNaN(p.Gamma) || p.Gamma < 0 || p.Gamma >= 1 {
		return fmt.Errorf("%w: gamma %v outside [0,1)", ErrInvalidParams, p.Gamma)
	}
	return nil
}

// QTable maps (state, action) to a value estimate. Absent entries read as 0.
// It is not safe for concurrent use.
type QTable struct {
	actions []Action
	values  map[StateAction]float64
	visits  map[StateAction]int
}

func NewQTable(actions []Action) *QTable {
	if len(actions) == 0 {
		actions = DefaultActions
	}
	return &QTable{
		actions: append([]Action(nil), actions...),
		values:  make(map[StateAction]float64),
		visits:  make(map[StateAction]int),
	}
}

func (q *QTable) Value(s State, a Action) float64 {
	return q.values[StateAction{State: s, Action: a}]
}

func (q *QTable) Visits(s State, a Action) int {
	return q.visits[StateAction{State: s, Action: a}]
}

func (q *QTable) Set(s State, a Action, v float64) {
	q.values[StateAction{State: s, Action: a}] = v
}

// MaxValue is max over the action set of Q[(s, a)].
func (q *QTable) MaxValue(s State) float64 {
	best := math.Inf(-1)
	for _, a := range q.actions {
		if v := q.Value(s, a); v > best {
			best = v
		}
	}
	return best
}

// Best returns the highest-valued action for s; the first declared action
// wins a tie.
func (q *QTable) Best(s State) Action {
	best := q.actions[0]
	bestValue := q.Value(s, best)
	for _, a := range q.actions[1:] {
		if v := q.Value(s, a); v > bestValue {
			best, bestValue = a, v
		}
	}
	return best
}

type Step struct {
	Before    float64
	MaxFuture float64
	After     float64
}

// Update applies Q += alpha * (reward + gamma*max_a' Q[(s,a')] - Q). The
// future term is taken over the same state, before the write.
func (q *QTable) Update(sa StateAction, reward, alpha, gamma float64) Step {
	before := q.values[sa]
	maxFuture := q.MaxValue(sa.State)
	after := before + alpha*(reward+gamma*maxFuture-before)
	q.values[sa] = after
	q.visits[sa]++
	return Step{Before: before, MaxFuture: maxFuture, After: after}
}

type Entry struct {
	State  State   `json:"state"`
	Action Action  `json:"action"`
	Value  float64 `json:"value"`
	Visits int     `json:"visits"`
}

// Entries lists the touched entries ordered by state, then action order.
func (q *QTable) Entries() []Entry {
	order := make(map[Action]int, len(q.actions))
	for i, a := range q.actions {
		order[a] = i
	}
	out := make([]Entry, 0, len(q.values))
	for sa, v := range q.values {
		out = append(out, Entry{State: sa.State, Action: sa.Action, Value: v, Visits: q.visits[sa]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].State != out[j].State {
			return out[i].State < out[j].State
		}
		return order[out[i].Action] < order[out[j].Action]
	})
	return out
}

type EpsilonGreedy struct {
	Epsilon float64
}

// Choose explores uniformly with probability Epsilon, otherwise exploits
// q.Best(s).
func (g EpsilonGreedy) Choose(rng *rand.Rand, q *QTable, s State) Action {
	if rng.Float64() < g.Epsilon {
		return q.actions[rng.IntN(len(q.actions))]
	}
	return q.Best(s)
}
