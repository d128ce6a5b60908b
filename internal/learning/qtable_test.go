package learning

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDiscretize(t *testing.T) {
	tests := []struct {
		proposals int
		want      State
	}{
		{0, 0}, {2, 0}, {3, 1}, {5, 1}, {6, 2}, {100, 2},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Discretize(tt.proposals), "proposals=%d", tt.proposals)
	}
}

func TestUpdateIsExact(t *testing.T) {
	tests := []struct {
		name   string
		prior  map[Action]float64
		action Action
		reward float64
		alpha  float64
		gamma  float64
		want   float64
	}{
		{
			name:   "empty table positive reward",
			action: ActionMedium,
			reward: 1, alpha: 0.1, gamma: 0.9,
			want: 0.1,
		},
		{
			name:   "empty table negative reward",
			action: ActionLow,
			reward: -1, alpha: 0.1, gamma: 0.9,
			want: -0.1,
		},
		{
			name:   "future term uses max over actions",
			prior:  map[Action]float64{ActionLow: 0.5, ActionHigh: 2},
			action: ActionLow,
			reward: 1, alpha: 0.5, gamma: 0.9,
			// 0.5 + 0.5*(1 + 0.9*2 - 0.5)
			want: 1.65,
		},
		{
			name:   "negative entries with absent action defaulting to zero",
			prior:  map[Action]float64{ActionLow: -3, ActionMedium: -1},
			action: ActionMedium,
			reward: -1, alpha: 0.25, gamma: 0.5,
			// max is 0 from the absent high entry: -1 + 0.25*(-1 + 0 + 1)
			want: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQTable(nil)
			for a, v := range tt.prior {
				q.Set(1, a, v)
			}
			step := q.Update(StateAction{State: 1, Action: tt.action}, tt.reward, tt.alpha, tt.gamma)
			require.InDelta(t, tt.want, step.After, 1e-9)
			require.InDelta(t, tt.want, q.Value(1, tt.action), 1e-9)
			require.Equal(t, 1, q.Visits(1, tt.action))
		})
	}
}

func TestUpdateMatchesFormulaProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := NewQTable(nil)
		state := State(rapid.IntRange(0, 2).Draw(t, "state"))
		for _, a := range DefaultActions {
			if rapid.Bool().Draw(t, "set-"+string(a)) {
				q.Set(state, a, rapid.Float64Range(-10, 10).Draw(t, "q-"+string(a)))
			}
		}
		action := DefaultActions[rapid.IntRange(0, 2).Draw(t, "action")]
		reward := rapid.SampledFrom([]float64{-1, 1}).Draw(t, "reward")
		alpha := rapid.Float64Range(0.01, 1).Draw(t, "alpha")
		gamma := rapid.Float64Range(0, 0.99).Draw(t, "gamma")

		q0 := q.Value(state, action)
		maxQ := math.Inf(-1)
		for _, a := range DefaultActions {
			maxQ = math.Max(maxQ, q.Value(state, a))
		}
		want := q0 + alpha*(reward+gamma*maxQ-q0)

		step := q.Update(StateAction{State: state, Action: action}, reward, alpha, gamma)
		if math.Abs(step.After-want) > 1e-9 {
			t.Fatalf("after=%v want=%v", step.After, want)
		}
		if step.Before != q0 || step.MaxFuture != maxQ {
			t.Fatalf("step=%+v q0=%v max=%v", step, q0, maxQ)
		}
	})
}

func TestGreedyChoiceIsDeterministic(t *testing.T) {
	q := NewQTable(nil)
	q.Set(2, ActionLow, 0.1)
	q.Set(2, ActionMedium, 0.9)
	q.Set(2, ActionHigh, 0.3)

	rng := rand.New(rand.NewPCG(7, 7))
	policy := EpsilonGreedy{Epsilon: 0}
	for i := 0; i < 200; i++ {
		require.Equal(t, ActionMedium, policy.Choose(rng, q, 2))
	}
}

func TestBestBreaksTiesByDeclarationOrder(t *testing.T) {
	q := NewQTable(nil)
	require.Equal(t, ActionLow, q.Best(0), "all-zero state picks first action")

	q.Set(1, ActionMedium, 0.5)
	q.Set(1, ActionHigh, 0.5)
	require.Equal(t, ActionMedium, q.Best(1))

	q.Set(2, ActionLow, -1)
	require.Equal(t, ActionMedium, q.Best(2), "absent entries read as 0")
}

func TestFullExplorationVisitsEveryAction(t *testing.T) {
	q := NewQTable(nil)
	q.Set(0, ActionHigh, 5)
	rng := rand.New(rand.NewPCG(1, 2))
	policy := EpsilonGreedy{Epsilon: 1}

	seen := make(map[Action]int)
	for i := 0; i < 600; i++ {
		seen[policy.Choose(rng, q, 0)]++
	}
	for _, a := range DefaultActions {
		require.Greater(t, seen[a], 100, "action %s", a)
	}
}

func TestEntriesOrdering(t *testing.T) {
	q := NewQTable(nil)
	q.Set(2, ActionLow, 1)
	q.Set(0, ActionHigh, 1)
	q.Set(0, ActionLow, 1)

	entries := q.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, Entry{State: 0, Action: ActionLow, Value: 1}, entries[0])
	require.Equal(t, Entry{State: 0, Action: ActionHigh, Value: 1}, entries[1])
	require.Equal(t, State(2), entries[2].State)
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())
	require.NoError(t, Params{Epsilon: 0, Alpha: 1, Gamma: 0}.Validate())
	require.ErrorIs(t, Params{Epsilon: 1.1, Alpha: 0.1, Gamma: 0.9}.Validate(), ErrInvalidParams)
	require.ErrorIs(t, Params{Epsilon: 0.1, Alpha: 0, Gamma: 0.9}.Validate(), ErrInvalidParams)
	require.ErrorIs(t, Params{Epsilon: 0.1, Alpha: 0.1, Gamma: 1}.Validate(), ErrInvalidParams)
}

func TestPendingTakeOnce(t *testing.T) {
	p := NewPending()
	sa := StateAction{State: 1, Action: ActionHigh}
	require.NoError(t, p.Record("m1", sa))
	require.ErrorIs(t, p.Record("m1", sa), ErrAlreadyPending)
	require.True(t, p.Has("m1"))

	got, ok := p.Take("m1")
	require.True(t, ok)
	require.Equal(t, sa, got)

	_, ok = p.Take("m1")
	require.False(t, ok)
	require.Equal(t, 0, p.Len())
}
