package agent

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"agent_society/internal/blackboard"
	"agent_society/internal/domain"
	"agent_society/internal/learning"
)

type Kind string

const (
	KindGenerator   Kind = "generator"
	KindVerifier    Kind = "verifier"
	KindSynthesizer Kind = "synthesizer"
	KindRLGenerator Kind = "rl_generator"
)

var ErrUnknownKind = errors.New("unknown agent kind")

type Capability uint8

const (
	CapPropose Capability = 1 << iota
	CapVerify
	CapSynthesize
	CapLearn
)

func (c Capability) Has(flag Capability) bool {
	return c&flag == flag
}

func (c Capability) String() string {
	names := make([]string, 0, 4)
	for _, f := range []struct {
		flag Capability
		name string
	}{
		{CapPropose, "propose"},
		{CapVerify, "verify"},
		{CapSynthesize, "synthesize"},
		{CapLearn, "learn"},
	} {
		if c.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Agent is one participant of the society.
//
// Decide must not block on anything but its own computation and reports
// false when it has nothing to say. Learn and Values are only called for
// agents whose capabilities include CapLearn; the coordinator never runs
// Decide and Learn of the same agent concurrently. Withdraw receives the id
// of a decided message that never reached the log.
type Agent interface {
	ID() string
	Kind() Kind
	Capabilities() Capability
	Decide(snapshot []domain.Message) (domain.Message, bool)
	Learn(snapshot []domain.Message) []domain.QUpdate
	Values() []learning.Entry
	Withdraw(messageID string)
}

// Act runs one turn: read a snapshot, decide, append. The returned message
// is only meaningful when the bool is true.
func Act(a Agent, round int, r blackboard.Reader, w blackboard.Writer) (domain.Message, bool, error) {
	msg, ok := a.Decide(r.Snapshot())
	if !ok {
		return domain.Message{}, false, nil
	}
	msg.Round = round
	if err := w.Append(msg); err != nil {
		a.Withdraw(msg.ID)
		return domain.Message{}, false, fmt.Errorf("agent %s turn: %w", a.ID(), err)
	}
	return msg, true, nil
}

type Spec struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Params     learning.Params `json:"params"`
	VerifyRate float64         `json:"verify_rate"`
}

// DefaultSpec fills the default hyperparameters.
func DefaultSpec(kind Kind, id string) Spec {
	return Spec{
		ID:         id,
		Kind:       kind,
		Params:     learning.DefaultParams(),
		VerifyRate: DefaultVerifyRate,
	}
}

func New(spec Spec, rng *rand.Rand) (Agent, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return nil, fmt.Errorf("agent of kind %q has empty id", spec.Kind)
	}
	switch spec.Kind {
	case KindGenerator:
		return NewGenerator(spec.ID, rng), nil
	case KindVerifier:
		return NewVerifier(spec.ID, rng, spec.VerifyRate)
	case KindSynthesizer:
		return NewSynthesizer(spec.ID, rng), nil
	case KindRLGenerator:
		return NewRLGenerator(spec.ID, rng, spec.Params)
	default:
		return nil, fmt.Errorf("%w: %q (agent %s)", ErrUnknownKind, spec.Kind, spec.ID)
	}
}

// base carries identity, randomness and the no-op learning hooks.
type base struct {
	id  string
	rng *rand.Rand
	now func() time.Time
}

func newBase(id string, rng *rand.Rand) base {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return base{id: id, rng: rng, now: time.Now}
}

func (b base) ID() string { return b.id }

func (b base) Learn([]domain.Message) []domain.QUpdate { return nil }

func (b base) Values() []learning.Entry { return nil }

func (b base) Withdraw(string) {}

func (b base) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*b.rng.Float64()
}

// hypothesisNumber mirrors the 1..100 label range of generated hypotheses.
func (b base) hypothesisNumber() int {
	return b.rng.IntN(100) + 1
}

func (b base) message(kind domain.MessageKind, content string, priority domain.Priority, confidence float64) domain.Message {
	return domain.Message{
		ID:         uuid.NewString(),
		AuthorID:   b.id,
		Kind:       kind,
		Content:    content,
		Priority:   priority,
		CreatedAt:  b.now().UTC(),
		Confidence: math.Min(1, math.Max(0, confidence)),
	}
}
