package agent

import (
	"fmt"
	"math/rand/v2"

	"agent_society/internal/domain"
)

// DefaultVerifyRate is the fixed probability of a Verified verdict.
const DefaultVerifyRate = 0.7

type Generator struct {
	base
}

func NewGenerator(id string, rng *rand.Rand) *Generator {
	return &Generator{base: newBase(id, rng)}
}

func (g *Generator) Kind() Kind { return KindGenerator }

func (g *Generator) Capabilities() Capability { return CapPropose }

func (g *Generator) Decide([]domain.Message) (domain.Message, bool) {
	content := fmt.Sprintf("Hypothesis_%d", g.hypothesisNumber())
	return g.message(domain.MessageKindProposal, content, domain.PriorityNormal, g.uniform(0.5, 1.0)), true
}

type Verifier struct {
	base
	verifyRate float64
}

func NewVerifier(id string, rng *rand.Rand, verifyRate float64) (*Verifier, error) {
	if verifyRate < 0 || verifyRate > 1 {
		return nil, fmt.Errorf("verifier %s: verify rate %v outside [0,1]", id, verifyRate)
	}
	return &Verifier{base: newBase(id, rng), verifyRate: verifyRate}, nil
}

func (v *Verifier) Kind() Kind { return KindVerifier }

func (v *Verifier) Capabilities() Capability { return CapVerify }

func (v *Verifier) VerifyRate() float64 { return v.verifyRate }

func (v *Verifier) Decide(snapshot []domain.Message) (domain.Message, bool) {
	proposals := domain.OfKind(snapshot, domain.MessageKindProposal)
	if len(proposals) == 0 {
		return domain.Message{}, false
	}
	chosen := proposals[v.rng.IntN(len(proposals))]
	verdict := domain.VerdictRejected
	if v.rng.Float64() < v.verifyRate {
		verdict = domain.VerdictVerified
	}
	msg := v.message(
		domain.MessageKindVerification,
		domain.VerificationContent(verdict, chosen.Content),
		domain.PriorityHigh,
		v.uniform(0.5, 1.0),
	)
	msg.RefID = chosen.ID
	return msg, true
}

type Synthesizer struct {
	base
}

func NewSynthesizer(id string, rng *rand.Rand) *Synthesizer {
	return &Synthesizer{base: newBase(id, rng)}
}

func (s *Synthesizer) Kind() Kind { return KindSynthesizer }

func (s *Synthesizer) Capabilities() Capability { return CapSynthesize }

func (s *Synthesizer) Decide(snapshot []domain.Message) (domain.Message, bool) {
	proposals := domain.OfKind(snapshot, domain.MessageKindProposal)
	if len(proposals) < 2 {
		return domain.Message{}, false
	}
	// picks are independent, so the same proposal may be combined with itself
	a := proposals[s.rng.IntN(len(proposals))].Content
	b := proposals[s.rng.IntN(len(proposals))].Content
	content := fmt.Sprintf("MetaHypothesis: (%s) + (%s)", a, b)
	return s.message(domain.MessageKindSynthesis, content, domain.PriorityNormal, s.uniform(0.6, 1.0)), true
}
