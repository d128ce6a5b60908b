// Package metrics records per-round message counts for a simulation run.
//
// Counts are cumulative over the whole log, which is never cleared between
// rounds; Report.Deltas derives the per-round increments when those are
// wanted for presentation.
package metrics

import (
	"fmt"
	"strings"
	"sync"

	"agent_society/internal/domain"
)

// Collector holds three parallel sequences, one entry per completed round.
type Collector struct {
	mu            sync.RWMutex
	proposals     []int
	verifications []int
	syntheses     []int
}

func NewCollector() *Collector {
	return &Collector{}
}

// Update tallies the full log and appends one entry to every sequence.
func (c *Collector) Update(messages []domain.Message) domain.Counts {
	counts := domain.Tally(messages)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.proposals = append(c.proposals, counts.Proposals)
	c.verifications = append(c.verifications, counts.Verifications)
	c.syntheses = append(c.syntheses, counts.Syntheses)
	return counts
}

// Len is the number of rounds recorded so far.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.proposals)
}

func (c *Collector) Report() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Report{
		Proposals:     append([]int{}, c.proposals...),
		Verifications: append([]int{}, c.verifications...),
		Syntheses:     append([]int{}, c.syntheses...),
	}
}

// Report is a copy of the collected sequences.
type Report struct {
	Proposals     []int `json:"proposals"`
	Verifications []int `json:"verifications"`
	Syntheses     []int `json:"syntheses"`
}

func (r Report) Rounds() int {
	return len(r.Proposals)
}

// Latest returns the counts recorded for the last round.
func (r Report) Latest() (domain.Counts, bool) {
	n := r.Rounds()
	if n == 0 {
		return domain.Counts{}, false
	}
	return domain.Counts{
		Proposals:     r.Proposals[n-1],
		Verifications: r.Verifications[n-1],
		Syntheses:     r.Syntheses[n-1],
	}, true
}

// Deltas converts the cumulative sequences into per-round increments.
func (r Report) Deltas() Report {
	return Report{
		Proposals:     deltas(r.Proposals),
		Verifications: deltas(r.Verifications),
		Syntheses:     deltas(r.Syntheses),
	}
}

// String renders the report the way the console sink prints it,
// e.g. "proposals=[1 2 3] verifications=[0 1 2] syntheses=[0 0 1]".
func (r Report) String() string {
	return fmt.Sprintf("proposals=%v verifications=%v syntheses=%v", r.Proposals, r.Verifications, r.Syntheses)
}

func (r Report) Lines() []string {
	return []string{
		"Proposals per round:     " + formatSeq(r.Proposals),
		"Verifications per round: " + formatSeq(r.Verifications),
		"Syntheses per round:     " + formatSeq(r.Syntheses),
	}
}

func deltas(seq []int) []int {
	out := make([]int, len(seq))
	prev := 0
	for i, v := range seq {
		out[i] = v - prev
		prev = v
	}
	return out
}

func formatSeq(seq []int) string {
	parts := make([]string, len(seq))
	for i, v := range seq {
		parts[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
