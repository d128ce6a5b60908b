package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type MessageKind string

const (
	MessageKindProposal     MessageKind = "proposal"
	MessageKindVerification MessageKind = "verification"
	MessageKindSynthesis    MessageKind = "synthesis"
)

func (k MessageKind) Valid() bool {
	switch k {
	case MessageKindProposal, MessageKindVerification, MessageKindSynthesis:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Verdict string

const (
	VerdictVerified Verdict = "Verified"
	VerdictRejected Verdict = "Rejected"
)

type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusDone     RunStatus = "done"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
)

// Message is a blackboard entry. It is never mutated after it is appended.
type Message struct {
	ID         string      `json:"id"`
	AuthorID   string      `json:"author_id"`
	Kind       MessageKind `json:"kind"`
	Content    string      `json:"content"`
	Priority   Priority    `json:"priority"`
	CreatedAt  time.Time   `json:"created_at"`
	Confidence float64     `json:"confidence"`
	RefID      string      `json:"ref_id,omitempty"`
	Round      int         `json:"round"`
}

func (m Message) HasRef() bool {
	return m.RefID != ""
}

// VerificationContent encodes a verdict over the referenced proposal's content.
func VerificationContent(v Verdict, proposal string) string {
	return string(v) + ": " + proposal
}

// VerdictOf decodes the verdict carried by a verification message.
func VerdictOf(m Message) (Verdict, bool) {
	if m.Kind != MessageKindVerification {
		return "", false
	}
	switch {
	case strings.HasPrefix(m.Content, string(VerdictVerified)):
		return VerdictVerified, true
	case strings.HasPrefix(m.Content, string(VerdictRejected)):
		return VerdictRejected, true
	}
	return "", false
}

type Run struct {
	ID         string     `json:"id"`
	Seed       uint64     `json:"seed"`
	Rounds     int        `json:"rounds"`
	Agents     []string   `json:"agents"`
	Status     RunStatus  `json:"status"`
	LastError  string     `json:"last_error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Counts is a cumulative tally of the log by message kind.
type Counts struct {
	Proposals     int `json:"proposals"`
	Verifications int `json:"verifications"`
	Syntheses     int `json:"syntheses"`
}

func (c Counts) Total() int {
	return c.Proposals + c.Verifications + c.Syntheses
}

type RoundRecord struct {
	RunID    string        `json:"run_id"`
	Round    int           `json:"round"`
	Appended int           `json:"appended"`
	Counts   Counts        `json:"counts"`
	Updates  int           `json:"updates"`
	Duration time.Duration `json:"duration"`
}

// QUpdate describes one applied credit assignment.
type QUpdate struct {
	AgentID   string  `json:"agent_id"`
	MessageID string  `json:"message_id"`
	VerifyID  string  `json:"verify_id"`
	State     int     `json:"state"`
	Action    string  `json:"action"`
	Reward    float64 `json:"reward"`
	Before    float64 `json:"before"`
	MaxFuture float64 `json:"max_future"`
	After     float64 `json:"after"`
}

type DecisionLog struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Round     int             `json:"round"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// OfKind returns the messages of the given kind in log order.
func OfKind(messages []Message, kind MessageKind) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func Tally(messages []Message) Counts {
	var c Counts
	for _, m := range messages {
		switch m.Kind {
		case MessageKindProposal:
			c.Proposals++
		case MessageKindVerification:
			c.Verifications++
		case MessageKindSynthesis:
			c.Syntheses++
		}
	}
	return c
}

// RoundResult is what the coordinator publishes after a round's metrics
// phase.
type RoundResult struct {
	RunID    string        `json:"run_id"`
	Round    int           `json:"round"`
	Appended []Message     `json:"appended"`
	LogSize  int           `json:"log_size"`
	Counts   Counts        `json:"counts"`
	Updates  []QUpdate     `json:"updates"`
	Duration time.Duration `json:"duration"`
}

func (r RoundResult) Record() RoundRecord {
	return RoundRecord{
		RunID:    r.RunID,
		Round:    r.Round,
		Appended: len(r.Appended),
		Counts:   r.Counts,
		Updates:  len(r.Updates),
		Duration: r.Duration,
	}
}
