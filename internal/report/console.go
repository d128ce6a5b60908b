// Package report renders a run for people (console) and for tools (JSON).
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"agent_society/internal/agent"
	"agent_society/internal/blackboard"
	"agent_society/internal/domain"
	"agent_society/internal/learning"
	"agent_society/internal/metrics"
)

var (
	headingColor  = lipgloss.AdaptiveColor{Light: "#1F6FEB", Dark: "#58A6FF"}
	mutedColor    = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
	verifiedColor = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	rejectedColor = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
)

// Console writes the round listing, the metrics and the Q-tables.
type Console struct {
	w io.Writer

	heading  lipgloss.Style
	muted    lipgloss.Style
	verified lipgloss.Style
	rejected lipgloss.Style
}

func NewConsole(w io.Writer) *Console {
	r := lipgloss.NewRenderer(w)
	return &Console{
		w:        w,
		heading:  r.NewStyle().Bold(true).Foreground(headingColor),
		muted:    r.NewStyle().Foreground(mutedColor),
		verified: r.NewStyle().Foreground(verifiedColor),
		rejected: r.NewStyle().Foreground(rejectedColor),
	}
}

// Round lists the messages appended during res, one per line as
// "author [kind]: content".
func (c *Console) Round(res domain.RoundResult) {
	fmt.Fprintln(c.w, c.heading.Render(fmt.Sprintf("Round %d", res.Round+1)))
	if len(res.Appended) == 0 {
		fmt.Fprintln(c.w, c.muted.Render("  (no messages)"))
	}
	for _, m := range res.Appended {
		fmt.Fprintln(c.w, "  "+c.message(m))
	}
	summary := fmt.Sprintf("  log=%d proposals=%d verifications=%d syntheses=%d",
		res.LogSize, res.Counts.Proposals, res.Counts.Verifications, res.Counts.Syntheses)
	if len(res.Updates) > 0 {
		summary += fmt.Sprintf(" q_updates=%d", len(res.Updates))
	}
	fmt.Fprintln(c.w, c.muted.Render(summary))
}

// Event prints a board event as it happens: appended messages tagged with
// their round, and a closing line per finished round.
func (c *Console) Event(ev blackboard.Event) {
	switch ev.Kind {
	case blackboard.EventAppended:
		fmt.Fprintln(c.w, c.muted.Render(fmt.Sprintf("  r%d", ev.Message.Round+1))+" "+c.message(ev.Message))
	case blackboard.EventRoundAdvanced:
		fmt.Fprintln(c.w, c.heading.Render(fmt.Sprintf("Round %d done", ev.Round)))
	}
}

func (c *Console) message(m domain.Message) string {
	line := FormatMessage(m)
	if verdict, ok := domain.VerdictOf(m); ok {
		if verdict == domain.VerdictVerified {
			return c.verified.Render(line)
		}
		return c.rejected.Render(line)
	}
	return line
}

func (c *Console) Metrics(r metrics.Report) {
	fmt.Fprintln(c.w, c.heading.Render("Metrics"))
	for _, line := range r.Lines() {
		fmt.Fprintln(c.w, "  "+line)
	}
}

// QTables prints the learned values of every learning agent.
func (c *Console) QTables(agents []agent.Agent) {
	for _, a := range agents {
		if !a.Capabilities().Has(agent.CapLearn) {
			continue
		}
		fmt.Fprintln(c.w, c.heading.Render("Q-table "+a.ID()))
		entries := a.Values()
		if len(entries) == 0 {
			fmt.Fprintln(c.w, c.muted.Render("  (empty)"))
			continue
		}
		for _, e := range entries {
			fmt.Fprintf(c.w, "  state=%d action=%-6s value=%.4f visits=%d\n", e.State, e.Action, e.Value, e.Visits)
		}
	}
}

// Roster prints one line per agent with its capabilities and settings.
func (c *Console) Roster(agents []agent.Agent) {
	fmt.Fprintln(c.w, c.heading.Render("Agents"))
	width := 0
	for _, a := range agents {
		width = max(width, len(a.ID()))
	}
	for _, a := range agents {
		line := fmt.Sprintf("  %-*s %-13s %s", width, a.ID(), a.Kind(), a.Capabilities())
		if s := settings(a); s != "" {
			line += "  " + c.muted.Render(s)
		}
		fmt.Fprintln(c.w, line)
	}
}

type tunable interface {
	Params() learning.Params
}

type verifyRater interface {
	VerifyRate() float64
}

func settings(a agent.Agent) string {
	switch t := a.(type) {
	case tunable:
		p := t.Params()
		return fmt.Sprintf("epsilon=%v alpha=%v gamma=%v", p.Epsilon, p.Alpha, p.Gamma)
	case verifyRater:
		return fmt.Sprintf("verify_rate=%v", t.VerifyRate())
	}
	return ""
}

func FormatMessage(m domain.Message) string {
	return fmt.Sprintf("%s [%s]: %s", m.AuthorID, m.Kind, strings.TrimSpace(m.Content))
}
