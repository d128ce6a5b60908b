package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"agent_society/internal/domain"
	"agent_society/internal/metrics"
)

func renderRunsTable(table *tview.Table, runs []domain.Run, selectedRunID string) {
	table.Clear()
	headers := []string{"Run", "Status", "Rounds", "Seed", "Started", "Agents"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, r := range runs {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(r.ID)))
		table.SetCell(row, 1, tview.NewTableCell(string(r.Status)).SetTextColor(statusColor(r.Status)))
		table.SetCell(row, 2, tview.NewTableCell(fmt.Sprint(r.Rounds)))
		table.SetCell(row, 3, tview.NewTableCell(fmt.Sprint(r.Seed)))
		table.SetCell(row, 4, tview.NewTableCell(r.StartedAt.Local().Format("15:04:05")))
		table.SetCell(row, 5, tview.NewTableCell(trimLine(strings.Join(r.Agents, ","), 48)))
		if r.ID == selectedRunID {
			table.Select(row, 0)
		}
	}
}

func statusColor(s domain.RunStatus) tcell.Color {
	switch s {
	case domain.RunStatusRunning:
		return tcell.ColorYellow
	case domain.RunStatusDone:
		return tcell.ColorGreen
	case domain.RunStatusFailed:
		return tcell.ColorRed
	default:
		return tcell.ColorGray
	}
}

// renderMessages lists the newest messages last, at most limit of them.
func renderMessages(items []domain.Message, limit int) string {
	if len(items) == 0 {
		return "No messages"
	}
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	var b strings.Builder
	for _, m := range items {
		color := "white"
		switch m.Kind {
		case domain.MessageKindSynthesis:
			color = "aqua"
		case domain.MessageKindVerification:
			color = "red"
			if v, _ := domain.VerdictOf(m); v == domain.VerdictVerified {
				color = "green"
			}
		}
		b.WriteString(fmt.Sprintf("r%-3d [%s]%s[-] %s %s  conf=%.2f\n",
			m.Round+1,
			color,
			tview.Escape(m.AuthorID),
			tview.Escape("["+string(m.Kind)+"]"),
			tview.Escape(trimLine(m.Content, 96)),
			m.Confidence,
		))
	}
	return b.String()
}

func renderRounds(rounds []domain.RoundRecord) string {
	if len(rounds) == 0 {
		return "No completed rounds"
	}
	var b strings.Builder
	for _, line := range reportFromRounds(rounds).Lines() {
		b.WriteString(tview.Escape(line) + "\n")
	}
	last := rounds[len(rounds)-1]
	b.WriteString(fmt.Sprintf("last round=%d appended=%d q_updates=%d took=%s\n",
		last.Round+1, last.Appended, last.Updates, last.Duration))
	return b.String()
}

func reportFromRounds(rounds []domain.RoundRecord) metrics.Report {
	r := metrics.Report{
		Proposals:     make([]int, len(rounds)),
		Verifications: make([]int, len(rounds)),
		Syntheses:     make([]int, len(rounds)),
	}
	for i, rec := range rounds {
		r.Proposals[i] = rec.Counts.Proposals
		r.Verifications[i] = rec.Counts.Verifications
		r.Syntheses[i] = rec.Counts.Syntheses
	}
	return r
}

type qKey struct {
	agent  string
	state  int
	action string
}

// renderQValues folds the update stream into the current value per entry.
func renderQValues(updates []domain.QUpdate) string {
	if len(updates) == 0 {
		return "No Q updates"
	}
	values := map[qKey]float64{}
	visits := map[qKey]int{}
	for _, u := range updates {
		k := qKey{agent: u.AgentID, state: u.State, action: u.Action}
		values[k] = u.After
		visits[k]++
	}
	keys := make([]qKey, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].agent != keys[j].agent {
			return keys[i].agent < keys[j].agent
		}
		if keys[i].state != keys[j].state {
			return keys[i].state < keys[j].state
		}
		return keys[i].action < keys[j].action
	})
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%-16s state=%d action=%-6s value=%+.4f visits=%d\n",
			tview.Escape(k.agent), k.state, k.action, values[k], visits[k]))
	}
	return b.String()
}

func renderDecisions(items []domain.DecisionLog, limit int) string {
	if len(items) == 0 {
		return "No decisions"
	}
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	var b strings.Builder
	for _, d := range items {
		b.WriteString(fmt.Sprintf(
			"[%s] r%d %s %s\n",
			d.CreatedAt.Local().Format("15:04:05"),
			d.Round+1,
			d.Actor,
			d.Action,
		))
		if d.Reason != "" {
			b.WriteString("  reason: " + tview.Escape(trimLine(d.Reason, 100)) + "\n")
		}
		if detail := decisionPayloadSummary(d.Payload); detail != "" {
			b.WriteString("  payload: " + tview.Escape(trimLine(detail, 160)) + "\n")
		}
	}
	return b.String()
}

func decisionPayloadSummary(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return ""
	}

	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err == nil {
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
		}
		return strings.Join(parts, ", ")
	}
	return trimmed
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
