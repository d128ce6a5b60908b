package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"agent_society/internal/agent"
	"agent_society/internal/learning"
	"agent_society/internal/metrics"
)

type Summary struct {
	RunID      string                      `json:"run_id"`
	Seed       uint64                      `json:"seed"`
	ConfigPath string                      `json:"config_path,omitempty"`
	Status     string                      `json:"status"`
	Error      string                      `json:"error,omitempty"`
	Metrics    metrics.Report              `json:"metrics"`
	Deltas     metrics.Report              `json:"deltas"`
	Agents     []AgentSummary              `json:"agents"`
	QTables    map[string][]learning.Entry `json:"q_tables,omitempty"`
}

type AgentSummary struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Capabilities string `json:"capabilities"`
	Settings     string `json:"settings,omitempty"`
}

func NewSummary(runID string, seed uint64, report metrics.Report, agents []agent.Agent, runErr error) Summary {
	s := Summary{
		RunID:   runID,
		Seed:    seed,
		Status:  "done",
		Metrics: report,
		Deltas:  report.Deltas(),
		Agents:  make([]AgentSummary, 0, len(agents)),
	}
	if runErr != nil {
		s.Status = "failed"
		s.Error = runErr.Error()
	}
	for _, a := range agents {
		s.Agents = append(s.Agents, AgentSummary{
			ID:           a.ID(),
			Kind:         string(a.Kind()),
			Capabilities: a.Capabilities().String(),
			Settings:     settings(a),
		})
		if a.Capabilities().Has(agent.CapLearn) {
			if s.QTables == nil {
				s.QTables = make(map[string][]learning.Entry)
			}
			s.QTables[a.ID()] = a.Values()
		}
	}
	return s
}

// WriteJSON writes the summary to path, creating parent directories.
func WriteJSON(path string, s Summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
