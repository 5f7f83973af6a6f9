package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const evaluationReportFile = "evaluation.json"

// EvaluationReport records a greedy evaluation of a trained network.
type EvaluationReport struct {
	RunID       string  `json:"run_id"`
	Scape       string  `json:"scape"`
	Source      string  `json:"source"`
	Episodes    int     `json:"episodes"`
	Wins        int     `json:"wins"`
	Truncated   int     `json:"truncated"`
	WinRate     float64 `json:"win_rate"`
	AvgReward   float64 `json:"avg_reward"`
	AvgSteps    float64 `json:"avg_steps"`
	TotalSteps  int     `json:"total_steps"`
	GeneratedAt string  `json:"generated_at_utc"`
}

// NewEvaluationReport lifts the counters of an evaluation trace.
func NewEvaluationReport(runID, scape, source string, trace map[string]any) EvaluationReport {
	return EvaluationReport{
		RunID:      runID,
		Scape:      scape,
		Source:     source,
		Episodes:   int(traceFloat(trace, "episodes")),
		Wins:       int(traceFloat(trace, "wins")),
		Truncated:  int(traceFloat(trace, "truncated")),
		WinRate:    traceFloat(trace, "win_rate"),
		AvgReward:  traceFloat(trace, "avg_reward"),
		AvgSteps:   traceFloat(trace, "avg_steps"),
		TotalSteps: int(traceFloat(trace, "total_steps")),
	}
}

func traceFloat(trace map[string]any, key string) float64 {
	switch v := trace[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		return 0
	}
}

func WriteEvaluationReport(baseDir string, report EvaluationReport) (string, error) {
	if report.RunID == "" {
		return "", fmt.Errorf("report run id is required")
	}
	runDir := filepath.Join(baseDir, report.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if report.GeneratedAt == "" {
		report.GeneratedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	path := filepath.Join(runDir, evaluationReportFile)
	if err := writeJSON(path, report); err != nil {
		return "", err
	}
	return path, nil
}

func ReadEvaluationReport(baseDir, runID string) (EvaluationReport, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, evaluationReportFile))
	if err != nil {
		if os.IsNotExist(err) {
			return EvaluationReport{}, false, nil
		}
		return EvaluationReport{}, false, err
	}
	var report EvaluationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return EvaluationReport{}, false, err
	}
	return report, true, nil
}
