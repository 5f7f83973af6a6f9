package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"neuron/internal/model"
)

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	artifacts := RunArtifacts{
		Config: RunConfig{
			RunID:  runID,
			Scape:  "pong",
			Tier:   "light",
			Steps:  500,
			Preset: "balanced",
		},
		Run:         model.RunRecord{ID: runID, Scape: "pong", Steps: 500},
		LossHistory: []float32{0.5, 0.25, 0.125},
		Episodes: []model.EpisodeRecord{
			{Episode: 1, Step: 80, AgentScore: 0, OpponentScore: 1, Reward: -1.08},
			{Episode: 2, Step: 170, AgentScore: 1, OpponentScore: 1, Reward: 1.2, WinRate: 0.5},
		},
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range artifactFiles {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	series, ok, err := ReadLossSeries(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read loss series: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(series, artifacts.LossHistory) {
		t.Fatalf("loss series mismatch: %v", series)
	}

	cfg, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg.Tier != "light" || cfg.Steps != 500 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range artifactFiles {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(exportedDir, evaluationReportFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no evaluation report before one is written, err=%v", err)
	}

	if _, err := WriteEvaluationReport(baseDir, EvaluationReport{RunID: runID, Scape: "pong", Episodes: 10, Wins: 4, WinRate: 0.4}); err != nil {
		t.Fatalf("write evaluation report: %v", err)
	}
	exportedDir, err = ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export with report: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportedDir, evaluationReportFile)); err != nil {
		t.Fatalf("expected exported evaluation report: %v", err)
	}
}

func TestLossHistoryJSONCarriesSummary(t *testing.T) {
	baseDir := t.TempDir()
	runDir, err := WriteRunArtifacts(baseDir, RunArtifacts{
		Config:      RunConfig{RunID: "r"},
		LossHistory: []float32{4, 3, 2, 1},
	})
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(runDir, "loss_history.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var payload struct {
		Values  []float32 `json:"values"`
		Summary Summary   `json:"summary"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Values) != 4 || payload.Summary.Count != 4 || payload.Summary.Slope >= 0 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestRunIndexNewestFirst(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{RunID: "b", CreatedAtUTC: "2026-01-02T00:00:00Z"},
		{RunID: "c", CreatedAtUTC: "2026-01-02T00:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "a", Steps: 9, CreatedAtUTC: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("replace a: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, entry := range index {
		ids = append(ids, entry.RunID)
	}
	if !reflect.DeepEqual(ids, []string{"c", "b", "a"}) {
		t.Fatalf("unexpected order: %v", ids)
	}
	if index[2].Steps != 9 {
		t.Fatalf("expected replaced entry, got %+v", index[2])
	}
}

func TestRunIndexOrdersFractionalTimestamps(t *testing.T) {
	baseDir := t.TempDir()
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(100 * time.Millisecond)
	for _, entry := range []RunIndexEntry{
		{RunID: "older", CreatedAtUTC: older.Format(time.RFC3339Nano)},
		{RunID: "newer", CreatedAtUTC: newer.Format(time.RFC3339Nano)},
	} {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(index) != 2 || index[0].RunID != "newer" || index[1].RunID != "older" {
		t.Fatalf("expected newer run first, got %+v", index)
	}
}

func TestRunIndexKeepsInsertionOrderOnDisk(t *testing.T) {
	baseDir := t.TempDir()
	for _, entry := range []RunIndexEntry{
		{RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{RunID: "b", CreatedAtUTC: "2026-01-03T00:00:00Z"},
		{RunID: "c", CreatedAtUTC: "2026-01-02T00:00:00Z"},
	} {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var raw []RunIndexEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	var ids []string
	for _, entry := range raw {
		ids = append(ids, entry.RunID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected on-disk order: %v", ids)
	}
}

func TestEvaluationReportFromTrace(t *testing.T) {
	report := NewEvaluationReport("r", "target", "slot-1", map[string]any{
		"episodes": 20, "wins": 15, "truncated": 2, "win_rate": 0.75, "avg_reward": 3.5, "avg_steps": 6, "total_steps": 120,
	})
	if report.Episodes != 20 || report.Wins != 15 || report.Truncated != 2 || report.TotalSteps != 120 {
		t.Fatalf("unexpected report: %+v", report)
	}
	baseDir := t.TempDir()
	if _, err := WriteEvaluationReport(baseDir, report); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, ok, err := ReadEvaluationReport(baseDir, "r")
	if err != nil || !ok {
		t.Fatalf("read: ok=%t err=%v", ok, err)
	}
	if loaded.WinRate != 0.75 || loaded.GeneratedAt == "" {
		t.Fatalf("unexpected loaded report: %+v", loaded)
	}
}
