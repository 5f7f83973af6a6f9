package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, payload map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.json")
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTrainRequestFromConfig(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"scape":           "target",
		"tier":            "medium",
		"preset":          "careful",
		"steps":           500,
		"replay_capacity": 1000,
		"save_slot":       "nightly",
		"hyperparameters": map[string]any{
			"learning_rate": 0.002,
			"gamma":         0.9,
			"batch_size":    64,
			"optimizer":     "sgd",
		},
		"seeds": map[string]any{
			"weights": 1,
			"actions": 2,
			"replay":  3,
			"scape":   4,
		},
	})

	req, err := loadTrainRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if req.Scape != "target" || req.Tier != "medium" || req.Preset != "careful" || req.Steps != 500 {
		t.Fatalf("unexpected base fields: %+v", req)
	}
	if req.ReplayCapacity != 1000 || req.SaveSlot != "nightly" {
		t.Fatalf("unexpected run fields: %+v", req)
	}
	if req.LearningRate != 0.002 || req.Gamma != 0.9 || req.BatchSize != 64 || req.Optimizer != "sgd" {
		t.Fatalf("unexpected hyperparameters: %+v", req)
	}
	if req.WeightSeed != 1 || req.ActionSeed != 2 || req.ReplaySeed != 3 || req.ScapeSeed != 4 {
		t.Fatalf("unexpected seeds: %+v", req)
	}
}

func TestLoadTrainRequestIgnoresInvalidSeeds(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"seeds": map[string]any{"weights": -1, "actions": 1.5, "replay": "x"},
	})
	req, err := loadTrainRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if req.WeightSeed != 0 || req.ActionSeed != 0 || req.ReplaySeed != 0 {
		t.Fatalf("expected invalid seeds ignored: %+v", req)
	}
}

func TestLoadTrainRequestRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := loadTrainRequestFromConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestTrainFlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"scape": "target",
		"tier":  "heavy",
		"steps": 900,
		"hyperparameters": map[string]any{
			"gamma": 0.5,
		},
	})

	f := &trainFlags{}
	fs := pflag.NewFlagSet("train", pflag.ContinueOnError)
	f.register(fs)
	if err := fs.Parse([]string{"--config", path, "--tier", "minimal", "--lr", "0.01"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	req, err := f.request(fs)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Scape != "target" || req.Steps != 900 {
		t.Fatalf("expected config values kept: %+v", req)
	}
	if req.Tier != "minimal" || req.LearningRate != 0.01 {
		t.Fatalf("expected flag overrides: %+v", req)
	}
	if req.Gamma != 0.5 {
		t.Fatalf("expected config gamma kept, got %f", req.Gamma)
	}
}

func TestTrainFlagsDefaultsWithoutConfig(t *testing.T) {
	f := &trainFlags{}
	fs := pflag.NewFlagSet("train", pflag.ContinueOnError)
	f.register(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse: %v", err)
	}
	req, err := f.request(fs)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Scape != "pong" || req.Steps != 10000 || req.Tier != "" {
		t.Fatalf("unexpected defaults: %+v", req)
	}

	if err := fs.Parse([]string{"--resume", "a", "--builtin", "expert"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := f.request(fs); err == nil {
		t.Fatal("expected error for resume with builtin")
	}
}
