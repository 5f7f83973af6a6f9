package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"neuron/internal/model"
)

func TestDecodeRunFixture(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "run_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	run, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "run-fixture-1" || run.Tier != "light" || run.Hyperparameters.BatchSize != 32 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Hyperparameters.Optimizer != "adam" {
		t.Fatalf("unexpected optimizer: %s", run.Hyperparameters.Optimizer)
	}
	if run.FinishedAt.Sub(run.StartedAt).Minutes() != 10 {
		t.Fatalf("unexpected duration: %s", run.FinishedAt.Sub(run.StartedAt))
	}
}

func TestDecodeRunRejectsUnknownVersion(t *testing.T) {
	payload, err := EncodeRun(model.RunRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion},
		ID:              "future",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRun(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestLossHistoryRoundTrip(t *testing.T) {
	history := []float32{0.5, 0.25, 0.125}
	payload, err := EncodeLossHistory(history)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeLossHistory(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, history) {
		t.Fatalf("history mismatch: got=%v want=%v", decoded, history)
	}
}
