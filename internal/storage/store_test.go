package storage

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"neuron/internal/model"
)

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, ok, err := store.GetCheckpoint(ctx, "slot-1"); err != nil || ok {
		t.Fatalf("expected empty slot, ok=%t err=%v", ok, err)
	}

	weights := []byte{0, 0, 0, 2, 1, 2, 3, 4}
	savedAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	if err := store.SaveCheckpoint(ctx, model.Checkpoint{Slot: "slot-1", Header: sampleHeader(), Weights: weights, SavedAt: savedAt}); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	second := sampleHeader()
	second.Episodes = 7
	if err := store.SaveCheckpoint(ctx, model.Checkpoint{Slot: "slot-0", Header: second, Weights: []byte{5}}); err != nil {
		t.Fatalf("save second checkpoint: %v", err)
	}

	loaded, ok, err := store.GetCheckpoint(ctx, "slot-1")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if !ok {
		t.Fatal("expected stored checkpoint")
	}
	if !bytes.Equal(loaded.Weights, weights) {
		t.Fatalf("weights mismatch: %v", loaded.Weights)
	}
	if loaded.Header.Episodes != 120 || loaded.Header.Checksum != Checksum(weights) || loaded.Header.Version != SaveVersion {
		t.Fatalf("unexpected header: %+v", loaded.Header)
	}
	if loaded.SavedAt.IsZero() {
		t.Fatal("expected saved time")
	}

	infos, err := store.ListCheckpoints(ctx)
	if err != nil {
		t.Fatalf("list checkpoints: %v", err)
	}
	if len(infos) != 2 || infos[0].Slot != "slot-0" || infos[1].Slot != "slot-1" {
		t.Fatalf("unexpected checkpoint list: %+v", infos)
	}
	if infos[1].Size != HeaderSize+len(weights) || infos[0].Header.Episodes != 7 {
		t.Fatalf("unexpected checkpoint info: %+v", infos)
	}

	if err := store.DeleteCheckpoint(ctx, "slot-1"); err != nil {
		t.Fatalf("delete checkpoint: %v", err)
	}
	if _, ok, err := store.GetCheckpoint(ctx, "slot-1"); err != nil || ok {
		t.Fatalf("expected deleted slot, ok=%t err=%v", ok, err)
	}
	if err := store.DeleteCheckpoint(ctx, "slot-1"); err != nil {
		t.Fatalf("deleting an empty slot should succeed: %v", err)
	}

	older := model.RunRecord{
		VersionedRecord: NewVersionedRecord(),
		ID:              "run-a",
		Scape:           "pong",
		Tier:            "light",
		Steps:           100,
		StartedAt:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := older
	newer.ID = "run-b"
	newer.StartedAt = older.StartedAt.Add(time.Hour)
	for _, run := range []model.RunRecord{older, newer} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.ID, err)
		}
	}
	run, ok, err := store.GetRun(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if run.Scape != "pong" || run.Steps != 100 {
		t.Fatalf("unexpected run: %+v", run)
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].ID != "run-a" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}

	history := []float32{1, 0.5, 0.25}
	if err := store.SaveLossHistory(ctx, "run-a", history); err != nil {
		t.Fatalf("save loss: %v", err)
	}
	gotHistory, ok, err := store.GetLossHistory(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get loss: ok=%t err=%v", ok, err)
	}
	if !reflect.DeepEqual(gotHistory, history) {
		t.Fatalf("loss mismatch: %v", gotHistory)
	}
	if _, ok, err := store.GetLossHistory(ctx, "run-missing"); err != nil || ok {
		t.Fatalf("expected missing loss history, ok=%t err=%v", ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	err := store.SaveCheckpoint(context.Background(), model.Checkpoint{Slot: "a", Weights: []byte{1}})
	if !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
}

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if store == nil {
		t.Fatal("expected non-nil store")
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewStoreFile(t *testing.T) {
	store, err := NewStore("file", t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("expected *FileStore, got %T", store)
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"slot-1", "run_2", "a.b"} {
		if err := validateName(name); err != nil {
			t.Fatalf("%q: %v", name, err)
		}
	}
	for _, name := range []string{"", "../x", "a/b", ".hidden", "sp ace"} {
		if err := validateName(name); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
}
