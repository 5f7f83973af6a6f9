package storage

import (
	"bytes"
	"errors"
	"testing"
	"testing/fstest"

	"neuron/internal/nn"
)

type recordingLoader struct {
	resets int
	loaded []byte
	err    error
}

func (r *recordingLoader) UnmarshalBinary(data []byte) error {
	r.loaded = data
	return r.err
}

func (r *recordingLoader) ResetWeights() { r.resets++ }

func TestParseBuiltin(t *testing.T) {
	tests := map[string]Builtin{
		"random":   BuiltinRandom,
		"NOVICE":   BuiltinNovice,
		" Expert ": BuiltinExpert,
		"2":        BuiltinCompetent,
	}
	for raw, want := range tests {
		got, err := ParseBuiltin(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got=%s want=%s", raw, got, want)
		}
	}
	if _, err := ParseBuiltin("grandmaster"); !errors.Is(err, ErrUnknownBuiltin) {
		t.Fatalf("expected ErrUnknownBuiltin, got %v", err)
	}
	if _, err := ParseBuiltin("4"); !errors.Is(err, ErrUnknownBuiltin) {
		t.Fatalf("expected ErrUnknownBuiltin for out of range index, got %v", err)
	}
}

func TestBuiltinInfo(t *testing.T) {
	infos := Builtins()
	if len(infos) != 4 {
		t.Fatalf("expected 4 builtins, got %d", len(infos))
	}
	expert, err := BuiltinExpert.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if expert.WinRate != 0.95 || expert.Episodes != 10000 {
		t.Fatalf("unexpected expert info: %+v", expert)
	}
	if got := BuiltinPath(1, BuiltinNovice); got != "checkpoints/tier1_NOVICE.bin" {
		t.Fatalf("unexpected path: %s", got)
	}
}

func TestLoadBuiltinFallsBackToReset(t *testing.T) {
	fsys := fstest.MapFS{
		"checkpoints/tier1_COMPETENT.bin": &fstest.MapFile{Data: []byte{}},
	}
	for _, b := range []Builtin{BuiltinRandom, BuiltinNovice, BuiltinCompetent} {
		loader := &recordingLoader{}
		applied, err := LoadBuiltin(fsys, 1, b, loader)
		if err != nil {
			t.Fatalf("%s: %v", b, err)
		}
		if applied || loader.resets != 1 || loader.loaded != nil {
			t.Fatalf("%s: expected reset only, applied=%t loader=%+v", b, applied, loader)
		}
	}
}

func TestLoadBuiltinMismatchReportsWithoutReset(t *testing.T) {
	fsys := fstest.MapFS{
		"checkpoints/tier1_EXPERT.bin": &fstest.MapFile{Data: []byte{0, 0, 0, 9}},
	}
	loader := &recordingLoader{err: nn.ErrArchitectureMismatch}
	applied, err := LoadBuiltin(fsys, 1, BuiltinExpert, loader)
	if !errors.Is(err, ErrTierMismatch) || !errors.Is(err, nn.ErrArchitectureMismatch) {
		t.Fatalf("expected tier mismatch, got %v", err)
	}
	if applied || loader.resets != 0 {
		t.Fatalf("expected no reset after failed load, applied=%t resets=%d", applied, loader.resets)
	}
}

func TestLoadBuiltinMismatchLeavesNetworkUntouched(t *testing.T) {
	other, err := nn.NewForTier(nn.TierMinimal, nn.WithSeed(7))
	if err != nil {
		t.Fatalf("new minimal: %v", err)
	}
	stream, err := other.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fsys := fstest.MapFS{
		BuiltinPath(int(nn.TierLight), BuiltinExpert): &fstest.MapFile{Data: stream},
	}

	target, err := nn.NewForTier(nn.TierLight, nn.WithSeed(99))
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	before, err := target.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal target: %v", err)
	}
	applied, err := LoadBuiltin(fsys, int(nn.TierLight), BuiltinExpert, target)
	if !errors.Is(err, nn.ErrArchitectureMismatch) {
		t.Fatalf("expected architecture mismatch, got %v", err)
	}
	if applied {
		t.Fatal("mismatched stream reported as applied")
	}
	after, err := target.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal target: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatal("failed builtin load changed the network")
	}
}

func TestLoadBuiltinAppliesTrainedWeights(t *testing.T) {
	trained, err := nn.NewForTier(nn.TierLight, nn.WithSeed(7))
	if err != nil {
		t.Fatalf("new trained: %v", err)
	}
	stream, err := trained.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fsys := fstest.MapFS{
		BuiltinPath(int(nn.TierLight), BuiltinNovice): &fstest.MapFile{Data: stream},
	}

	target, err := nn.NewForTier(nn.TierLight)
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	applied, err := LoadBuiltin(fsys, int(nn.TierLight), BuiltinNovice, target)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !applied {
		t.Fatal("expected trained weights to be applied")
	}
	if target.Weight(1, 3, 2) != trained.Weight(1, 3, 2) || target.Bias(2, 0) != trained.Bias(2, 0) {
		t.Fatal("weights not copied from builtin stream")
	}
}
