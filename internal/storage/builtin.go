package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
)

// Builtin identifies a checkpoint shipped with the binary.
type Builtin int

const (
	BuiltinRandom Builtin = iota
	BuiltinNovice
	BuiltinCompetent
	BuiltinExpert
)

var ErrUnknownBuiltin = errors.New("unknown builtin checkpoint")

// BuiltinInfo carries the expected quality of a shipped checkpoint.
type BuiltinInfo struct {
	ID       Builtin `json:"id"`
	Name     string  `json:"name"`
	WinRate  float32 `json:"win_rate"`
	Episodes int     `json:"episodes"`
}

var builtins = [...]BuiltinInfo{
	{ID: BuiltinRandom, Name: "RANDOM", WinRate: 0.15, Episodes: 0},
	{ID: BuiltinNovice, Name: "NOVICE", WinRate: 0.45, Episodes: 500},
	{ID: BuiltinCompetent, Name: "COMPETENT", WinRate: 0.75, Episodes: 2000},
	{ID: BuiltinExpert, Name: "EXPERT", WinRate: 0.95, Episodes: 10000},
}

func Builtins() []BuiltinInfo {
	out := make([]BuiltinInfo, len(builtins))
	copy(out, builtins[:])
	return out
}

func (b Builtin) Valid() bool { return b >= BuiltinRandom && int(b) < len(builtins) }

func (b Builtin) Info() (BuiltinInfo, error) {
	if !b.Valid() {
		return BuiltinInfo{}, fmt.Errorf("%w: %d", ErrUnknownBuiltin, int(b))
	}
	return builtins[b], nil
}

func (b Builtin) String() string {
	if !b.Valid() {
		return "Builtin(" + strconv.Itoa(int(b)) + ")"
	}
	return builtins[b].Name
}

// ParseBuiltin accepts a name in any case or an index.
func ParseBuiltin(s string) (Builtin, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, info := range builtins {
		if info.Name == name {
			return info.ID, nil
		}
	}
	if idx, err := strconv.Atoi(name); err == nil && Builtin(idx).Valid() {
		return Builtin(idx), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBuiltin, s)
}

// BuiltinPath is the location of a shipped weight stream inside its fs.FS.
func BuiltinPath(tier int, b Builtin) string {
	return fmt.Sprintf("checkpoints/tier%d_%s.bin", tier, b)
}

// WeightLoader is the part of a network a builtin checkpoint touches.
type WeightLoader interface {
	UnmarshalBinary(data []byte) error
	ResetWeights()
}

// LoadBuiltin fills net from a shipped checkpoint. RANDOM, a missing file
// and an empty file all leave freshly initialised weights. A stream that
// does not fit the network is reported and net is left untouched. The
// returned flag says whether trained weights were applied.
func LoadBuiltin(fsys fs.FS, tier int, b Builtin, net WeightLoader) (bool, error) {
	if !b.Valid() {
		return false, fmt.Errorf("%w: %d", ErrUnknownBuiltin, int(b))
	}
	if b == BuiltinRandom || fsys == nil {
		net.ResetWeights()
		return false, nil
	}

	data, err := fs.ReadFile(fsys, BuiltinPath(tier, b))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			net.ResetWeights()
			return false, nil
		}
		return false, fmt.Errorf("read builtin %s: %w", b, err)
	}
	if len(data) == 0 {
		net.ResetWeights()
		return false, nil
	}
	if err := net.UnmarshalBinary(data); err != nil {
		return false, fmt.Errorf("%w: builtin %s: %w", ErrTierMismatch, b, err)
	}
	return true, nil
}
