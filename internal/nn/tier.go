package nn

import (
	"fmt"
	"strings"
)

const (
	StateSize   = 6
	ActionCount = 3

	MaxLayers          = 6
	MaxNeuronsPerLayer = 256
)

// Tier names a fixed topology selectable at construction time.
type Tier int

const (
	TierMinimal Tier = iota
	TierLight
	TierMedium
	TierHeavy
	TierSuperHeavy
)

const DefaultTier = TierLight

var tierNames = [...]string{
	TierMinimal:    "minimal",
	TierLight:      "light",
	TierMedium:     "medium",
	TierHeavy:      "heavy",
	TierSuperHeavy: "superheavy",
}

var tierSizes = [...][]int{
	TierMinimal:    {StateSize, 16, ActionCount},
	TierLight:      {StateSize, 32, 32, ActionCount},
	TierMedium:     {StateSize, 64, 64, 32, ActionCount},
	TierHeavy:      {StateSize, 128, 128, 64, 32, ActionCount},
	TierSuperHeavy: {StateSize, 256, 256, 128, 64, ActionCount},
}

// Tiers lists every supported tier from smallest to largest.
func Tiers() []Tier {
	out := make([]Tier, 0, len(tierSizes))
	for i := range tierSizes {
		out = append(out, Tier(i))
	}
	return out
}

func (t Tier) Valid() bool {
	return t >= 0 && int(t) < len(tierSizes)
}

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", int(t))
	}
	return tierNames[t]
}

// Sizes returns a copy of the tier's layer widths.
func (t Tier) Sizes() ([]int, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %d", ErrConstruction, int(t))
	}
	return append([]int(nil), tierSizes[t]...), nil
}

// ParameterCount is the number of trainable weights and biases.
func (t Tier) ParameterCount() int {
	if !t.Valid() {
		return 0
	}
	return parameterCount(tierSizes[t])
}

// ParseTier accepts a tier name or its numeric index.
func ParseTier(raw string) (Tier, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for i, candidate := range tierNames {
		if name == candidate || name == fmt.Sprint(i) {
			return Tier(i), nil
		}
	}
	if name == "super_heavy" || name == "super-heavy" {
		return TierSuperHeavy, nil
	}
	return 0, fmt.Errorf("unknown tier %q", raw)
}

// TierOf reports which tier, if any, has exactly the given topology.
func TierOf(sizes []int) (Tier, bool) {
	for i, candidate := range tierSizes {
		if equalSizes(candidate, sizes) {
			return Tier(i), true
		}
	}
	return 0, false
}

func parameterCount(sizes []int) int {
	total := 0
	for l := 1; l < len(sizes); l++ {
		total += sizes[l]*sizes[l-1] + sizes[l]
	}
	return total
}

func equalSizes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
