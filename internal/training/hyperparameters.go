package training

import (
	"errors"
	"fmt"
	"strings"

	"neuron/internal/nn"
)

var ErrInvalidHyperparameters = errors.New("invalid hyperparameters")

// Hyperparameters of the DQN update and exploration schedule.
type Hyperparameters struct {
	LearningRate float32      `json:"learning_rate"`
	Gamma        float32      `json:"gamma"`
	EpsilonStart float32      `json:"epsilon_start"`
	EpsilonMin   float32      `json:"epsilon_min"`
	EpsilonDecay float32      `json:"epsilon_decay"`
	BatchSize    int          `json:"batch_size"`
	Optimizer    nn.Optimizer `json:"optimizer"`
}

func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		LearningRate: 0.001,
		Gamma:        0.99,
		EpsilonStart: 1.0,
		EpsilonMin:   0.05,
		EpsilonDecay: 0.9995,
		BatchSize:    32,
		Optimizer:    nn.Adam,
	}
}

func (h Hyperparameters) Validate() error {
	switch {
	case h.LearningRate <= 0:
		return fmt.Errorf("%w: learning rate must be > 0", ErrInvalidHyperparameters)
	case h.Gamma < 0 || h.Gamma > 1:
		return fmt.Errorf("%w: gamma must be in [0,1]", ErrInvalidHyperparameters)
	case h.EpsilonMin < 0 || h.EpsilonStart > 1 || h.EpsilonMin > h.EpsilonStart:
		return fmt.Errorf("%w: epsilon range [%g,%g] invalid", ErrInvalidHyperparameters, h.EpsilonMin, h.EpsilonStart)
	case h.EpsilonDecay <= 0 || h.EpsilonDecay > 1:
		return fmt.Errorf("%w: epsilon decay must be in (0,1]", ErrInvalidHyperparameters)
	case h.BatchSize < 1:
		return fmt.Errorf("%w: batch size must be >= 1", ErrInvalidHyperparameters)
	case h.Optimizer != nn.SGD && h.Optimizer != nn.Adam:
		return fmt.Errorf("%w: unknown optimizer %d", ErrInvalidHyperparameters, int(h.Optimizer))
	}
	return nil
}

// Preset is a named hyperparameter bundle.
type Preset string

const (
	PresetFast     Preset = "fast"
	PresetBalanced Preset = "balanced"
	PresetCareful  Preset = "careful"
)

func Presets() []Preset {
	return []Preset{PresetFast, PresetBalanced, PresetCareful}
}

func ParsePreset(raw string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Presets() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown preset %q", raw)
}

// Hyperparameters returns the preset's values with the given optimizer.
func (p Preset) Hyperparameters(opt nn.Optimizer) (Hyperparameters, error) {
	var h Hyperparameters
	switch p {
	case PresetFast:
		h = Hyperparameters{
			LearningRate: 0.003,
			Gamma:        0.95,
			EpsilonStart: 1.0,
			EpsilonMin:   0.1,
			EpsilonDecay: 0.999,
			BatchSize:    16,
		}
	case PresetBalanced:
		h = DefaultHyperparameters()
	case PresetCareful:
		h = Hyperparameters{
			LearningRate: 0.0003,
			Gamma:        0.99,
			EpsilonStart: 1.0,
			EpsilonMin:   0.02,
			EpsilonDecay: 0.99995,
			BatchSize:    64,
		}
	default:
		return Hyperparameters{}, fmt.Errorf("unknown preset %q", string(p))
	}
	h.Optimizer = opt
	return h, nil
}
