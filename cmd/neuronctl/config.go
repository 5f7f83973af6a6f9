package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/spf13/pflag"

	neuronapi "neuron/pkg/neuron"
)

func loadTrainRequestFromConfig(path string) (neuronapi.TrainRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return neuronapi.TrainRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return neuronapi.TrainRequest{}, err
	}

	var req neuronapi.TrainRequest
	if v, ok := asString(raw["scape"]); ok {
		req.Scape = v
	}
	if v, ok := asString(raw["tier"]); ok {
		req.Tier = v
	}
	if v, ok := asString(raw["preset"]); ok {
		req.Preset = v
	}
	if v, ok := asString(raw["optimizer"]); ok {
		req.Optimizer = v
	}
	if v, ok := asInt(raw["steps"]); ok {
		req.Steps = v
	}
	if v, ok := asInt(raw["replay_capacity"]); ok {
		req.ReplayCapacity = v
	}
	if v, ok := asString(raw["resume"]); ok {
		req.Resume = v
	}
	if v, ok := asString(raw["builtin"]); ok {
		req.Builtin = v
	}
	if v, ok := asString(raw["save_slot"]); ok {
		req.SaveSlot = v
	}

	if hp, ok := raw["hyperparameters"].(map[string]any); ok {
		if v, ok := asFloat64(hp["learning_rate"]); ok {
			req.LearningRate = float32(v)
		}
		if v, ok := asFloat64(hp["gamma"]); ok {
			req.Gamma = float32(v)
		}
		if v, ok := asFloat64(hp["epsilon_start"]); ok {
			req.EpsilonStart = float32(v)
		}
		if v, ok := asFloat64(hp["epsilon_min"]); ok {
			req.EpsilonMin = float32(v)
		}
		if v, ok := asFloat64(hp["epsilon_decay"]); ok {
			req.EpsilonDecay = float32(v)
		}
		if v, ok := asInt(hp["batch_size"]); ok {
			req.BatchSize = v
		}
		if v, ok := asString(hp["optimizer"]); ok {
			req.Optimizer = v
		}
	}

	if seeds, ok := raw["seeds"].(map[string]any); ok {
		for key, dst := range map[string]*uint32{
			"weights": &req.WeightSeed,
			"actions": &req.ActionSeed,
			"replay":  &req.ReplaySeed,
			"scape":   &req.ScapeSeed,
		} {
			v, ok := asUint32(seeds[key])
			if !ok {
				continue
			}
			*dst = v
		}
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asUint32(v any) (uint32, bool) {
	x, ok := asFloat64(v)
	if !ok || x < 0 || x > math.MaxUint32 || x != math.Trunc(x) {
		return 0, false
	}
	return uint32(x), true
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// trainFlags mirror TrainRequest; only flags set on the command line
// override a config file.
type trainFlags struct {
	config string

	scape     string
	tier      string
	preset    string
	optimizer string

	learningRate float32
	gamma        float32
	epsilonStart float32
	epsilonMin   float32
	epsilonDecay float32
	batchSize    int

	steps          int
	replayCapacity int
	weightSeed     uint32
	actionSeed     uint32
	replaySeed     uint32
	scapeSeed      uint32

	resume   string
	builtin  string
	saveSlot string
	evaluate int
}

func (f *trainFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.config, "config", "", "JSON run config; explicit flags override it")
	fs.StringVar(&f.scape, "scape", "pong", "scape: pong|target")
	fs.StringVar(&f.tier, "tier", "", "network tier (default light, or the resumed checkpoint's tier)")
	fs.StringVar(&f.preset, "preset", "", "hyperparameter preset: fast|balanced|careful")
	fs.StringVar(&f.optimizer, "optimizer", "", "optimizer: adam|sgd")
	fs.Float32Var(&f.learningRate, "lr", 0, "learning rate override")
	fs.Float32Var(&f.gamma, "gamma", 0, "discount factor override")
	fs.Float32Var(&f.epsilonStart, "epsilon-start", 0, "initial exploration rate override")
	fs.Float32Var(&f.epsilonMin, "epsilon-min", 0, "exploration floor override")
	fs.Float32Var(&f.epsilonDecay, "epsilon-decay", 0, "per-step exploration decay override")
	fs.IntVar(&f.batchSize, "batch", 0, "batch size override")
	fs.IntVar(&f.steps, "steps", 10000, "training steps")
	fs.IntVar(&f.replayCapacity, "replay", 0, "replay buffer capacity")
	fs.Uint32Var(&f.weightSeed, "weight-seed", 0, "weight initialisation seed")
	fs.Uint32Var(&f.actionSeed, "action-seed", 0, "exploration seed")
	fs.Uint32Var(&f.replaySeed, "replay-seed", 0, "replay sampling seed")
	fs.Uint32Var(&f.scapeSeed, "scape-seed", 0, "scape seed")
	fs.StringVar(&f.resume, "resume", "", "checkpoint slot to resume from")
	fs.StringVar(&f.builtin, "builtin", "", "builtin checkpoint to start from: random|novice|competent|expert")
	fs.StringVar(&f.saveSlot, "save", "", "checkpoint slot to save the trained network to")
	fs.IntVar(&f.evaluate, "evaluate", 0, "greedy evaluation episodes after training")
}

// request resolves the config file, if any, and applies changed flags.
func (f *trainFlags) request(fs *pflag.FlagSet) (neuronapi.TrainRequest, error) {
	var req neuronapi.TrainRequest
	if f.config != "" {
		loaded, err := loadTrainRequestFromConfig(f.config)
		if err != nil {
			return neuronapi.TrainRequest{}, fmt.Errorf("load config: %w", err)
		}
		req = loaded
	}

	set := func(name string) bool { return f.config == "" || fs.Changed(name) }
	if set("scape") {
		req.Scape = f.scape
	}
	if set("steps") {
		req.Steps = f.steps
	}
	if fs.Changed("tier") {
		req.Tier = f.tier
	}
	if fs.Changed("preset") {
		req.Preset = f.preset
	}
	if fs.Changed("optimizer") {
		req.Optimizer = f.optimizer
	}
	if fs.Changed("lr") {
		req.LearningRate = f.learningRate
	}
	if fs.Changed("gamma") {
		req.Gamma = f.gamma
	}
	if fs.Changed("epsilon-start") {
		req.EpsilonStart = f.epsilonStart
	}
	if fs.Changed("epsilon-min") {
		req.EpsilonMin = f.epsilonMin
	}
	if fs.Changed("epsilon-decay") {
		req.EpsilonDecay = f.epsilonDecay
	}
	if fs.Changed("batch") {
		req.BatchSize = f.batchSize
	}
	if fs.Changed("replay") {
		req.ReplayCapacity = f.replayCapacity
	}
	if fs.Changed("weight-seed") {
		req.WeightSeed = f.weightSeed
	}
	if fs.Changed("action-seed") {
		req.ActionSeed = f.actionSeed
	}
	if fs.Changed("replay-seed") {
		req.ReplaySeed = f.replaySeed
	}
	if fs.Changed("scape-seed") {
		req.ScapeSeed = f.scapeSeed
	}
	if fs.Changed("resume") {
		req.Resume = f.resume
	}
	if fs.Changed("builtin") {
		req.Builtin = f.builtin
	}
	if fs.Changed("save") {
		req.SaveSlot = f.saveSlot
	}
	if req.Resume != "" && req.Builtin != "" {
		return neuronapi.TrainRequest{}, fmt.Errorf("use either --resume or --builtin")
	}
	return req, nil
}
