// Package platform drives a network against an environment: the per-step
// DQN loop, checkpointing and the statistics shown while an agent learns.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"neuron/internal/model"
	"neuron/internal/nn"
	"neuron/internal/replay"
	"neuron/internal/rng"
	"neuron/internal/scape"
	"neuron/internal/storage"
	"neuron/internal/training"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrNoStore            = errors.New("session has no store")
)

// Mode selects whether a step learns or only plays greedily.
type Mode int

const (
	ModeTrain Mode = iota
	ModeWatch
)

func (m Mode) String() string {
	switch m {
	case ModeTrain:
		return "train"
	case ModeWatch:
		return "watch"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "train", "training":
		return ModeTrain, nil
	case "watch", "play":
		return ModeWatch, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", raw)
	}
}

// maxEpisodeLog bounds the per-episode records a session keeps.
const maxEpisodeLog = 10000

type Config struct {
	Scape           string
	// Tier selects the topology; nil means nn.DefaultTier.
	Tier            *nn.Tier
	Hyperparameters training.Hyperparameters
	ReplayCapacity  int

	WeightSeed uint32
	ActionSeed uint32
	ReplaySeed uint32
	ScapeSeed  uint32

	Store    storage.Store
	Builtins fs.FS
	Logger   *slog.Logger

	// OnEpisode is called under the session lock after every finished
	// training episode.
	OnEpisode func(model.EpisodeRecord)
	Clock     func() time.Time
}

func DefaultConfig() Config {
	tier := nn.DefaultTier
	return Config{
		Scape:           "pong",
		Tier:            &tier,
		Hyperparameters: training.DefaultHyperparameters(),
		ReplayCapacity:  replay.DefaultCapacity,
		WeightSeed:      rng.WeightInitSeed,
		ActionSeed:      rng.ActionSeed,
		ReplaySeed:      rng.ReplaySeed,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Scape == "" {
		c.Scape = def.Scape
	}
	if c.Tier == nil {
		c.Tier = def.Tier
	}
	if c.Hyperparameters == (training.Hyperparameters{}) {
		c.Hyperparameters = def.Hyperparameters
	}
	if c.ReplayCapacity == 0 {
		c.ReplayCapacity = def.ReplayCapacity
	}
	if c.WeightSeed == 0 {
		c.WeightSeed = def.WeightSeed
	}
	if c.ActionSeed == 0 {
		c.ActionSeed = def.ActionSeed
	}
	if c.ReplaySeed == 0 {
		c.ReplaySeed = def.ReplaySeed
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// StepResult reports what one call to Step did.
type StepResult struct {
	Action      int     `json:"action"`
	Reward      float32 `json:"reward"`
	Done        bool    `json:"done"`
	Point       int     `json:"point"`
	Trained     bool    `json:"trained"`
	Loss        float32 `json:"loss"`
	EpisodeDone bool    `json:"episode_done"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	Scape           string         `json:"scape"`
	Tier            string         `json:"tier"`
	Sizes           []int          `json:"sizes"`
	Parameters      int            `json:"parameters"`
	MemoryFootprint int            `json:"memory_footprint"`
	Optimizer       string         `json:"optimizer"`
	Stats           training.Stats `json:"stats"`
	BestWinRate     float32        `json:"best_win_rate"`
	TrainingSeconds uint32         `json:"training_seconds"`
	TrainingTime    string         `json:"training_time"`
	ReplayLen       int            `json:"replay_len"`
	ReplayCap       int            `json:"replay_cap"`
	UpdateSteps     int            `json:"update_steps"`
	LastLoss        float32        `json:"last_loss"`
	AgentScore      int            `json:"agent_score"`
	OpponentScore   int            `json:"opponent_score"`
}

// Session owns one environment, network, replay buffer and training state.
// All methods are safe for concurrent use; Step and Run serialise on the
// session lock.
type Session struct {
	mu sync.RWMutex

	cfg   Config
	tier  nn.Tier
	log   *slog.Logger
	env   scape.Environment
	net   *nn.Network
	state *training.State
	buf   *replay.Buffer
	store storage.Store

	obs  []float32
	next []float32

	bestWinRate  float32
	trainingTime time.Duration
	lastLoss     float32
	episodes     []model.EpisodeRecord
}

func NewSession(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	if !cfg.Tier.Valid() {
		return nil, fmt.Errorf("%w: %s", nn.ErrConstruction, *cfg.Tier)
	}

	env, err := scape.New(cfg.Scape, cfg.ScapeSeed)
	if err != nil {
		return nil, err
	}
	state, err := training.New(cfg.Hyperparameters, training.WithActionSeed(cfg.ActionSeed))
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:   cfg,
		log:   cfg.Logger.With("scape", env.Name()),
		env:   env,
		state: state,
		store: cfg.Store,
		obs:   make([]float32, env.StateSize()),
		next:  make([]float32, env.StateSize()),
	}
	if err := s.rebuild(*cfg.Tier); err != nil {
		return nil, err
	}
	return s, nil
}

// rebuild replaces the network and replay buffer for tier t.
func (s *Session) rebuild(t nn.Tier) error {
	net, err := nn.NewForTier(t, nn.WithSeed(s.cfg.WeightSeed))
	if err != nil {
		return err
	}
	if net.InputSize() != s.env.StateSize() || net.OutputSize() != s.env.ActionCount() {
		return fmt.Errorf("%w: network %dx%d, scape %s %dx%d", nn.ErrConstruction,
			net.InputSize(), net.OutputSize(), s.env.Name(), s.env.StateSize(), s.env.ActionCount())
	}
	buf, err := replay.New(s.cfg.ReplayCapacity, net.InputSize(), replay.WithSeed(s.cfg.ReplaySeed))
	if err != nil {
		return err
	}
	s.net = net
	s.buf = buf
	s.tier = t
	return nil
}

// Step advances the environment one frame. In ModeTrain the transition is
// stored, a batch is trained once the buffer holds enough samples and
// epsilon decays; ModeWatch plays greedily and learns nothing.
func (s *Session) Step(ctx context.Context, mode Mode) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step(mode)
}

func (s *Session) step(mode Mode) (StepResult, error) {
	s.env.Observe(s.obs)

	var (
		action int
		err    error
	)
	if mode == ModeTrain {
		action, err = s.state.SelectAction(s.net, s.obs, s.state.Epsilon())
	} else {
		// Watching leaves the exploration stream where training left it.
		action, err = s.net.BestAction(s.obs)
	}
	if err != nil {
		return StepResult{}, err
	}

	out := s.env.Step(action)
	s.env.Observe(s.next)
	res := StepResult{Action: action, Reward: out.Reward, Done: out.Done, Point: out.Point}

	if mode == ModeTrain {
		if err := s.buf.Add(replay.Transition{
			State:     s.obs,
			Action:    action,
			Reward:    out.Reward,
			NextState: s.next,
			Done:      out.Done,
		}); err != nil {
			return res, err
		}
		if s.buf.Ready(s.state.Hyperparameters().BatchSize) {
			loss, err := s.state.TrainBatch(s.net, s.buf)
			if err != nil {
				return res, err
			}
			s.state.RecordLoss(loss)
			s.lastLoss = loss
			res.Trained = true
			res.Loss = loss
			s.log.Debug("batch trained", "loss", loss, "update", s.net.Step())
		}
		s.state.DecayEpsilon()
		s.state.RecordStep(out.Reward)
	}

	if out.Done {
		if mode == ModeTrain {
			s.endEpisode()
			res.EpisodeDone = true
		}
		s.env.Continue()
	}
	return res, nil
}

func (s *Session) endEpisode() {
	episodeReward := s.state.Snapshot().EpisodeReward
	agent, opponent := s.env.Scores()
	s.state.EndEpisode(agent, opponent)
	if wr := s.state.WinRate(); wr > s.bestWinRate {
		s.bestWinRate = wr
	}

	record := model.EpisodeRecord{
		Episode:       s.state.Episodes(),
		Step:          s.state.Steps(),
		AgentScore:    agent,
		OpponentScore: opponent,
		Reward:        episodeReward,
		WinRate:       s.state.WinRate(),
		Epsilon:       s.state.Epsilon(),
	}
	if len(s.episodes) < maxEpisodeLog {
		s.episodes = append(s.episodes, record)
	}
	if s.cfg.OnEpisode != nil {
		s.cfg.OnEpisode(record)
	}
	s.log.Info("episode finished",
		"episode", record.Episode,
		"score", fmt.Sprintf("%d-%d", agent, opponent),
		"reward", episodeReward,
		"win_rate", record.WinRate,
		"epsilon", record.Epsilon,
	)
}

// Run performs steps frames in mode and refreshes the visualisation state
// once at the end. Time spent training counts toward the checkpoint's
// training time.
func (s *Session) Run(ctx context.Context, steps int, mode Mode) error {
	if steps < 0 {
		return fmt.Errorf("steps must be >= 0, got %d", steps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.cfg.Clock()
	defer func() {
		if mode == ModeTrain {
			s.trainingTime += s.cfg.Clock().Sub(start)
		}
		s.net.UpdateVisState()
	}()

	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.step(mode); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// Evaluate plays episodes greedily on a fresh copy of the environment and
// leaves the training environment untouched.
func (s *Session) Evaluate(ctx context.Context, episodes, maxSteps int, seed uint32) (scape.Fitness, scape.Trace, error) {
	env, err := scape.New(s.cfg.Scape, seed)
	if err != nil {
		return 0, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	policy := scape.PolicyFunc(func(_ context.Context, state []float32) (int, error) {
		return s.net.BestAction(state)
	})
	return scape.Evaluate(ctx, env, policy, episodes, maxSteps)
}

// QValues runs a forward pass for state and returns a fresh slice.
func (s *Session) QValues(state []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]float32, s.net.OutputSize())
	if err := s.net.QValues(state, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChangeTier swaps in a freshly initialised network of tier t with an empty
// replay buffer and restarts the statistics and exploration schedule.
func (s *Session) ChangeTier(t nn.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rebuild(t); err != nil {
		return err
	}
	s.state.ResetStats()
	s.state.SetEpsilon(s.state.Hyperparameters().EpsilonStart)
	s.bestWinRate = 0
	s.trainingTime = 0
	s.lastLoss = 0
	s.episodes = nil
	s.env.Reset()
	s.log.Info("tier changed", "tier", t.String(), "parameters", s.net.ParameterCount())
	return nil
}

// ApplyPreset swaps the hyperparameters for a named preset, keeping the
// optimizer.
func (s *Session) ApplyPreset(p training.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ApplyPreset(p)
}

// SaveCheckpoint writes the network and training counters to slot.
func (s *Session) SaveCheckpoint(ctx context.Context, slot string) (model.SaveHeader, error) {
	if s.store == nil {
		return model.SaveHeader{}, ErrNoStore
	}
	s.mu.RLock()
	header := s.header()
	weights, err := s.net.MarshalBinary()
	s.mu.RUnlock()
	if err != nil {
		return model.SaveHeader{}, err
	}

	if err := s.store.SaveCheckpoint(ctx, model.Checkpoint{
		Slot:    slot,
		Header:  header,
		Weights: weights,
		SavedAt: s.cfg.Clock().UTC(),
	}); err != nil {
		return model.SaveHeader{}, fmt.Errorf("save checkpoint %s: %w", slot, err)
	}
	header.Version = storage.SaveVersion
	header.Checksum = storage.Checksum(weights)
	s.log.Info("checkpoint saved", "slot", slot, "episodes", header.Episodes, "bytes", storage.HeaderSize+len(weights))
	return header, nil
}

func (s *Session) header() model.SaveHeader {
	hp := s.state.Hyperparameters()
	return model.SaveHeader{
		Tier:            uint8(s.tier),
		Episodes:        uint32(s.state.Episodes()),
		Steps:           uint32(s.state.Steps()),
		TrainingSeconds: uint32(s.trainingTime / time.Second),
		BestWinRate:     s.bestWinRate,
		Epsilon:         s.state.Epsilon(),
		LearningRate:    hp.LearningRate,
		Gamma:           hp.Gamma,
		EpsilonMin:      hp.EpsilonMin,
		EpsilonDecay:    hp.EpsilonDecay,
		BatchSize:       uint16(hp.BatchSize),
	}
}

// LoadCheckpoint restores weights, counters and hyperparameters from slot.
// The checkpoint must match the session's tier; nothing changes on error.
func (s *Session) LoadCheckpoint(ctx context.Context, slot string) (model.SaveHeader, error) {
	if s.store == nil {
		return model.SaveHeader{}, ErrNoStore
	}
	checkpoint, ok, err := s.store.GetCheckpoint(ctx, slot)
	if err != nil {
		return model.SaveHeader{}, fmt.Errorf("load checkpoint %s: %w", slot, err)
	}
	if !ok {
		return model.SaveHeader{}, fmt.Errorf("%w: %s", ErrCheckpointNotFound, slot)
	}
	h := checkpoint.Header

	s.mu.Lock()
	defer s.mu.Unlock()

	if nn.Tier(h.Tier) != s.tier {
		return model.SaveHeader{}, fmt.Errorf("%w: slot %s holds %s, session runs %s",
			storage.ErrTierMismatch, slot, nn.Tier(h.Tier), s.tier)
	}
	hp := s.state.Hyperparameters()
	hp.LearningRate = h.LearningRate
	hp.Gamma = h.Gamma
	hp.EpsilonMin = h.EpsilonMin
	hp.EpsilonDecay = h.EpsilonDecay
	hp.BatchSize = int(h.BatchSize)
	if hp.EpsilonStart < hp.EpsilonMin {
		hp.EpsilonStart = hp.EpsilonMin
	}
	if err := hp.Validate(); err != nil {
		return model.SaveHeader{}, fmt.Errorf("load checkpoint %s: %w", slot, err)
	}
	if err := s.net.UnmarshalBinary(checkpoint.Weights); err != nil {
		return model.SaveHeader{}, fmt.Errorf("%w: slot %s: %w", storage.ErrTierMismatch, slot, err)
	}

	if err := s.state.SetHyperparameters(hp); err != nil {
		return model.SaveHeader{}, err
	}
	s.state.ResetStats()
	s.state.RestoreCounters(int(h.Episodes), int(h.Steps), h.BestWinRate)
	s.state.SetEpsilon(h.Epsilon)
	s.bestWinRate = h.BestWinRate
	s.trainingTime = time.Duration(h.TrainingSeconds) * time.Second
	s.log.Info("checkpoint loaded", "slot", slot, "episodes", h.Episodes, "epsilon", h.Epsilon)
	return h, nil
}

// LoadBuiltin applies a shipped checkpoint, falling back to fresh weights
// when the session has no trained stream for its tier.
func (s *Session) LoadBuiltin(b storage.Builtin) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied, err := storage.LoadBuiltin(s.cfg.Builtins, int(s.tier), b, s.net)
	if err != nil {
		return false, err
	}
	if applied {
		info, _ := b.Info()
		s.state.RestoreCounters(info.Episodes, s.state.Steps(), info.WinRate)
	}
	s.log.Info("builtin loaded", "builtin", b.String(), "applied", applied)
	return applied, nil
}

// ResetWeights reinitialises the network in place.
func (s *Session) ResetWeights() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.net.ResetWeights()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seconds := uint32(s.trainingTime / time.Second)
	agent, opponent := s.env.Scores()
	return Snapshot{
		Scape:           s.env.Name(),
		Tier:            s.tier.String(),
		Sizes:           s.net.Sizes(),
		Parameters:      s.net.ParameterCount(),
		MemoryFootprint: s.net.MemoryFootprint(),
		Optimizer:       s.state.Hyperparameters().Optimizer.String(),
		Stats:           s.state.Snapshot(),
		BestWinRate:     s.bestWinRate,
		TrainingSeconds: seconds,
		TrainingTime:    storage.FormatTrainingTime(seconds),
		ReplayLen:       s.buf.Len(),
		ReplayCap:       s.buf.Cap(),
		UpdateSteps:     s.net.Step(),
		LastLoss:        s.lastLoss,
		AgentScore:      agent,
		OpponentScore:   opponent,
	}
}

// Hyperparameters returns the active training hyperparameters.
func (s *Session) Hyperparameters() training.Hyperparameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Hyperparameters()
}

// LossHistory copies the retained batch losses, oldest first.
func (s *Session) LossHistory() []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LossHistory().Values()
}

// Episodes copies the recorded episode summaries.
func (s *Session) Episodes() []model.EpisodeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.EpisodeRecord(nil), s.episodes...)
}

// WithNetwork runs fn with exclusive access to the network. fn must not
// retain net.
func (s *Session) WithNetwork(fn func(net *nn.Network) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.net)
}

// TrainingTime is the wall time spent in training runs, including time
// restored from a checkpoint.
func (s *Session) TrainingTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trainingTime
}

func (s *Session) Tier() nn.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tier
}

func (s *Session) ScapeName() string { return s.env.Name() }
