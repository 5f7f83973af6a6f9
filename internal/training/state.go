// Package training implements the DQN update, the epsilon-greedy schedule
// and the running statistics reported while an agent learns.
package training

import (
	"fmt"

	"neuron/internal/nn"
	"neuron/internal/rng"
)

// State owns the hyperparameters, the exploration rate, the loss history
// and per-episode statistics. It is not safe for concurrent use.
type State struct {
	hp      Hyperparameters
	epsilon float32

	actions *rng.Source
	loss    *LossHistory

	totalEpisodes int
	totalSteps    int

	winRate          float32
	avgRallyLength   float32
	avgEpisodeReward float32
	episodeSteps     int
	episodeReward    float32
}

// Stats is a point-in-time copy of the running statistics.
type Stats struct {
	Episodes         int     `json:"episodes"`
	Steps            int     `json:"steps"`
	Epsilon          float32 `json:"epsilon"`
	WinRate          float32 `json:"win_rate"`
	AvgRallyLength   float32 `json:"avg_rally_length"`
	AvgEpisodeReward float32 `json:"avg_episode_reward"`
	EpisodeSteps     int     `json:"episode_steps"`
	EpisodeReward    float32 `json:"episode_reward"`
	SmoothedLoss     float32 `json:"smoothed_loss"`
	MeanLoss         float32 `json:"mean_loss"`
	LossSamples      int     `json:"loss_samples"`
}

type Option func(*State)

// WithActionSeed seeds the exploration stream.
func WithActionSeed(seed uint32) Option {
	return func(s *State) { s.actions = rng.New(seed) }
}

// WithLossHistorySize overrides the loss ring capacity.
func WithLossHistorySize(size int) Option {
	return func(s *State) { s.loss = NewLossHistory(size) }
}

func New(h Hyperparameters, opts ...Option) (*State, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	s := &State{
		hp:      h,
		epsilon: h.EpsilonStart,
		actions: rng.New(rng.ActionSeed),
		loss:    NewLossHistory(LossHistorySize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *State) Hyperparameters() Hyperparameters { return s.hp }

// SetHyperparameters replaces every knob and restarts exploration from
// EpsilonStart. Statistics are kept.
func (s *State) SetHyperparameters(h Hyperparameters) error {
	if err := h.Validate(); err != nil {
		return err
	}
	s.hp = h
	s.epsilon = h.EpsilonStart
	return nil
}

// ApplyPreset switches to a named bundle, keeping the current optimizer.
func (s *State) ApplyPreset(p Preset) error {
	h, err := p.Hyperparameters(s.hp.Optimizer)
	if err != nil {
		return err
	}
	return s.SetHyperparameters(h)
}

func (s *State) Epsilon() float32 { return s.epsilon }

// SetEpsilon clamps eps to [EpsilonMin, EpsilonStart].
func (s *State) SetEpsilon(eps float32) {
	if eps < s.hp.EpsilonMin {
		eps = s.hp.EpsilonMin
	}
	if eps > s.hp.EpsilonStart {
		eps = s.hp.EpsilonStart
	}
	s.epsilon = eps
}

// DecayEpsilon multiplies epsilon by the decay factor, never going below
// EpsilonMin.
func (s *State) DecayEpsilon() {
	if s.epsilon <= s.hp.EpsilonMin {
		return
	}
	s.epsilon *= s.hp.EpsilonDecay
	if s.epsilon < s.hp.EpsilonMin {
		s.epsilon = s.hp.EpsilonMin
	}
}

// SelectAction explores with probability eps and otherwise asks the network
// for its greedy action.
func (s *State) SelectAction(net *nn.Network, state []float32, eps float32) (int, error) {
	if s.actions.Float32() < eps {
		return s.actions.Intn(net.OutputSize()), nil
	}
	action, err := net.BestAction(state)
	if err != nil {
		return 0, fmt.Errorf("select action: %w", err)
	}
	return action, nil
}

// RecordStep accounts one environment step toward the current episode.
func (s *State) RecordStep(reward float32) {
	s.episodeSteps++
	s.episodeReward += reward
	s.totalSteps++
}

// EndEpisode folds the finished episode into the running averages.
func (s *State) EndEpisode(agentScore, opponentScore int) {
	s.totalEpisodes++

	var won float32
	if agentScore > opponentScore {
		won = 1
	}
	rally := float32(s.episodeSteps) / float32(agentScore+opponentScore+1)

	if s.totalEpisodes == 1 {
		s.winRate = won
		s.avgEpisodeReward = s.episodeReward
		s.avgRallyLength = rally
	} else {
		s.winRate = ema(s.winRate, won)
		s.avgEpisodeReward = ema(s.avgEpisodeReward, s.episodeReward)
		s.avgRallyLength = ema(s.avgRallyLength, rally)
	}

	s.episodeSteps = 0
	s.episodeReward = 0
}

func ema(old, sample float32) float32 {
	return float32(old*emaKeep) + float32(sample*emaPull)
}

// RecordLoss appends a batch loss to the history.
func (s *State) RecordLoss(loss float32) {
	s.loss.Add(loss)
}

func (s *State) LossHistory() *LossHistory { return s.loss }

// ResetStats clears counters, averages and the loss history. Epsilon and
// hyperparameters are unchanged.
func (s *State) ResetStats() {
	s.totalEpisodes = 0
	s.totalSteps = 0
	s.winRate = 0
	s.avgRallyLength = 0
	s.avgEpisodeReward = 0
	s.episodeSteps = 0
	s.episodeReward = 0
	s.loss.Reset()
}

// RestoreCounters seeds the episode and step counters, e.g. after loading a
// checkpoint.
func (s *State) RestoreCounters(episodes, steps int, winRate float32) {
	s.totalEpisodes = episodes
	s.totalSteps = steps
	s.winRate = winRate
}

func (s *State) Episodes() int { return s.totalEpisodes }

func (s *State) Steps() int { return s.totalSteps }

func (s *State) WinRate() float32 { return s.winRate }

func (s *State) Snapshot() Stats {
	return Stats{
		Episodes:         s.totalEpisodes,
		Steps:            s.totalSteps,
		Epsilon:          s.epsilon,
		WinRate:          s.winRate,
		AvgRallyLength:   s.avgRallyLength,
		AvgEpisodeReward: s.avgEpisodeReward,
		EpisodeSteps:     s.episodeSteps,
		EpisodeReward:    s.episodeReward,
		SmoothedLoss:     s.loss.Smoothed(),
		MeanLoss:         s.loss.Mean(),
		LossSamples:      s.loss.Len(),
	}
}
