package scape

import (
	"context"
	"errors"
	"fmt"
)

type Fitness float64

type Trace map[string]any

var ErrUnknownScape = errors.New("unknown scape")

// Outcome of a single environment step. Point is +1 when the agent won the
// episode on this step, -1 when it lost it and 0 otherwise.
type Outcome struct {
	Reward float32
	Done   bool
	Point  int
}

// Environment is a discrete-action task driven one step at a time.
type Environment interface {
	Name() string
	StateSize() int
	ActionCount() int
	// Reset starts a fresh game.
	Reset()
	// Observe writes the normalised state into dst.
	Observe(dst []float32)
	Step(action int) Outcome
	// Scores reports the scoreline used for episode statistics.
	Scores() (agent, opponent int)
	// Continue prepares the next episode after a terminal step.
	Continue()
}

// Policy chooses an action for a state.
type Policy interface {
	Act(ctx context.Context, state []float32) (int, error)
}

type PolicyFunc func(ctx context.Context, state []float32) (int, error)

func (f PolicyFunc) Act(ctx context.Context, state []float32) (int, error) {
	return f(ctx, state)
}

// Evaluate plays episodes with policy and reports the fraction won. Episodes
// longer than maxSteps are cut short and count as lost.
func Evaluate(ctx context.Context, env Environment, policy Policy, episodes, maxSteps int) (Fitness, Trace, error) {
	if episodes <= 0 {
		return 0, nil, fmt.Errorf("episodes must be > 0, got %d", episodes)
	}
	if maxSteps <= 0 {
		return 0, nil, fmt.Errorf("max steps must be > 0, got %d", maxSteps)
	}

	state := make([]float32, env.StateSize())
	env.Reset()

	wins, totalSteps, truncated := 0, 0, 0
	var totalReward float64
	for ep := 0; ep < episodes; ep++ {
		finished := false
		for step := 0; step < maxSteps; step++ {
			if err := ctx.Err(); err != nil {
				return 0, nil, err
			}
			env.Observe(state)
			action, err := policy.Act(ctx, state)
			if err != nil {
				return 0, nil, fmt.Errorf("episode %d step %d: %w", ep, step, err)
			}
			out := env.Step(action)
			totalReward += float64(out.Reward)
			totalSteps++
			if out.Done {
				if out.Point > 0 {
					wins++
				}
				finished = true
				break
			}
		}
		if !finished {
			truncated++
		}
		env.Continue()
	}

	fitness := Fitness(float64(wins) / float64(episodes))
	return fitness, Trace{
		"scape":       env.Name(),
		"episodes":    episodes,
		"wins":        wins,
		"truncated":   truncated,
		"avg_reward":  totalReward / float64(episodes),
		"avg_steps":   float64(totalSteps) / float64(episodes),
		"win_rate":    float64(fitness),
		"total_steps": totalSteps,
	}, nil
}
