package scape

import "neuron/internal/rng"

const (
	TargetStep       float32 = 0.1
	TargetTolerance  float32 = 0.06
	TargetMaxSteps           = 40
	targetStayReward float32 = -0.5
)

// TargetScape is a one-dimensional reach task: the agent moves a point left
// or right until it lands within TargetTolerance of a target. Moving toward
// the target is always optimal.
//
// State: position, target, target-position and three zero pads so the
// width matches the pong state.
type TargetScape struct {
	pos    float32
	target float32
	steps  int

	reached int
	missed  int
	last    Outcome

	random *rng.Source
}

const targetSeed uint32 = 24680

func NewTargetScape(seed uint32) *TargetScape {
	if seed == 0 {
		seed = targetSeed
	}
	t := &TargetScape{random: rng.New(seed)}
	t.Reset()
	return t
}

func (*TargetScape) Name() string { return "target" }

func (*TargetScape) StateSize() int { return 6 }

func (*TargetScape) ActionCount() int { return 3 }

func (t *TargetScape) Reset() {
	t.reached = 0
	t.missed = 0
	t.newEpisode()
}

func (t *TargetScape) Continue() {
	t.newEpisode()
}

func (t *TargetScape) newEpisode() {
	t.steps = 0
	t.last = Outcome{}
	for {
		t.pos = t.random.Float32()*2 - 1
		t.target = t.random.Float32()*2 - 1
		if abs32(t.target-t.pos) >= 2*TargetStep {
			return
		}
	}
}

// Place positions the point and target directly.
func (t *TargetScape) Place(pos, target float32) {
	t.pos = clamp32(pos, -1, 1)
	t.target = clamp32(target, -1, 1)
	t.steps = 0
	t.last = Outcome{}
}

// Scores is the scoreline of the current episode: 1-0 once the target is
// reached, 0-1 after a timeout.
func (t *TargetScape) Scores() (int, int) {
	switch {
	case t.last.Point > 0:
		return 1, 0
	case t.last.Point < 0:
		return 0, 1
	}
	return 0, 0
}

// Totals counts reached and missed episodes since Reset.
func (t *TargetScape) Totals() (reached, missed int) { return t.reached, t.missed }

func (t *TargetScape) Observe(dst []float32) {
	TargetState(dst, t.pos, t.target)
}

// TargetState fills dst with the observation for a given position and
// target.
func TargetState(dst []float32, pos, target float32) {
	dst[0] = pos
	dst[1] = target
	dst[2] = target - pos
	dst[3] = 0
	dst[4] = 0
	dst[5] = 0
}

// OptimalTargetAction is the move toward target from pos.
func OptimalTargetAction(pos, target float32) int {
	if target > pos {
		return ActionDown
	}
	return ActionUp
}

// Step rewards +1 for moving toward the target, -1 for moving away and
// -0.5 for standing still.
func (t *TargetScape) Step(action int) Outcome {
	t.steps++
	delta := t.target - t.pos

	var reward float32
	switch action {
	case ActionUp:
		t.pos = clamp32(t.pos-TargetStep, -1, 1)
		reward = direction(delta < 0)
	case ActionDown:
		t.pos = clamp32(t.pos+TargetStep, -1, 1)
		reward = direction(delta > 0)
	default:
		reward = targetStayReward
	}

	switch {
	case abs32(t.target-t.pos) < TargetTolerance:
		t.reached++
		t.last = Outcome{Reward: reward, Done: true, Point: 1}
	case t.steps >= TargetMaxSteps:
		t.missed++
		t.last = Outcome{Reward: reward, Done: true, Point: -1}
	default:
		t.last = Outcome{Reward: reward}
	}
	return t.last
}

func direction(toward bool) float32 {
	if toward {
		return 1
	}
	return -1
}
