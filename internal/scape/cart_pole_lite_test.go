package scape

import (
	"math"
	"testing"
)

func TestCartPoleLiteStepPhysics(t *testing.T) {
	x, v := cartPoleLiteStep(0, 0, 1)
	if math.Abs(float64(v)-0.125) > 1e-6 || math.Abs(float64(x)-0.0125) > 1e-6 {
		t.Fatalf("unexpected first push: x=%f v=%f", x, v)
	}

	x, v = cartPoleLiteStep(0.5, 0, 5)
	clampedX, clampedV := cartPoleLiteStep(0.5, 0, 1)
	if x != clampedX || v != clampedV {
		t.Fatalf("force was not clamped: %f/%f vs %f/%f", x, v, clampedX, clampedV)
	}
}

func TestCartPoleLiteRestingCartSurvives(t *testing.T) {
	env := NewCartPoleLiteScape(1)
	env.Place(0.8)

	var out Outcome
	steps := 0
	for !out.Done {
		out = env.Step(ActionStay)
		steps++
		if out.Reward < 0 || out.Reward > 1 {
			t.Fatalf("reward out of range: %f", out.Reward)
		}
	}
	if steps != CartPoleLiteSteps || out.Point != 1 {
		t.Fatalf("expected survival after %d steps, got %d steps %+v", CartPoleLiteSteps, steps, out)
	}
	if agent, opponent := env.Scores(); agent != 1 || opponent != 0 {
		t.Fatalf("unexpected scores: %d-%d", agent, opponent)
	}
}

func TestCartPoleLitePushingOutFalls(t *testing.T) {
	env := NewCartPoleLiteScape(1)
	env.Place(0.8)

	var out Outcome
	for i := 0; i < CartPoleLiteSteps && !out.Done; i++ {
		out = env.Step(ActionDown)
	}
	if !out.Done || out.Point != -1 || out.Reward != -1 {
		t.Fatalf("expected fall, got %+v", out)
	}
	if survived, fell := env.Totals(); survived != 0 || fell != 1 {
		t.Fatalf("unexpected totals: %d/%d", survived, fell)
	}
	env.Continue()
	if agent, opponent := env.Scores(); agent != 0 || opponent != 0 {
		t.Fatalf("expected fresh scoreline, got %d-%d", agent, opponent)
	}
}

func TestCartPoleLiteObserve(t *testing.T) {
	env := NewCartPoleLiteScape(1)
	env.Place(1)
	env.Step(ActionStay)

	state := make([]float32, env.StateSize())
	env.Observe(state)
	if state[0] != env.x/2 || state[1] != env.v || state[2] != float32(1)/CartPoleLiteSteps {
		t.Fatalf("unexpected state: %v", state)
	}
	if state[3] != 0 || state[4] != 0 || state[5] != 0 {
		t.Fatalf("expected zero padding: %v", state)
	}
}

func TestCartPoleLiteStartsFromKnownPositions(t *testing.T) {
	env := NewCartPoleLiteScape(5)
	for i := 0; i < 50; i++ {
		env.Continue()
		found := false
		for _, start := range cartPoleStarts {
			if env.x == start {
				found = true
			}
		}
		if !found || env.v != 0 {
			t.Fatalf("unexpected start state x=%f v=%f", env.x, env.v)
		}
	}
}
