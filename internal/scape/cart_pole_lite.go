package scape

import (
	"math"

	"neuron/internal/rng"
)

const (
	CartPoleLiteSteps = 60
	cartPoleLiteLimit = 2.0

	cartPoleDT       float32 = 0.1
	cartPoleKPos     float32 = 0.45
	cartPoleKVel     float32 = 0.15
	cartPoleForceK   float32 = 1.25
	cartPoleMaxForce float32 = 1.0
)

const cartPoleSeed uint32 = 31337

var cartPoleStarts = [...]float32{-0.8, -0.4, 0.0, 0.4, 0.8}

// CartPoleLiteScape is a damped one-dimensional balancing task: the agent
// pushes a cart left, right or not at all and is rewarded for keeping it
// near the centre. Surviving CartPoleLiteSteps steps wins the episode;
// leaving [-2,2] loses it.
//
// State: position/2, velocity, elapsed fraction and three zero pads.
type CartPoleLiteScape struct {
	x, v  float32
	steps int

	survived int
	fell     int
	last     Outcome

	random *rng.Source
}

func NewCartPoleLiteScape(seed uint32) *CartPoleLiteScape {
	if seed == 0 {
		seed = cartPoleSeed
	}
	c := &CartPoleLiteScape{random: rng.New(seed)}
	c.Reset()
	return c
}

func (*CartPoleLiteScape) Name() string { return "cart-pole-lite" }

func (*CartPoleLiteScape) StateSize() int { return 6 }

func (*CartPoleLiteScape) ActionCount() int { return 3 }

func (c *CartPoleLiteScape) Reset() {
	c.random.Reset()
	c.survived, c.fell = 0, 0
	c.newEpisode()
}

func (c *CartPoleLiteScape) Continue() { c.newEpisode() }

func (c *CartPoleLiteScape) newEpisode() {
	c.x = cartPoleStarts[c.random.Intn(len(cartPoleStarts))]
	c.v = 0
	c.steps = 0
	c.last = Outcome{}
}

// Place puts the cart at x at rest and restarts the episode clock.
func (c *CartPoleLiteScape) Place(x float32) {
	c.x, c.v, c.steps = x, 0, 0
	c.last = Outcome{}
}

func (c *CartPoleLiteScape) Scores() (int, int) {
	switch {
	case c.last.Done && c.last.Point > 0:
		return 1, 0
	case c.last.Done && c.last.Point < 0:
		return 0, 1
	default:
		return 0, 0
	}
}

// Totals are the episodes survived and lost since the last Reset.
func (c *CartPoleLiteScape) Totals() (survived, fell int) { return c.survived, c.fell }

func (c *CartPoleLiteScape) Observe(dst []float32) {
	dst[0] = c.x / cartPoleLiteLimit
	dst[1] = c.v
	dst[2] = float32(c.steps) / CartPoleLiteSteps
	dst[3] = 0
	dst[4] = 0
	dst[5] = 0
}

func (c *CartPoleLiteScape) Step(action int) Outcome {
	var force float32
	switch action {
	case ActionUp:
		force = -cartPoleMaxForce
	case ActionDown:
		force = cartPoleMaxForce
	}
	c.x, c.v = cartPoleLiteStep(c.x, c.v, force)
	c.steps++

	reward := 1 - float32(math.Min(1, math.Abs(float64(c.x))/cartPoleLiteLimit))
	switch {
	case abs32(c.x) > cartPoleLiteLimit:
		c.fell++
		c.last = Outcome{Reward: -1, Done: true, Point: -1}
	case c.steps >= CartPoleLiteSteps:
		c.survived++
		c.last = Outcome{Reward: reward, Done: true, Point: 1}
	default:
		c.last = Outcome{Reward: reward}
	}
	return c.last
}

func cartPoleLiteStep(x, v, force float32) (nextX, nextV float32) {
	force = clamp32(force, -cartPoleMaxForce, cartPoleMaxForce)
	acc := float32(cartPoleForceK*force) - float32(cartPoleKPos*x) - float32(cartPoleKVel*v)
	v += float32(acc * cartPoleDT)
	x += float32(v * cartPoleDT)
	return x, v
}
