// Package replay holds a fixed-capacity ring of past transitions for
// experience replay.
package replay

import (
	"errors"
	"fmt"

	"neuron/internal/rng"
)

const DefaultCapacity = 2000

var (
	ErrConstruction = errors.New("replay buffer construction failed")
	ErrEmpty        = errors.New("replay buffer is empty")
	ErrStateWidth   = errors.New("transition state width mismatch")
)

// Transition is one environment step. Slices returned by Sample and At
// alias buffer storage and must not be modified.
type Transition struct {
	State     []float32
	Action    int
	Reward    float32
	NextState []float32
	Done      bool
}

// Buffer stores transitions by value in preallocated slots. Once full each
// Add overwrites the oldest entry.
type Buffer struct {
	slots      []Transition
	stateWidth int
	head       int
	count      int
	sampler    *rng.Source
}

type Option func(*Buffer)

func WithSeed(seed uint32) Option {
	return func(b *Buffer) { b.sampler = rng.New(seed) }
}

func New(capacity, stateWidth int, opts ...Option) (*Buffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity %d", ErrConstruction, capacity)
	}
	if stateWidth < 1 {
		return nil, fmt.Errorf("%w: state width %d", ErrConstruction, stateWidth)
	}

	b := &Buffer{
		slots:      make([]Transition, capacity),
		stateWidth: stateWidth,
		sampler:    rng.New(rng.ReplaySeed),
	}
	for _, opt := range opts {
		opt(b)
	}

	states := make([]float32, 2*capacity*stateWidth)
	for i := range b.slots {
		base := 2 * i * stateWidth
		b.slots[i].State = states[base : base+stateWidth : base+stateWidth]
		b.slots[i].NextState = states[base+stateWidth : base+2*stateWidth : base+2*stateWidth]
	}
	return b, nil
}

// Add copies t into the slot at the write cursor.
func (b *Buffer) Add(t Transition) error {
	if len(t.State) != b.stateWidth || len(t.NextState) != b.stateWidth {
		return fmt.Errorf("%w: got %d/%d want %d", ErrStateWidth, len(t.State), len(t.NextState), b.stateWidth)
	}
	slot := &b.slots[b.head]
	copy(slot.State, t.State)
	copy(slot.NextState, t.NextState)
	slot.Action = t.Action
	slot.Reward = t.Reward
	slot.Done = t.Done

	b.head = (b.head + 1) % len(b.slots)
	if b.count < len(b.slots) {
		b.count++
	}
	return nil
}

// Sample draws one stored transition uniformly at random.
func (b *Buffer) Sample() (Transition, error) {
	if b.count == 0 {
		return Transition{}, ErrEmpty
	}
	return b.slots[b.sampler.Intn(b.count)], nil
}

// Ready reports whether at least batch transitions are stored.
func (b *Buffer) Ready(batch int) bool {
	return b.count >= batch
}

func (b *Buffer) Len() int { return b.count }

func (b *Buffer) Cap() int { return len(b.slots) }

func (b *Buffer) StateWidth() int { return b.stateWidth }

// At returns the i-th stored transition, oldest first.
func (b *Buffer) At(i int) (Transition, error) {
	if i < 0 || i >= b.count {
		return Transition{}, fmt.Errorf("replay index %d out of range [0,%d)", i, b.count)
	}
	oldest := (b.head - b.count + len(b.slots)) % len(b.slots)
	return b.slots[(oldest+i)%len(b.slots)], nil
}

// Reset forgets every stored transition without releasing storage.
func (b *Buffer) Reset() {
	b.head = 0
	b.count = 0
}
