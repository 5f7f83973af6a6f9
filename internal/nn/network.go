package nn

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"neuron/internal/rng"
)

var (
	ErrConstruction = errors.New("network construction failed")
	ErrInputWidth   = errors.New("input width mismatch")
	ErrOutputWidth  = errors.New("output width mismatch")
	ErrActionRange  = errors.New("action out of range")
)

const (
	DefaultFlashThreshold = 0.1
	FlashDuration         = 10

	adamBeta1   float32 = 0.9
	adamBeta2   float32 = 0.999
	adamEpsilon float32 = 1e-8

	displayKeep float32 = 0.9
	displayPull float32 = 0.1
)

type Optimizer int

const (
	SGD Optimizer = iota
	Adam
)

func (o Optimizer) String() string {
	switch o {
	case SGD:
		return "sgd"
	case Adam:
		return "adam"
	default:
		return fmt.Sprintf("optimizer(%d)", int(o))
	}
}

func ParseOptimizer(raw string) (Optimizer, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sgd":
		return SGD, nil
	case "adam", "":
		return Adam, nil
	default:
		return 0, fmt.Errorf("unknown optimizer %q", raw)
	}
}

func (o Optimizer) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Optimizer) UnmarshalText(text []byte) error {
	parsed, err := ParseOptimizer(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

type layer struct {
	weights     []float32
	biases      []float32
	weightGrads []float32
	biasGrads   []float32
	weightM     []float32
	weightV     []float32
	biasM       []float32
	biasV       []float32
	display     []float32
	flash       []uint8
}

// Network is a fully connected feed-forward network whose buffers are sized
// once from its topology. It is not safe for concurrent use: Forward and
// Backward share the activation caches.
type Network struct {
	sizes []int

	// layers[0] is empty; layer l maps sizes[l-1] inputs to sizes[l] outputs.
	layers         []layer
	activations    [][]float32
	preActivations [][]float32
	deltas         [][]float32

	hidden Activation
	output Activation

	step           int
	seed           uint32
	init           *rng.Source
	flashThreshold float32

	footprint int
}

type config struct {
	budget         int
	seed           uint32
	flashThreshold float32
	hidden         string
	output         string
}

type Option func(*config)

// WithMemoryBudget rejects topologies whose footprint exceeds bytes.
func WithMemoryBudget(bytes int) Option {
	return func(c *config) { c.budget = bytes }
}

func WithSeed(seed uint32) Option {
	return func(c *config) { c.seed = seed }
}

func WithFlashThreshold(threshold float32) Option {
	return func(c *config) { c.flashThreshold = threshold }
}

func WithHiddenActivation(name string) Option {
	return func(c *config) { c.hidden = name }
}

func WithOutputActivation(name string) Option {
	return func(c *config) { c.output = name }
}

// New builds a network for the given layer widths and initialises its
// weights. On error no network is returned.
func New(sizes []int, opts ...Option) (*Network, error) {
	cfg := config{
		seed:           rng.WeightInitSeed,
		flashThreshold: DefaultFlashThreshold,
		hidden:         "relu",
		output:         "identity",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := validateSizes(sizes); err != nil {
		return nil, err
	}
	hidden, err := GetActivation(cfg.hidden)
	if err != nil {
		return nil, fmt.Errorf("%w: hidden activation: %v", ErrConstruction, err)
	}
	output, err := GetActivation(cfg.output)
	if err != nil {
		return nil, fmt.Errorf("%w: output activation: %v", ErrConstruction, err)
	}

	footprint := Footprint(sizes)
	if cfg.budget > 0 && footprint > cfg.budget {
		return nil, fmt.Errorf("%w: footprint %d bytes exceeds budget %d", ErrConstruction, footprint, cfg.budget)
	}

	n := &Network{
		sizes:          append([]int(nil), sizes...),
		hidden:         hidden,
		output:         output,
		seed:           cfg.seed,
		init:           rng.New(cfg.seed),
		flashThreshold: cfg.flashThreshold,
		footprint:      footprint,
	}
	n.allocate()
	n.ResetWeights()
	return n, nil
}

// NewForTier builds a network with the tier's published topology.
func NewForTier(t Tier, opts ...Option) (*Network, error) {
	sizes, err := t.Sizes()
	if err != nil {
		return nil, err
	}
	return New(sizes, opts...)
}

func validateSizes(sizes []int) error {
	if len(sizes) < 2 || len(sizes) > MaxLayers {
		return fmt.Errorf("%w: layer count %d outside [2,%d]", ErrConstruction, len(sizes), MaxLayers)
	}
	for i, width := range sizes {
		if width < 1 || width > MaxNeuronsPerLayer {
			return fmt.Errorf("%w: layer %d width %d outside [1,%d]", ErrConstruction, i, width, MaxNeuronsPerLayer)
		}
	}
	return nil
}

// Footprint is the number of bytes a network with this topology holds in
// its buffers.
func Footprint(sizes []int) int {
	floats, flash := bufferCounts(sizes)
	return floats*4 + flash
}

func bufferCounts(sizes []int) (floats, flash int) {
	for l, width := range sizes {
		// activation, pre-activation, delta
		floats += 3 * width
		if l == 0 {
			continue
		}
		weights := width * sizes[l-1]
		// weights, grads, two moments, display copy
		floats += 5 * weights
		// biases, grads, two moments
		floats += 4 * width
		flash += weights
	}
	return floats, flash
}

// allocate carves every per-layer buffer out of one float32 arena.
func (n *Network) allocate() {
	floats, flash := bufferCounts(n.sizes)
	arena := make([]float32, floats)
	flashArena := make([]uint8, flash)

	take := func(count int) []float32 {
		out := arena[:count:count]
		arena = arena[count:]
		return out
	}

	count := len(n.sizes)
	n.layers = make([]layer, count)
	n.activations = make([][]float32, count)
	n.preActivations = make([][]float32, count)
	n.deltas = make([][]float32, count)
	for l, width := range n.sizes {
		n.activations[l] = take(width)
		n.preActivations[l] = take(width)
		n.deltas[l] = take(width)
		if l == 0 {
			continue
		}
		weights := width * n.sizes[l-1]
		n.layers[l] = layer{
			weights:     take(weights),
			biases:      take(width),
			weightGrads: take(weights),
			biasGrads:   take(width),
			weightM:     take(weights),
			weightV:     take(weights),
			biasM:       take(width),
			biasV:       take(width),
			display:     take(weights),
			flash:       flashArena[:weights:weights],
		}
		flashArena = flashArena[weights:]
	}
}

// ResetWeights re-seeds the initialisation stream and applies He
// initialisation. Biases, gradients, moments, flash timers and the Adam
// step counter all return to zero.
func (n *Network) ResetWeights() {
	n.init.Seed(n.seed)
	for l := 1; l < len(n.sizes); l++ {
		ly := &n.layers[l]
		std := float32(math.Sqrt(float64(2 / float32(n.sizes[l-1]))))
		for i := range ly.weights {
			ly.weights[i] = float32(n.init.Norm32() * std)
			ly.display[i] = ly.weights[i]
		}
		clear(ly.biases)
		clear(ly.weightGrads)
		clear(ly.biasGrads)
		clear(ly.weightM)
		clear(ly.weightV)
		clear(ly.biasM)
		clear(ly.biasV)
		clear(ly.flash)
	}
	n.step = 0
}

// Forward runs input through the network, caching pre-activations and
// activations of every layer. output may be nil.
func (n *Network) Forward(input, output []float32) error {
	if len(input) != n.sizes[0] {
		return fmt.Errorf("%w: got %d want %d", ErrInputWidth, len(input), n.sizes[0])
	}
	last := len(n.sizes) - 1
	if output != nil && len(output) < n.sizes[last] {
		return fmt.Errorf("%w: got %d want %d", ErrOutputWidth, len(output), n.sizes[last])
	}

	copy(n.activations[0], input)
	copy(n.preActivations[0], input)
	for l := 1; l <= last; l++ {
		prev := n.sizes[l-1]
		ly := &n.layers[l]
		act := n.hidden
		if l == last {
			act = n.output
		}
		below := n.activations[l-1]
		for j := 0; j < n.sizes[l]; j++ {
			row := ly.weights[j*prev : (j+1)*prev]
			sum := ly.biases[j]
			for i, w := range row {
				// explicit conversion keeps multiply and add unfused
				sum += float32(w * below[i])
			}
			n.preActivations[l][j] = sum
			n.activations[l][j] = act.Func(sum)
		}
	}

	if output != nil {
		copy(output, n.activations[last])
	}
	return nil
}

// QValues writes one estimate per action for state into out.
func (n *Network) QValues(state, out []float32) error {
	return n.Forward(state, out)
}

// BestAction is the argmax of the output layer; ties go to the lowest index.
func (n *Network) BestAction(state []float32) (int, error) {
	if err := n.Forward(state, nil); err != nil {
		return 0, err
	}
	return argmax(n.activations[len(n.sizes)-1]), nil
}

func argmax(values []float32) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// Backward accumulates gradients for a single sample using the activations
// cached by the most recent Forward call. Only the output for action
// receives a learning signal, equal to -tdError.
func (n *Network) Backward(action int, tdError float32) error {
	last := len(n.sizes) - 1
	if action < 0 || action >= n.sizes[last] {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrActionRange, action, n.sizes[last])
	}

	out := n.deltas[last]
	clear(out)
	out[action] = -tdError

	for l := last; l >= 1; l-- {
		prev := n.sizes[l-1]
		ly := &n.layers[l]
		act := n.hidden
		if l == last {
			act = n.output
		}
		delta := n.deltas[l]
		below := n.activations[l-1]
		for j := range delta {
			d := delta[j] * act.Derivative(n.preActivations[l][j])
			delta[j] = d
			ly.biasGrads[j] += d
			grads := ly.weightGrads[j*prev : (j+1)*prev]
			for i := range grads {
				grads[i] += float32(d * below[i])
			}
		}

		if l == 1 {
			continue
		}
		propagated := n.deltas[l-1]
		for i := 0; i < prev; i++ {
			var sum float32
			for j, d := range delta {
				sum += float32(ly.weights[j*prev+i] * d)
			}
			propagated[i] = sum
		}
	}
	return nil
}

func (n *Network) ClearGradients() {
	for l := 1; l < len(n.sizes); l++ {
		clear(n.layers[l].weightGrads)
		clear(n.layers[l].biasGrads)
	}
}

// ScaleGradients multiplies every accumulated gradient by factor.
func (n *Network) ScaleGradients(factor float32) {
	for l := 1; l < len(n.sizes); l++ {
		ly := &n.layers[l]
		for i := range ly.weightGrads {
			ly.weightGrads[i] *= factor
		}
		for i := range ly.biasGrads {
			ly.biasGrads[i] *= factor
		}
	}
}

// UpdateWeights applies one optimizer step from the accumulated gradients.
// The Adam step counter advances once per call.
func (n *Network) UpdateWeights(lr float32, opt Optimizer) {
	if opt == Adam {
		n.step++
		bc1 := 1 - float32(math.Pow(float64(adamBeta1), float64(n.step)))
		bc2 := 1 - float32(math.Pow(float64(adamBeta2), float64(n.step)))
		for l := 1; l < len(n.sizes); l++ {
			ly := &n.layers[l]
			for i, g := range ly.weightGrads {
				update := adamStep(&ly.weightM[i], &ly.weightV[i], g, lr, bc1, bc2)
				ly.weights[i] -= update
				n.markFlash(ly, i, update)
			}
			for i, g := range ly.biasGrads {
				ly.biases[i] -= adamStep(&ly.biasM[i], &ly.biasV[i], g, lr, bc1, bc2)
			}
		}
		return
	}

	for l := 1; l < len(n.sizes); l++ {
		ly := &n.layers[l]
		for i, g := range ly.weightGrads {
			update := float32(lr * g)
			ly.weights[i] -= update
			n.markFlash(ly, i, update)
		}
		for i, g := range ly.biasGrads {
			ly.biases[i] -= float32(lr * g)
		}
	}
}

func adamStep(m, v *float32, g, lr, bc1, bc2 float32) float32 {
	*m = float32(adamBeta1*(*m)) + float32((1-adamBeta1)*g)
	*v = float32(adamBeta2*(*v)) + float32(float32((1-adamBeta2)*g)*g)
	mHat := *m / bc1
	vHat := *v / bc2
	return float32(lr*mHat) / (float32(math.Sqrt(float64(vHat))) + adamEpsilon)
}

func (n *Network) markFlash(ly *layer, i int, update float32) {
	if update > n.flashThreshold || -update > n.flashThreshold {
		ly.flash[i] = FlashDuration
	}
}

// UpdateVisState eases display weights toward the live weights and decays
// flash timers by one tick.
func (n *Network) UpdateVisState() {
	for l := 1; l < len(n.sizes); l++ {
		ly := &n.layers[l]
		for i, w := range ly.weights {
			ly.display[i] = float32(ly.display[i]*displayKeep) + float32(w*displayPull)
			if ly.flash[i] > 0 {
				ly.flash[i]--
			}
		}
	}
}

func (n *Network) syncDisplay() {
	for l := 1; l < len(n.sizes); l++ {
		copy(n.layers[l].display, n.layers[l].weights)
	}
}

// Sizes returns a copy of the topology.
func (n *Network) Sizes() []int {
	return append([]int(nil), n.sizes...)
}

func (n *Network) Layers() int { return len(n.sizes) }

func (n *Network) InputSize() int { return n.sizes[0] }

func (n *Network) OutputSize() int { return n.sizes[len(n.sizes)-1] }

// Tier reports the tier matching this topology, if any.
func (n *Network) Tier() (Tier, bool) { return TierOf(n.sizes) }

// Step is the number of Adam updates applied since the last reset.
func (n *Network) Step() int { return n.step }

func (n *Network) MemoryFootprint() int { return n.footprint }

func (n *Network) ParameterCount() int { return parameterCount(n.sizes) }

// Weight returns the weight from neuron from in layer l-1 to neuron to in
// layer l. Indexes out of range panic.
func (n *Network) Weight(l, to, from int) float32 {
	return n.layers[l].weights[to*n.sizes[l-1]+from]
}

func (n *Network) Bias(l, neuron int) float32 {
	return n.layers[l].biases[neuron]
}

func (n *Network) WeightGradient(l, to, from int) float32 {
	return n.layers[l].weightGrads[to*n.sizes[l-1]+from]
}

func (n *Network) BiasGradient(l, neuron int) float32 {
	return n.layers[l].biasGrads[neuron]
}

func (n *Network) DisplayWeight(l, to, from int) float32 {
	return n.layers[l].display[to*n.sizes[l-1]+from]
}

// Flash is the remaining highlight ticks for a weight that recently moved
// by more than the flash threshold.
func (n *Network) Flash(l, to, from int) uint8 {
	return n.layers[l].flash[to*n.sizes[l-1]+from]
}

func (n *Network) Activation(l, neuron int) float32 {
	return n.activations[l][neuron]
}

func (n *Network) PreActivation(l, neuron int) float32 {
	return n.preActivations[l][neuron]
}

// Delta is the error signal of a neuron from the most recent Backward call,
// after the activation derivative was applied.
func (n *Network) Delta(l, neuron int) float32 {
	return n.deltas[l][neuron]
}

// ActivationsInto copies layer l's cached activations into dst and returns
// the number of values written.
func (n *Network) ActivationsInto(l int, dst []float32) int {
	return copy(dst, n.activations[l])
}
