package nn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrActivationExists   = errors.New("activation already registered")
	ErrActivationNotFound = errors.New("activation not found")
)

type ActivationFunc func(x float32) float32

// Activation pairs a nonlinearity with its derivative. Derivative receives
// the pre-activation value.
type Activation struct {
	Name       string
	Func       ActivationFunc
	Derivative ActivationFunc
}

var activationRegistry = struct {
	mu sync.RWMutex
	m  map[string]Activation
}{
	m: make(map[string]Activation),
}

func init() {
	initializeBuiltInActivations()
}

func initializeBuiltInActivations() {
	MustRegisterActivation(Activation{
		Name:       "identity",
		Func:       func(x float32) float32 { return x },
		Derivative: func(float32) float32 { return 1 },
	})
	MustRegisterActivation(Activation{
		Name: "relu",
		Func: func(x float32) float32 {
			if x > 0 {
				return x
			}
			return 0
		},
		// Zero at exactly 0.
		Derivative: func(x float32) float32 {
			if x > 0 {
				return 1
			}
			return 0
		},
	})
	MustRegisterActivation(Activation{
		Name: "tanh",
		Func: func(x float32) float32 { return float32(math.Tanh(float64(x))) },
		Derivative: func(x float32) float32 {
			y := float32(math.Tanh(float64(x)))
			return 1 - y*y
		},
	})
	MustRegisterActivation(Activation{
		Name: "sigmoid",
		Func: sigmoid,
		Derivative: func(x float32) float32 {
			s := sigmoid(x)
			return s * (1 - s)
		},
	})
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func RegisterActivation(a Activation) error {
	if a.Name == "" {
		return errors.New("activation name is required")
	}
	if a.Func == nil || a.Derivative == nil {
		return errors.New("activation function and derivative are required")
	}

	activationRegistry.mu.Lock()
	defer activationRegistry.mu.Unlock()

	if _, exists := activationRegistry.m[a.Name]; exists {
		return fmt.Errorf("%w: %s", ErrActivationExists, a.Name)
	}
	activationRegistry.m[a.Name] = a
	return nil
}

func MustRegisterActivation(a Activation) {
	if err := RegisterActivation(a); err != nil {
		panic(err)
	}
}

func GetActivation(name string) (Activation, error) {
	activationRegistry.mu.RLock()
	entry, ok := activationRegistry.m[name]
	activationRegistry.mu.RUnlock()
	if !ok {
		return Activation{}, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
	}
	return entry, nil
}

func ListActivations() []string {
	activationRegistry.mu.RLock()
	defer activationRegistry.mu.RUnlock()

	names := make([]string, 0, len(activationRegistry.m))
	for name := range activationRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetActivationRegistryForTests() {
	activationRegistry.mu.Lock()
	activationRegistry.m = make(map[string]Activation)
	activationRegistry.mu.Unlock()
	initializeBuiltInActivations()
}
