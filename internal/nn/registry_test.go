package nn

import (
	"errors"
	"testing"
)

func identityActivation(name string) Activation {
	return Activation{
		Name:       name,
		Func:       func(x float32) float32 { return x },
		Derivative: func(float32) float32 { return 1 },
	}
}

func TestRegisterAndGetActivation(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation(Activation{
		Name:       "square",
		Func:       func(x float32) float32 { return x * x },
		Derivative: func(x float32) float32 { return 2 * x },
	}); err != nil {
		t.Fatalf("register activation: %v", err)
	}
	act, err := GetActivation("square")
	if err != nil {
		t.Fatalf("get activation: %v", err)
	}
	if got := act.Func(3); got != 9 {
		t.Fatalf("unexpected activation result: got=%f want=9", got)
	}
	if got := act.Derivative(3); got != 6 {
		t.Fatalf("unexpected derivative result: got=%f want=6", got)
	}
}

func TestRegisterActivationValidation(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation(identityActivation("")); err == nil {
		t.Fatal("expected empty name error")
	}
	if err := RegisterActivation(Activation{Name: "nil"}); err == nil {
		t.Fatal("expected nil function error")
	}
	if err := RegisterActivation(Activation{Name: "no-derivative", Func: func(x float32) float32 { return x }}); err == nil {
		t.Fatal("expected nil derivative error")
	}
}

func TestRegisterActivationDuplicate(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation(identityActivation("dup")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterActivation(identityActivation("dup")); !errors.Is(err, ErrActivationExists) {
		t.Fatalf("expected ErrActivationExists, got: %v", err)
	}
}

func TestGetActivationNotFound(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	_, err := GetActivation("missing")
	if !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("expected ErrActivationNotFound, got: %v", err)
	}
}

func TestListActivationsSorted(t *testing.T) {
	resetActivationRegistryForTests()
	t.Cleanup(resetActivationRegistryForTests)

	if err := RegisterActivation(identityActivation("b")); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := RegisterActivation(identityActivation("a")); err != nil {
		t.Fatalf("register a: %v", err)
	}

	names := ListActivations()
	if len(names) != 6 {
		t.Fatalf("expected built-ins plus custom activations, got: %+v", names)
	}
	if names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected activation list: %+v", names)
	}
}

func TestBuiltinDerivatives(t *testing.T) {
	tests := []struct {
		name string
		x    float32
		want float32
	}{
		{name: "identity", x: -4, want: 1},
		{name: "relu", x: 2, want: 1},
		{name: "relu", x: 0, want: 0},
		{name: "relu", x: -1, want: 0},
		{name: "tanh", x: 0, want: 1},
		{name: "sigmoid", x: 0, want: 0.25},
	}
	for _, tc := range tests {
		act, err := GetActivation(tc.name)
		if err != nil {
			t.Fatalf("get builtin activation %s: %v", tc.name, err)
		}
		if got := act.Derivative(tc.x); got != tc.want {
			t.Fatalf("%s'(%f): got=%f want=%f", tc.name, tc.x, got, tc.want)
		}
	}
}
