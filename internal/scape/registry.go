package scape

import (
	"fmt"
	"sort"
	"strings"
)

// Factory builds an environment from a seed; zero selects the default.
type Factory func(seed uint32) Environment

var factories = map[string]Factory{
	"cart-pole-lite": func(seed uint32) Environment { return NewCartPoleLiteScape(seed) },
	"pong":           func(seed uint32) Environment { return NewPongScape(seed) },
	"target":         func(seed uint32) Environment { return NewTargetScape(seed) },
}

var aliases = map[string]string{
	"cartpole":  "cart-pole-lite",
	"cart-pole": "cart-pole-lite",
	"balance":   "cart-pole-lite",
	"paddle":    "pong",
	"reach":     "target",
}

// Normalize canonicalizes a scape name: case, separators and a leading
// "scape-" prefix are ignored.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	normalized = strings.TrimPrefix(normalized, "scape-")
	normalized = strings.Trim(normalized, "-")
	if canonical, ok := aliases[normalized]; ok {
		return canonical
	}
	return normalized
}

func Lookup(name string) (Factory, error) {
	factory, ok := factories[Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScape, name)
	}
	return factory, nil
}

func New(name string, seed uint32) (Environment, error) {
	factory, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return factory(seed), nil
}

func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
