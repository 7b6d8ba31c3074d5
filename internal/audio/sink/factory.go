package sink

import (
	"fmt"
	"strings"
)

// Factory creates a sink backend.
type Factory func() Sink

var backends = map[string]Factory{
	"oto":   func() Sink { return NewOto() },
	"malgo": func() Sink { return NewMalgo() },
}

// Register adds a sink backend under the given name.
func Register(name string, factory Factory) {
	backends[strings.ToLower(name)] = factory
}

// New creates a sink backend by name.
func New(name string) (Sink, error) {
	factory, ok := backends[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown sink backend: %s", name)
	}
	return factory(), nil
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}
