package sconn

import (
	"slices"
	"sync"

	"github.com/sandpolis/sandpolis/sstream"
)

// Registrar installs long-lived responders on a fresh connection's registry.
//
// Each feature layer provides one.
// Registrars run once per connection, synchronously,
// before the connection starts reading.
type Registrar interface {
	RegisterResponders(*sstream.Registry)
}

// RegistrarFunc adapts a function to [Registrar].
type RegistrarFunc func(*sstream.Registry)

func (f RegistrarFunc) RegisterResponders(r *sstream.Registry) { f(r) }

// RegistrarSet collects registrars from independent layers
// during process start,
// producing the list passed to every new connection.
// It is safe for concurrent use.
type RegistrarSet struct {
	mu sync.Mutex
	rs []Registrar
}

// Add appends registrars to the set.
func (s *RegistrarSet) Add(rs ...Registrar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rs = append(s.rs, rs...)
}

// List returns a copy of the registrars in the order they were added.
func (s *RegistrarSet) List() []Registrar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rs)
}
