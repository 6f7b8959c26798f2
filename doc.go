// Package sandpolis is the network layer of a Sandpolis instance.
//
// A [NetworkLayer] owns every instance connection of the process.
// It keeps supervised links to the configured servers,
// redialing them according to each server's retry policy,
// and tracks inbound connections accepted from other instances.
//
// The lower layers live in subpackages:
// [github.com/sandpolis/sandpolis/sconn] runs a single connection,
// [github.com/sandpolis/sandpolis/sstream] multiplexes streams over it,
// and [github.com/sandpolis/sandpolis/stransport] provides the links.
package sandpolis
