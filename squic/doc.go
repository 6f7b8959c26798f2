// Package squic contains the QUIC plumbing for direct links between instances.
//
// Instance connections normally run over WebSocket through a server,
// but two instances that can reach each other may instead use
// a QUIC connection and exchange envelopes as unreliable datagrams.
//
// The [Conn] interface is the subset of [*quic.Conn] that Sandpolis uses,
// so that tests can substitute it.
package squic
