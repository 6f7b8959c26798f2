// Package sstream multiplexes independent, typed message streams
// over a single instance connection.
//
// Every stream protocol is a [Handler] with its own input and output types
// and a fixed 32-bit [Tag].
// A stream is addressed by an [ID] whose high 32 bits are the protocol tag
// and whose low 32 bits are random,
// so that several concurrent streams of one protocol can coexist.
//
// On the wire, every unit is an [Envelope]:
// a stream ID plus an opaque payload,
// which is the CBOR encoding of a protocol-specific message.
//
// The [Registry] is the per-connection directory of live streams.
// It hides each typed handler behind a byte-oriented adapter,
// so that the connection's IO loop never needs to know
// which protocols exist.
// Streams come into being in one of two ways:
//
//   - The initiating side calls [Register] with a handler,
//     which allocates a fresh ID and returns a typed sender
//     for the outgoing messages of that stream.
//   - The receiving side calls [RegisterResponder] once per protocol
//     with a factory. The first inbound envelope with an unknown ID
//     carrying that protocol's tag creates a new handler instance.
//
// Messages within one stream are delivered to the handler in arrival order.
// There is no ordering between different streams.
package sstream
