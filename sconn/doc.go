// Package sconn contains the instance connection:
// one transport link between two instances,
// carrying any number of multiplexed streams.
//
// A [Connection] owns its [stransport.Transport] exclusively.
// A single goroutine, the connection's IO loop, performs every write,
// and a companion reader goroutine performs every read.
// Streams never touch the transport;
// they exchange envelopes with the loop through the connection's
// [sstream.Registry].
//
// A connection ends on transport error, orderly close by either side,
// or cancellation of its context.
// It never reconnects by itself;
// see the root sandpolis package for supervised reconnection.
package sconn
