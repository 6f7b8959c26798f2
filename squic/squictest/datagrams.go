package squictest

import (
	"sync/atomic"

	"github.com/sandpolis/sandpolis/squic"
)

// DatagramDropper wraps a [squic.Conn]
// and silently discards outgoing datagrams according to Drop.
//
// This is useful for tests that need to simulate
// datagrams that do not reach the destination.
type DatagramDropper struct {
	squic.Conn

	// Drop is called with the 0-based index of every outgoing datagram.
	// Returning true discards the datagram.
	// A nil Drop discards everything.
	Drop func(n int) bool

	n atomic.Int64
}

func (d *DatagramDropper) SendDatagram(p []byte) error {
	n := int(d.n.Add(1) - 1)
	if d.Drop == nil || d.Drop(n) {
		return nil
	}
	return d.Conn.SendDatagram(p)
}
