package sconn

import "fmt"

// State is the lifecycle stage of a [Connection].
//
// A connection moves strictly forward:
// Connecting, Open, Closing, Closed.
// A connection that never opens skips Open.
type State uint8

const (
	_ State = iota

	// Connecting is the state before the transport handshake completes.
	Connecting

	// Open connections exchange envelopes.
	Open

	// Closing is entered on cancellation, peer close, or I/O error.
	Closing

	// Closed is terminal.
	// The connection performs no further I/O,
	// but its metadata remains readable.
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, v := range []State{Connecting, Open, Closing, Closed} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", text)
}
