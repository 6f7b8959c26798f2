package sconn

import "errors"

// ErrClosed is returned when using a connection that has finished,
// and is the exit cause after [*Connection.Close].
var ErrClosed = errors.New("connection closed")

// ErrPeerClosed is the exit cause when the remote side
// ended the connection in an orderly way.
var ErrPeerClosed = errors.New("connection closed by peer")
