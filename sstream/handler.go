package sstream

import "context"

// Handler is implemented by every stream protocol.
//
// In is the type of message received from the peer,
// and Out is the type of message sent back.
// Both must be encodable by [github.com/sandpolis/sandpolis/scodec].
type Handler[In, Out any] interface {
	// Tag returns the protocol's fixed tag.
	Tag() Tag

	// OnMessage is called once per inbound message, in arrival order.
	//
	// The handler may send any number of replies on out.
	// Sends on out can block when the connection is backed up,
	// so handlers should select on ctx.Done alongside the send.
	// The out channel is never closed by the registry
	// and must not be closed by the handler.
	//
	// The next message on this stream is not delivered until OnMessage returns,
	// so a handler that produces output indefinitely
	// (a shell session reading stdout, for example)
	// must do that work in its own goroutine bound to ctx.
	//
	// ctx is canceled when the stream is closed or the connection ends.
	// A returned error is logged and otherwise ignored;
	// the stream stays open.
	OnMessage(ctx context.Context, in In, out chan<- Out) error
}
