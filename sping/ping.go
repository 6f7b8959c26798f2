// Package sping is the ping protocol:
// a responder that echoes every ping value back,
// and a requester that measures round trips.
//
// It is the smallest complete stream protocol,
// and doubles as a liveness check between instances.
package sping

import (
	"context"

	"github.com/sandpolis/sandpolis/sconn"
	"github.com/sandpolis/sandpolis/sstream"
)

// Tag is the stream tag of the ping protocol.
const Tag sstream.Tag = 0x70696e67

// Request is sent by the requester.
type Request struct {
	Ping uint64 `cbor:"ping"`
}

// Response echoes the value of a [Request].
type Response struct {
	Pong uint64 `cbor:"pong"`
}

// Responder answers every request with exactly one response.
type Responder struct{}

func (Responder) Tag() sstream.Tag { return Tag }

func (Responder) OnMessage(ctx context.Context, in Request, out chan<- Response) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case out <- Response{Pong: in.Ping}:
		return nil
	}
}

// Registrar installs the ping [Responder] on every new connection.
var Registrar sconn.Registrar = sconn.RegistrarFunc(func(r *sstream.Registry) {
	sstream.RegisterResponder(r, Tag, func() sstream.Handler[Request, Response] {
		return Responder{}
	})
})
