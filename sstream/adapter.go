package sstream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sandpolis/sandpolis/scodec"
)

// rawHandler is the type-erased view of a [Handler]
// that the [Registry] stores.
// It only deals in encoded payloads and envelopes.
type rawHandler interface {
	// handleRaw decodes payload and passes it to the typed handler.
	// A payload that does not decode is dropped.
	handleRaw(ctx context.Context, payload []byte)

	// relay encodes every value the handler sends
	// and forwards it as an envelope on out,
	// until ctx is canceled.
	relay(ctx context.Context, out chan<- Envelope)
}

// adapter bridges a typed Handler to rawHandler.
type adapter[In, Out any] struct {
	log *slog.Logger

	id ID
	h  Handler[In, Out]

	// Typed output of the handler.
	// Owned by the adapter for the lifetime of the stream,
	// and never closed: the relay goroutine stops on context cancellation instead.
	out chan Out
}

func newAdapter[In, Out any](
	log *slog.Logger, id ID, h Handler[In, Out], queueSize int,
) *adapter[In, Out] {
	return &adapter[In, Out]{
		log: log,

		id: id,
		h:  h,

		out: make(chan Out, queueSize),
	}
}

func (a *adapter[In, Out]) handleRaw(ctx context.Context, payload []byte) {
	var in In
	if err := scodec.Unmarshal(payload, &in); err != nil {
		// The peer sent something this protocol does not understand.
		// That is not a reason to tear down the stream.
		a.log.Debug(
			"Dropping payload that failed to decode",
			"size", len(payload),
			"err", err,
		)
		return
	}

	// A panicking handler must not take the connection down with it.
	defer func() {
		if r := recover(); r != nil {
			a.log.Warn(
				"Recovered panic in stream handler",
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := a.h.OnMessage(ctx, in, a.out); err != nil {
		a.log.Warn("Stream handler returned error", "err", err)
	}
}

func (a *adapter[In, Out]) relay(ctx context.Context, out chan<- Envelope) {
	for {
		var v Out
		select {
		case <-ctx.Done():
			return
		case v = <-a.out:
			// Okay.
		}

		payload, err := scodec.Marshal(v)
		if err != nil {
			a.log.Warn("Dropping handler output that failed to encode", "err", err)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case out <- Envelope{StreamID: a.id, Payload: payload}:
			// Okay.
		}
	}
}
