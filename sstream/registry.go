package sstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultQueueSize is the depth of every bounded channel in the stream layer:
// the per-stream inbox, the per-stream typed output,
// and (by convention) the connection's shared outbound channel.
// Those bounded channels are the only backpressure mechanism.
const DefaultQueueSize = 32

// ErrStreamClosed is the cancellation cause
// seen by a handler whose stream was closed through [*Registry.Close].
var ErrStreamClosed = errors.New("stream closed")

// ErrUnknownStream indicates a stream ID with no live stream.
var ErrUnknownStream = errors.New("unknown stream")

// ErrRegistryClosed is returned by [Register]
// once the registry's context is canceled or [*Registry.Wait] was called.
var ErrRegistryClosed = errors.New("stream registry closed")

// RegistryConfig is the configuration for [NewRegistry].
type RegistryConfig struct {
	// Depth of each stream's inbox and typed output channel.
	// Defaults to [DefaultQueueSize].
	QueueSize int

	// Upper bound on concurrently live streams.
	// Inbound envelopes that would lazily create a responder
	// beyond this limit are dropped.
	// Zero means unlimited.
	MaxStreams int
}

// Registry is the directory of live streams on one connection.
//
// It routes inbound envelopes to the handler registered for their stream ID,
// and funnels every handler's output onto a single outbound channel
// that the connection's writer drains.
type Registry struct {
	log *slog.Logger

	// Lifetime of the owning connection.
	// Every stream's context is derived from it.
	ctx context.Context

	out chan<- Envelope

	cfg RegistryConfig

	mu         sync.RWMutex
	streams    map[ID]*entry
	responders map[Tag]responderFactory

	// Set by Wait; no streams start afterward.
	stopped bool

	// Tracks every stream worker and relay goroutine.
	wg sync.WaitGroup
}

// entry is one live stream in the directory.
type entry struct {
	h rawHandler

	// Raw payloads waiting for the handler, in arrival order.
	inbox chan []byte

	ctx    context.Context
	cancel context.CancelCauseFunc
}

// responderFactory builds the adapter for a lazily created responder stream.
type responderFactory func(id ID) rawHandler

// NewRegistry returns an empty Registry.
//
// The given context is the lifetime of the owning connection;
// canceling it stops every stream.
// All handler output is sent on out as envelopes.
func NewRegistry(
	ctx context.Context, log *slog.Logger, out chan<- Envelope, cfg RegistryConfig,
) *Registry {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	return &Registry{
		log: log,

		ctx: ctx,

		out: out,

		cfg: cfg,

		streams:    make(map[ID]*entry),
		responders: make(map[Tag]responderFactory),
	}
}

// Register adds a stream initiated by this side.
//
// A fresh ID is drawn from the handler's tag,
// redrawn if it names a stream that is already live,
// and the returned channel accepts outbound messages immediately.
// Nothing is sent on the network until a value is sent on that channel.
// Replies from the peer are delivered to h.OnMessage,
// which receives the same outbound channel.
//
// Register fails with [ErrRegistryClosed] when the registry has stopped.
//
// Register is a function rather than a method
// because Go methods cannot introduce type parameters.
func Register[In, Out any](r *Registry, h Handler[In, Out]) (ID, chan<- Out, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lockedStopped() {
		return 0, nil, ErrRegistryClosed
	}

	id := NewID(h.Tag())
	for r.streams[id] != nil {
		id = NewID(h.Tag())
	}

	a := newAdapter(r.log.With("stream_id", id.String()), id, h, r.cfg.QueueSize)
	r.lockedStart(id, a)

	return id, a.out, nil
}

// lockedStopped reports whether new streams are refused.
// r.mu must be held.
func (r *Registry) lockedStopped() bool {
	return r.stopped || r.ctx.Err() != nil
}

// RegisterResponder installs a factory for the protocol identified by tag.
//
// When an envelope arrives for an unknown stream ID whose tag matches,
// the factory is called to create a fresh handler for that stream.
// Each stream gets its own handler instance;
// a closed stream that receives a new first message starts over
// with a new instance.
//
// Registering two responders for one tag is a programming error and panics.
func RegisterResponder[In, Out any](r *Registry, tag Tag, newHandler func() Handler[In, Out]) {
	queueSize := r.cfg.QueueSize
	log := r.log
	f := func(id ID) rawHandler {
		h := newHandler()
		if h.Tag() != tag {
			panic(fmt.Errorf(
				"BUG: responder registered under tag %s built handler with tag %s",
				tag, h.Tag(),
			))
		}
		return newAdapter(log.With("stream_id", id.String()), id, h, queueSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.responders[tag]; ok {
		panic(fmt.Errorf("BUG: responder already registered for tag %s", tag))
	}
	r.responders[tag] = f
}

// lockedStart adds the stream to the directory
// and starts its worker and relay goroutines.
// r.mu must be held for writing.
func (r *Registry) lockedStart(id ID, h rawHandler) *entry {
	if _, ok := r.streams[id]; ok {
		panic(fmt.Errorf("BUG: stream %s already registered", id))
	}

	ctx, cancel := context.WithCancelCause(r.ctx)
	e := &entry{
		h: h,

		inbox: make(chan []byte, r.cfg.QueueSize),

		ctx:    ctx,
		cancel: cancel,
	}
	r.streams[id] = e

	r.wg.Add(2)
	go r.work(e)
	go func() {
		defer r.wg.Done()
		h.relay(ctx, r.out)
	}()

	return e
}

// work feeds the stream's inbox to its handler, one message at a time.
func (r *Registry) work(e *entry) {
	defer r.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case p := <-e.inbox:
			e.h.handleRaw(e.ctx, p)
		}
	}
}

// Inbox is where a connection's IO loop puts the payload
// of an envelope that [*Registry.Route] matched to a stream.
type Inbox struct {
	// Send the payload here.
	C chan<- []byte

	// Closed when the stream ends;
	// a pending send should be abandoned.
	Done <-chan struct{}
}

// Route finds the stream for e, lazily creating a responder if needed.
// It reports false when the envelope cannot be routed and should be dropped.
//
// Route never blocks on the stream itself,
// so the caller can wait for inbox capacity
// while still serving other work.
func (r *Registry) Route(e Envelope) (Inbox, bool) {
	r.mu.RLock()
	s, ok := r.streams[e.StreamID]
	r.mu.RUnlock()

	if ok {
		return Inbox{C: s.inbox, Done: s.ctx.Done()}, true
	}

	tag := e.StreamID.Tag()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have created it while we did not hold the lock.
	if s, ok := r.streams[e.StreamID]; ok {
		return Inbox{C: s.inbox, Done: s.ctx.Done()}, true
	}

	f, ok := r.responders[tag]
	if !ok {
		return Inbox{}, false
	}

	if r.cfg.MaxStreams > 0 && len(r.streams) >= r.cfg.MaxStreams {
		r.log.Debug(
			"Refusing new responder stream at stream limit",
			"stream_id", e.StreamID.String(),
			"limit", r.cfg.MaxStreams,
		)
		return Inbox{}, false
	}

	if r.lockedStopped() {
		return Inbox{}, false
	}

	s = r.lockedStart(e.StreamID, f(e.StreamID))
	return Inbox{C: s.inbox, Done: s.ctx.Done()}, true
}

// Dispatch delivers e to its stream,
// blocking until the stream accepts it, the stream ends, or ctx is done.
//
// Envelopes for unknown stream IDs with unknown tags are dropped silently,
// as are envelopes whose stream closes before accepting them;
// neither is an error.
// The only error is the cancellation cause of ctx.
func (r *Registry) Dispatch(ctx context.Context, e Envelope) error {
	in, ok := r.Route(e)
	if !ok {
		r.log.Debug(
			"Dropping envelope for unroutable stream",
			"stream_id", e.StreamID.String(),
		)
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf(
			"context canceled while dispatching to stream %s: %w",
			e.StreamID, context.Cause(ctx),
		)
	case <-in.Done:
		return nil
	case in.C <- e.Payload:
		return nil
	}
}

// Close removes the stream from the directory and stops its handler.
// It reports whether the stream existed.
//
// A later envelope with the same ID is treated like any other unknown ID:
// it creates a fresh responder if its tag has one, or is dropped.
func (r *Registry) Close(id ID) bool {
	r.mu.Lock()
	e, ok := r.streams[id]
	delete(r.streams, id)
	r.mu.Unlock()

	if ok {
		e.cancel(ErrStreamClosed)
	}
	return ok
}

// Has reports whether a stream with the given ID is live.
func (r *Registry) Has(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.streams[id]
	return ok
}

// Len returns the number of live streams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// Wait blocks until every stream goroutine has stopped.
// Streams stop when closed or when the registry's context is canceled.
// No new streams start once Wait is called.
func (r *Registry) Wait() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.wg.Wait()
}
