package sconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sandpolis/sandpolis/internal/strace"
	"github.com/sandpolis/sandpolis/spubsub"
	"github.com/sandpolis/sandpolis/sstream"
	"github.com/sandpolis/sandpolis/stransport"
)

// DefaultSampleInterval is how often throughput is sampled.
const DefaultSampleInterval = time.Second

// closeWriteTimeout bounds the orderly close message on shutdown.
const closeWriteTimeout = time.Second

// Config is the configuration for [New].
type Config struct {
	// Transport is an established link.
	// Exactly one of Transport and Dial must be set.
	Transport stransport.Transport

	// Dial establishes the link.
	// The connection stays in the Connecting state until Dial returns.
	Dial func(context.Context) (stransport.Transport, error)

	// Identity of both ends, recorded in the metadata.
	// Either may be zero if unknown.
	Data Data

	// Responder layers, run once before the connection starts reading.
	Responders []Registrar

	// Where metadata is written.
	// Defaults to a new [MemoryRecord].
	Record Record

	// Defaults to the real clock.
	Clock clock.Clock

	// Stream layer settings.
	// Stream.QueueSize also sizes the connection's shared outbound channel.
	Stream sstream.RegistryConfig

	// Defaults to [DefaultSampleInterval].
	SampleInterval time.Duration

	// Traces the connection's lifetime.
	// Defaults to a no-op provider.
	TracerProvider strace.TracerProvider
}

func (c Config) validate() {
	var err error

	if (c.Transport == nil) == (c.Dial == nil) {
		err = errors.Join(err, errors.New("exactly one of Config.Transport and Config.Dial must be set"))
	}
	if c.SampleInterval < 0 {
		err = errors.Join(err, fmt.Errorf("Config.SampleInterval must not be negative (got %s)", c.SampleInterval))
	}
	if c.Stream.QueueSize < 0 {
		err = errors.Join(err, fmt.Errorf("Config.Stream.QueueSize must not be negative (got %d)", c.Stream.QueueSize))
	}

	if err != nil {
		panic(fmt.Errorf("BUG: invalid connection config: %w", err))
	}
}

// Connection is one instance connection.
// Create it with [New].
type Connection struct {
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	reg *sstream.Registry

	// Shared outbound channel of every stream.
	out chan sstream.Envelope

	// Connection-level control messages.
	control chan stransport.Message

	record Record
	clock  clock.Clock

	tracer strace.Tracer

	// Lifetime span, owned by the IO loop.
	span strace.Span

	sampleInterval time.Duration

	readBytes, writeBytes atomic.Uint64
	state                 atomic.Uint32

	// Head of the state stream, for new subscribers.
	states *spubsub.Stream[State]

	// Next unpublished node, owned by the IO loop.
	statesTail *spubsub.Stream[State]

	done chan struct{}
	err  error // Exit cause; written before done is closed.

	wg sync.WaitGroup
}

// New starts a connection.
//
// Every responder registrar in cfg runs before New returns.
// The IO loop runs until ctx is canceled, [*Connection.Close] is called,
// the peer closes the link, or the transport fails.
func New(ctx context.Context, log *slog.Logger, cfg Config) *Connection {
	cfg.validate()

	if cfg.Record == nil {
		cfg.Record = new(MemoryRecord)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SampleInterval == 0 {
		cfg.SampleInterval = DefaultSampleInterval
	}
	if cfg.Stream.QueueSize == 0 {
		cfg.Stream.QueueSize = sstream.DefaultQueueSize
	}

	ctx, cancel := context.WithCancelCause(ctx)

	out := make(chan sstream.Envelope, cfg.Stream.QueueSize)

	c := &Connection{
		log: log,

		ctx:    ctx,
		cancel: cancel,

		reg: sstream.NewRegistry(ctx, log, out, cfg.Stream),

		out:     out,
		control: make(chan stransport.Message, 1),

		record: cfg.Record,
		clock:  cfg.Clock,

		tracer: strace.TracerOrNop(cfg.TracerProvider),

		sampleInterval: cfg.SampleInterval,

		states: spubsub.NewStream[State](),

		done: make(chan struct{}),
	}
	c.statesTail = c.states

	data := cfg.Data
	c.record.Update(func(d *Data) {
		d.InstanceID = data.InstanceID
		d.RemoteInstanceID = data.RemoteInstanceID
	})
	c.setState(Connecting)

	for _, r := range cfg.Responders {
		r.RegisterResponders(c.reg)
	}

	c.wg.Add(1)
	go c.run(cfg.Transport, cfg.Dial)

	return c
}

// setState records and publishes s.
// Only New and the IO loop call it, never concurrently.
func (c *Connection) setState(s State) {
	c.state.Store(uint32(s))
	c.record.Update(func(d *Data) {
		d.State = s
	})
	c.statesTail.Publish(s)
	c.statesTail = c.statesTail.Next
}

// run is the main loop of the connection.
func (c *Connection) run(t stransport.Transport, dial func(context.Context) (stransport.Transport, error)) {
	defer c.wg.Done()

	_, c.span = c.tracer.Start(c.ctx, "instance connection")
	defer c.span.End()

	if t == nil {
		c.span.AddEvent("dial")
		var err error
		t, err = dial(c.ctx)
		if err != nil {
			c.finish(nil, fmt.Errorf("failed to establish transport: %w", err))
			return
		}
	}

	c.log = c.log.With("remote", t.RemoteAddr().String())
	c.span.SetAttributes(strace.RemoteAddrAttr(t))

	now := c.clock.Now()
	c.record.Update(func(d *Data) {
		d.LocalAddr = t.LocalAddr().String()
		d.RemoteAddr = t.RemoteAddr().String()
		d.Established = now
	})
	ticker := c.clock.Ticker(c.sampleInterval)
	defer ticker.Stop()

	c.setState(Open)
	c.log.Info("Connection open")
	c.span.AddEvent("open")

	inbound := make(chan readResult, 1)
	c.wg.Add(1)
	go c.readLoop(t, inbound)

	var lastRead, lastWrite uint64
	lastSample := now

	// A routed payload waiting for room in its stream's inbox.
	// While one is pending, no further frames are read,
	// but outbound traffic keeps flowing,
	// so a handler blocked on output can still drain its inbox.
	var (
		pendingC       chan<- []byte
		pendingDone    <-chan struct{}
		pendingPayload []byte
	)

	for {
		readCh := (<-chan readResult)(inbound)
		if pendingC != nil {
			readCh = nil
		}

		select {
		case <-c.ctx.Done():
			c.finish(t, context.Cause(c.ctx))
			return

		case m := <-c.control:
			if err := t.WriteMessage(m); err != nil {
				c.finish(t, fmt.Errorf("failed to write control message: %w", err))
				return
			}

		case e := <-c.out:
			b, err := sstream.MarshalEnvelope(e)
			if err != nil {
				// Envelope fields are plain integers and bytes.
				panic(fmt.Errorf("IMPOSSIBLE: failed to marshal envelope: %w", err))
			}
			if err := t.WriteMessage(stransport.BinaryMessage(b)); err != nil {
				c.finish(t, fmt.Errorf("failed to write envelope: %w", err))
				return
			}
			c.writeBytes.Add(uint64(len(b)))

		case r := <-readCh:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					c.finish(t, ErrPeerClosed)
				} else {
					c.finish(t, fmt.Errorf("failed to read from transport: %w", r.err))
				}
				return
			}

			in, payload, ok, err := c.handleInbound(t, r.m)
			if err != nil {
				c.finish(t, err)
				return
			}
			if !ok {
				continue
			}

			select {
			case in.C <- payload:
				// Okay.
			default:
				pendingC, pendingDone, pendingPayload = in.C, in.Done, payload
			}

		case pendingC <- pendingPayload:
			pendingC, pendingDone, pendingPayload = nil, nil, nil

		case <-pendingDone:
			// The stream closed before taking the payload.
			pendingC, pendingDone, pendingPayload = nil, nil, nil

		case <-ticker.C:
			now := c.clock.Now()
			r, w := c.readBytes.Load(), c.writeBytes.Load()
			secs := now.Sub(lastSample).Seconds()
			c.record.Update(func(d *Data) {
				d.ReadBytes, d.WriteBytes = r, w
				if secs > 0 {
					d.ReadThroughput = uint64(float64(r-lastRead) / secs)
					d.WriteThroughput = uint64(float64(w-lastWrite) / secs)
				}
			})
			lastRead, lastWrite, lastSample = r, w, now
		}
	}
}

// handleInbound interprets one message from the transport.
// It reports ok when the message is an envelope routed to a stream,
// in which case the caller must deliver payload to in.
func (c *Connection) handleInbound(t stransport.Transport, m stransport.Message) (
	in sstream.Inbox, payload []byte, ok bool, err error,
) {
	switch m.Type {
	case stransport.Binary:
		c.readBytes.Add(uint64(len(m.Data)))

		e, err := sstream.UnmarshalEnvelope(m.Data)
		if err != nil {
			c.log.Debug("Dropping frame that is not an envelope", "size", len(m.Data), "err", err)
			return sstream.Inbox{}, nil, false, nil
		}

		in, ok := c.reg.Route(e)
		if !ok {
			c.log.Debug("Dropping envelope for unroutable stream", "stream_id", e.StreamID.String())
			return sstream.Inbox{}, nil, false, nil
		}
		return in, e.Payload, true, nil

	case stransport.Ping:
		if err := t.WriteMessage(stransport.Message{Type: stransport.Pong, Data: m.Data}); err != nil {
			return sstream.Inbox{}, nil, false, fmt.Errorf("failed to write pong: %w", err)
		}
		return sstream.Inbox{}, nil, false, nil

	case stransport.Close:
		return sstream.Inbox{}, nil, false, ErrPeerClosed

	default:
		c.log.Debug("Ignoring transport message", "type", m.Type.String())
		return sstream.Inbox{}, nil, false, nil
	}
}

type readResult struct {
	m   stransport.Message
	err error
}

// readLoop is the only caller of t.ReadMessage.
// It stops after the first read error,
// or when the connection's context is canceled.
func (c *Connection) readLoop(t stransport.Transport, inbound chan<- readResult) {
	defer c.wg.Done()

	for {
		m, err := t.ReadMessage()
		select {
		case inbound <- readResult{m: m, err: err}:
			// Okay.
		case <-c.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// finish shuts the connection down after the IO loop exits.
// The transport is nil if it was never established.
func (c *Connection) finish(t stransport.Transport, cause error) {
	c.setState(Closing)

	if errors.Is(cause, ErrClosed) || errors.Is(cause, ErrPeerClosed) {
		c.log.Info("Connection closing", "cause", cause)
		c.span.AddEvent("closing", strace.WithAttributes(strace.StringAttr("cause", cause.Error())))
	} else {
		c.log.Info("Connection closing after error", "cause", cause)
		strace.SpanError(c.span, cause)
	}

	// Stop every stream goroutine and the reader.
	c.cancel(cause)

	if t != nil {
		if !errors.Is(cause, ErrPeerClosed) {
			c.writeClose(t)
		}
		if err := t.Close(); err != nil {
			c.log.Debug("Error closing transport", "err", err)
		}
	}

	c.reg.Wait()

	now := c.clock.Now()
	r, w := c.readBytes.Load(), c.writeBytes.Load()
	c.record.Update(func(d *Data) {
		d.ReadBytes, d.WriteBytes = r, w
		d.ReadThroughput, d.WriteThroughput = 0, 0
		d.Disconnected = now
	})

	c.err = cause
	c.setState(Closed)
	close(c.done)
}

// writeClose makes a bounded attempt at an orderly close message.
func (c *Connection) writeClose(t stransport.Transport) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = t.WriteMessage(stransport.Message{Type: stransport.Close})
	}()

	select {
	case <-done:
	case <-time.After(closeWriteTimeout):
		// The transport is closed next, which releases the write.
	}
}

// Close ends the connection and waits for it to finish.
// It is safe to call more than once.
func (c *Connection) Close() {
	c.cancel(ErrClosed)
	c.Wait()
}

// Wait blocks until the connection's goroutines have all stopped.
func (c *Connection) Wait() {
	<-c.done
	c.wg.Wait()
}

// Done returns a channel that is closed when the connection reaches [Closed].
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns nil while the connection is running,
// and the exit cause once it is [Closed].
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// State returns the current state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// States returns the head of the state stream.
// Every transition, starting with [Connecting], is published once.
func (c *Connection) States() *spubsub.Stream[State] {
	return c.states
}

// Data returns a snapshot of the connection's metadata,
// with byte counters current as of the call.
func (c *Connection) Data() Data {
	d := c.record.Read()
	d.ReadBytes = c.readBytes.Load()
	d.WriteBytes = c.writeBytes.Load()
	return d
}

// Registry returns the connection's stream registry,
// for installing responders after start.
func (c *Connection) Registry() *sstream.Registry {
	return c.reg
}

// Streams returns the number of live streams.
func (c *Connection) Streams() int {
	return c.reg.Len()
}

// CloseStream closes the stream with the given ID.
// It returns an error wrapping [sstream.ErrUnknownStream]
// if no such stream is live.
func (c *Connection) CloseStream(id sstream.ID) error {
	if !c.reg.Close(id) {
		return fmt.Errorf("closing stream %s: %w", id, sstream.ErrUnknownStream)
	}
	return nil
}

// Send queues a connection-level control message,
// such as a transport ping,
// for the IO loop to write.
func (c *Connection) Send(ctx context.Context, m stransport.Message) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-c.ctx.Done():
		return ErrClosed
	case c.control <- m:
		return nil
	}
}

// Register starts a requester stream on c.
// It is shorthand for [sstream.Register] on the connection's registry,
// failing with [ErrClosed] once the connection is shutting down.
func Register[In, Out any](c *Connection, h sstream.Handler[In, Out]) (sstream.ID, chan<- Out, error) {
	id, out, err := sstream.Register(c.reg, h)
	if err != nil {
		return 0, nil, fmt.Errorf("registering stream on %s: %w", c.Data().RemoteAddr, ErrClosed)
	}
	return id, out, nil
}
