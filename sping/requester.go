package sping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bits-and-blooms/bitset"
	"github.com/sandpolis/sandpolis/sconn"
	"github.com/sandpolis/sandpolis/sstream"
)

// Stats summarizes the pings of a [Requester].
type Stats struct {
	// Sent is the number of pings handed to the connection.
	Sent int

	// Received is the number of distinct pings acknowledged.
	Received int

	// Lost is the number of pings not acknowledged,
	// including any still in flight.
	Lost int

	Min, Max, Mean, Last time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"%d sent, %d received, %d lost; rtt min/mean/max/last = %s/%s/%s/%s",
		s.Sent, s.Received, s.Lost, s.Min, s.Mean, s.Max, s.Last,
	)
}

// Requester issues sequence-numbered pings on one stream
// and records round-trip times as responses arrive.
type Requester struct {
	log   *slog.Logger
	clock clock.Clock

	conn *sconn.Connection
	id   sstream.ID
	out  chan<- Request

	// Signaled after each acknowledgement.
	progress chan struct{}

	mu      sync.Mutex
	nextSeq uint64
	sent    int
	pending map[uint64]time.Time
	waiters map[uint64]chan time.Duration

	acked                 bitset.BitSet
	min, max, last, total time.Duration
}

// NewRequester opens a ping stream on c.
// Call [*Requester.Close] to release the stream.
// It fails with [sconn.ErrClosed] if c is shutting down.
func NewRequester(log *slog.Logger, c *sconn.Connection, clk clock.Clock) (*Requester, error) {
	if clk == nil {
		clk = clock.New()
	}

	r := &Requester{
		log:   log,
		clock: clk,

		conn: c,

		progress: make(chan struct{}, 1),

		pending: make(map[uint64]time.Time),
		waiters: make(map[uint64]chan time.Duration),
	}
	var err error
	r.id, r.out, err = sconn.Register(c, requesterHandler{r: r})
	if err != nil {
		return nil, fmt.Errorf("opening ping stream: %w", err)
	}
	r.log = r.log.With("stream_id", r.id.String())
	return r, nil
}

// ID returns the ID of the requester's stream.
func (r *Requester) ID() sstream.ID {
	return r.id
}

// Send issues one ping without waiting for the response,
// returning its sequence number.
func (r *Requester) Send(ctx context.Context) (uint64, error) {
	seq, _, err := r.send(ctx, false)
	return seq, err
}

// Ping issues one ping and waits for its response.
// It fails with [sconn.ErrClosed] if the connection finishes first.
func (r *Requester) Ping(ctx context.Context) (time.Duration, error) {
	seq, w, err := r.send(ctx, true)
	if err != nil {
		return 0, err
	}

	select {
	case <-ctx.Done():
		r.forget(seq)
		return 0, fmt.Errorf("waiting for pong %d: %w", seq, context.Cause(ctx))
	case <-r.conn.Done():
		r.forget(seq)
		return 0, fmt.Errorf("waiting for pong %d: %w", seq, sconn.ErrClosed)
	case rtt := <-w:
		return rtt, nil
	}
}

// forget stops waiting for seq.
// A sent ping stays pending so that it counts as lost.
func (r *Requester) forget(seq uint64) {
	r.mu.Lock()
	delete(r.waiters, seq)
	r.mu.Unlock()
}

func (r *Requester) send(ctx context.Context, wait bool) (uint64, chan time.Duration, error) {
	r.mu.Lock()
	seq := r.nextSeq
	r.nextSeq++
	var w chan time.Duration
	if wait {
		w = make(chan time.Duration, 1)
		r.waiters[seq] = w
	}
	r.pending[seq] = r.clock.Now()
	r.mu.Unlock()

	var cause error
	select {
	case <-ctx.Done():
		cause = context.Cause(ctx)
	case <-r.conn.Done():
		cause = sconn.ErrClosed
	case r.out <- Request{Ping: seq}:
		r.mu.Lock()
		r.sent++
		r.mu.Unlock()
		return seq, w, nil
	}

	r.mu.Lock()
	delete(r.pending, seq)
	delete(r.waiters, seq)
	r.mu.Unlock()
	return 0, nil, fmt.Errorf("sending ping %d: %w", seq, cause)
}

func (r *Requester) ack(seq uint64) {
	now := r.clock.Now()

	r.mu.Lock()
	start, ok := r.pending[seq]
	if !ok {
		r.mu.Unlock()
		r.log.Debug("Ignoring pong with unknown sequence", "seq", seq)
		return
	}
	delete(r.pending, seq)

	rtt := now.Sub(start)
	r.acked.Set(uint(seq))
	if r.acked.Count() == 1 || rtt < r.min {
		r.min = rtt
	}
	r.max = max(r.max, rtt)
	r.last = rtt
	r.total += rtt

	if w, ok := r.waiters[seq]; ok {
		w <- rtt
		delete(r.waiters, seq)
	}
	r.mu.Unlock()

	select {
	case r.progress <- struct{}{}:
	default:
	}
}

// Outstanding reports the number of pings sent and not yet acknowledged.
func (r *Requester) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Stats returns a snapshot of the requester's statistics.
func (r *Requester) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	received := int(r.acked.Count())
	s := Stats{
		Sent:     r.sent,
		Received: received,
		Lost:     r.sent - received,

		Min:  r.min,
		Max:  r.max,
		Last: r.last,
	}
	if received > 0 {
		s.Mean = r.total / time.Duration(received)
	}
	return s
}

// Close closes the requester's stream.
func (r *Requester) Close() {
	_ = r.conn.CloseStream(r.id)
}

type requesterHandler struct {
	r *Requester
}

func (requesterHandler) Tag() sstream.Tag { return Tag }

func (h requesterHandler) OnMessage(_ context.Context, in Response, _ chan<- Request) error {
	h.r.ack(in.Pong)
	return nil
}

// LateReplyWindow is how long [Run] waits for outstanding responses
// after its last ping.
const LateReplyWindow = time.Second

// Run sends n pings on c, one per interval,
// and returns the statistics once every response has arrived
// or [LateReplyWindow] has passed since the last ping.
// Responses that never arrive are counted as lost.
func Run(ctx context.Context, log *slog.Logger, c *sconn.Connection, n int, interval time.Duration) (Stats, error) {
	clk := clock.New()
	r, err := NewRequester(log, c, clk)
	if err != nil {
		return Stats{}, err
	}
	defer r.Close()

	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for i := range n {
		if _, err := r.Send(ctx); err != nil {
			return r.Stats(), err
		}
		if i == n-1 {
			break
		}

		select {
		case <-ctx.Done():
			return r.Stats(), context.Cause(ctx)
		case <-ticker.C:
			// Okay.
		}
	}

	deadline := clk.After(LateReplyWindow)
	for r.Outstanding() > 0 {
		select {
		case <-ctx.Done():
			return r.Stats(), context.Cause(ctx)
		case <-c.Done():
			return r.Stats(), sconn.ErrClosed
		case <-deadline:
			return r.Stats(), nil
		case <-r.progress:
			// Okay.
		}
	}
	return r.Stats(), nil
}
