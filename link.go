package sandpolis

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sandpolis/sandpolis/sconn"
	"github.com/sandpolis/sandpolis/spubsub"
	"github.com/sandpolis/sandpolis/stransport"
)

// ErrLinkClosed is the cause given to a server link's connection
// when the link is closed with [*ServerLink.Close].
var ErrLinkClosed = errors.New("server link closed")

// ServerLink keeps a connection to one server,
// redialing after failures until it is closed.
// Create it with [*NetworkLayer.ConnectServer].
type ServerLink struct {
	log *slog.Logger

	url ServerURL

	cancel context.CancelCauseFunc
	done   chan struct{}

	// Head of the stream of connection attempts.
	conns *spubsub.Stream[*sconn.Connection]

	// Next unpublished node, owned by the link goroutine.
	connsTail *spubsub.Stream[*sconn.Connection]

	mu       sync.Mutex
	current  *sconn.Connection
	attempts int
}

// ConnectServer starts a link to the server at u.
//
// The link dials, runs the connection until it ends,
// waits according to the retry policy, and dials again.
// Failures are logged and never stop the link;
// only canceling ctx, canceling the layer's context,
// or calling [*ServerLink.Close] does.
func (n *NetworkLayer) ConnectServer(ctx context.Context, u ServerURL) *ServerLink {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(n.ctx, func() {
		cancel(context.Cause(n.ctx))
	})

	l := &ServerLink{
		log: n.log.With("server", u.String()),

		url: u,

		cancel: cancel,
		done:   make(chan struct{}),

		conns: spubsub.NewStream[*sconn.Connection](),
	}
	l.connsTail = l.conns

	n.mu.Lock()
	n.links = append(n.links, l)
	n.mu.Unlock()

	l.log.Debug("Configuring server connection")

	n.wg.Add(1)
	go n.runLink(ctx, l, stop)

	return l
}

func (n *NetworkLayer) runLink(ctx context.Context, l *ServerLink, stop func() bool) {
	defer n.wg.Done()
	defer close(l.done)
	defer stop()
	defer n.removeLink(l)

	policy := l.url.Retry
	if policy.IsZero() {
		policy = n.retry
	}
	b := policy.Backoff()

	for {
		c := n.runLinkConnection(ctx, l)
		opened := !c.Data().Established.IsZero()

		if ctx.Err() != nil {
			l.log.Info("Server link stopped", "cause", context.Cause(ctx))
			return
		}

		if opened {
			// Waits start over after a connection that worked.
			b = policy.Backoff()
		}

		var wait time.Duration
		if opened && n.strategy.kind() == Polling {
			wait = n.strategy.Interval
			l.log.Debug("Waiting for next poll", "wait", wait)
		} else {
			wait = b.Next()
			l.log.Info(
				"Server connection ended; retrying",
				"cause", c.Err(), "wait", wait, "attempt", b.Iteration(),
			)
		}

		select {
		case <-ctx.Done():
			l.log.Info("Server link stopped", "cause", context.Cause(ctx))
			return
		case <-n.clock.After(wait):
			// Okay.
		}
	}
}

// runLinkConnection runs one connection attempt to completion.
func (n *NetworkLayer) runLinkConnection(ctx context.Context, l *ServerLink) *sconn.Connection {
	rec := new(sconn.MemoryRecord)
	c := n.newConnection(ctx, l.log.With("dir", "outbound"), sconn.Config{
		Dial: func(ctx context.Context) (stransport.Transport, error) {
			t, remote, err := n.dial(ctx, l.url)
			if err != nil {
				return nil, err
			}
			if !remote.IsZero() {
				rec.Update(func(d *sconn.Data) {
					d.RemoteInstanceID = remote
				})
			}
			return t, nil
		},
		Record: rec,
	})

	n.track(c, l)
	defer n.untrack(c)

	l.mu.Lock()
	l.current = c
	l.attempts++
	l.mu.Unlock()

	l.connsTail.Publish(c)
	l.connsTail = l.connsTail.Next

	if n.strategy.kind() == Polling {
		n.pollTimeout(c)
	}

	c.Wait()

	l.mu.Lock()
	l.current = nil
	l.mu.Unlock()

	return c
}

// pollTimeout closes c once it has gone a full timeout without active streams.
func (n *NetworkLayer) pollTimeout(c *sconn.Connection) {
	timer := n.clock.Timer(n.strategy.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-c.Done():
			return
		case <-timer.C:
			if c.Streams() > 0 {
				timer.Reset(n.strategy.Timeout)
				continue
			}
			c.Close()
			return
		}
	}
}

func (n *NetworkLayer) removeLink(l *ServerLink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.links = slices.DeleteFunc(n.links, func(have *ServerLink) bool { return have == l })
}

// URL returns the server the link connects to.
func (l *ServerLink) URL() ServerURL {
	return l.url
}

// Current returns the link's connection,
// or nil while the link is waiting to redial.
func (l *ServerLink) Current() *sconn.Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Attempts returns the number of connections the link has started.
func (l *ServerLink) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts
}

// Connections returns the head of the stream of the link's connections,
// one value per attempt.
func (l *ServerLink) Connections() *spubsub.Stream[*sconn.Connection] {
	return l.conns
}

// Close stops the link and waits for its connection to finish.
func (l *ServerLink) Close() {
	l.cancel(ErrLinkClosed)
	<-l.done
}

// Done returns a channel that is closed once the link has stopped.
func (l *ServerLink) Done() <-chan struct{} {
	return l.done
}
