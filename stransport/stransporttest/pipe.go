// Package stransporttest contains an in-memory [stransport.Transport]
// for exercising instance connections without sockets.
package stransporttest

import (
	"io"
	"net"
	"sync"

	"github.com/sandpolis/sandpolis/stransport"
)

// PipeAddr is the address reported by a [PipeEnd].
type PipeAddr string

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return string(a) }

// PipeEnd is one side of a [Pipe].
type PipeEnd struct {
	name, peerName string

	in  <-chan stransport.Message
	out chan<- stransport.Message

	// Closed when this end closes.
	closed    chan struct{}
	closeOnce sync.Once

	// Closed when the other end closes.
	peerClosed <-chan struct{}

	mu     sync.Mutex
	broken error
}

var _ stransport.Transport = (*PipeEnd)(nil)

// Pipe returns two connected in-memory transports.
// Each direction buffers up to bufSize messages;
// zero makes every write wait for the matching read.
func Pipe(bufSize int) (a, b *PipeEnd) {
	ab := make(chan stransport.Message, bufSize)
	ba := make(chan stransport.Message, bufSize)
	aClosed := make(chan struct{})
	bClosed := make(chan struct{})

	a = &PipeEnd{
		name: "pipe-a", peerName: "pipe-b",

		in: ba, out: ab,

		closed: aClosed, peerClosed: bClosed,
	}
	b = &PipeEnd{
		name: "pipe-b", peerName: "pipe-a",

		in: ab, out: ba,

		closed: bClosed, peerClosed: aClosed,
	}
	return a, b
}

// ReadMessage implements [stransport.Transport].
// Messages the peer wrote before closing are still delivered,
// followed by io.EOF.
func (p *PipeEnd) ReadMessage() (stransport.Message, error) {
	if err := p.brokenErr(); err != nil {
		return stransport.Message{}, err
	}

	select {
	case m := <-p.in:
		return p.received(m)
	case <-p.closed:
		return stransport.Message{}, net.ErrClosed
	case <-p.peerClosed:
		select {
		case m := <-p.in:
			return p.received(m)
		default:
			return stransport.Message{}, io.EOF
		}
	}
}

func (p *PipeEnd) received(m stransport.Message) (stransport.Message, error) {
	if m.Type == stransport.Close {
		return stransport.Message{}, io.EOF
	}
	return m, nil
}

// WriteMessage implements [stransport.Transport].
// Writing a [stransport.Close] message delivers it and then closes p.
func (p *PipeEnd) WriteMessage(m stransport.Message) error {
	if err := p.brokenErr(); err != nil {
		return err
	}

	select {
	case <-p.closed:
		return net.ErrClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	default:
	}

	select {
	case p.out <- m:
		// Okay.
	case <-p.closed:
		return net.ErrClosed
	case <-p.peerClosed:
		return io.ErrClosedPipe
	}

	if m.Type == stransport.Close {
		return p.Close()
	}
	return nil
}

// Close implements [stransport.Transport]. It is idempotent.
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	return nil
}

// Break makes every later read and write on p fail with err,
// simulating a broken link.
// A read already blocked is released by closing p.
func (p *PipeEnd) Break(err error) {
	p.mu.Lock()
	p.broken = err
	p.mu.Unlock()

	_ = p.Close()
}

func (p *PipeEnd) brokenErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.broken
}

func (p *PipeEnd) LocalAddr() net.Addr  { return PipeAddr(p.name) }
func (p *PipeEnd) RemoteAddr() net.Addr { return PipeAddr(p.peerName) }
