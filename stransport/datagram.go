package stransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/quic-go/quic-go"
	"github.com/sandpolis/sandpolis/squic"
)

// Datagram is a [Transport] carrying binary messages as QUIC datagrams,
// for direct links between instances.
//
// Datagrams are unreliable and unordered,
// so protocols running over a Datagram transport must tolerate loss.
type Datagram struct {
	conn squic.Conn
}

var _ Transport = Datagram{}

// NewDatagram wraps a QUIC connection with datagrams enabled.
func NewDatagram(conn squic.Conn) Datagram {
	return Datagram{conn: conn}
}

// ReadMessage implements [Transport].
// It returns io.EOF when the peer closed the connection with [squic.NoError].
func (d Datagram) ReadMessage() (Message, error) {
	b, err := d.conn.ReceiveDatagram(d.conn.Context())
	if err != nil {
		if cause := context.Cause(d.conn.Context()); cause != nil {
			err = cause
		}
		var appErr *quic.ApplicationError
		if errors.As(err, &appErr) && appErr.Remote && appErr.ErrorCode == quic.ApplicationErrorCode(squic.NoError) {
			return Message{}, io.EOF
		}
		return Message{}, err
	}
	return Message{Type: Binary, Data: b}, nil
}

// WriteMessage implements [Transport].
// Only binary and close messages are supported.
// A message larger than the path's datagram limit is an error.
func (d Datagram) WriteMessage(m Message) error {
	switch m.Type {
	case Binary:
		if err := d.conn.SendDatagram(m.Data); err != nil {
			return fmt.Errorf("failed to send %d-byte datagram: %w", len(m.Data), err)
		}
		return nil
	case Close:
		return d.conn.CloseWithError(squic.NoError, string(m.Data))
	default:
		return fmt.Errorf("%w: %s over datagram", ErrUnsupportedMessage, m.Type)
	}
}

// Close implements [Transport].
func (d Datagram) Close() error {
	return d.conn.CloseWithError(squic.NoError, "")
}

func (d Datagram) LocalAddr() net.Addr  { return d.conn.LocalAddr() }
func (d Datagram) RemoteAddr() net.Addr { return d.conn.RemoteAddr() }
