package squic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/quic-go/quic-go"
)

// ApplicationErrorCode is used for [Conn.CloseWithError].
type ApplicationErrorCode uint64

const (
	// NoError is the code for an orderly close.
	NoError ApplicationErrorCode = 0

	// CARemoved is the code used when the peer's CA
	// is no longer trusted by the local instance.
	CARemoved ApplicationErrorCode = 0x5a01
)

// CARemovedMessage accompanies [CARemoved].
const CARemovedMessage = "peer CA removed from trusted set"

// Conn is the interface representing a QUIC connection.
//
// This is a subset of the methods on [*quic.Conn],
// limited to the datagram surface that instance links use.
type Conn interface {
	SendDatagram([]byte) error
	ReceiveDatagram(context.Context) ([]byte, error)

	CloseWithError(code ApplicationErrorCode, msg string) error

	// Context is canceled when the connection closes.
	Context() context.Context

	// This diverges from the quic.Conn interface.
	// Instead of exposing their entire connection state,
	// we only expose the TLS details.
	TLSConnectionState() tls.ConnectionState

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

var _ Conn = ConnAdapter{}

// ConnAdapter wraps a [*quic.Conn], implementing the [Conn] interface.
//
// Create an instance with [WrapConn].
type ConnAdapter struct {
	qc *quic.Conn
}

// WrapConn wraps the given connection,
// returning a value implementing [Conn].
func WrapConn(qc *quic.Conn) ConnAdapter {
	return ConnAdapter{qc: qc}
}

func (c ConnAdapter) SendDatagram(p []byte) error {
	return c.qc.SendDatagram(p)
}

func (c ConnAdapter) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.qc.ReceiveDatagram(ctx)
}

func (c ConnAdapter) CloseWithError(code ApplicationErrorCode, msg string) error {
	if (code >> 62) > 0 {
		panic(fmt.Errorf(
			"BUG: application error code must fit in 62 bits (got 0x%x)", code,
		))
	}
	return c.qc.CloseWithError(quic.ApplicationErrorCode(code), msg)
}

func (c ConnAdapter) Context() context.Context { return c.qc.Context() }

func (c ConnAdapter) TLSConnectionState() tls.ConnectionState {
	return c.qc.ConnectionState().TLS
}

func (c ConnAdapter) LocalAddr() net.Addr { return c.qc.LocalAddr() }

func (c ConnAdapter) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }
