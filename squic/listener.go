package squic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sandpolis/sandpolis/scert"
)

// ALPN is the application protocol negotiated on instance links.
const ALPN = "sandpolis"

// DefaultConfig returns the QUIC configuration for instance links.
// Datagrams are always enabled since envelopes travel as datagrams.
func DefaultConfig() *quic.Config {
	return &quic.Config{
		EnableDatagrams: true,

		// Instance links are long lived and often idle
		// between health pings.
		KeepAlivePeriod: 15 * time.Second,
		MaxIdleTimeout:  time.Minute,
	}
}

// MakeTransport returns a QUIC transport over the given UDP socket.
// The transport is closed when ctx is canceled.
func MakeTransport(ctx context.Context, uc *net.UDPConn) *quic.Transport {
	qt := &quic.Transport{
		Conn: uc,
	}

	go func() {
		<-ctx.Done()
		_ = qt.Close()
	}()

	return qt
}

// StartListener starts accepting QUIC connections on qt.
//
// Clients must present a certificate chaining to a CA in pool.
// The pool is consulted on each handshake,
// so CA changes apply to later connections.
func StartListener(
	tlsConf *tls.Config, pool *scert.Pool, qConf *quic.Config, qt *quic.Transport,
) (*quic.Listener, error) {
	tlsConf = pool.ServerConfig(tlsConf)
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}

	if qConf == nil {
		qConf = DefaultConfig()
	}
	if !qConf.EnableDatagrams {
		panic(fmt.Errorf("BUG: QUIC datagrams must be enabled for instance links"))
	}

	ql, err := qt.Listen(tlsConf, qConf)
	if err != nil {
		return nil, fmt.Errorf("failed to start QUIC listener: %w", err)
	}
	return ql, nil
}

// Accept waits for the next inbound connection on ql.
func Accept(ctx context.Context, ql *quic.Listener) (Conn, error) {
	qc, err := ql.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return WrapConn(qc), nil
}
