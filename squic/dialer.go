package squic

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"

	"github.com/quic-go/quic-go"
	"github.com/sandpolis/sandpolis/scert"
)

// Dialer handles establishing QUIC connections with remote instances.
type Dialer struct {
	Log *slog.Logger

	BaseTLSConf *tls.Config

	QUICTransport *quic.Transport
	QUICConfig    *quic.Config

	CAPool *scert.Pool
}

// Dial opens a QUIC connection to the given address,
// using TLS configuration that respects the current d.CAPool.
//
// If the remote's CA is later removed from the pool,
// a background goroutine closes the connection with [CARemoved].
func (d Dialer) Dial(ctx context.Context, addr net.Addr) (Conn, error) {
	tlsConf := d.CAPool.ClientConfig(d.BaseTLSConf)
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{ALPN}
	}
	if tlsConf.ServerName == "" {
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil, fmt.Errorf("failed to split dial address %q: %w", addr, err)
		}
		tlsConf.ServerName = host
	}

	qConf := d.QUICConfig
	if qConf == nil {
		qConf = DefaultConfig()
	}

	rawQC, err := d.QUICTransport.Dial(ctx, addr, tlsConf, qConf)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	qc := WrapConn(rawQC)

	ca, err := scert.RootOf(qc.TLSConnectionState())
	if err != nil {
		panic(fmt.Errorf(
			"IMPOSSIBLE: no usable verified chain after dialing %q: %w",
			addr, err,
		))
	}

	notify := d.CAPool.NotifyRemoval(ca)
	if notify == nil {
		// The CA was removed between the handshake and now.
		_ = qc.CloseWithError(CARemoved, CARemovedMessage)
		return nil, fmt.Errorf("dialing %s: %w", addr, scert.ErrCertRemoved)
	}

	log := d.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	go closeOnRemoval(log, qc, notify)

	return qc, nil
}

// closeOnRemoval closes qc if notify is closed before qc finishes.
func closeOnRemoval(log *slog.Logger, qc Conn, notify <-chan struct{}) {
	select {
	case <-qc.Context().Done():
		return
	case <-notify:
		log.Info(
			"Closing QUIC connection after peer CA removal",
			"remote", qc.RemoteAddr().String(),
		)
		if err := qc.CloseWithError(CARemoved, CARemovedMessage); err != nil {
			log.Debug("Error closing QUIC connection", "err", err)
		}
	}
}
