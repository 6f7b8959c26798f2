// Package squictest contains QUIC fixtures for tests.
package squictest

import (
	"context"
	"crypto/tls"
	"net"
	"testing"

	"github.com/quic-go/quic-go"
	"github.com/sandpolis/sandpolis/internal/stest"
	"github.com/sandpolis/sandpolis/scert"
	"github.com/sandpolis/sandpolis/scert/scerttest"
	"github.com/sandpolis/sandpolis/squic"
	"github.com/stretchr/testify/require"
)

// ListenerSet is a collection of loopback QUIC listeners
// whose leaf certificates all come from one test realm.
// They are capable of dialing one another.
type ListenerSet struct {
	Realm *scerttest.Realm

	Leaves []*scerttest.LeafCert

	UDPConns []*net.UDPConn

	TLSConfigs []*tls.Config

	QTs []*quic.Transport
	QLs []*quic.Listener
}

// NewListenerSet initializes a new ListenerSet,
// with count number of listeners.
// There are no active connections;
// use [*ListenerSet.Dial] to connect two members.
//
// The UDP connections are closed as part of [*testing.T.Cleanup].
func NewListenerSet(t *testing.T, ctx context.Context, count int) *ListenerSet {
	t.Helper()

	realm := scerttest.NewRealm(t)

	ls := &ListenerSet{
		Realm: realm,

		Leaves: make([]*scerttest.LeafCert, count),

		UDPConns: make([]*net.UDPConn, count),

		TLSConfigs: make([]*tls.Config, count),

		QTs: make([]*quic.Transport, count),
		QLs: make([]*quic.Listener, count),
	}

	t.Cleanup(func() {
		for _, uc := range ls.UDPConns {
			if uc != nil {
				uc.Close()
			}
		}
	})

	for i := range count {
		leaf := realm.Leaf(t, i)

		udpConn, err := net.ListenUDP("udp", &net.UDPAddr{
			IP: net.IPv4(127, 0, 0, 1),
		})
		require.NoError(t, err)

		qt := squic.MakeTransport(ctx, udpConn)

		tlsConf := leaf.TLSConfig()
		ql, err := squic.StartListener(tlsConf, realm.Pool, squic.DefaultConfig(), qt)
		require.NoError(t, err)

		ls.Leaves[i] = leaf

		ls.UDPConns[i] = udpConn

		ls.TLSConfigs[i] = tlsConf

		ls.QTs[i] = qt
		ls.QLs[i] = ql
	}

	return ls
}

// Pool returns the CA pool shared by every member.
func (ls *ListenerSet) Pool() *scert.Pool {
	return ls.Realm.Pool
}

// Dial dials from the member at srcIdx to the listener at dstIdx.
// It returns srcConn, which is the outgoing connection from the source,
// and dstConn, which is the inbound connection for the destination.
//
// To do this, the listener set temporarily
// accepts a connection on the destination listener.
// If there is already an attempt to accept a connection there,
// the two attempts will race and the test will be inconsistent.
func (ls *ListenerSet) Dial(t *testing.T, srcIdx, dstIdx int) (srcConn, dstConn squic.Conn) {
	t.Helper()

	if srcIdx < 0 || srcIdx >= len(ls.UDPConns) || dstIdx < 0 || dstIdx >= len(ls.UDPConns) {
		t.Fatalf(
			"indices must be in range [0, %d]; got srcIdx=%d and dstIdx=%d",
			len(ls.UDPConns)-1, srcIdx, dstIdx,
		)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acceptedCh := make(chan squic.Conn, 1)

	go func() {
		c, err := squic.Accept(ctx, ls.QLs[dstIdx])
		if err != nil {
			t.Error(err)
			acceptedCh <- nil
			return
		}

		acceptedCh <- c
	}()

	srcConn, err := ls.Dialer(t, srcIdx).Dial(ctx, ls.UDPConns[dstIdx].LocalAddr())
	require.NoError(t, err)

	dstConn = stest.ReceiveSoon(t, acceptedCh)
	require.NotNil(t, dstConn)

	t.Cleanup(func() {
		_ = srcConn.CloseWithError(squic.NoError, "")
		_ = dstConn.CloseWithError(squic.NoError, "")
	})

	return srcConn, dstConn
}

// Dialer returns a dialer for the member at idx.
func (ls *ListenerSet) Dialer(t *testing.T, idx int) squic.Dialer {
	return squic.Dialer{
		Log: stest.NewLogger(t),

		BaseTLSConf: ls.TLSConfigs[idx],

		QUICTransport: ls.QTs[idx],

		// Currently always using the default config when creating the set anyway.
		QUICConfig: squic.DefaultConfig(),

		CAPool: ls.Realm.Pool,
	}
}
