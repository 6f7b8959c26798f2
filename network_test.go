package sandpolis_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandpolis/sandpolis"
	"github.com/sandpolis/sandpolis/internal/stest"
	"github.com/sandpolis/sandpolis/scert/scerttest"
	"github.com/sandpolis/sandpolis/sconn"
	"github.com/sandpolis/sandpolis/sinstance"
	"github.com/sandpolis/sandpolis/sping"
	"github.com/sandpolis/sandpolis/spubsub"
	"github.com/sandpolis/sandpolis/sretry"
	"github.com/sandpolis/sandpolis/stransport"
	"github.com/sandpolis/sandpolis/stransport/stransporttest"
	"github.com/stretchr/testify/require"
)

// nextConn waits for the next connection a link publishes.
func nextConn(
	t *testing.T, s *spubsub.Stream[*sconn.Connection],
) (*sconn.Connection, *spubsub.Stream[*sconn.Connection]) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, next, err := spubsub.Await(ctx, s, func(*sconn.Connection) bool { return true })
	require.NoError(t, err)
	return c, next
}

func awaitState(t *testing.T, c *sconn.Connection, want sconn.State) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := spubsub.Await(ctx, c.States(), func(s sconn.State) bool { return s == want })
	require.NoError(t, err)
}

// pipeServer returns a server layer and a dial function
// connecting to it over in-memory pipes.
func pipeServer(t *testing.T, ctx context.Context, clientID sinstance.InstanceID) (
	*sandpolis.NetworkLayer, sandpolis.DialFunc,
) {
	t.Helper()

	serverID := sinstance.NewServerID()
	srv := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t).With("side", "server"), sandpolis.NetworkLayerConfig{
		InstanceID: serverID,
		Responders: []sconn.Registrar{sping.Registrar},
	})
	t.Cleanup(srv.Wait)

	dial := func(context.Context, sandpolis.ServerURL) (stransport.Transport, sinstance.InstanceID, error) {
		a, b := stransporttest.Pipe(8)
		srv.Accept(b, clientID)
		return a, serverID, nil
	}
	return srv, dial
}

func TestNetworkLayer_pingWithoutConnection(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t), sandpolis.NetworkLayerConfig{})
	defer n.Wait()
	defer cancel()

	_, err := n.Ping(ctx, sinstance.NewServerID())
	require.ErrorIs(t, err, sandpolis.ErrNoConnection)

	require.Nil(t, n.FindServer())
	require.Nil(t, n.FindInstance(sinstance.NewInstanceID(sinstance.Agent)))
	require.Empty(t, n.Connections())
}

func TestNetworkLayer_webSocket(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	realm := scerttest.NewRealm(t)

	serverID := sinstance.NewServerID()
	srvLayer := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t).With("side", "server"), sandpolis.NetworkLayerConfig{
		InstanceID: serverID,
		Responders: []sconn.Registrar{sping.Registrar},
	})
	defer srvLayer.Wait()

	srv := httptest.NewUnstartedServer(srvLayer.Handler(sinstance.DefaultRealm))
	srv.TLS = realm.Pool.ServerConfig(realm.Leaf(t, 0).TLSConfig())
	srv.StartTLS()
	defer srv.Close()
	defer cancel()

	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.ParseUint(port, 10, 16)
	require.NoError(t, err)

	clientID := sinstance.NewInstanceID(sinstance.Agent)
	client := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t).With("side", "client"), sandpolis.NetworkLayerConfig{
		InstanceID: clientID,
		Servers: []sandpolis.ServerURL{
			{Host: "127.0.0.1", Port: uint16(p), Retry: sretry.Constant(10 * time.Millisecond)},
		},
		TLS:        realm.Leaf(t, 1).TLSConfig(),
		Pool:       realm.Pool,
		Responders: []sconn.Registrar{sping.Registrar},
	})
	defer client.Wait()
	defer cancel()

	links := client.Links()
	require.Len(t, links, 1)

	c, _ := nextConn(t, links[0].Connections())
	awaitState(t, c, sconn.Open)

	// The handshake exchanged instance IDs.
	require.Equal(t, serverID, c.Data().RemoteInstanceID)
	require.Same(t, c, client.FindServer())
	require.Same(t, c, client.FindInstance(serverID))

	rtt, err := client.Ping(ctx, serverID)
	require.NoError(t, err)
	require.Positive(t, rtt)

	// And in the other direction.
	require.Eventually(t, func() bool {
		return srvLayer.FindInstance(clientID) != nil
	}, 2*time.Second, 5*time.Millisecond)
	_, err = srvLayer.Ping(ctx, clientID)
	require.NoError(t, err)

	// The server is not itself connected to a server.
	require.Nil(t, srvLayer.FindServer())
}

func TestNetworkLayer_reconnectsAfterLoss(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientID := sinstance.NewInstanceID(sinstance.Client)
	srv, dial := pipeServer(t, ctx, clientID)

	client := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t), sandpolis.NetworkLayerConfig{
		InstanceID: clientID,
		Retry:      sretry.Constant(time.Millisecond),
		Dial:       dial,
	})
	defer client.Wait()
	defer cancel()

	l := client.ConnectServer(ctx, sandpolis.MustParseServerURL("example.com"))

	first, next := nextConn(t, l.Connections())
	awaitState(t, first, sconn.Open)

	require.Eventually(t, func() bool { return len(srv.Connections()) == 1 }, time.Second, 5*time.Millisecond)
	srv.Connections()[0].Close()

	stest.ReceiveSoon(t, first.Done())
	require.ErrorIs(t, first.Err(), sconn.ErrPeerClosed)

	second, _ := nextConn(t, next)
	require.NotSame(t, first, second)
	awaitState(t, second, sconn.Open)
	require.Equal(t, 2, l.Attempts())
	require.Same(t, second, l.Current())

	// The lost connection is no longer tracked.
	require.Eventually(t, func() bool {
		conns := client.Connections()
		return len(conns) == 1 && conns[0] == second
	}, time.Second, 5*time.Millisecond)
}

func TestNetworkLayer_retriesFailedDials(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientID := sinstance.NewInstanceID(sinstance.Agent)
	_, dial := pipeServer(t, ctx, clientID)

	var calls atomic.Int32
	flaky := func(ctx context.Context, u sandpolis.ServerURL) (stransport.Transport, sinstance.InstanceID, error) {
		if calls.Add(1) <= 2 {
			return nil, sinstance.InstanceID{}, errors.New("connection refused")
		}
		return dial(ctx, u)
	}

	client := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t), sandpolis.NetworkLayerConfig{
		InstanceID: clientID,
		Dial:       flaky,
	})
	defer client.Wait()
	defer cancel()

	// The URL's policy overrides the layer's default of four seconds.
	l := client.ConnectServer(ctx, sandpolis.MustParseServerURL("example.com?type=constant&initial=1"))

	s := l.Connections()
	var c *sconn.Connection
	for range 3 {
		c, s = nextConn(t, s)
	}
	awaitState(t, c, sconn.Open)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, 3, l.Attempts())
	require.NotNil(t, client.FindServer())
}

func TestNetworkLayer_polling(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientID := sinstance.NewInstanceID(sinstance.Agent)
	_, dial := pipeServer(t, ctx, clientID)

	client := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t), sandpolis.NetworkLayerConfig{
		InstanceID: clientID,
		Strategy:   sandpolis.PollingStrategy(10*time.Millisecond, 30*time.Millisecond),
		Dial:       dial,
	})
	defer client.Wait()
	defer cancel()

	l := client.ConnectServer(ctx, sandpolis.MustParseServerURL("example.com"))

	first, next := nextConn(t, l.Connections())
	awaitState(t, first, sconn.Open)

	// An active stream keeps the poll open past its timeout.
	r, err := sping.NewRequester(stest.NewLogger(t), first, nil)
	require.NoError(t, err)
	_, err = r.Ping(ctx)
	require.NoError(t, err)
	stest.NotSending(t, first.Done())
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, sconn.Open, first.State())

	r.Close()
	stest.ReceiveSoon(t, first.Done())
	require.ErrorIs(t, first.Err(), sconn.ErrClosed)

	second, _ := nextConn(t, next)
	awaitState(t, second, sconn.Open)
}

func TestServerLink_Close(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientID := sinstance.NewInstanceID(sinstance.Agent)
	_, dial := pipeServer(t, ctx, clientID)

	client := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t), sandpolis.NetworkLayerConfig{
		InstanceID: clientID,
		Dial:       dial,
	})
	defer client.Wait()
	defer cancel()

	l := client.ConnectServer(ctx, sandpolis.MustParseServerURL("example.com"))
	c, _ := nextConn(t, l.Connections())
	awaitState(t, c, sconn.Open)

	l.Close()
	stest.ReceiveSoon(t, l.Done())
	require.ErrorIs(t, c.Err(), sandpolis.ErrLinkClosed)
	require.Nil(t, l.Current())
	require.Empty(t, client.Links())
	require.Empty(t, client.Connections())
}

func TestNetworkLayer_cancelStopsEverything(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientID := sinstance.NewInstanceID(sinstance.Agent)
	srv, dial := pipeServer(t, ctx, clientID)

	client := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t), sandpolis.NetworkLayerConfig{
		InstanceID: clientID,
		Servers:    []sandpolis.ServerURL{sandpolis.MustParseServerURL("example.com")},
		Dial:       dial,
	})

	c, _ := nextConn(t, client.Links()[0].Connections())
	awaitState(t, c, sconn.Open)

	cancel()

	done := make(chan struct{})
	go func() {
		client.Wait()
		srv.Wait()
		close(done)
	}()
	stest.ReceiveSoon(t, done)

	require.ErrorIs(t, c.Err(), context.Canceled)
	require.Empty(t, client.Connections())
	require.Empty(t, srv.Connections())
}

func TestNetworkLayer_Handler(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := sandpolis.NewNetworkLayer(ctx, stest.NewLogger(t), sandpolis.NetworkLayerConfig{
		InstanceID: sinstance.NewServerID(),
	})
	defer n.Wait()
	defer cancel()

	h := n.Handler("my-realm")

	for _, tc := range []struct {
		name   string
		path   string
		header http.Header
		want   int
	}{
		{"other realm path", "/default/stream", nil, http.StatusNotFound},
		{"other realm header", "/my-realm/stream", http.Header{"X-Realm": {"default"}}, http.StatusForbidden},
		{"malformed id", "/my-realm/stream", http.Header{"X-Instance-Id": {"nope"}}, http.StatusBadRequest},
		// Passes the checks, then fails the upgrade for lack of WebSocket headers.
		{"not a websocket", "/my-realm/stream", http.Header{"X-Realm": {"my-realm"}}, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			for k, v := range tc.header {
				req.Header[k] = v
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}

	require.Empty(t, n.Connections())
}

func TestNetworkLayerConfig_WithFile(t *testing.T) {
	t.Parallel()

	base := sandpolis.NetworkLayerConfig{
		Servers: []sandpolis.ServerURL{sandpolis.MustParseServerURL("a.example.com")},
		Retry:   sretry.Constant(time.Second),
	}

	got := base.WithFile(sandpolis.NetworkConfig{
		Servers:  []sandpolis.ServerURL{sandpolis.MustParseServerURL("b.example.com")},
		Strategy: sandpolis.PollingStrategy(time.Minute, time.Second),
	})

	require.Len(t, got.Servers, 2)
	require.Len(t, base.Servers, 1)
	require.Equal(t, sretry.Constant(time.Second), got.Retry)
	require.Equal(t, sandpolis.PollingStrategy(time.Minute, time.Second), got.Strategy)
}
