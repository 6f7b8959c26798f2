package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandpolis/sandpolis"
	"github.com/sandpolis/sandpolis/scert/scerttest"
	"github.com/stretchr/testify/require"
)

// writeRealm writes a CA bundle and two leaf key pairs to a temp dir,
// returning the TLS flags for each leaf.
func writeRealm(t *testing.T) (server, client []string) {
	t.Helper()

	dir := t.TempDir()
	realm := scerttest.NewRealm(t)

	write := func(name string, b []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, b, 0o600))
		return p
	}

	ca := write("ca.pem", realm.CA.CertPEM)
	for i, dst := range []*[]string{&server, &client} {
		leaf := realm.Leaf(t, i)
		*dst = []string{
			"--ca", ca,
			"--cert", write(fmt.Sprintf("leaf%d.pem", i), leaf.CertPEM),
			"--key", write(fmt.Sprintf("leaf%d.key", i), leaf.KeyPEM),
		}
	}
	return server, client
}

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func execute(ctx context.Context, args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestPing_flagErrors(t *testing.T) {
	t.Parallel()

	_, err := execute(context.Background(), "ping", "example.com")
	require.ErrorContains(t, err, "--cert is required")

	_, err = execute(context.Background(), "ping", "http://example.com")
	require.ErrorAs(t, err, new(sandpolis.InvalidServerURLError))

	_, err = execute(context.Background(), "ping")
	require.Error(t, err)

	_, err = execute(context.Background(), "--log-level", "loud", "serve")
	require.ErrorContains(t, err, "--log-level")

	_, err = execute(context.Background(), "serve", "--realm", "X")
	require.Error(t, err)
}

func TestServeAndPing(t *testing.T) {
	t.Parallel()

	serverTLS, clientTLS := writeRealm(t)
	listen := freeAddr(t)
	metrics := freeAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	served := make(chan error, 1)
	go func() {
		_, err := execute(ctx, append([]string{
			"serve", "--listen", listen, "--metrics-listen", metrics, "--realm", "test-realm",
		}, serverTLS...)...)
		served <- err
	}()

	// The link redials quickly until the server is up.
	out, err := execute(context.Background(), append([]string{
		"ping", listen + "/test-realm?type=constant&initial=20",
		"--count", "3", "--interval", "10ms", "--timeout", "5s",
	}, clientTLS...)...)
	require.NoError(t, err)
	require.Contains(t, out, "Connected to https://"+listen+"/test-realm")
	require.Contains(t, out, "3 sent, 3 received, 0 lost")

	resp, err := http.Get("http://" + metrics + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), "sandpolis_connection_count")

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
