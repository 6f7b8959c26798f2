package sandpolis_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sandpolis/sandpolis"
	"github.com/sandpolis/sandpolis/sretry"
	"github.com/stretchr/testify/require"
)

func TestParseNetworkConfig(t *testing.T) {
	t.Parallel()

	c, err := sandpolis.ParseNetworkConfig([]byte(`
servers:
  - example.com
  - https://backup.example.com:9000/my-realm?type=constant&initial=1000
retry: type=exponential&initial=500&constant=2&limit=60000
strategy:
  kind: polling
  interval: 5m
  timeout: 30s
`))
	require.NoError(t, err)

	require.Equal(t, sandpolis.NetworkConfig{
		Servers: []sandpolis.ServerURL{
			{Host: "example.com", Port: 8768, Realm: "default"},
			{
				Host: "backup.example.com", Port: 9000, Realm: "my-realm",
				Retry: sretry.Constant(time.Second),
			},
		},
		Retry:    sretry.Exponential(500*time.Millisecond, 2, time.Minute),
		Strategy: sandpolis.PollingStrategy(5*time.Minute, 30*time.Second),
	}, c)
}

func TestParseNetworkConfig_defaults(t *testing.T) {
	t.Parallel()

	c, err := sandpolis.ParseNetworkConfig(nil)
	require.NoError(t, err)
	require.Empty(t, c.Servers)
	require.True(t, c.Retry.IsZero())
	require.NoError(t, c.Strategy.Validate())

	c, err = sandpolis.ParseNetworkConfig([]byte("servers: [localhost]\n"))
	require.NoError(t, err)
	require.Len(t, c.Servers, 1)
	require.True(t, c.Servers[0].IsLocalhost())
}

func TestParseNetworkConfig_invalid(t *testing.T) {
	t.Parallel()

	for name, doc := range map[string]string{
		"unknown field":    "serverz: []\n",
		"bad url":          "servers: [http://example.com]\n",
		"bad retry":        "retry: type=exponential&initial=100\n",
		"bad strategy":     "strategy: {kind: sometimes}\n",
		"polling no timer": "strategy: {kind: polling}\n",
		"continuous timer": "strategy: {kind: continuous, interval: 1m}\n",
		"duplicate server": "servers: [example.com, 'https://example.com:8768']\n",
	} {
		_, err := sandpolis.ParseNetworkConfig([]byte(doc))
		require.Error(t, err, name)
	}
}

func TestNetworkConfig_marshalRoundTrip(t *testing.T) {
	t.Parallel()

	in := sandpolis.NetworkConfig{
		Servers: []sandpolis.ServerURL{
			sandpolis.MustParseServerURL("example.com:9000/my-realm"),
		},
		Retry:    sretry.Constant(2 * time.Second),
		Strategy: sandpolis.PollingStrategy(time.Hour, time.Minute),
	}

	b, err := in.Marshal()
	require.NoError(t, err)

	out, err := sandpolis.ParseNetworkConfig(b)
	require.NoError(t, err)
	require.Equal(t, in, out)

	// Unset values are left out.
	b, err = sandpolis.NetworkConfig{}.Marshal()
	require.NoError(t, err)
	require.Equal(t, "servers: []\n", string(b))
}

func TestLoadNetworkConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "network.yml")
	require.NoError(t, os.WriteFile(path, []byte("servers: [example.com]\n"), 0o600))

	c, err := sandpolis.LoadNetworkConfig(path)
	require.NoError(t, err)
	require.Equal(t, []sandpolis.ServerURL{{Host: "example.com", Port: 8768, Realm: "default"}}, c.Servers)

	_, err = sandpolis.LoadNetworkConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
