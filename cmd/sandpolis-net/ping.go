package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sandpolis/sandpolis"
	"github.com/sandpolis/sandpolis/sconn"
	"github.com/sandpolis/sandpolis/sinstance"
	"github.com/sandpolis/sandpolis/sping"
	"github.com/sandpolis/sandpolis/spubsub"
	"github.com/spf13/cobra"
)

type pingFlags struct {
	Count    int
	Interval time.Duration
	Timeout  time.Duration
	Config   string
}

func newPingCmd(rf *rootFlags) *cobra.Command {
	var f pingFlags

	cmd := &cobra.Command{
		Use:   "ping SERVER_URL",
		Short: "Connect to a server and measure round trips",
		Long: `Connect to a server and measure round trips.

SERVER_URL has the form [https://]host[:port][/realm][?retry-query],
for example "example.com:9000/my-realm?type=exponential&initial=500&constant=2".
The connection is redialed according to the retry policy until it opens
or --timeout passes.`,
		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := sandpolis.ParseServerURL(args[0])
			if err != nil {
				return err
			}
			return runPing(cmd, rf, f, u)
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&f.Count, "count", "c", 5, "number of pings")
	fs.DurationVarP(&f.Interval, "interval", "i", time.Second, "time between pings")
	fs.DurationVar(&f.Timeout, "timeout", 30*time.Second, "how long to wait for the connection to open")
	fs.StringVar(&f.Config, "config", "", "YAML network config supplying the default retry policy")

	return cmd
}

func runPing(cmd *cobra.Command, rf *rootFlags, f pingFlags, u sandpolis.ServerURL) error {
	if f.Count < 1 {
		return fmt.Errorf("--count must be positive (got %d)", f.Count)
	}
	if f.Interval <= 0 {
		return fmt.Errorf("--interval must be positive (got %s)", f.Interval)
	}

	log, err := rf.logger()
	if err != nil {
		return err
	}

	tlsConf, pool, err := rf.loadTLS()
	if err != nil {
		return err
	}

	cfg := sandpolis.NetworkLayerConfig{
		InstanceID: sinstance.NewInstanceID(sinstance.Client),
		TLS:        tlsConf,
		Pool:       pool,
		Responders: []sconn.Registrar{sping.Registrar},
	}
	if f.Config != "" {
		nc, err := sandpolis.LoadNetworkConfig(f.Config)
		if err != nil {
			return err
		}
		// Only the retry policy applies; the server comes from the argument.
		nc.Servers = nil
		nc.Strategy = sandpolis.ConnectionStrategy{}
		cfg = cfg.WithFile(nc)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	n := sandpolis.NewNetworkLayer(ctx, log, cfg)
	defer n.Wait()
	defer cancel()

	l := n.ConnectServer(ctx, u)

	c, err := awaitOpen(ctx, l, f.Timeout)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", u, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s (%s)\n", u, c.Data().RemoteAddr)

	s, err := sping.Run(ctx, log, c, f.Count, f.Interval)
	fmt.Fprintln(out, s)
	return err
}

// awaitOpen waits for the first of the link's connections to open.
func awaitOpen(ctx context.Context, l *sandpolis.ServerLink, timeout time.Duration) (*sconn.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conns := l.Connections()
	for {
		c, next, err := spubsub.Await(ctx, conns, func(*sconn.Connection) bool { return true })
		if err != nil {
			return nil, err
		}
		conns = next

		s, _, err := spubsub.Await(ctx, c.States(), func(s sconn.State) bool {
			return s == sconn.Open || s == sconn.Closed
		})
		if err != nil {
			return nil, err
		}
		if s == sconn.Open {
			return c, nil
		}
	}
}
