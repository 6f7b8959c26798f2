// Command sandpolis-net runs and probes Sandpolis instance connections.
//
// The serve subcommand accepts instance connections over WebSocket
// and answers pings; the ping subcommand links to a server and measures
// round trips.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	LogLevel string

	// Mutual TLS material, shared by every subcommand.
	CertFile, KeyFile, CAFile string
}

func newRootCmd() *cobra.Command {
	var f rootFlags

	root := &cobra.Command{
		Use:   "sandpolis-net",
		Short: "Run and probe Sandpolis instance connections",

		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.LogLevel, "log-level", "info", "log level: debug|info|warn|error")
	pf.StringVar(&f.CertFile, "cert", "", "PEM certificate presented to peers")
	pf.StringVar(&f.KeyFile, "key", "", "PEM private key for --cert")
	pf.StringVar(&f.CAFile, "ca", "", "PEM bundle of realm CAs that peers must chain to")

	root.AddCommand(newServeCmd(&f), newPingCmd(&f))
	return root
}

// logger builds the process logger from the --log-level flag.
func (f *rootFlags) logger() (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(f.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
