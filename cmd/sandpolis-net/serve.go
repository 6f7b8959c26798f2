package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sandpolis/sandpolis"
	"github.com/sandpolis/sandpolis/sconn"
	"github.com/sandpolis/sandpolis/sinstance"
	"github.com/sandpolis/sandpolis/sping"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveFlags struct {
	Listen        string
	MetricsListen string
	Realm         string
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept instance connections and answer pings",
		Args:  cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rf, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.Listen, "listen", net.JoinHostPort("", fmt.Sprint(sandpolis.DefaultPort)), "address for instance connections")
	fs.StringVar(&f.MetricsListen, "metrics-listen", "", "address for the Prometheus /metrics endpoint; empty disables it")
	fs.StringVar(&f.Realm, "realm", sinstance.DefaultRealm.String(), "realm served at /<realm>/stream")

	return cmd
}

func runServe(ctx context.Context, rf *rootFlags, f serveFlags) error {
	log, err := rf.logger()
	if err != nil {
		return err
	}

	realm, err := sinstance.ParseRealmName(f.Realm)
	if err != nil {
		return err
	}

	tlsConf, pool, err := rf.loadTLS()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	id := sinstance.NewServerID()
	n := sandpolis.NewNetworkLayer(ctx, log, sandpolis.NetworkLayerConfig{
		InstanceID: id,
		Responders: []sconn.Registrar{sping.Registrar},
	})
	defer n.Wait()
	defer cancel()

	srv := &http.Server{
		Addr:      f.Listen,
		Handler:   n.Handler(realm),
		TLSConfig: pool.ServerConfig(tlsConf),

		ReadHeaderTimeout: 10 * time.Second,
	}

	servers := []*http.Server{srv}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Accepting instance connections", "addr", f.Listen, "realm", realm, "instance_id", id.String())
		// Certificates come from TLSConfig.
		if err := srv.ListenAndServeTLS("", ""); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("instance listener failed: %w", err)
		}
		return nil
	})

	if f.MetricsListen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			sconn.NewCollector("sandpolis", n.Connections),
		)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		msrv := &http.Server{
			Addr:    f.MetricsListen,
			Handler: mux,

			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, msrv)

		g.Go(func() error {
			log.Info("Serving metrics", "addr", f.MetricsListen)
			if err := msrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("Shutting down", "cause", context.Cause(gCtx))

		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()

		var err error
		for _, s := range servers {
			err = errors.Join(err, s.Shutdown(sctx))
		}
		return err
	})

	return g.Wait()
}
