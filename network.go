package sandpolis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sandpolis/sandpolis/internal/strace"
	"github.com/sandpolis/sandpolis/scert"
	"github.com/sandpolis/sandpolis/sconn"
	"github.com/sandpolis/sandpolis/sinstance"
	"github.com/sandpolis/sandpolis/sping"
	"github.com/sandpolis/sandpolis/sretry"
	"github.com/sandpolis/sandpolis/sstream"
	"github.com/sandpolis/sandpolis/stransport"
)

// DialFunc opens the transport for a server link.
// It returns the server's instance ID when the handshake reveals it,
// or the zero ID otherwise.
type DialFunc func(ctx context.Context, u ServerURL) (stransport.Transport, sinstance.InstanceID, error)

// NetworkLayerConfig is the configuration for [NewNetworkLayer].
type NetworkLayerConfig struct {
	// Identity of this instance, announced during handshakes.
	InstanceID sinstance.InstanceID

	// Servers linked with [*NetworkLayer.ConnectServer] during construction.
	Servers []ServerURL

	// Reconnect policy for servers whose URL has none.
	// Unset means [sretry.Default].
	Retry sretry.Policy

	Strategy ConnectionStrategy

	// Base TLS configuration for outbound links.
	// When Pool is set, the server must chain to one of its CAs.
	TLS  *tls.Config
	Pool *scert.Pool

	// Responder layers installed on every connection.
	Responders []sconn.Registrar

	// Defaults to a WebSocket dial of [ServerURL.WebSocketURL].
	Dial DialFunc

	// Defaults to the real clock.
	Clock clock.Clock

	Stream sstream.RegistryConfig

	// Traces connections and pings.
	// Nil disables tracing.
	TracerProvider strace.TracerProvider
}

// WithFile returns a copy of c with the settings of a loaded file applied.
func (c NetworkLayerConfig) WithFile(nc NetworkConfig) NetworkLayerConfig {
	c.Servers = append(slices.Clone(c.Servers), nc.Servers...)
	if !nc.Retry.IsZero() {
		c.Retry = nc.Retry
	}
	if nc.Strategy.Kind != 0 {
		c.Strategy = nc.Strategy
	}
	return c
}

func (c NetworkLayerConfig) validate() {
	var err error

	if !c.Retry.IsZero() {
		if rErr := c.Retry.Validate(); rErr != nil {
			err = errors.Join(err, fmt.Errorf("NetworkLayerConfig.Retry: %w", rErr))
		}
	}
	if sErr := c.Strategy.Validate(); sErr != nil {
		err = errors.Join(err, fmt.Errorf("NetworkLayerConfig.Strategy: %w", sErr))
	}

	if err != nil {
		panic(fmt.Errorf("BUG: invalid network layer config: %w", err))
	}
}

// NetworkLayer is the directory of an instance's connections.
type NetworkLayer struct {
	log *slog.Logger

	ctx context.Context

	id         sinstance.InstanceID
	retry      sretry.Policy
	strategy   ConnectionStrategy
	tls        *tls.Config
	pool       *scert.Pool
	responders []sconn.Registrar
	dial       DialFunc
	clock      clock.Clock
	stream     sstream.RegistryConfig
	tp         strace.TracerProvider
	tracer     strace.Tracer

	mu    sync.RWMutex
	conns []tracked
	links []*ServerLink

	wg sync.WaitGroup
}

type tracked struct {
	c *sconn.Connection

	// Set for connections owned by a server link.
	link *ServerLink
}

// NewNetworkLayer returns a network layer bound to ctx,
// with links started for every server in cfg.
// Cancel ctx to stop every link and connection,
// then use [*NetworkLayer.Wait] to block until they have finished.
func NewNetworkLayer(ctx context.Context, log *slog.Logger, cfg NetworkLayerConfig) *NetworkLayer {
	cfg.validate()

	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	n := &NetworkLayer{
		log: log,

		ctx: ctx,

		id:         cfg.InstanceID,
		retry:      cfg.Retry.OrDefault(),
		strategy:   cfg.Strategy,
		tls:        cfg.TLS,
		pool:       cfg.Pool,
		responders: cfg.Responders,
		dial:       cfg.Dial,
		clock:      cfg.Clock,
		stream:     cfg.Stream,
		tp:         cfg.TracerProvider,
		tracer:     strace.TracerOrNop(cfg.TracerProvider),
	}
	if n.dial == nil {
		n.dial = n.dialWebSocket
	}

	log.Debug("Initializing network layer", "instance_id", n.id.String(), "servers", len(cfg.Servers))

	for _, u := range cfg.Servers {
		n.ConnectServer(ctx, u)
	}

	return n
}

// Wait blocks until every link and connection has stopped.
// It only returns after the layer's context is canceled.
func (n *NetworkLayer) Wait() {
	n.wg.Wait()
}

// InstanceID returns the identity of this instance.
func (n *NetworkLayer) InstanceID() sinstance.InstanceID {
	return n.id
}

func (n *NetworkLayer) newConnection(
	ctx context.Context, log *slog.Logger, cfg sconn.Config,
) *sconn.Connection {
	cfg.Data.InstanceID = n.id
	cfg.Responders = n.responders
	cfg.Clock = n.clock
	cfg.Stream = n.stream
	cfg.TracerProvider = n.tp
	return sconn.New(ctx, log, cfg)
}

func (n *NetworkLayer) track(c *sconn.Connection, l *ServerLink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conns = append(n.conns, tracked{c: c, link: l})
}

func (n *NetworkLayer) untrack(c *sconn.Connection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conns = slices.DeleteFunc(n.conns, func(t tracked) bool { return t.c == c })
}

// Accept runs an inbound connection over t.
// The remote ID is zero if the peer did not identify itself.
// The connection is tracked until it closes.
func (n *NetworkLayer) Accept(t stransport.Transport, remote sinstance.InstanceID) *sconn.Connection {
	log := n.log.With("dir", "inbound")
	if !remote.IsZero() {
		log = log.With("remote_instance", remote.Short())
	}

	c := n.newConnection(n.ctx, log, sconn.Config{
		Transport: t,
		Data:      sconn.Data{RemoteInstanceID: remote},
	})
	n.track(c, nil)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		c.Wait()
		n.untrack(c)
	}()

	return c
}

// Connections returns a snapshot of the live connections,
// oldest first.
func (n *NetworkLayer) Connections() []*sconn.Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*sconn.Connection, len(n.conns))
	for i, t := range n.conns {
		out[i] = t.c
	}
	return out
}

// Links returns the active server links.
func (n *NetworkLayer) Links() []*ServerLink {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.links)
}

// FindServer returns an open connection to any server,
// or nil if there is none.
// Server links are preferred over inbound connections from servers.
func (n *NetworkLayer) FindServer() *sconn.Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var fallback *sconn.Connection
	for _, t := range n.conns {
		if t.c.State() != sconn.Open {
			continue
		}
		if t.link != nil {
			return t.c
		}
		if fallback == nil && t.c.Data().RemoteInstanceID.IsServer() {
			fallback = t.c
		}
	}
	return fallback
}

// FindInstance returns an open connection directly to the instance,
// or nil if there is none.
func (n *NetworkLayer) FindInstance(id sinstance.InstanceID) *sconn.Connection {
	if id.IsZero() {
		return nil
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, t := range n.conns {
		if t.c.State() == sconn.Open && t.c.Data().RemoteInstanceID == id {
			return t.c
		}
	}
	return nil
}

// Ping measures one round trip to the instance,
// over a direct connection if there is one,
// or otherwise over any server connection.
// It returns [ErrNoConnection] if neither exists.
func (n *NetworkLayer) Ping(ctx context.Context, id sinstance.InstanceID) (time.Duration, error) {
	ctx, span := n.tracer.Start(ctx, "ping", strace.WithAttributes(
		strace.StringerAttr("instance_id", id),
	))
	defer span.End()

	c := n.FindInstance(id)
	if c == nil {
		c = n.FindServer()
	}
	if c == nil {
		err := fmt.Errorf("pinging %s: %w", id.Short(), ErrNoConnection)
		strace.SpanError(span, err)
		return 0, err
	}
	span.SetAttributes(strace.StringAttr("remote", c.Data().RemoteAddr))

	r, err := sping.NewRequester(n.log, c, n.clock)
	if err != nil {
		err = fmt.Errorf("pinging %s: %w", id.Short(), err)
		strace.SpanError(span, err)
		return 0, err
	}
	defer r.Close()

	rtt, err := r.Ping(ctx)
	if err != nil {
		err = fmt.Errorf("pinging %s: %w", id.Short(), err)
		strace.SpanError(span, err)
		return 0, err
	}
	return rtt, nil
}

func (n *NetworkLayer) dialWebSocket(
	ctx context.Context, u ServerURL,
) (stransport.Transport, sinstance.InstanceID, error) {
	var tlsConf *tls.Config
	switch {
	case n.pool != nil:
		tlsConf = n.pool.ClientConfig(n.tls)
	case n.tls != nil:
		tlsConf = n.tls.Clone()
	}

	header := http.Header{}
	header.Set(sinstance.HeaderRealm, u.Realm.OrDefault().String())
	if !n.id.IsZero() {
		header.Set(sinstance.HeaderInstanceID, n.id.String())
	}

	ws, err := stransport.DialWebSocket(ctx, u.WebSocketURL(), tlsConf, header)
	if err != nil {
		return nil, sinstance.InstanceID{}, err
	}

	var remote sinstance.InstanceID
	if h := ws.PeerHeader().Get(sinstance.HeaderInstanceID); h != "" {
		remote, err = sinstance.ParseInstanceID(h)
		if err != nil {
			n.log.Debug("Ignoring malformed server instance ID", "url", u.String(), "err", err)
		}
	}
	return ws, remote, nil
}

// Handler returns an HTTP handler accepting instance connections
// for realm at /<realm>/stream.
//
// Peers announcing another realm, or a malformed instance ID,
// are refused before the upgrade.
func (n *NetworkLayer) Handler(realm sinstance.RealmName) http.Handler {
	realm = realm.OrDefault()

	ws := stransport.NewWebSocketHandler(n.log, func(r *http.Request, t *stransport.WebSocket) {
		// Validated below, before the upgrade.
		remote, _ := parseOptionalInstanceID(r.Header.Get(sinstance.HeaderInstanceID))
		n.Accept(t, remote)
	})
	if !n.id.IsZero() {
		ws.Header = http.Header{}
		ws.Header.Set(sinstance.HeaderInstanceID, n.id.String())
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /"+realm.String()+"/"+StreamPath, func(w http.ResponseWriter, r *http.Request) {
		if h := r.Header.Get(sinstance.HeaderRealm); h != "" && h != realm.String() {
			n.log.Debug("Refusing connection for another realm", "remote", r.RemoteAddr, "realm", h)
			http.Error(w, "unknown realm", http.StatusForbidden)
			return
		}
		if _, err := parseOptionalInstanceID(r.Header.Get(sinstance.HeaderInstanceID)); err != nil {
			n.log.Debug("Refusing connection with malformed instance ID", "remote", r.RemoteAddr, "err", err)
			http.Error(w, "malformed instance ID", http.StatusBadRequest)
			return
		}
		ws.ServeHTTP(w, r)
	})
	return mux
}

func parseOptionalInstanceID(s string) (sinstance.InstanceID, error) {
	if s == "" {
		return sinstance.InstanceID{}, nil
	}
	return sinstance.ParseInstanceID(s)
}
