package stransport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultWriteTimeout bounds a single write on a [WebSocket].
const DefaultWriteTimeout = 10 * time.Second

// DefaultReadLimit is the largest message a [WebSocket] accepts.
// A larger message fails the read with [websocket.ErrReadLimit].
const DefaultReadLimit = 16 << 20

// DefaultHandshakeTimeout bounds the opening handshake in [DialWebSocket].
const DefaultHandshakeTimeout = 10 * time.Second

// WebSocket is a [Transport] over a gorilla WebSocket connection.
type WebSocket struct {
	conn *websocket.Conn

	// Handshake headers from the other side.
	peerHeader http.Header

	writeTimeout time.Duration
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	conn.SetReadLimit(DefaultReadLimit)
	return &WebSocket{
		conn: conn,

		writeTimeout: DefaultWriteTimeout,
	}
}

// SetReadLimit replaces [DefaultReadLimit] for later reads.
func (w *WebSocket) SetReadLimit(n int64) {
	w.conn.SetReadLimit(n)
}

// ReadMessage implements [Transport].
//
// Ping and pong frames are answered by the WebSocket library itself,
// so ReadMessage only returns binary and text messages.
func (w *WebSocket) ReadMessage() (Message, error) {
	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Message{}, io.EOF
		}
		return Message{}, err
	}

	switch mt {
	case websocket.BinaryMessage:
		return Message{Type: Binary, Data: data}, nil
	case websocket.TextMessage:
		return Message{Type: Text, Data: data}, nil
	default:
		panic(fmt.Errorf("IMPOSSIBLE: data message of type %d", mt))
	}
}

// WriteMessage implements [Transport].
func (w *WebSocket) WriteMessage(m Message) error {
	deadline := time.Now().Add(w.writeTimeout)

	switch m.Type {
	case Binary:
		if err := w.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return w.conn.WriteMessage(websocket.BinaryMessage, m.Data)
	case Text:
		if err := w.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return w.conn.WriteMessage(websocket.TextMessage, m.Data)
	case Ping:
		return w.conn.WriteControl(websocket.PingMessage, m.Data, deadline)
	case Pong:
		return w.conn.WriteControl(websocket.PongMessage, m.Data, deadline)
	case Close:
		return w.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(m.Data)),
			deadline,
		)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMessage, m.Type)
	}
}

// Close implements [Transport].
// It closes the underlying network connection without a close frame;
// write a [Close] message first for an orderly shutdown.
func (w *WebSocket) Close() error {
	return w.conn.Close()
}

func (w *WebSocket) LocalAddr() net.Addr  { return w.conn.LocalAddr() }
func (w *WebSocket) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }

// PeerHeader returns the handshake headers sent by the other side:
// the request headers on an accepted connection,
// or the response headers on a dialed one.
// It returns nil for a connection wrapped with [NewWebSocket].
func (w *WebSocket) PeerHeader() http.Header {
	return w.peerHeader
}

// TLSConnectionState returns the TLS state of the underlying connection,
// and false if the connection is not TLS.
func (w *WebSocket) TLSConnectionState() (tls.ConnectionState, bool) {
	tc, ok := w.conn.NetConn().(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

// DialWebSocket opens a WebSocket connection to url.
// A nil tlsConf uses the system defaults for wss URLs.
func DialWebSocket(
	ctx context.Context, url string, tlsConf *tls.Config, header http.Header,
) (*WebSocket, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: DefaultHandshakeTimeout,
		TLSClientConfig:  tlsConf,
	}

	conn, resp, err := d.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	ws := NewWebSocket(conn)
	if resp != nil {
		ws.peerHeader = resp.Header
	}
	return ws, nil
}

// WebSocketHandler is an [http.Handler] that upgrades requests to WebSockets
// and passes each resulting transport to Accept.
type WebSocketHandler struct {
	log *slog.Logger

	upgrader websocket.Upgrader

	accept func(*http.Request, *WebSocket)

	// Header is sent with every upgrade response.
	// Set it before serving.
	Header http.Header
}

// NewWebSocketHandler returns a handler calling accept for every upgraded connection.
// Accept runs on the request goroutine and owns the transport;
// it may return before the connection ends.
func NewWebSocketHandler(log *slog.Logger, accept func(*http.Request, *WebSocket)) *WebSocketHandler {
	return &WebSocketHandler{
		log: log,

		upgrader: websocket.Upgrader{
			HandshakeTimeout: DefaultHandshakeTimeout,

			// Instances are not browsers;
			// authentication is mutual TLS, not origin checks.
			CheckOrigin: func(*http.Request) bool { return true },
		},

		accept: accept,
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, h.Header)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.log.Debug("Failed to upgrade WebSocket connection", "remote", r.RemoteAddr, "err", err)
		return
	}

	h.log.Debug("Upgraded WebSocket connection", "remote", r.RemoteAddr, "path", r.URL.Path)
	ws := NewWebSocket(conn)
	ws.peerHeader = r.Header
	h.accept(r, ws)
}
