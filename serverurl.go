package sandpolis

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/sandpolis/sandpolis/sinstance"
	"github.com/sandpolis/sandpolis/sretry"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the registered Sandpolis server port.
const DefaultPort uint16 = 8768

// StreamPath is the path under the realm where servers accept instance connections.
const StreamPath = "stream"

// ServerURL locates a server instance, in the form
//
//	[https://]host[:port][/realm][?retry-query]
//
// Everything but the host may be omitted,
// so "example.com" is the same as "https://example.com:8768/default".
type ServerURL struct {
	Host  string
	Port  uint16
	Realm sinstance.RealmName

	// Retry is the reconnect policy for this server.
	// It is unset when the URL has no query,
	// in which case the network layer's default applies.
	Retry sretry.Policy
}

// ParseServerURL parses s.
// A scheme other than https is rejected.
func ParseServerURL(s string) (ServerURL, error) {
	raw := s
	if !strings.Contains(s, "://") {
		raw = "https://" + s
	}

	u, err := url.Parse(raw)
	if err != nil {
		return ServerURL{}, InvalidServerURLError{URL: s, Reason: "malformed", Err: err}
	}

	if u.Scheme != "https" {
		return ServerURL{}, InvalidServerURLError{URL: s, Reason: "scheme must be https"}
	}
	if u.User != nil {
		return ServerURL{}, InvalidServerURLError{URL: s, Reason: "user info is not allowed"}
	}
	if u.Fragment != "" {
		return ServerURL{}, InvalidServerURLError{URL: s, Reason: "fragment is not allowed"}
	}

	out := ServerURL{
		Host: u.Hostname(),
		Port: DefaultPort,
	}
	if out.Host == "" {
		return ServerURL{}, InvalidServerURLError{URL: s, Reason: "missing host"}
	}

	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil || port == 0 {
			return ServerURL{}, InvalidServerURLError{URL: s, Reason: "invalid port", Err: err}
		}
		out.Port = uint16(port)
	}

	if path := strings.Trim(u.Path, "/"); path != "" {
		out.Realm, err = sinstance.ParseRealmName(path)
		if err != nil {
			return ServerURL{}, InvalidServerURLError{URL: s, Reason: "invalid realm", Err: err}
		}
	} else {
		out.Realm = sinstance.DefaultRealm
	}

	if u.RawQuery != "" {
		out.Retry, err = sretry.FromValues(u.Query())
		if err != nil {
			return ServerURL{}, InvalidServerURLError{URL: s, Reason: "invalid retry policy", Err: err}
		}
	}

	return out, nil
}

// MustParseServerURL is like [ParseServerURL] but panics on error.
func MustParseServerURL(s string) ServerURL {
	u, err := ParseServerURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String formats u with default values omitted.
func (u ServerURL) String() string {
	var b strings.Builder
	b.WriteString("https://")

	if u.Port == 0 || u.Port == DefaultPort {
		if strings.Contains(u.Host, ":") {
			b.WriteString("[" + u.Host + "]")
		} else {
			b.WriteString(u.Host)
		}
	} else {
		b.WriteString(net.JoinHostPort(u.Host, strconv.Itoa(int(u.Port))))
	}

	if r := u.Realm.OrDefault(); r != sinstance.DefaultRealm {
		b.WriteString("/")
		b.WriteString(r.String())
	}

	if !u.Retry.IsZero() && u.Retry != sretry.Default() {
		b.WriteString("?")
		b.WriteString(u.Retry.Query())
	}

	return b.String()
}

// Address returns the host and port joined for dialing.
func (u ServerURL) Address() string {
	port := u.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(u.Host, strconv.Itoa(int(port)))
}

// WebSocketURL returns the URL of the server's stream endpoint.
func (u ServerURL) WebSocketURL() string {
	return "wss://" + u.Address() + "/" + u.Realm.OrDefault().String() + "/" + StreamPath
}

// IsLocalhost reports whether u refers to the local machine.
func (u ServerURL) IsLocalhost() bool {
	if strings.EqualFold(u.Host, "localhost") {
		return true
	}
	a, err := netip.ParseAddr(u.Host)
	return err == nil && a.IsLoopback()
}

// Resolve looks up the host and returns its socket addresses.
func (u ServerURL) Resolve(ctx context.Context) ([]netip.AddrPort, error) {
	port := u.Port
	if port == 0 {
		port = DefaultPort
	}

	if a, err := netip.ParseAddr(u.Host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(a, port)}, nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", u.Host, err)
	}

	out := make([]netip.AddrPort, len(addrs))
	for i, a := range addrs {
		out[i] = netip.AddrPortFrom(a.Unmap(), port)
	}
	return out, nil
}

func (u ServerURL) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *ServerURL) UnmarshalText(text []byte) error {
	v, err := ParseServerURL(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

func (u ServerURL) MarshalYAML() (any, error) {
	return u.String(), nil
}

func (u *ServerURL) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("line %d: server URL must be a string: %w", n.Line, err)
	}
	if err := u.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	return nil
}
