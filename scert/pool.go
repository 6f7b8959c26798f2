package scert

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"
)

// ErrCertRemoved is the cause reported when a live connection
// is interrupted because the peer's CA was removed from the pool.
var ErrCertRemoved = errors.New("certificate removed from trusted set")

// Pool is a collection of trusted CA certificates.
// It is safe for concurrent use.
type Pool struct {
	mu  sync.RWMutex
	cas map[string]*x509.Certificate

	// Closed when the CA with the same key leaves the pool.
	removed map[string]chan struct{}

	lazyCertPool func() *x509.CertPool
}

// NewPool returns a new pool that does not contain any trusted certificates yet.
func NewPool() *Pool {
	return NewPoolFromCerts(nil)
}

// NewPoolFromCerts returns a new pool trusting the given certificates.
func NewPoolFromCerts(certs []*x509.Certificate) *Pool {
	p := &Pool{
		cas:     make(map[string]*x509.Certificate, len(certs)),
		removed: make(map[string]chan struct{}),
	}

	for _, cert := range certs {
		p.cas[poolKey(cert)] = cert
	}

	// No lock needed before p escapes.
	p.lockedUpdateLazyCertPool()

	return p
}

func poolKey(cert *x509.Certificate) string {
	return string(cert.Signature)
}

// CertPool returns the current set as an [*x509.CertPool].
// The returned value is shared until p's CA set changes,
// so it must not be modified.
func (p *Pool) CertPool() *x509.CertPool {
	p.mu.RLock()
	f := p.lazyCertPool
	p.mu.RUnlock()
	return f()
}

// Len returns the number of trusted CAs.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cas)
}

// Contains reports whether cert is trusted.
func (p *Pool) Contains(cert *x509.Certificate) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.cas[poolKey(cert)]
	return ok
}

// AddCA adds a single CA certificate to the pool.
// Prefer to use [(*Pool).UpdateCAs].
func (p *Pool) AddCA(cert *x509.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cas[poolKey(cert)] = cert
	p.lockedUpdateLazyCertPool()
}

// RemoveCA removes the given certificate from the pool.
// Prefer to use [(*Pool).UpdateCAs].
func (p *Pool) RemoveCA(cert *x509.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := poolKey(cert)
	delete(p.cas, k)
	p.lockedNotify(k)
	p.lockedUpdateLazyCertPool()
}

// UpdateCAs replaces the entire CA set with the given certs.
// Watchers of any CA missing from certs are notified.
func (p *Pool) UpdateCAs(certs []*x509.Certificate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*x509.Certificate, len(certs))
	for _, cert := range certs {
		next[poolKey(cert)] = cert
	}

	for k := range p.cas {
		if _, ok := next[k]; !ok {
			p.lockedNotify(k)
		}
	}

	p.cas = next
	p.lockedUpdateLazyCertPool()
}

// NotifyRemoval returns a channel that is closed
// when cert is removed from the pool.
// Every call for the same certificate returns the same channel.
//
// NotifyRemoval returns nil if cert is not currently trusted.
func (p *Pool) NotifyRemoval(cert *x509.Certificate) <-chan struct{} {
	k := poolKey(cert)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.cas[k]; !ok {
		return nil
	}

	ch, ok := p.removed[k]
	if !ok {
		ch = make(chan struct{})
		p.removed[k] = ch
	}
	return ch
}

func (p *Pool) lockedNotify(k string) {
	if ch, ok := p.removed[k]; ok {
		close(ch)
		delete(p.removed, k)
	}
}

func (p *Pool) lockedUpdateLazyCertPool() {
	cas := make([]*x509.Certificate, 0, len(p.cas))
	for _, ca := range p.cas {
		cas = append(cas, ca)
	}

	p.lazyCertPool = sync.OnceValue(func() *x509.CertPool {
		cp := x509.NewCertPool()
		for _, ca := range cas {
			cp.AddCert(ca)
		}
		return cp
	})
}

// RootOf returns the root certificate of the first verified chain
// in the given connection state.
func RootOf(s tls.ConnectionState) (*x509.Certificate, error) {
	if len(s.VerifiedChains) == 0 {
		return nil, errors.New("connection state had no verified chains")
	}
	vc := s.VerifiedChains[0]
	if len(vc) < 2 {
		return nil, fmt.Errorf("verified chain too short (%d certificates)", len(vc))
	}
	return vc[len(vc)-1], nil
}

// ServerConfig returns a clone of base configured to require
// client certificates that chain to p.
//
// The pool is consulted on every handshake,
// so later changes to p apply to new connections.
func (p *Pool) ServerConfig(base *tls.Config) *tls.Config {
	if base == nil {
		base = new(tls.Config)
	}
	c := base.Clone()
	c.ClientAuth = tls.RequireAndVerifyClientCert
	c.ClientCAs = p.CertPool()
	c.GetConfigForClient = func(*tls.ClientHelloInfo) (*tls.Config, error) {
		cc := c.Clone()
		cc.GetConfigForClient = nil
		cc.ClientCAs = p.CertPool()
		return cc, nil
	}
	return c
}

// ClientConfig returns a clone of base that verifies servers against p.
func (p *Pool) ClientConfig(base *tls.Config) *tls.Config {
	if base == nil {
		base = new(tls.Config)
	}
	c := base.Clone()
	c.RootCAs = p.CertPool()
	return c
}
