// Package scerttest generates throwaway certificate authorities
// and leaf certificates for tests that need real mutual TLS.
package scerttest

import (
	"bytes"
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CAConfig is the configuration for generating a CA.
type CAConfig struct {
	ValidFor time.Duration

	// Optional subject for the CA template,
	// will use a reasonable default otherwise.
	Subject *pkix.Name
}

// LeafConfig is the configuration for generating a leaf.
type LeafConfig struct {
	ValidFor time.Duration

	// Optional subject for the leaf template.
	// Defaults to a common name of the first DNS name.
	Subject *pkix.Name

	DNSNames []string

	// IP SANs.
	// Defaults to the IPv4 and IPv6 loopback addresses,
	// so that tests can dial 127.0.0.1 or [::1] directly.
	IPAddresses []net.IP
}

// CA is a certificate authority for a test realm.
type CA struct {
	CertPEM []byte
	KeyPEM  []byte

	Cert *x509.Certificate

	PubKey  ed25519.PublicKey
	PrivKey ed25519.PrivateKey
}

// LeafCert is a certificate generated from a [CA].
// This is the certificate an instance presents
// when establishing a TLS connection.
type LeafCert struct {
	CertPEM []byte
	KeyPEM  []byte

	// Public certificate.
	Cert *x509.Certificate

	// Certificate and key ready for a [tls.Config].
	TLSCert tls.Certificate

	PubKey  ed25519.PublicKey
	PrivKey ed25519.PrivateKey
}

// FastConfig returns a config that is intended to be minimally resource intensive,
// making it suitable for heavier use in test.
func FastConfig() CAConfig {
	return CAConfig{
		ValidFor: time.Hour,
	}
}

// GenerateCA generates a new self-signed Ed25519 CA from the given config.
func GenerateCA(cfg CAConfig) (*CA, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	validFor := cfg.ValidFor
	if validFor == 0 {
		validFor = 24 * time.Hour
	}

	name := pkix.Name{
		Organization: []string{"Sandpolis Test Realm"},
		CommonName:   "Test Realm CA",
	}
	if cfg.Subject != nil {
		name = *cfg.Subject
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),

		Subject:   name,
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(validFor),

		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{
			// The CA needs every extended key usage that the leaf certificate will have.
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(nil, template, template, pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	certPEM, keyPEM, err := encodePEM(derBytes, privKey)
	if err != nil {
		return nil, err
	}

	return &CA{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,

		Cert: cert,

		PubKey:  pubKey,
		PrivKey: privKey,
	}, nil
}

// CreateLeafCert generates a new leaf certificate signed by ca.
// The leaf is valid for both server and client authentication.
func (ca *CA) CreateLeafCert(cfg LeafConfig) (*LeafCert, error) {
	if len(cfg.DNSNames) == 0 {
		panic(errors.New("BUG: LeafConfig must contain at least one DNS name"))
	}

	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	validFor := cfg.ValidFor
	if validFor == 0 {
		validFor = 24 * time.Hour
	}

	name := pkix.Name{
		Organization: []string{"Sandpolis Test Instance"},
		CommonName:   cfg.DNSNames[0],
	}
	if cfg.Subject != nil {
		name = *cfg.Subject
	}

	ips := cfg.IPAddresses
	if ips == nil {
		ips = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),
		Subject:      name,
		NotBefore:    time.Now().Add(-15 * time.Second),
		NotAfter:     time.Now().Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		DNSNames:    cfg.DNSNames,
		IPAddresses: ips,

		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	derBytes, err := x509.CreateCertificate(nil, template, ca.Cert, pubKey, ca.PrivKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	certPEM, keyPEM, err := encodePEM(derBytes, privKey)
	if err != nil {
		return nil, err
	}

	return &LeafCert{
		CertPEM: certPEM,
		KeyPEM:  keyPEM,

		Cert: cert,
		TLSCert: tls.Certificate{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  privKey,
			Leaf:        cert,
		},

		PubKey:  pubKey,
		PrivKey: privKey,
	}, nil
}

// TLSConfig returns a minimal config presenting the leaf certificate.
// Trust settings are left for [scert.Pool] to fill in.
func (c *LeafCert) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLSCert},
		MinVersion:   tls.VersionTLS13,
	}
}

func encodePEM(derBytes []byte, privKey ed25519.PrivateKey) (certPEM, keyPEM []byte, err error) {
	var buf bytes.Buffer
	if err := pem.Encode(&buf, &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode certificate: %w", err)
	}
	certPEM = bytes.Clone(buf.Bytes())

	buf.Reset()
	privBytes, err := x509.MarshalPKCS8PrivateKey(privKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := pem.Encode(&buf, &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privBytes,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	keyPEM = buf.Bytes() // Last use of buf.

	return certPEM, keyPEM, nil
}

func randomSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	num, err := crand.Int(crand.Reader, limit)
	if err != nil {
		panic(fmt.Errorf("failed to create random serial: %w", err))
	}

	return num
}
