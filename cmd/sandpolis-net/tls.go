package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/sandpolis/sandpolis/scert"
)

// loadTLS reads the certificate, key and CA bundle named by the flags.
func (f *rootFlags) loadTLS() (*tls.Config, *scert.Pool, error) {
	var err error
	if f.CertFile == "" {
		err = errors.Join(err, errors.New("--cert is required"))
	}
	if f.KeyFile == "" {
		err = errors.Join(err, errors.New("--key is required"))
	}
	if f.CAFile == "" {
		err = errors.Join(err, errors.New("--ca is required"))
	}
	if err != nil {
		return nil, nil, err
	}

	cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	cas, err := readCerts(f.CAFile)
	if err != nil {
		return nil, nil, err
	}

	conf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	return conf, scert.NewPoolFromCerts(cas), nil
}

func readCerts(path string) ([]*x509.Certificate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}

	var out []*x509.Certificate
	for {
		var block *pem.Block
		block, b = pem.Decode(b)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CA certificate in %s: %w", path, err)
		}
		out = append(out, c)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return out, nil
}
