package scerttest

import (
	"crypto/x509"
	"fmt"
	"testing"

	"github.com/sandpolis/sandpolis/scert"
	"github.com/stretchr/testify/require"
)

// Realm is a test CA with a pool that trusts it.
// Leaves issued from the same Realm can authenticate each other.
type Realm struct {
	CA   *CA
	Pool *scert.Pool
}

// NewRealm generates a fresh CA and a pool trusting only that CA.
func NewRealm(t *testing.T) *Realm {
	t.Helper()

	ca, err := GenerateCA(FastConfig())
	require.NoError(t, err)

	return &Realm{
		CA:   ca,
		Pool: scert.NewPoolFromCerts([]*x509.Certificate{ca.Cert}),
	}
}

// Leaf issues a leaf certificate for the numbered test instance.
func (r *Realm) Leaf(t *testing.T, idx int) *LeafCert {
	t.Helper()

	leaf, err := r.CA.CreateLeafCert(LeafConfig{
		DNSNames: []string{fmt.Sprintf("instance%02d.sandpolis.test", idx)},
	})
	require.NoError(t, err)
	return leaf
}
