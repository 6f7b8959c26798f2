package scert_test

import (
	"crypto/x509"
	"testing"

	"github.com/sandpolis/sandpolis/internal/stest"
	"github.com/sandpolis/sandpolis/scert"
	"github.com/sandpolis/sandpolis/scert/scerttest"
	"github.com/stretchr/testify/require"
)

func TestPool_NotifyRemoval(t *testing.T) {
	t.Parallel()

	ca1, err := scerttest.GenerateCA(scerttest.FastConfig())
	require.NoError(t, err)

	ca2, err := scerttest.GenerateCA(scerttest.FastConfig())
	require.NoError(t, err)

	t.Run("returns nil for unrecognized certificate", func(t *testing.T) {
		t.Parallel()

		p := scert.NewPoolFromCerts([]*x509.Certificate{ca1.Cert})
		require.Nil(t, p.NotifyRemoval(ca2.Cert))
	})

	t.Run("notifies channel only when missing from updated set", func(t *testing.T) {
		t.Parallel()

		p := scert.NewPoolFromCerts([]*x509.Certificate{ca1.Cert})
		ch := p.NotifyRemoval(ca1.Cert)
		require.NotNil(t, ch)

		p.UpdateCAs([]*x509.Certificate{ca1.Cert, ca2.Cert})
		stest.NotSending(t, ch)

		p.UpdateCAs([]*x509.Certificate{ca2.Cert})
		stest.IsSending(t, ch)

		require.False(t, p.Contains(ca1.Cert))
		require.True(t, p.Contains(ca2.Cert))
	})

	t.Run("RemoveCA notifies", func(t *testing.T) {
		t.Parallel()

		p := scert.NewPoolFromCerts([]*x509.Certificate{ca1.Cert, ca2.Cert})
		ch := p.NotifyRemoval(ca2.Cert)

		p.RemoveCA(ca2.Cert)
		stest.IsSending(t, ch)
		require.Equal(t, 1, p.Len())

		// Trusted again, so a new channel.
		p.AddCA(ca2.Cert)
		ch2 := p.NotifyRemoval(ca2.Cert)
		require.NotNil(t, ch2)
		stest.NotSending(t, ch2)
	})

	t.Run("multiple notifications are the same underlying channel", func(t *testing.T) {
		t.Parallel()

		p := scert.NewPoolFromCerts([]*x509.Certificate{ca1.Cert, ca2.Cert})
		ch1a := p.NotifyRemoval(ca1.Cert)
		ch1b := p.NotifyRemoval(ca1.Cert)

		ch2 := p.NotifyRemoval(ca2.Cert)
		require.NotNil(t, ch2)

		require.Equal(t, ch1a, ch1b)
		require.NotEqual(t, ch1a, ch2)
	})
}

func TestPool_CertPoolTracksChanges(t *testing.T) {
	t.Parallel()

	realm := scerttest.NewRealm(t)
	leaf := realm.Leaf(t, 0)

	verify := func() error {
		_, err := leaf.Cert.Verify(x509.VerifyOptions{Roots: realm.Pool.CertPool()})
		return err
	}

	require.NoError(t, verify())

	realm.Pool.RemoveCA(realm.CA.Cert)
	require.Error(t, verify())

	realm.Pool.AddCA(realm.CA.Cert)
	require.NoError(t, verify())
}
