package sstream_test

import (
	"testing"

	"github.com/sandpolis/sandpolis/sstream"
	"github.com/stretchr/testify/require"
)

func TestNewID_tagFidelity(t *testing.T) {
	t.Parallel()

	const tag sstream.Tag = 0xdeadbeef

	// A thousand draws keeps the birthday bound on 32 random bits
	// around one in ten thousand, low enough not to flake.
	seen := make(map[sstream.ID]struct{}, 1000)
	for range 1000 {
		id := sstream.NewID(tag)
		require.Equal(t, tag, sstream.TagOf(id))
		require.Equal(t, tag, id.Tag())

		_, dup := seen[id]
		require.False(t, dup, "duplicate ID %s", id)
		seen[id] = struct{}{}
	}
}

func TestID_layout(t *testing.T) {
	t.Parallel()

	id := sstream.ID(0x0000_0001_ffff_fffe)
	require.Equal(t, sstream.Tag(1), id.Tag())
	require.Equal(t, uint32(0xfffffffe), id.Discriminator())
	require.Equal(t, "00000001:fffffffe", id.String())
}

func TestTagOf_zeroTag(t *testing.T) {
	t.Parallel()

	id := sstream.NewID(0)
	require.Equal(t, sstream.Tag(0), id.Tag())
	require.Equal(t, uint64(id.Discriminator()), uint64(id))
}
