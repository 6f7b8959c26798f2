package scodec_test

import (
	"bytes"
	"testing"

	"github.com/sandpolis/sandpolis/scodec"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string            `cbor:"name"`
	Count uint64            `cbor:"count"`
	Data  []byte            `cbor:"data,omitempty"`
	Tags  map[string]string `cbor:"tags,omitempty"`
}

func TestMarshal_roundTrip(t *testing.T) {
	t.Parallel()

	in := sample{
		Name:  "shell",
		Count: 1 << 40,
		Data:  []byte{0, 1, 2, 0xff},
		Tags:  map[string]string{"b": "2", "a": "1"},
	}

	b, err := scodec.Marshal(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, scodec.Unmarshal(b, &out))
	require.Equal(t, in, out)
}

func TestMarshal_deterministic(t *testing.T) {
	t.Parallel()

	// Map iteration order is random in Go,
	// so repeated encodings only match if keys are sorted.
	m := map[string]int{"z": 1, "a": 2, "m": 3, "q": 4}
	first, err := scodec.Marshal(m)
	require.NoError(t, err)

	for range 20 {
		b, err := scodec.Marshal(m)
		require.NoError(t, err)
		require.Equal(t, first, b)
	}
}

func TestUnmarshal_ignoresUnknownFields(t *testing.T) {
	t.Parallel()

	b, err := scodec.Marshal(map[string]any{
		"name":    "ping",
		"count":   3,
		"unknown": []int{1, 2, 3},
	})
	require.NoError(t, err)

	var out sample
	require.NoError(t, scodec.Unmarshal(b, &out))
	require.Equal(t, "ping", out.Name)
	require.Equal(t, uint64(3), out.Count)
}

func TestUnmarshal_garbage(t *testing.T) {
	t.Parallel()

	var out sample
	require.Error(t, scodec.Unmarshal([]byte{0xff, 0x00, 0x13}, &out))
	require.Error(t, scodec.Unmarshal(nil, &out))
}

func TestEncoderDecoder_stream(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	enc := scodec.NewEncoder(&buf)
	require.NoError(t, enc.Encode(sample{Name: "a", Count: 1}))
	require.NoError(t, enc.Encode(sample{Name: "b", Count: 2}))

	dec := scodec.NewDecoder(&buf)

	var s sample
	require.NoError(t, dec.Decode(&s))
	require.Equal(t, "a", s.Name)
	require.NoError(t, dec.Decode(&s))
	require.Equal(t, "b", s.Name)
}
