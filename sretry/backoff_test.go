package sretry_test

import (
	"testing"
	"time"

	"github.com/sandpolis/sandpolis/sretry"
	"github.com/stretchr/testify/require"
)

func TestBackoff_constant(t *testing.T) {
	t.Parallel()

	b := sretry.Constant(400 * time.Millisecond).Backoff()
	for range 5 {
		require.Equal(t, 400*time.Millisecond, b.Next())
	}
	require.Equal(t, uint32(5), b.Iteration())
}

func TestBackoff_exponentialClamp(t *testing.T) {
	t.Parallel()

	const limit = 2000 * time.Millisecond
	b := sretry.Exponential(100*time.Millisecond, 4.0, limit).Backoff()

	prev := b.Next()
	require.Equal(t, 100*time.Millisecond, prev)

	reached := -1
	for i := 1; i < 100; i++ {
		d := b.Next()
		require.GreaterOrEqualf(t, d, prev, "draw %d decreased", i)
		require.LessOrEqual(t, d, limit)

		if reached >= 0 {
			require.Equalf(t, limit, d, "draw %d after clamp", i)
		} else if d == limit {
			reached = i
		}
		prev = d
	}

	require.Positive(t, reached, "limit never reached")
}

func TestBackoff_exponentialZeroInitial(t *testing.T) {
	t.Parallel()

	for _, limit := range []time.Duration{0, time.Second} {
		p := sretry.Exponential(0, 0.5, limit)
		require.NoError(t, p.Validate())

		b := p.Backoff()
		// Far enough that the growth factor overflows to infinity.
		for i := range 600 {
			require.Zerof(t, b.Next(), "draw %d with limit %s", i, limit)
		}
	}
}

func TestBackoff_exponentialDoublesEveryConstant(t *testing.T) {
	t.Parallel()

	b := sretry.Exponential(time.Second, 2, 0).Backoff()

	var got []time.Duration
	for range 7 {
		got = append(got, b.Next())
	}

	require.Equal(t, time.Second, got[0])
	require.Equal(t, 2*time.Second, got[2])
	require.Equal(t, 4*time.Second, got[4])
	require.Equal(t, 8*time.Second, got[6])

	// Between doublings the wait still grows.
	require.Greater(t, got[1], got[0])
	require.Less(t, got[1], got[2])
}

func TestBackoff_exponentialUnboundedSaturates(t *testing.T) {
	t.Parallel()

	b := sretry.Exponential(time.Second, 0.5, 0).Backoff()
	prev := time.Duration(0)
	for range 500 {
		d := b.Next()
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}
	require.Positive(t, prev)
}

func TestPolicy_Backoff_invalidPanics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		_ = sretry.Exponential(time.Second, 0, 0).Backoff()
	})
	require.Panics(t, func() {
		_ = sretry.Policy{}.Backoff()
	})
}

func TestPolicy_freshBackoffRestarts(t *testing.T) {
	t.Parallel()

	p := sretry.Exponential(10*time.Millisecond, 1, time.Second)

	b1 := p.Backoff()
	for range 5 {
		_ = b1.Next()
	}

	b2 := p.Backoff()
	require.Equal(t, 10*time.Millisecond, b2.Next())
	require.Equal(t, p, b1.Policy())
}
