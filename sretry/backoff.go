package sretry

import (
	"fmt"
	"math"
	"time"
)

// Backoff is an infinite sequence of waits drawn from a [Policy].
//
// A Backoff is not safe for concurrent use.
type Backoff struct {
	p Policy

	// Number of draws so far.
	iteration uint32
}

// Next returns the next wait and advances the sequence.
//
// For a constant policy every draw equals Initial.
// For an exponential policy the n-th draw (starting at zero) is
// Initial * 2^(n/Constant), clamped to Limit when Limit is set,
// so draws never decrease.
func (b *Backoff) Next() time.Duration {
	n := b.iteration
	if b.iteration < math.MaxUint32 {
		b.iteration++
	}

	switch b.p.Kind {
	case KindConstant:
		return b.p.Initial

	case KindExponential:
		if b.p.Initial == 0 {
			return 0
		}

		w := float64(b.p.Initial) * math.Exp2(float64(n)/b.p.Constant)

		ceil := time.Duration(math.MaxInt64)
		if b.p.Limit > 0 {
			ceil = b.p.Limit
		}
		// Compare as floats so that overflow cannot wrap negative.
		if math.IsNaN(w) || w >= float64(ceil) {
			return ceil
		}
		return time.Duration(w)

	default:
		panic(fmt.Errorf("IMPOSSIBLE: backoff with unvalidated kind %s", b.p.Kind))
	}
}

// Iteration returns the number of draws so far.
func (b *Backoff) Iteration() uint32 {
	return b.iteration
}

// Policy returns the policy b draws from.
func (b *Backoff) Policy() Policy {
	return b.p
}
