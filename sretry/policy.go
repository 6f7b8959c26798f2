package sretry

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Kind selects the shape of a [Policy].
type Kind uint8

const (
	// The zero Kind is not a valid policy;
	// it marks an unset Policy.
	_ Kind = iota

	// KindConstant waits the same duration every time.
	KindConstant

	// KindExponential waits longer after every attempt.
	KindExponential
)

func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindExponential:
		return "exponential"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// DefaultInitial is the wait of the [Default] policy.
const DefaultInitial = 4 * time.Second

// Policy describes how long to wait between reconnection attempts.
//
// Policy is comparable, so a Policy can be checked against [Default]
// with ==.
type Policy struct {
	Kind Kind

	// First wait.
	// For a constant policy, every wait.
	Initial time.Duration

	// Exponential only: the number of attempts
	// over which the wait doubles.
	Constant float64

	// Exponential only: the upper bound on any single wait.
	// Zero means unbounded.
	Limit time.Duration
}

// Default returns the policy used when none is configured:
// a constant four second wait.
func Default() Policy {
	return Constant(DefaultInitial)
}

// Constant returns a policy that always waits d.
func Constant(d time.Duration) Policy {
	return Policy{Kind: KindConstant, Initial: d}
}

// Exponential returns a policy whose wait starts at initial
// and doubles every constant attempts, never exceeding limit.
// A zero limit leaves the wait unbounded.
func Exponential(initial time.Duration, constant float64, limit time.Duration) Policy {
	return Policy{
		Kind:     KindExponential,
		Initial:  initial,
		Constant: constant,
		Limit:    limit,
	}
}

// IsZero reports whether p is unset.
func (p Policy) IsZero() bool {
	return p == Policy{}
}

// OrDefault returns p, or [Default] if p is unset.
func (p Policy) OrDefault() Policy {
	if p.IsZero() {
		return Default()
	}
	return p
}

// Validate reports every problem with p.
func (p Policy) Validate() error {
	var err error

	switch p.Kind {
	case KindConstant:
		if p.Constant != 0 || p.Limit != 0 {
			err = errors.Join(err, errors.New("constant policy must not set Constant or Limit"))
		}
	case KindExponential:
		if !(p.Constant > 0) || math.IsInf(p.Constant, 0) {
			err = errors.Join(err, fmt.Errorf("exponential policy needs a positive finite Constant (got %v)", p.Constant))
		}
		if p.Limit < 0 {
			err = errors.Join(err, fmt.Errorf("Limit must not be negative (got %s)", p.Limit))
		}
		if p.Limit > 0 && p.Limit < p.Initial {
			err = errors.Join(err, fmt.Errorf("Limit %s is below Initial %s", p.Limit, p.Initial))
		}
	default:
		err = errors.Join(err, fmt.Errorf("unknown policy kind %s", p.Kind))
	}

	if p.Initial < 0 {
		err = errors.Join(err, fmt.Errorf("Initial must not be negative (got %s)", p.Initial))
	}

	return err
}

// Backoff returns a fresh sequence of waits following p.
//
// Backoff panics if p is invalid.
func (p Policy) Backoff() *Backoff {
	if err := p.Validate(); err != nil {
		panic(fmt.Errorf("BUG: backoff from invalid retry policy: %w", err))
	}
	return &Backoff{p: p}
}

// Query returns the URL query form of p, with keys in a fixed order:
//
//	type=constant&initial=<ms>
//	type=exponential&initial=<ms>&constant=<f>[&limit=<ms>]
func (p Policy) Query() string {
	var b strings.Builder
	b.WriteString("type=")
	b.WriteString(p.Kind.String())
	b.WriteString("&initial=")
	b.WriteString(strconv.FormatInt(p.Initial.Milliseconds(), 10))

	if p.Kind == KindExponential {
		b.WriteString("&constant=")
		b.WriteString(strconv.FormatFloat(p.Constant, 'g', -1, 64))
		if p.Limit > 0 {
			b.WriteString("&limit=")
			b.WriteString(strconv.FormatInt(p.Limit.Milliseconds(), 10))
		}
	}

	return b.String()
}

// String is an alias for [Policy.Query].
func (p Policy) String() string {
	return p.Query()
}

// ParseQuery parses the form produced by [Policy.Query].
// An empty query yields [Default].
func ParseQuery(q string) (Policy, error) {
	if q == "" {
		return Default(), nil
	}

	vals, err := url.ParseQuery(q)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to parse retry query %q: %w", q, err)
	}
	return FromValues(vals)
}

// FromValues builds a Policy from already parsed query values.
func FromValues(vals url.Values) (Policy, error) {
	var p Policy

	switch t := vals.Get("type"); t {
	case "constant":
		p.Kind = KindConstant
	case "exponential":
		p.Kind = KindExponential
	case "":
		return Policy{}, errors.New("retry query is missing type")
	default:
		return Policy{}, fmt.Errorf("unknown retry type %q", t)
	}

	initial, err := parseMillis(vals, "initial")
	if err != nil {
		return Policy{}, err
	}
	if initial == 0 && !vals.Has("initial") {
		return Policy{}, errors.New("retry query is missing initial")
	}
	p.Initial = initial

	if p.Kind == KindExponential {
		c := vals.Get("constant")
		if c == "" {
			return Policy{}, errors.New("exponential retry query is missing constant")
		}
		p.Constant, err = strconv.ParseFloat(c, 64)
		if err != nil {
			return Policy{}, fmt.Errorf("invalid retry constant %q: %w", c, err)
		}

		p.Limit, err = parseMillis(vals, "limit")
		if err != nil {
			return Policy{}, err
		}
	}

	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid retry policy: %w", err)
	}
	return p, nil
}

func parseMillis(vals url.Values, key string) (time.Duration, error) {
	s := vals.Get(key)
	if s == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid retry %s %q: %w", key, s, err)
	}
	if ms < 0 {
		return 0, fmt.Errorf("retry %s must not be negative (got %d)", key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// MarshalText encodes p in its query form.
// An unset policy encodes as empty text.
func (p Policy) MarshalText() ([]byte, error) {
	if p.IsZero() {
		return nil, nil
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("cannot marshal invalid retry policy: %w", err)
	}
	return []byte(p.Query()), nil
}

// UnmarshalText decodes the query form.
// Empty text leaves p unset.
func (p *Policy) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*p = Policy{}
		return nil
	}
	v, err := ParseQuery(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
