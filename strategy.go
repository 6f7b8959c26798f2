package sandpolis

import (
	"errors"
	"fmt"
	"time"
)

// StrategyKind selects how a server link is kept up.
type StrategyKind uint8

const (
	_ StrategyKind = iota

	// Continuous links never disconnect on purpose.
	// A lost connection is redialed after the retry policy's wait.
	Continuous

	// Polling links connect once per interval,
	// stay up for at most the timeout unless streams are active,
	// and are then closed.
	Polling
)

func (k StrategyKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Polling:
		return "polling"
	default:
		return fmt.Sprintf("StrategyKind(%d)", uint8(k))
	}
}

func (k StrategyKind) MarshalText() ([]byte, error) {
	switch k {
	case Continuous, Polling:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("cannot marshal %s", k)
	}
}

func (k *StrategyKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "continuous":
		*k = Continuous
	case "polling":
		*k = Polling
	default:
		return fmt.Errorf("unknown connection strategy %q", text)
	}
	return nil
}

// ConnectionStrategy controls the lifetime of a server link.
// The zero value is [Continuous].
type ConnectionStrategy struct {
	Kind StrategyKind `yaml:"kind,omitempty"`

	// Time between polls.
	// Only used by [Polling].
	Interval time.Duration `yaml:"interval,omitempty"`

	// How long a polled connection stays up without active streams.
	// Only used by [Polling].
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ContinuousStrategy returns the default strategy.
func ContinuousStrategy() ConnectionStrategy {
	return ConnectionStrategy{Kind: Continuous}
}

// PollingStrategy returns a polling strategy.
func PollingStrategy(interval, timeout time.Duration) ConnectionStrategy {
	return ConnectionStrategy{Kind: Polling, Interval: interval, Timeout: timeout}
}

func (s ConnectionStrategy) kind() StrategyKind {
	if s.Kind == 0 {
		return Continuous
	}
	return s.Kind
}

// Validate reports every problem with s.
func (s ConnectionStrategy) Validate() error {
	var err error

	switch s.kind() {
	case Continuous:
		if s.Interval != 0 || s.Timeout != 0 {
			err = errors.Join(err, errors.New("continuous strategy takes no interval or timeout"))
		}
	case Polling:
		if s.Interval <= 0 {
			err = errors.Join(err, fmt.Errorf("polling interval must be positive (got %s)", s.Interval))
		}
		if s.Timeout <= 0 {
			err = errors.Join(err, fmt.Errorf("polling timeout must be positive (got %s)", s.Timeout))
		}
	default:
		err = errors.Join(err, fmt.Errorf("unknown strategy kind %d", uint8(s.Kind)))
	}

	return err
}
