package sandpolis

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sandpolis/sandpolis/sretry"
	"gopkg.in/yaml.v3"
)

// NetworkConfig is the file form of the network layer's settings.
//
//	servers:
//	  - example.com
//	  - https://backup.example.com:9000/my-realm?type=constant&initial=1000
//	retry: type=exponential&initial=500&constant=2&limit=60000
//	strategy:
//	  kind: polling
//	  interval: 5m
//	  timeout: 30s
type NetworkConfig struct {
	Servers []ServerURL `yaml:"servers"`

	// Retry applies to servers whose URL has no retry query.
	// Unset means [sretry.Default].
	Retry sretry.Policy `yaml:"retry,omitempty"`

	Strategy ConnectionStrategy `yaml:"strategy,omitempty"`
}

// Validate reports every problem with c.
func (c NetworkConfig) Validate() error {
	var err error

	if !c.Retry.IsZero() {
		if rErr := c.Retry.Validate(); rErr != nil {
			err = errors.Join(err, fmt.Errorf("retry: %w", rErr))
		}
	}
	if sErr := c.Strategy.Validate(); sErr != nil {
		err = errors.Join(err, fmt.Errorf("strategy: %w", sErr))
	}

	seen := make(map[string]int, len(c.Servers))
	for i, u := range c.Servers {
		key := u.Address() + "/" + u.Realm.OrDefault().String()
		if j, ok := seen[key]; ok {
			err = errors.Join(err, fmt.Errorf("servers[%d] duplicates servers[%d] (%s)", i, j, u))
			continue
		}
		seen[key] = i
	}

	return err
}

// ParseNetworkConfig decodes and validates a YAML document.
// Unknown fields are rejected.
func ParseNetworkConfig(b []byte) (NetworkConfig, error) {
	var c NetworkConfig

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return NetworkConfig{}, fmt.Errorf("failed to decode network config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return NetworkConfig{}, fmt.Errorf("invalid network config: %w", err)
	}
	return c, nil
}

// LoadNetworkConfig reads the YAML file at path.
func LoadNetworkConfig(path string) (NetworkConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return NetworkConfig{}, fmt.Errorf("failed to read network config: %w", err)
	}
	return ParseNetworkConfig(b)
}

// Marshal encodes c as YAML.
func (c NetworkConfig) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode network config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode network config: %w", err)
	}
	return buf.Bytes(), nil
}
