package sinstance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InstanceType is a role an instance can play.
// Values are bit masks and can be combined.
type InstanceType uint8

const (
	// Agent runs continuously on hosts
	// and responds to management requests from servers and clients.
	Agent InstanceType = 0b001

	// Client is a user interface for managing instances.
	Client InstanceType = 0b010

	// Server runs continuously and coordinates interactions among instances.
	// Every network includes at least one server.
	Server InstanceType = 0b100
)

// AllInstanceTypes lists every instance type in mask order.
var AllInstanceTypes = []InstanceType{Agent, Client, Server}

func (t InstanceType) String() string {
	switch t {
	case Agent:
		return "agent"
	case Client:
		return "client"
	case Server:
		return "server"
	default:
		return fmt.Sprintf("InstanceType(%#b)", uint8(t))
	}
}

const typeMask = 0x0f

// InstanceID is the 128-bit identity of an instance:
// a version 7 UUID whose last nibble holds the instance type masks.
type InstanceID uuid.UUID

// NewInstanceID generates an ID for an instance of the given types.
// It panics if no types are given.
func NewInstanceID(types ...InstanceType) InstanceID {
	if len(types) == 0 {
		panic(errors.New("BUG: NewInstanceID requires at least one instance type"))
	}

	u, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the system random source fails.
		panic(fmt.Errorf("failed to generate instance ID: %w", err))
	}

	u[15] &^= typeMask
	for _, t := range types {
		u[15] |= byte(t) & typeMask
	}
	return InstanceID(u)
}

// NewServerID generates an ID for a server-only instance.
func NewServerID() InstanceID {
	return NewInstanceID(Server)
}

// ParseInstanceID parses the canonical hyphenated form.
func ParseInstanceID(s string) (InstanceID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return InstanceID{}, fmt.Errorf("invalid instance ID %q: %w", s, err)
	}
	return InstanceID(u), nil
}

// IsType reports whether id was generated with type t.
func (id InstanceID) IsType(t InstanceType) bool {
	return id[15]&byte(t)&typeMask != 0
}

func (id InstanceID) IsServer() bool { return id.IsType(Server) }
func (id InstanceID) IsClient() bool { return id.IsType(Client) }
func (id InstanceID) IsAgent() bool  { return id.IsType(Agent) }

// Types returns the instance types encoded in id, in mask order.
func (id InstanceID) Types() []InstanceType {
	var out []InstanceType
	for _, t := range AllInstanceTypes {
		if id.IsType(t) {
			out = append(out, t)
		}
	}
	return out
}

// IsZero reports whether id is the zero value.
func (id InstanceID) IsZero() bool {
	return id == InstanceID{}
}

// String returns the lowercase hyphenated UUID form.
func (id InstanceID) String() string {
	return uuid.UUID(id).String()
}

// Short returns a compact form for log lines:
// the type letters and the final eight hex digits.
func (id InstanceID) Short() string {
	var b strings.Builder
	for _, t := range id.Types() {
		b.WriteByte(t.String()[0])
	}
	s := id.String()
	b.WriteByte(':')
	b.WriteString(s[len(s)-8:])
	return b.String()
}

func (id InstanceID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *InstanceID) UnmarshalText(text []byte) error {
	v, err := ParseInstanceID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// ClusterID identifies a cluster of servers.
// It never changes over the cluster's lifetime.
type ClusterID uuid.UUID

// NewClusterID generates a fresh cluster ID.
func NewClusterID() ClusterID {
	u, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Errorf("failed to generate cluster ID: %w", err))
	}
	return ClusterID(u)
}

// ParseClusterID parses the canonical hyphenated form.
func ParseClusterID(s string) (ClusterID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ClusterID{}, fmt.Errorf("invalid cluster ID %q: %w", s, err)
	}
	return ClusterID(u), nil
}

func (id ClusterID) String() string {
	return uuid.UUID(id).String()
}

func (id ClusterID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ClusterID) UnmarshalText(text []byte) error {
	v, err := ParseClusterID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
