package sconn

import (
	"sync"
	"time"

	"github.com/sandpolis/sandpolis/sinstance"
)

// Data is the metadata of one connection.
type Data struct {
	InstanceID       sinstance.InstanceID `cbor:"instance_id" yaml:"instance_id"`
	RemoteInstanceID sinstance.InstanceID `cbor:"remote_instance_id" yaml:"remote_instance_id"`

	// Envelope frame bytes, excluding transport framing.
	ReadBytes  uint64 `cbor:"read_bytes" yaml:"read_bytes"`
	WriteBytes uint64 `cbor:"write_bytes" yaml:"write_bytes"`

	// Bytes per second over the most recent sample interval.
	ReadThroughput  uint64 `cbor:"read_throughput" yaml:"read_throughput"`
	WriteThroughput uint64 `cbor:"write_throughput" yaml:"write_throughput"`

	LocalAddr  string `cbor:"local_addr" yaml:"local_addr"`
	RemoteAddr string `cbor:"remote_addr" yaml:"remote_addr"`

	Established time.Time `cbor:"established" yaml:"established"`

	// Zero until the connection is closed.
	Disconnected time.Time `cbor:"disconnected" yaml:"disconnected"`

	State State `cbor:"state" yaml:"state"`
}

// Record is where a connection writes its metadata.
//
// The connection only ever writes through Update;
// persisting the data is up to the implementation.
// Both methods must be safe for concurrent use.
type Record interface {
	Read() Data
	Update(func(*Data))
}

// MemoryRecord is a [Record] that keeps the data in memory.
// The zero value is ready to use.
type MemoryRecord struct {
	mu sync.RWMutex
	d  Data
}

var _ Record = (*MemoryRecord)(nil)

func (r *MemoryRecord) Read() Data {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.d
}

func (r *MemoryRecord) Update(f func(*Data)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(&r.d)
}
