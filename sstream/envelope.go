package sstream

import (
	"fmt"

	"github.com/sandpolis/sandpolis/scodec"
)

// Envelope is the unit of multiplexing on a connection.
// One transport message carries exactly one Envelope.
type Envelope struct {
	StreamID ID `cbor:"stream_id"`

	// Payload is the encoded protocol message.
	// The registry never looks inside it;
	// only the handler registered for StreamID decodes it.
	Payload []byte `cbor:"payload"`
}

// MarshalEnvelope encodes e for the wire.
func MarshalEnvelope(e Envelope) ([]byte, error) {
	b, err := scodec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope for stream %s: %w", e.StreamID, err)
	}
	return b, nil
}

// UnmarshalEnvelope decodes a wire message into an Envelope.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := scodec.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return e, nil
}
