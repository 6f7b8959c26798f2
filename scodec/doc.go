// Package scodec is the single place where values are turned into bytes
// for the wire.
//
// Both layers of the stream protocol use it:
// the outer [github.com/sandpolis/sandpolis/sstream.Envelope]
// and the protocol-specific payload carried inside each envelope.
// The encoding is CBOR, which is self-describing,
// so a peer can skip fields it does not know about.
package scodec
