package stransport

import (
	"errors"
	"fmt"
	"net"
)

// MessageType is the kind of a [Message].
type MessageType uint8

const (
	Binary MessageType = iota + 1
	Text
	Ping
	Pong

	// Close announces an orderly shutdown.
	// A transport reading a Close from its peer reports io.EOF.
	Close
)

func (t MessageType) String() string {
	switch t {
	case Binary:
		return "binary"
	case Text:
		return "text"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	case Close:
		return "close"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Message is one unit on a [Transport].
type Message struct {
	Type MessageType
	Data []byte
}

// BinaryMessage returns a binary message carrying b.
func BinaryMessage(b []byte) Message {
	return Message{Type: Binary, Data: b}
}

// ErrUnsupportedMessage is returned by [Transport.WriteMessage]
// when the transport cannot carry the message type.
var ErrUnsupportedMessage = errors.New("message type not supported by transport")

// Transport is a bidirectional message link.
//
// At most one goroutine may call ReadMessage at a time,
// and at most one goroutine may call WriteMessage at a time.
// Close may be called from any goroutine
// and unblocks a pending ReadMessage.
type Transport interface {
	// ReadMessage blocks until the next message arrives.
	// It returns io.EOF after an orderly close by the peer.
	ReadMessage() (Message, error)

	WriteMessage(Message) error

	Close() error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}
