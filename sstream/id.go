package sstream

import (
	"fmt"
	"math/rand/v2"
)

// Tag identifies a stream protocol.
//
// Tags are assigned by hand and must be unique
// among all protocols registered in one process.
// Nothing checks this at runtime:
// two protocols sharing a tag will receive each other's messages.
type Tag uint32

func (t Tag) String() string {
	return fmt.Sprintf("%08x", uint32(t))
}

// ID identifies a single stream on a connection.
// The high 32 bits hold the protocol [Tag],
// and the low 32 bits are a random discriminator.
type ID uint64

// NewID returns a fresh stream ID for the given protocol tag.
//
// The discriminator is drawn at random with no check against live streams.
// Two concurrent streams of the same protocol
// colliding on 32 random bits is accepted as negligible.
func NewID(tag Tag) ID {
	return ID(uint64(tag)<<32 | uint64(rand.Uint32()))
}

// TagOf returns the protocol tag encoded in id.
func TagOf(id ID) Tag {
	return Tag(id >> 32)
}

// Tag returns the protocol tag encoded in id.
func (id ID) Tag() Tag {
	return TagOf(id)
}

// Discriminator returns the random low half of id.
func (id ID) Discriminator() uint32 {
	return uint32(id)
}

func (id ID) String() string {
	return fmt.Sprintf("%08x:%08x", uint32(id>>32), uint32(id))
}
