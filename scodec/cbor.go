package scodec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Encoding is deterministic (RFC 8949 core deterministic encoding):
// the same logical value always yields the same bytes,
// which keeps byte counters and test fixtures stable.
var encMode cbor.EncMode

// Decoding ignores unknown fields,
// so either side of a connection can add fields to a message
// without breaking an older peer.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.CoreDetEncOptions()
	// InstanceID, RealmName and friends implement encoding.TextMarshaler.
	// Without this they would encode as opaque byte arrays or empty maps.
	encOpts.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic("scodec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,

		// A hostile peer must not be able to make us allocate without bound.
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 16,
		MaxNestedLevels:  32,
	}.DecMode()
	if err != nil {
		panic("scodec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
// Trailing bytes after the first item are an error.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder returns a streaming encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a streaming decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// RawMessage is an encoded CBOR value whose decoding is deferred.
type RawMessage = cbor.RawMessage
