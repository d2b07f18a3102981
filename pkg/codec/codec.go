// Package codec provides the deterministic binary encoding used for every
// on-disk index file that isn't a fixed-stride heap record: schema.idx,
// triggers.idx, isax.idx, pk.idx, and secondary-index snapshots. It wraps
// ugorji/go/codec's CBOR handle configured for canonical (sorted-map-key,
// stable-float) output, so the same in-memory value always serializes to the
// same bytes -- a requirement for the crash-consistency tests in §8.
package codec

import (
	"bytes"

	"github.com/ugorji/go/codec"
)

// handle is shared across Encode/Decode calls. ugorji's Handle is safe for
// concurrent use once configured, so a package-level instance avoids
// re-building encoder options on every call.
var handle = func() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	h.StructToArray = false
	h.SignedInteger = true
	return h
}()

// Encode serializes v into a canonical CBOR byte slice.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, handle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes data into v, which must be a pointer.
func Decode(data []byte, v any) error {
	dec := codec.NewDecoderBytes(data, handle)
	return dec.Decode(v)
}
