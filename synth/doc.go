// Package synth encodes values into single self-verifying text lines and
// decodes them back, even when the decoding process does not know every type
// the encoding process used.
//
// # Envelope
//
// An encoded line is a fixed-width integrity digest followed by a text-safe
// payload:
//
//	<22 chars: base64(SHA3-256(body)[:16])><base64(marker || body')>
//
// body is the msgpack-serialized value tree. marker is 'r' when body' is body
// itself and 'z' when body' is body compressed with zstd. The digest always
// covers the uncompressed body, and decoding rejects an envelope whose digest
// does not match before it looks at the structure of the body.
//
// # Value model
//
// The encoder accepts nil, booleans, integers, floats, strings, byte slices,
// slices, string-keyed maps and anything implementing [Record]. Decoding
// returns one of:
//
//   - nil, meaning no value (a nil was encoded, or the line was unusable)
//   - bool, int64, uint64, float64, string or []byte
//   - []any and map[string]any
//   - the concrete value built by a [Factory] registered for a record name
//   - *[Synthesized], for a record name the decoder does not know
//
// Decoding normalises Go types: every signed and unsigned integer up to
// math.MaxInt64 comes back as int64, float32 as float64, any slice other
// than []byte as []any and any string-keyed map as map[string]any. A nil
// slice or map comes back empty, not nil. Values already in decoded form
// round-trip exactly.
//
// # Forward compatibility
//
// A record whose name is not registered decodes into a [Synthesized] value
// that keeps the name and the ordered, recursively decoded fields. A
// Synthesized value is itself a Record, so it re-encodes to the same payload
// shape and can be passed on to a process that does know the type.
//
//	line, _ := synth.Encode([]any{"done", metrics})
//	fmt.Println(line)
//
//	v, err := synth.Decode(line)
//	if err != nil {
//	    // a synthesized kind could not be created; this is a bug or a limit, not bad input
//	}
//	switch v := v.(type) {
//	case nil:
//	    // nothing usable
//	case *synth.Synthesized:
//	    fmt.Println("unknown type", v.TypeName())
//	}
package synth
