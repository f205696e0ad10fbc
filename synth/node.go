package synth

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Every node of the value tree is a msgpack array whose first element is one
// of these tags.
const (
	tagNone uint8 = iota
	tagBool
	tagInt
	tagUint
	tagFloat
	tagString
	tagBytes
	tagList
	tagMap
	tagRecord
)

// maxDepth bounds nesting on both sides; it also stops self-referencing
// records from recursing forever.
const maxDepth = 256

// preallocation cap for containers whose length comes from the payload
const maxPrealloc = 64

var errMalformed = errors.New("synth: malformed payload")

func encodeNode(enc *msgpack.Encoder, v any, depth int) error {
	if depth > maxDepth {
		return &EncodeError{Type: fmt.Sprintf("%T", v), Err: errors.New("nesting too deep")}
	}
	switch v := v.(type) {
	case nil:
		return tagged(enc, 1, tagNone)
	case Record:
		if isNilPointer(v) {
			return tagged(enc, 1, tagNone)
		}
		return encodeRecord(enc, v, depth)
	case bool:
		if err := tagged(enc, 2, tagBool); err != nil {
			return err
		}
		return enc.EncodeBool(v)
	case int:
		return encodeInt(enc, int64(v))
	case int8:
		return encodeInt(enc, int64(v))
	case int16:
		return encodeInt(enc, int64(v))
	case int32:
		return encodeInt(enc, int64(v))
	case int64:
		return encodeInt(enc, v)
	case uint:
		return encodeUint(enc, uint64(v))
	case uint8:
		return encodeUint(enc, uint64(v))
	case uint16:
		return encodeUint(enc, uint64(v))
	case uint32:
		return encodeUint(enc, uint64(v))
	case uint64:
		return encodeUint(enc, v)
	case float32:
		return encodeFloat(enc, float64(v))
	case float64:
		return encodeFloat(enc, v)
	case string:
		if err := tagged(enc, 2, tagString); err != nil {
			return err
		}
		return enc.EncodeString(v)
	case []byte:
		if err := tagged(enc, 2, tagBytes); err != nil {
			return err
		}
		return enc.EncodeBytes(v)
	case []any:
		return encodeList(enc, v, depth)
	case []string:
		return encodeList(enc, v, depth)
	case []int:
		return encodeList(enc, v, depth)
	case []int64:
		return encodeList(enc, v, depth)
	case []float64:
		return encodeList(enc, v, depth)
	case []bool:
		return encodeList(enc, v, depth)
	case map[string]any:
		return encodeMap(enc, v, depth)
	case map[string]string:
		return encodeMap(enc, v, depth)
	case map[string]int:
		return encodeMap(enc, v, depth)
	case map[string]int64:
		return encodeMap(enc, v, depth)
	}
	return &EncodeError{Type: fmt.Sprintf("%T", v)}
}

func tagged(enc *msgpack.Encoder, n int, tag uint8) error {
	if err := enc.EncodeArrayLen(n); err != nil {
		return err
	}
	return enc.EncodeUint8(tag)
}

func encodeInt(enc *msgpack.Encoder, n int64) error {
	if err := tagged(enc, 2, tagInt); err != nil {
		return err
	}
	return enc.EncodeInt(n)
}

func encodeUint(enc *msgpack.Encoder, n uint64) error {
	if n <= math.MaxInt64 {
		return encodeInt(enc, int64(n))
	}
	if err := tagged(enc, 2, tagUint); err != nil {
		return err
	}
	return enc.EncodeUint(n)
}

func encodeFloat(enc *msgpack.Encoder, f float64) error {
	if err := tagged(enc, 2, tagFloat); err != nil {
		return err
	}
	return enc.EncodeFloat64(f)
}

func encodeList[T any](enc *msgpack.Encoder, l []T, depth int) error {
	if err := tagged(enc, len(l)+1, tagList); err != nil {
		return err
	}
	for i, item := range l {
		if err := encodeNode(enc, item, depth+1); err != nil {
			return atPath(err, fmt.Sprintf("[%d]", i))
		}
	}
	return nil
}

func encodeMap[T any](enc *msgpack.Encoder, m map[string]T, depth int) error {
	if err := tagged(enc, 2*len(m)+1, tagMap); err != nil {
		return err
	}
	// sorted so equal maps produce equal envelopes
	for _, k := range slices.Sorted(maps.Keys(m)) {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := encodeNode(enc, m[k], depth+1); err != nil {
			return atPath(err, fmt.Sprintf("[%q]", k))
		}
	}
	return nil
}

func encodeRecord(enc *msgpack.Encoder, r Record, depth int) error {
	name := r.RecordName()
	if name == "" {
		return &EncodeError{Type: fmt.Sprintf("%T", r), Err: errors.New("empty record name")}
	}
	fields := r.RecordFields()
	if err := tagged(enc, 2*len(fields)+2, tagRecord); err != nil {
		return err
	}
	if err := enc.EncodeString(name); err != nil {
		return err
	}
	for _, f := range fields {
		if err := enc.EncodeString(f.Name); err != nil {
			return err
		}
		if err := encodeNode(enc, f.Value, depth+1); err != nil {
			return atPath(err, "."+f.Name)
		}
	}
	return nil
}

func atPath(err error, segment string) error {
	var ee *EncodeError
	if errors.As(err, &ee) {
		ee.Path = segment + ee.Path
		return ee
	}
	return err
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// treeDecoder rebuilds values from the node tree. Any error it returns other
// than a *SynthesisError means the payload is unusable.
type treeDecoder struct {
	dec *msgpack.Decoder
	reg *Registry
}

func (d *treeDecoder) decode(depth int) (any, error) {
	if depth > maxDepth {
		return nil, errMalformed
	}
	n, err := d.dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, errMalformed
	}
	tag, err := d.dec.DecodeUint8()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagNone:
		if n != 1 {
			return nil, errMalformed
		}
		return nil, nil
	case tagBool, tagInt, tagUint, tagFloat, tagString, tagBytes:
		if n != 2 {
			return nil, errMalformed
		}
		return d.scalar(tag)
	case tagList:
		return d.list(n-1, depth)
	case tagMap:
		if (n-1)%2 != 0 {
			return nil, errMalformed
		}
		return d.dict((n-1)/2, depth)
	case tagRecord:
		if n < 2 || (n-2)%2 != 0 {
			return nil, errMalformed
		}
		return d.record((n-2)/2, depth)
	}
	return nil, fmt.Errorf("%w: unknown tag %d", errMalformed, tag)
}

func (d *treeDecoder) scalar(tag uint8) (any, error) {
	switch tag {
	case tagBool:
		return d.dec.DecodeBool()
	case tagInt:
		return d.dec.DecodeInt64()
	case tagUint:
		return d.dec.DecodeUint64()
	case tagFloat:
		return d.dec.DecodeFloat64()
	case tagString:
		return d.dec.DecodeString()
	default:
		b, err := d.dec.DecodeBytes()
		if err != nil {
			return nil, err
		}
		if b == nil {
			b = []byte{}
		}
		return b, nil
	}
}

func (d *treeDecoder) list(n, depth int) (any, error) {
	out := make([]any, 0, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		v, err := d.decode(depth + 1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *treeDecoder) dict(n, depth int) (any, error) {
	out := make(map[string]any, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		k, err := d.dec.DecodeString()
		if err != nil {
			return nil, err
		}
		if _, dup := out[k]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", errMalformed, k)
		}
		v, err := d.decode(depth + 1)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (d *treeDecoder) record(n, depth int) (any, error) {
	name, err := d.dec.DecodeString()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty record name", errMalformed)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	fields := make([]Field, 0, min(n, maxPrealloc))
	for i := 0; i < n; i++ {
		fname, err := d.dec.DecodeString()
		if err != nil {
			return nil, err
		}
		if !seen.Add(fname) {
			return nil, fmt.Errorf("%w: %s: duplicate field %q", errMalformed, name, fname)
		}
		v, err := d.decode(depth + 1)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: fname, Value: v})
	}

	if factory, ok := d.reg.Lookup(name); ok {
		v, err := factory(&Fields{name: name, list: fields})
		if err != nil {
			return nil, fmt.Errorf("synth: building %s: %w", name, err)
		}
		return v, nil
	}

	kind, err := d.reg.kind(name)
	if err != nil {
		return nil, err
	}
	return &Synthesized{kind: kind, fields: fields}, nil
}
