package synth

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/sha3"
)

// DigestLen is the width of the digest that starts every envelope.
const DigestLen = 22

const (
	markerRaw  = 'r'
	markerZstd = 'z'
)

// zstd frames are only decompressed up to this size.
const maxDecodedSize = 64 << 20

var payloadEncoding = base64.StdEncoding.Strict()

// Codec turns values into envelope lines and back. The zero value is not
// usable; create codecs with New. A Codec is safe for concurrent use.
type Codec struct {
	registry      *Registry
	suppress      bool
	compressAbove int
}

// Option configures a Codec.
type Option func(*Codec)

// WithRegistry sets the registry used to resolve record names when decoding.
func WithRegistry(r *Registry) Option {
	return func(c *Codec) {
		c.registry = r
	}
}

// WithSuppressErrors controls what Encode does with a value it cannot
// serialize: return no value (on) or an *EncodeError (off). It is on by
// default.
func WithSuppressErrors(on bool) Option {
	return func(c *Codec) {
		c.suppress = on
	}
}

// WithCompression compresses bodies longer than threshold bytes with zstd.
// A threshold of 0 disables compression.
func WithCompression(threshold int) Option {
	return func(c *Codec) {
		c.compressAbove = threshold
	}
}

// New returns a codec using DefaultRegistry with error suppression on and
// compression off, modified by opts.
func New(opts ...Option) *Codec {
	c := &Codec{
		registry: DefaultRegistry,
		suppress: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = DefaultRegistry
	}
	return c
}

// Default is the codec behind the package-level functions.
var Default = New()

// Encode encodes v with the Default codec.
func Encode(v any) (string, error) {
	return Default.Encode(v)
}

// Decode decodes line with the Default codec.
func Decode(line string) (any, error) {
	return Default.Decode(line)
}

// DecodeLast decodes the last decodable line with the Default codec.
func DecodeLast(lines []string) (any, error) {
	return Default.DecodeLast(lines)
}

// Registry returns the registry the codec decodes against.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// SuppressErrors reports whether unencodable values are turned into no value.
func (c *Codec) SuppressErrors() bool {
	return c.suppress
}

// Encode serializes v into a single envelope line. Encoding nil produces a
// valid envelope that decodes to nil.
//
// If v, or anything inside it, cannot be serialized, Encode returns "" and a
// nil error when error suppression is on, and an *EncodeError otherwise.
func (c *Codec) Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeNode(enc, v, 0); err != nil {
		if c.suppress {
			return "", nil
		}
		var ee *EncodeError
		if !errors.As(err, &ee) {
			err = &EncodeError{Type: "value", Err: err}
		}
		return "", err
	}
	return c.seal(buf.Bytes()), nil
}

func (c *Codec) seal(raw []byte) string {
	marker, body := byte(markerRaw), raw
	if c.compressAbove > 0 && len(raw) > c.compressAbove {
		if enc, _, err := zstdCodecs(); err == nil {
			if z := enc.EncodeAll(raw, nil); len(z) < len(raw) {
				marker, body = markerZstd, z
			}
		}
	}
	payload := make([]byte, 0, len(body)+1)
	payload = append(payload, marker)
	payload = append(payload, body...)
	return digest(raw) + payloadEncoding.EncodeToString(payload)
}

// Decode returns the value carried by line.
//
// Text that is not an envelope, fails the integrity check or does not
// deserialize yields nil and a nil error. The only error Decode returns is a
// *SynthesisError.
func (c *Codec) Decode(line string) (any, error) {
	raw, ok := open(line)
	if !ok {
		return nil, nil
	}
	r := bytes.NewReader(raw)
	td := &treeDecoder{dec: msgpack.NewDecoder(r), reg: c.registry}
	v, err := td.decode(0)
	if err != nil {
		var se *SynthesisError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, nil
	}
	if r.Len() != 0 {
		return nil, nil
	}
	return v, nil
}

// DecodeLast walks lines backwards and returns the first non-nil value. It is
// meant for output where an envelope is mixed with other text, such as a
// stack trace. A *SynthesisError stops the scan and is returned.
func (c *Codec) DecodeLast(lines []string) (any, error) {
	for i := len(lines) - 1; i >= 0; i-- {
		v, err := c.Decode(lines[i])
		if err != nil {
			return nil, err
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

// open verifies the envelope and returns the raw body.
func open(line string) ([]byte, bool) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) <= DigestLen || strings.ContainsAny(line, "\r\n") {
		return nil, false
	}
	payload, err := payloadEncoding.DecodeString(line[DigestLen:])
	if err != nil || len(payload) == 0 {
		return nil, false
	}

	var raw []byte
	switch payload[0] {
	case markerRaw:
		raw = payload[1:]
	case markerZstd:
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, false
		}
		raw, err = dec.DecodeAll(payload[1:], nil)
		if err != nil {
			return nil, false
		}
	default:
		return nil, false
	}

	if digest(raw) != line[:DigestLen] {
		return nil, false
	}
	return raw, true
}

func digest(raw []byte) string {
	sum := sha3.Sum256(raw)
	return base64.RawStdEncoding.EncodeToString(sum[:16])
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedSize))
	})
	return zstdEnc, zstdDec, zstdErr
}
