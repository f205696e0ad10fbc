package synth

import (
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultMaxKinds is the number of distinct synthesized kinds a registry
// creates before refusing with ErrSynthesisLimit.
const DefaultMaxKinds = 4096

// Factory builds the concrete Go value of a known record from its decoded
// fields. An error makes the whole decode yield no value.
type Factory func(f *Fields) (any, error)

// Kind identifies a synthesized type. Every Synthesized value of the same
// qualified name decoded through one registry shares one *Kind.
type Kind struct {
	name string
}

// Name returns the qualified name the kind stands in for.
func (k *Kind) Name() string {
	return k.name
}

func (k *Kind) String() string {
	return "synth." + k.name
}

// Registry holds the record factories known to a decoder and the kinds it has
// synthesized for unknown names. A Registry is safe for concurrent use.
type Registry struct {
	factories *xsync.MapOf[string, Factory]
	kinds     *xsync.MapOf[string, *Kind]
	nkinds    atomic.Int64
	maxKinds  int64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: xsync.NewMapOf[string, Factory](),
		kinds:     xsync.NewMapOf[string, *Kind](),
		maxKinds:  DefaultMaxKinds,
	}
}

// DefaultRegistry backs the Default codec and the package-level Register.
var DefaultRegistry = NewRegistry()

// Register makes name a known record in DefaultRegistry.
func Register(name string, factory Factory) {
	DefaultRegistry.Register(name, factory)
}

// Register makes name a known record. Registering a name twice replaces the
// previous factory.
func (r *Registry) Register(name string, factory Factory) {
	if name == "" || factory == nil {
		panic("synth: Register requires a name and a factory")
	}
	r.factories.Store(name, factory)
}

// Lookup returns the factory registered for name.
func (r *Registry) Lookup(name string) (Factory, bool) {
	return r.factories.Load(name)
}

// Known reports whether name has a registered factory.
func (r *Registry) Known(name string) bool {
	_, ok := r.factories.Load(name)
	return ok
}

// SetMaxKinds bounds the number of distinct synthesized kinds. n <= 0 restores
// the default.
func (r *Registry) SetMaxKinds(n int) {
	if n <= 0 {
		n = DefaultMaxKinds
	}
	atomic.StoreInt64(&r.maxKinds, int64(n))
}

// Kinds returns how many synthesized kinds the registry has created.
func (r *Registry) Kinds() int {
	return r.kinds.Size()
}

// kind returns the synthesized kind for name, creating it on first use.
func (r *Registry) kind(name string) (*Kind, error) {
	if k, ok := r.kinds.Load(name); ok {
		return k, nil
	}
	limit := atomic.LoadInt64(&r.maxKinds)
	if n := r.nkinds.Add(1); n > limit {
		r.nkinds.Add(-1)
		return nil, &SynthesisError{Name: name, Err: fmt.Errorf("%w (%d)", ErrSynthesisLimit, limit)}
	}
	k, loaded := r.kinds.LoadOrStore(name, &Kind{name: name})
	if loaded {
		r.nkinds.Add(-1)
	}
	return k, nil
}
