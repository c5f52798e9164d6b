// Package registry maps type tags to decode functions.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
)

var (
	// ErrDuplicateTag indicates a tag was registered twice.
	ErrDuplicateTag = errors.New("tag already registered")

	// ErrUnknownTag indicates no decoder exists for a record's tag.
	ErrUnknownTag = errors.New("unknown tag")
)

// Tagged is a serialized record that names its own type.
type Tagged interface {
	TypeTag() string
}

// DecodeFunc rebuilds a live value from its record.
type DecodeFunc[R Tagged, T any] func(R) (T, error)

// Registry holds the decoders for one family of records.
type Registry[R Tagged, T any] struct {
	name   string
	logger *logging.Logger

	mu       sync.RWMutex
	decoders map[string]DecodeFunc[R, T]
}

// New returns an empty registry. name prefixes error messages and diagnostics.
func New[R Tagged, T any](name string, logger *logging.Logger) *Registry[R, T] {
	return &Registry[R, T]{
		name:     name,
		logger:   logger,
		decoders: map[string]DecodeFunc[R, T]{},
	}
}

// Register installs a decoder. Returns an error if the tag already exists.
func (r *Registry[R, T]) Register(tag string, fn DecodeFunc[R, T]) error {
	if tag == "" {
		return fmt.Errorf("%s: tag is required", r.name)
	}
	if fn == nil {
		return fmt.Errorf("%s: decoder is required for %s", r.name, tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[tag]; exists {
		return fmt.Errorf("%s: %s: %w", r.name, tag, ErrDuplicateTag)
	}
	r.decoders[tag] = fn
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry[R, T]) MustRegister(tag string, fn DecodeFunc[R, T]) {
	if err := r.Register(tag, fn); err != nil {
		panic(err)
	}
}

// Resolve decodes rec without logging.
func (r *Registry[R, T]) Resolve(rec R) (T, error) {
	var zero T
	tag := rec.TypeTag()
	r.mu.RLock()
	fn, ok := r.decoders[tag]
	r.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%s: %q: %w", r.name, tag, ErrUnknownTag)
	}
	v, err := fn(rec)
	if err != nil {
		return zero, fmt.Errorf("%s: decode %q: %w", r.name, tag, err)
	}
	return v, nil
}

// Decode decodes rec. On failure it writes a FATAL diagnostic and returns false;
// the caller drops the record and carries on.
func (r *Registry[R, T]) Decode(rec R) (T, bool) {
	v, err := r.Resolve(rec)
	if err != nil {
		r.logger.Fatalf("%v", err)
		return v, false
	}
	return v, true
}

// Has reports whether tag is registered.
func (r *Registry[R, T]) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[tag]
	return ok
}

// Tags returns the registered tags in sorted order.
func (r *Registry[R, T]) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.decoders))
	for tag := range r.decoders {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
