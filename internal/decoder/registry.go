package decoder

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies a decoder held by a Registry.
type Handle = uuid.UUID

// Registry maps opaque handles to decoders for hosts that cannot hold Go
// pointers.
type Registry struct {
	log      *slog.Logger
	max      int
	mu       sync.RWMutex
	decoders map[Handle]*Decoder
}

// NewRegistry returns an empty registry holding at most max decoders; max
// <= 0 means no limit. If log is nil, slog.Default() is used.
func NewRegistry(max int, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "decoder-registry"),
		max:      max,
		decoders: make(map[Handle]*Decoder),
	}
}

// Create builds a decoder for path and registers it. The decoder is not
// prepared.
func (r *Registry) Create(path string, cfg Config, opts ...Option) (Handle, *Decoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.max > 0 && len(r.decoders) >= r.max {
		r.log.Warn("decoder limit reached", "max", r.max)
		return uuid.Nil, nil, ErrOutOfMemory
	}
	d, err := New(path, cfg, opts...)
	if err != nil {
		return uuid.Nil, nil, err
	}
	h := uuid.New()
	r.decoders[h] = d
	r.log.Info("decoder created", "handle", h, "path", path)
	return h, d, nil
}

// Get returns the decoder for h or ErrInvalidHandle.
func (r *Registry) Get(h Handle) (*Decoder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[h]
	if !ok {
		return nil, ErrInvalidHandle
	}
	return d, nil
}

// Remove unregisters and closes the decoder for h.
func (r *Registry) Remove(h Handle) error {
	r.mu.Lock()
	d, ok := r.decoders[h]
	if ok {
		delete(r.decoders, h)
	}
	r.mu.Unlock()

	if !ok {
		return ErrInvalidHandle
	}
	r.log.Info("decoder removed", "handle", h)
	return d.Close()
}

// List returns the registered handles.
func (r *Registry) List() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hs := make([]Handle, 0, len(r.decoders))
	for h := range r.decoders {
		hs = append(hs, h)
	}
	return hs
}

// Len returns the number of registered decoders.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.decoders)
}

// Close closes and removes every decoder.
func (r *Registry) Close() error {
	r.mu.Lock()
	ds := r.decoders
	r.decoders = make(map[Handle]*Decoder)
	r.mu.Unlock()

	var errs []error
	for _, d := range ds {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}
