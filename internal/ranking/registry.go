package ranking

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Registry holds the globally active weight vector. Active never blocks;
// Publish replaces the whole snapshot atomically.
type Registry struct {
	active atomic.Pointer[WeightVector]
	logger *slog.Logger
}

// NewRegistry creates a Registry with an initial vector.
func NewRegistry(initial WeightVector, logger *slog.Logger) (*Registry, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	v := initial.Clone()
	r.active.Store(&v)
	return r, nil
}

// Active returns the current snapshot. Callers must not modify its Weights map.
func (r *Registry) Active() WeightVector {
	return *r.active.Load()
}

// Publish validates v and swaps it in when its version is newer than the
// active one. Re-publishing the active snapshot is a no-op.
func (r *Registry) Publish(v WeightVector) error {
	if err := v.Validate(); err != nil {
		return err
	}
	next := v.Clone()
	for {
		cur := r.active.Load()
		if next.Version == cur.Version && next.Equal(*cur) {
			return nil
		}
		if next.Version <= cur.Version {
			return fmt.Errorf("%w: %d <= %d", ErrStaleVersion, next.Version, cur.Version)
		}
		if r.active.CompareAndSwap(cur, &next) {
			r.logger.Info("published ranking weights",
				"version", next.Version,
				"previous_version", cur.Version,
				"source", next.Source,
				"weights", next.String())
			return nil
		}
	}
}
