// Package algorithm holds the closed registry of sorting algorithms a worker
// can run, each with its own progress model.
package algorithm

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/zjrosen/sortpool/internal/protocol"
)

// ErrUnknownAlgorithm is returned when a task names an unregistered algorithm.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// ErrInvalidOptions is returned when an algorithm rejects its options.
var ErrInvalidOptions = errors.New("invalid options")

// SortFunc sorts data in place ascending by Element.Key, reporting work to t.
type SortFunc func(data []protocol.Element, opts protocol.Options, t *Tracker) error

// Algorithm is one registry entry.
type Algorithm struct {
	Name   string
	Stable bool
	// Summary is a one-line description for listings.
	Summary string
	// Description is markdown shown by `sortpool algorithms describe`.
	Description string
	// Work returns the units of work expected for an n-element input; the
	// unit is algorithm specific (comparisons, insertions, writes...).
	Work func(n int) int64
	// CheckOptions rejects unsupported options before sorting. Optional.
	CheckOptions func(opts protocol.Options) error
	Sort         SortFunc
}

// Registry maps algorithm names to implementations.
type Registry struct {
	mu    sync.RWMutex
	algos map[string]Algorithm
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{algos: make(map[string]Algorithm)}
}

// Register adds an algorithm. Names must be unique and entries complete.
func (r *Registry) Register(a Algorithm) error {
	if a.Name == "" {
		return fmt.Errorf("algorithm name is required")
	}
	if a.Sort == nil || a.Work == nil {
		return fmt.Errorf("algorithm %s: Sort and Work are required", a.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.algos[a.Name]; exists {
		return fmt.Errorf("algorithm %s already registered", a.Name)
	}
	r.algos[a.Name] = a
	return nil
}

// MustRegister is Register that panics; for static startup wiring.
func (r *Registry) MustRegister(a Algorithm) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

// Lookup returns the named algorithm or ErrUnknownAlgorithm.
func (r *Registry) Lookup(name string) (Algorithm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.algos[name]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.algos))
	for name := range r.algos {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// List returns all entries ordered by name.
func (r *Registry) List() []Algorithm {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Algorithm, 0, len(names))
	for _, name := range names {
		out = append(out, r.algos[name])
	}
	return out
}

// Default returns a registry with every built-in algorithm.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(BubbleSort())
	r.MustRegister(InsertionSort())
	r.MustRegister(SelectionSort())
	r.MustRegister(MergeSort())
	r.MustRegister(QuickSort())
	r.MustRegister(HeapSort())
	return r
}
