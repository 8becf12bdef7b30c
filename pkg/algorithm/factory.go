package algorithm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/warren-sched/pkg/types"
)

var (
	ErrAlreadyRegistered   = errors.New("algorithm: descriptor already registered")
	ErrNoMatchingAlgorithm = errors.New("algorithm: no registered algorithm matches spec")
)

// Constructor builds one Algorithm instance bound to a snapshot. Build
// happens once per Chain, at the point original_source's factory would
// have called into the plugin's create_context entry point.
type Constructor func(snap *types.Snapshot) (Algorithm, error)

type registration struct {
	descriptor  types.AlgorithmDescriptor
	constructor Constructor
}

// Factory resolves an AlgorithmSpec to a concrete, CPU-bound Algorithm
// instance. Registrations are tried in the order they were added and
// the first descriptor that Matches the spec wins, exactly as
// original_source's family-required / version-and-device-optional
// matching.
type Factory struct {
	mu    sync.RWMutex
	regs  []registration
	known map[types.AlgorithmDescriptor]bool
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{known: make(map[types.AlgorithmDescriptor]bool)}
}

// Register adds desc/constructor to the factory. It fails if desc was
// already registered.
func (f *Factory) Register(desc types.AlgorithmDescriptor, ctor Constructor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.known[desc] {
		return fmt.Errorf("%w: %+v", ErrAlreadyRegistered, desc)
	}
	f.known[desc] = true
	f.regs = append(f.regs, registration{descriptor: desc, constructor: ctor})
	return nil
}

// Create resolves spec against the registered descriptors, builds the
// matching Algorithm against snap, and binds it to a CPU compute unit.
func (f *Factory) Create(spec types.AlgorithmSpec, snap *types.Snapshot) (Algorithm, error) {
	f.mu.RLock()
	regs := f.regs
	f.mu.RUnlock()

	for _, r := range regs {
		if !r.descriptor.Matches(spec) {
			continue
		}
		alg, err := r.constructor(snap)
		if err != nil {
			return nil, fmt.Errorf("algorithm: failed to construct %+v: %w", r.descriptor, err)
		}
		if err := alg.BindTo(ComputeUnit{DeviceType: DeviceCPU}); err != nil {
			return nil, err
		}
		return alg, nil
	}
	return nil, fmt.Errorf("%w: %+v", ErrNoMatchingAlgorithm, spec)
}

// KnownAlgorithms lists every descriptor currently registered.
func (f *Factory) KnownAlgorithms() []types.AlgorithmDescriptor {
	f.mu.RLock()
	defer f.mu.RUnlock()

	descs := make([]types.AlgorithmDescriptor, len(f.regs))
	for i, r := range f.regs {
		descs[i] = r.descriptor
	}
	return descs
}
