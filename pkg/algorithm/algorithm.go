package algorithm

import (
	"errors"
	"fmt"

	"github.com/cuemby/warren-sched/pkg/metrics"
	"github.com/cuemby/warren-sched/pkg/types"
)

// DeviceType names the compute unit an Algorithm is bound to. Only CPU
// is supported in this scope (Non-goals exclude heterogeneous
// targeting beyond a CPU/GPU tag).
type DeviceType string

const (
	DeviceCPU DeviceType = "cpu"
	DeviceGPU DeviceType = "gpu"
)

// ComputeUnit is the binding target passed to Algorithm.BindTo.
type ComputeUnit struct {
	DeviceType DeviceType
}

var (
	ErrUnsupportedDevice = errors.New("algorithm: unsupported compute unit")
	ErrNotBound          = errors.New("algorithm: not bound to a compute unit")
)

// Events is the callback surface a Chain exposes to the Algorithm step
// it is currently running, mirroring original_source's
// PluginEventsInterface.
type Events interface {
	ForcedToInterrupt() bool
	CommitIntermediateTimetable(tt types.Timetable)
}

// Algorithm is one step of a Chain: either the first step, which
// constructs a timetable from scratch, or a later step, which takes
// the previous step's timetable and improves it.
type Algorithm interface {
	Descriptor() types.AlgorithmDescriptor
	BindTo(cu ComputeUnit) error
	CreateTimetable(snap *types.Snapshot, events Events) (types.Timetable, error)
	ImproveTimetable(old types.Timetable, snap *types.Snapshot, events Events) (types.Timetable, error)
	// Metrics returns the algorithm instance's internal (scheduling
	// detail) and external (plugin-facing) metrics registries.
	Metrics() (internal, external *metrics.Registry)
}

// bindGuard is embedded by concrete Algorithm implementations to
// supply the BindTo/bound bookkeeping shared by every device-bound
// algorithm, the way every plugin binding in original_source funnels
// through the same bind_to_compute_unit call.
type bindGuard struct {
	bound bool
}

func (b *bindGuard) bindTo(cu ComputeUnit) error {
	if cu.DeviceType != DeviceCPU {
		return fmt.Errorf("%w: %s", ErrUnsupportedDevice, cu.DeviceType)
	}
	b.bound = true
	return nil
}

func (b *bindGuard) requireBound() error {
	if !b.bound {
		return ErrNotBound
	}
	return nil
}
