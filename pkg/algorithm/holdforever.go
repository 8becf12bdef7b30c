package algorithm

import (
	"runtime"
	"sync"

	"github.com/cuemby/warren-sched/pkg/metrics"
	"github.com/cuemby/warren-sched/pkg/types"
)

// HoldForeverDescriptor identifies an algorithm that, as a chain's
// first step, publishes a fixed timetable and, as any later step,
// spins without improving it until its chain is interrupted or a new
// timetable is injected. A chain whose only step is hold-forever
// finishes as soon as that step publishes. It exists to exercise
// the exchange handshake and the interrupt/inject paths without
// depending on FCFS's own termination behavior.
var HoldForeverDescriptor = types.AlgorithmDescriptor{Family: "hold-forever", Version: "1", DeviceType: string(DeviceCPU)}

type holdForever struct {
	bindGuard
	mu       sync.Mutex
	held     types.Timetable
	internal *metrics.Registry
	external *metrics.Registry
}

// NewHoldForeverConstructor returns a Constructor whose first step
// publishes initial verbatim and whose later steps spin-yield until
// forced to interrupt.
func NewHoldForeverConstructor(initial types.Timetable) Constructor {
	return func(snap *types.Snapshot) (Algorithm, error) {
		return &holdForever{
			held:     initial,
			internal: metrics.NewRegistry(),
			external: metrics.NewRegistry(),
		}, nil
	}
}

func (h *holdForever) Descriptor() types.AlgorithmDescriptor { return HoldForeverDescriptor }

func (h *holdForever) CreateTimetable(snap *types.Snapshot, events Events) (types.Timetable, error) {
	if err := h.requireBound(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	tt := h.held
	h.mu.Unlock()
	return tt, nil
}

// ImproveTimetable holds old unchanged and spins until events reports
// a pending async operation, then returns an unsuccessful result so
// the chain's worker loop falls into its interrupt/inject handling
// rather than its terminal-failure handling.
func (h *holdForever) ImproveTimetable(old types.Timetable, snap *types.Snapshot, events Events) (types.Timetable, error) {
	for !events.ForcedToInterrupt() {
		runtime.Gosched()
	}
	return old, errHeld
}

func (h *holdForever) Metrics() (internal, external *metrics.Registry) {
	return h.internal, h.external
}

var errHeld = errHeldError{}

type errHeldError struct{}

func (errHeldError) Error() string { return "algorithm: hold-forever step yielded to async op" }
