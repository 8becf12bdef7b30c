package algorithm

import (
	"github.com/cuemby/warren-sched/pkg/fcfs"
	"github.com/cuemby/warren-sched/pkg/metrics"
	"github.com/cuemby/warren-sched/pkg/types"
)

// FCFSDescriptor is the descriptor under which the first-come-first-
// served algorithm registers with a Factory.
var FCFSDescriptor = types.AlgorithmDescriptor{Family: "fcfs", Version: "1", DeviceType: string(DeviceCPU)}

const scheduledJobsMetric = "scheduled_jobs"

// fcfsAlgorithm adapts fcfs.Engine to the Algorithm interface: as the
// first step of a chain it builds a timetable from scratch; as a later
// step it re-derives one, since FCFS has no incremental improvement
// pass of its own.
type fcfsAlgorithm struct {
	bindGuard
	engine   *fcfs.Engine
	internal *metrics.Registry
	external *metrics.Registry
}

// NewFCFSConstructor returns a Constructor that builds an fcfs.Engine
// over snap, wrapped in an Algorithm whose Descriptor is FCFSDescriptor.
func NewFCFSConstructor() Constructor {
	return func(snap *types.Snapshot) (Algorithm, error) {
		engine, err := fcfs.NewEngine(snap)
		if err != nil {
			return nil, err
		}
		a := &fcfsAlgorithm{
			engine:   engine,
			internal: metrics.NewRegistry(),
			external: metrics.NewRegistry(),
		}
		if err := a.internal.RegisterInt(1, scheduledJobsMetric); err != nil {
			return nil, err
		}
		return a, nil
	}
}

func (a *fcfsAlgorithm) Descriptor() types.AlgorithmDescriptor { return FCFSDescriptor }

func (a *fcfsAlgorithm) CreateTimetable(snap *types.Snapshot, events Events) (types.Timetable, error) {
	if err := a.requireBound(); err != nil {
		return nil, err
	}
	timer := metrics.NewTimer()
	tt, err := a.engine.Schedule(snap.Jobs, false, events.ForcedToInterrupt)
	timer.ObserveDuration(metrics.SchedulingLatency)
	if err != nil {
		return nil, err
	}
	a.internal.UpdateInt(1, int64(len(tt)))
	return tt, nil
}

// ImproveTimetable re-derives a full timetable: FCFS has no notion of
// incrementally improving a previous placement, so as a later chain
// step it behaves the same as the first.
func (a *fcfsAlgorithm) ImproveTimetable(old types.Timetable, snap *types.Snapshot, events Events) (types.Timetable, error) {
	// A fresh engine, so when-free times left by an earlier pass on this
	// instance do not carry over.
	engine, err := fcfs.NewEngine(snap)
	if err != nil {
		return nil, err
	}
	a.engine = engine
	return a.CreateTimetable(snap, events)
}

func (a *fcfsAlgorithm) Metrics() (internal, external *metrics.Registry) {
	return a.internal, a.external
}
