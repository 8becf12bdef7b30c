package chain

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/warren-sched/pkg/algorithm"
	"github.com/cuemby/warren-sched/pkg/log"
	"github.com/cuemby/warren-sched/pkg/metrics"
	"github.com/cuemby/warren-sched/pkg/timecounter"
	"github.com/cuemby/warren-sched/pkg/types"
)

// Status is a Chain's lifecycle state.
type Status int

const (
	NotStarted Status = iota
	Working
	Interrupted
	Finished
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Working:
		return "working"
	case Interrupted:
		return "interrupted"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

type asyncOp int

const (
	asyncNone asyncOp = iota
	asyncInterrupt
	asyncInjectTT
)

// Sentinel errors returned by Chain's async surface.
var (
	ErrAlreadyInit     = errors.New("chain: already initialized")
	ErrBusy            = errors.New("chain: not ready for an async operation")
	ErrEmptyAlgorithms = errors.New("chain: algorithms cannot be empty")
)

// Chain runs algorithms in sequence over one snapshot on a dedicated
// goroutine. The running step may publish an intermediate timetable,
// which is cleared at each step boundary; the actual timetable is
// updated each time a step succeeds.
type Chain struct {
	mu         sync.Mutex
	status     Status
	asyncOp    asyncOp
	injectedTT types.Timetable
	haveInterm bool
	intermTT   types.Timetable
	haveActual bool
	actualTT   types.Timetable

	snapshot   *types.Snapshot
	algorithms []algorithm.Algorithm
	metricsReg *metrics.Registry
	logger     zerolog.Logger
	done       chan struct{}
}

// New returns a Chain in its NotStarted state.
func New() *Chain {
	return &Chain{
		status:     NotStarted,
		metricsReg: metrics.NewRegistry(),
		logger:     log.WithComponent("chain"),
	}
}

// Init validates snap and algs, then spawns the worker goroutine that
// runs algs[0].CreateTimetable followed by algs[1:].ImproveTimetable in
// sequence. timer, if non-nil, brackets the goroutine's lifetime with
// TurnOn/TurnOff so callers can read astronomical/idling/working time
// for the request this chain serves.
func (c *Chain) Init(snap *types.Snapshot, algs []algorithm.Algorithm, timer *timecounter.Counter) error {
	if snap == nil || len(algs) == 0 {
		return ErrEmptyAlgorithms
	}

	c.mu.Lock()
	if c.status != NotStarted {
		c.mu.Unlock()
		return ErrAlreadyInit
	}
	c.status = Working
	c.asyncOp = asyncNone
	c.snapshot = snap
	c.algorithms = algs
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.workerLoop(timer)
	return nil
}

// Status reports the chain's current lifecycle state.
func (c *Chain) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stopped reports whether the chain is no longer WORKING.
func (c *Chain) Stopped() bool {
	return c.Status() != Working
}

// Done returns a channel closed once the chain reaches a terminal
// status (Finished or Interrupted).
func (c *Chain) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// ReadyForAsyncOperation reports whether no async operation is
// currently pending.
func (c *Chain) ReadyForAsyncOperation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asyncOp == asyncNone
}

// InterruptAsync requests that the worker loop stop at its next safe
// point. It fails if another async operation is already pending.
func (c *Chain) InterruptAsync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.asyncOp != asyncNone {
		return ErrBusy
	}
	if c.status == Working {
		c.asyncOp = asyncInterrupt
	}
	return nil
}

// InjectTimetableAsync requests the worker loop adopt tt as the actual
// timetable at its next safe point, and continue running remaining
// steps against it. If the chain has already stopped, tt is adopted
// immediately as the actual timetable.
func (c *Chain) InjectTimetableAsync(tt types.Timetable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.asyncOp != asyncNone {
		return ErrBusy
	}
	if c.status == Working {
		c.asyncOp = asyncInjectTT
		c.injectedTT = tt
	} else {
		c.haveActual = true
		c.actualTT = tt
	}
	return nil
}

// IntermediateTimetable returns the most recently published
// in-progress timetable, or ok=false if none has been published since
// the last step boundary.
func (c *Chain) IntermediateTimetable() (types.Timetable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intermTT, c.haveInterm
}

// ActualTimetable returns the most recently committed timetable, or
// ok=false if no step has succeeded yet.
func (c *Chain) ActualTimetable() (types.Timetable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.actualTT, c.haveActual
}

// Metrics returns the chain-level metrics registry.
func (c *Chain) Metrics() *metrics.Registry { return c.metricsReg }

// Algorithms returns the algorithm steps this chain is running, set
// once at Init and never mutated afterward, so it is read without
// locking c.mu.
func (c *Chain) Algorithms() []algorithm.Algorithm { return c.algorithms }

// ForcedToInterrupt implements algorithm.Events: it reports whether an
// async operation is currently pending, which both stops an
// in-progress FCFS pass and breaks a holdForever spin.
func (c *Chain) ForcedToInterrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asyncOp == asyncInterrupt || c.asyncOp == asyncInjectTT
}

// CommitIntermediateTimetable implements algorithm.Events.
func (c *Chain) CommitIntermediateTimetable(tt types.Timetable) {
	c.mu.Lock()
	c.intermTT = tt
	c.haveInterm = true
	c.mu.Unlock()
}

const bufferCount = 2

func (c *Chain) workerLoop(timer *timecounter.Counter) {
	if timer != nil {
		release := timer.Acquire()
		defer release()
	}

	var buffers [bufferCount]types.Timetable
	cur := 0
	succeeded := false
	injected := false

	for i := 0; i < len(c.algorithms); {
		var tt types.Timetable
		var err error
		stageTimer := metrics.NewTimer()
		if i == 0 && !injected {
			tt, err = c.algorithms[0].CreateTimetable(c.snapshot, c)
		} else {
			tt, err = c.algorithms[i].ImproveTimetable(buffers[cur], c.snapshot, c)
		}
		stageTimer.ObserveDurationVec(metrics.ChainStageDuration, c.algorithms[i].Descriptor().Family)
		succeeded = err == nil
		buffers[(cur+1)%bufferCount] = tt

		c.mu.Lock()
		if !succeeded && c.asyncOp == asyncNone {
			c.logger.Warn().Err(err).Int("step", i).Msg("chain step failed")
			c.status = Interrupted
			c.mu.Unlock()
			close(c.done)
			return
		}

		if succeeded {
			c.actualTT = tt
			c.haveActual = true
		}
		c.haveInterm = false

		switch c.asyncOp {
		case asyncInterrupt:
			c.asyncOp = asyncNone
			c.status = Interrupted
			c.mu.Unlock()
			close(c.done)
			return
		case asyncInjectTT:
			c.asyncOp = asyncNone
			c.status = Working
			c.actualTT = c.injectedTT
			c.haveActual = true
			buffers[(cur+1)%bufferCount] = c.injectedTT
			injected = true
		}
		c.mu.Unlock()

		cur = (cur + 1) % bufferCount
		if succeeded {
			i++
		}
	}

	c.mu.Lock()
	c.status = Finished
	c.mu.Unlock()
	close(c.done)
}
