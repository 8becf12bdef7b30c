package chaincontroller

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warren-sched/pkg/algorithm"
	"github.com/cuemby/warren-sched/pkg/chain"
	"github.com/cuemby/warren-sched/pkg/events"
	"github.com/cuemby/warren-sched/pkg/log"
	"github.com/cuemby/warren-sched/pkg/metrics"
	"github.com/cuemby/warren-sched/pkg/queue"
	"github.com/cuemby/warren-sched/pkg/timecounter"
	"github.com/cuemby/warren-sched/pkg/types"
)

// ExchangeStage tracks a controller's progress through InvokeExchange's
// handshake with a counterpart controller.
type ExchangeStage int

const (
	// Waiting is the zero stage and the first stage of every exchange.
	// Between exchanges a controller keeps the stage its last exchange
	// ended in: TTInjecting after a success, Failed after a failure.
	Waiting ExchangeStage = iota
	TTTaken
	TTInjecting
	Failed
)

// commandQueueSize bounds how many pending invocations a controller
// will buffer before Invoke blocks its caller.
const commandQueueSize = 64

// Sentinel errors.
var (
	ErrAlreadyInitialized = errors.New("chaincontroller: already initialized")
	ErrNilChain           = errors.New("chaincontroller: chain must not be nil")
	ErrTimeoutTooSmall    = errors.New("chaincontroller: timeout must be positive")
)

// AlgorithmMetrics bundles one algorithm step's internal and external
// metrics registries alongside the descriptor identifying it, restored
// from algorithm_metrics.cpp/h's per-algorithm breakdown.
type AlgorithmMetrics struct {
	Descriptor types.AlgorithmDescriptor
	Internal   *metrics.Registry
	External   *metrics.Registry
}

// MetricsSnapshot bundles a point-in-time copy of the service-level,
// chain-level and per-algorithm metrics registries, returned by
// InvokeStats and the finish callback.
type MetricsSnapshot struct {
	Service    *metrics.Registry
	Chain      *metrics.Registry
	Algorithms []AlgorithmMetrics
}

// ExchangeCallback reports whether an exchange initiated by
// InvokeExchange succeeded.
type ExchangeCallback func(succeeded bool)

// InterruptCallback reports the outcome of InvokeInterrupt.
type InterruptCallback func(succeeded bool, snapshot MetricsSnapshot)

// StatsCallback reports the outcome of InvokeStats.
type StatsCallback func(succeeded bool, snapshot MetricsSnapshot)

// FinishCallback fires exactly once, when the controller's worker loop
// exits, reporting whether the chain finished cleanly.
type FinishCallback func(succeeded bool, tt types.Timetable, haveTT bool, snapshot MetricsSnapshot)

// Controller supervises one chain.Chain. Its public methods enqueue
// work onto an internal bounded queue drained by a dedicated worker
// goroutine, so the commands it accepts run one at a time, in the
// order they were enqueued.
type Controller struct {
	chain          *chain.Chain
	serviceMetrics *metrics.Registry
	finishClb      FinishCallback
	timeout        time.Duration
	logger         zerolog.Logger

	algMu      sync.Mutex
	algorithms []algorithm.Algorithm

	evMu    sync.Mutex
	chainID string
	broker  *events.Broker

	queue *queue.Bounded[func(bool)]

	mu            sync.Mutex
	initialized   bool
	stopped       bool
	finished      bool
	exchangeStage ExchangeStage
	exchangeWith  *Controller

	done chan struct{}
}

// New returns an uninitialized Controller.
func New() *Controller {
	return &Controller{
		queue:  queue.New[func(bool)](commandQueueSize),
		logger: log.WithComponent("chaincontroller"),
	}
}

// Init binds the controller to c and spawns its worker goroutine.
// serviceMetrics is the service-wide registry included in every
// MetricsSnapshot this controller produces. finishClb fires exactly
// once when the worker loop exits.
func (cc *Controller) Init(c *chain.Chain, serviceMetrics *metrics.Registry, timeout time.Duration, finishClb FinishCallback, timer *timecounter.Counter) error {
	if c == nil {
		return ErrNilChain
	}
	if timeout <= 0 {
		return ErrTimeoutTooSmall
	}

	cc.mu.Lock()
	if cc.initialized {
		cc.mu.Unlock()
		return ErrAlreadyInitialized
	}
	cc.initialized = true
	cc.chain = c
	cc.serviceMetrics = serviceMetrics
	cc.timeout = timeout
	cc.finishClb = finishClb
	cc.done = make(chan struct{})
	cc.mu.Unlock()

	go cc.workerLoop(timer)
	return nil
}

// Done returns a channel closed once the worker loop has exited and the
// finish callback has fired.
func (cc *Controller) Done() <-chan struct{} {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.done
}

// Finished reports whether the controller's worker loop has exited.
func (cc *Controller) Finished() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.finished
}

func (cc *Controller) isStopped() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.stopped
}

func (cc *Controller) setStopped() {
	cc.mu.Lock()
	cc.stopped = true
	cc.mu.Unlock()
}

func (cc *Controller) getExchangeStage() ExchangeStage {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.exchangeStage
}

func (cc *Controller) setExchangeStage(s ExchangeStage) {
	cc.mu.Lock()
	cc.exchangeStage = s
	cc.mu.Unlock()
}

func (cc *Controller) getExchangeWith() *Controller {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.exchangeWith
}

func (cc *Controller) setExchangeWith(other *Controller) {
	cc.mu.Lock()
	cc.exchangeWith = other
	cc.mu.Unlock()
}

// SetAlgorithms records the algorithm steps this controller's chain is
// running, so InvokeStats and the finish callback can fold each
// algorithm's own internal/external registries into their
// MetricsSnapshot. Call before the chain finishes; it is safe to call
// concurrently with the worker loop.
func (cc *Controller) SetAlgorithms(algs []algorithm.Algorithm) {
	cc.algMu.Lock()
	cc.algorithms = algs
	cc.algMu.Unlock()
}

// SetEventSink attaches a broker this controller publishes
// finish/exchange notifications to, tagged with chainID. Nil broker is
// a valid no-op default; call before Init.
func (cc *Controller) SetEventSink(chainID string, broker *events.Broker) {
	cc.evMu.Lock()
	cc.chainID = chainID
	cc.broker = broker
	cc.evMu.Unlock()
}

func (cc *Controller) publish(evType events.EventType, msg string) {
	cc.evMu.Lock()
	broker, chainID := cc.broker, cc.chainID
	cc.evMu.Unlock()
	if broker == nil {
		return
	}
	broker.Publish(&events.Event{Type: evType, ChainID: chainID, Message: msg})
}

func (cc *Controller) snapshotMetrics() MetricsSnapshot {
	var svc *metrics.Registry
	if cc.serviceMetrics != nil {
		svc = cc.serviceMetrics.Clone()
	}

	cc.algMu.Lock()
	algs := cc.algorithms
	cc.algMu.Unlock()

	algMetrics := make([]AlgorithmMetrics, 0, len(algs))
	for _, a := range algs {
		internal, external := a.Metrics()
		am := AlgorithmMetrics{Descriptor: a.Descriptor()}
		if internal != nil {
			am.Internal = internal.Clone()
		}
		if external != nil {
			am.External = external.Clone()
		}
		algMetrics = append(algMetrics, am)
	}

	return MetricsSnapshot{Service: svc, Chain: cc.chain.Metrics().Clone(), Algorithms: algMetrics}
}

// invoke enqueues f to run on the worker goroutine. If the controller
// has already stopped accepting work, f runs immediately with
// skipped=true instead of being queued.
func (cc *Controller) invoke(f func(skipped bool)) {
	cc.mu.Lock()
	accepting := !cc.stopped
	cc.mu.Unlock()

	if !accepting {
		f(true)
		return
	}
	cc.queue.Push(f)
}

// InvokeExchange asks this controller to swap its chain's actual
// timetable with target's. The swap only happens if target's owner
// also calls target.InvokeExchange(cc, ...); that call may pass a
// no-op ExchangeCallback, but a nil callback makes InvokeExchange
// return without taking part. If the controller has already stopped,
// clb is called with false.
//
// The handshake runs in four stages mirroring original_source's
// ExchangeStage: this side marks itself Waiting and publishes itself as
// target's counterpart, waits for target to reciprocate, takes target's
// timetable (TTTaken), waits for its own chain to be ready for an async
// operation, advances to TTInjecting and waits for target to reach the
// same stage, then injects. Every wait is bounded by the controller's
// configured timeout.
func (cc *Controller) InvokeExchange(target *Controller, clb ExchangeCallback) {
	cc.invoke(func(skipped bool) {
		if clb == nil {
			return
		}
		if skipped {
			clb(false)
			return
		}
		exchangeTimer := metrics.NewTimer()
		wrappedClb := func(succeeded bool) {
			exchangeTimer.ObserveDuration(metrics.ExchangeDuration)
			if !succeeded {
				metrics.ExchangesFailed.Inc()
			}
			clb(succeeded)
		}
		clb = wrappedClb

		if cc.chain.Stopped() || target.chain.Stopped() {
			clb(false)
			return
		}

		deadline := time.Now().Add(cc.timeout)

		cc.setExchangeStage(Waiting)
		cc.setExchangeWith(target)

		for target.getExchangeWith() != cc {
			if !time.Now().Before(deadline) {
				cc.fail(clb)
				return
			}
			runtime.Gosched()
		}

		targetTT, haveTT := target.chain.ActualTimetable()
		if !haveTT {
			cc.fail(clb)
			return
		}
		cc.setExchangeStage(TTTaken)

		for {
			s := target.getExchangeStage()
			if s == TTTaken || s == TTInjecting {
				break
			}
			if s == Failed || !time.Now().Before(deadline) {
				cc.fail(clb)
				return
			}
			runtime.Gosched()
		}

		for !cc.chain.Stopped() && !cc.chain.ReadyForAsyncOperation() {
			if !time.Now().Before(deadline) {
				cc.fail(clb)
				return
			}
			runtime.Gosched()
		}
		if cc.chain.Stopped() {
			cc.fail(clb)
			return
		}

		cc.setExchangeStage(TTInjecting)

		for {
			s := target.getExchangeStage()
			if s == TTInjecting {
				break
			}
			if s == Failed || !time.Now().Before(deadline) {
				cc.fail(clb)
				return
			}
			runtime.Gosched()
		}

		succeeded := cc.chain.InjectTimetableAsync(targetTT) == nil
		// The stage stays at TTInjecting: target may not have observed it
		// yet, and the next exchange resets it to Waiting on entry.
		cc.setExchangeWith(nil)
		if succeeded {
			cc.publish(events.EventExchangeSucceeded, "")
		} else {
			cc.publish(events.EventExchangeFailed, "inject failed")
		}
		clb(succeeded)
	})
}

func (cc *Controller) fail(clb ExchangeCallback) {
	cc.setExchangeStage(Failed)
	cc.setExchangeWith(nil)
	cc.publish(events.EventExchangeFailed, "handshake timed out")
	clb(false)
}

// InvokeInterrupt asks the chain to stop. If the chain becomes ready
// for an async operation within the controller's timeout, this is a
// soft interruption: InterruptAsync is issued and the call waits for
// the chain to actually stop, within the same timeout. If either wait
// expires, the controller falls back to a hard interruption: it marks
// itself stopped directly without waiting on the chain again, so its
// worker loop exits on its next pass.
func (cc *Controller) InvokeInterrupt(clb InterruptCallback) {
	cc.invoke(func(skipped bool) {
		if skipped {
			if clb != nil {
				clb(false, cc.snapshotMetrics())
			}
			return
		}
		if cc.chain.Stopped() {
			if clb != nil {
				clb(false, cc.snapshotMetrics())
			}
			return
		}

		deadline := time.Now().Add(cc.timeout)

		for !cc.chain.Stopped() && !cc.chain.ReadyForAsyncOperation() && time.Now().Before(deadline) {
			runtime.Gosched()
		}

		if cc.chain.Stopped() {
			if clb != nil {
				clb(true, cc.snapshotMetrics())
			}
			return
		}

		if !cc.chain.ReadyForAsyncOperation() {
			cc.logger.Warn().Msg("hard interrupt: chain never became ready for async op")
			cc.setStopped()
			if clb != nil {
				clb(true, cc.snapshotMetrics())
			}
			return
		}

		if err := cc.chain.InterruptAsync(); err != nil {
			if clb != nil {
				clb(false, cc.snapshotMetrics())
			}
			return
		}

		for !cc.chain.Stopped() && time.Now().Before(deadline) {
			runtime.Gosched()
		}

		snap := cc.snapshotMetrics()
		if cc.chain.Stopped() {
			if clb != nil {
				clb(true, snap)
			}
			return
		}

		cc.logger.Warn().Msg("hard interrupt: chain did not stop before timeout")
		cc.setStopped()
		if clb != nil {
			clb(true, snap)
		}
	})
}

// InvokeStats requests a metrics snapshot without disturbing the
// chain's run.
func (cc *Controller) InvokeStats(clb StatsCallback) {
	cc.invoke(func(skipped bool) {
		if clb == nil {
			return
		}
		if skipped || cc.chain.Stopped() {
			clb(false, MetricsSnapshot{})
			return
		}
		clb(true, cc.snapshotMetrics())
	})
}

func (cc *Controller) workerLoop(timer *timecounter.Counter) {
	if timer != nil {
		release := timer.Acquire()
		defer release()
	}

	cc.publish(events.EventChainStarted, "")

	for !cc.isStopped() && !cc.chain.Stopped() {
		if f, ok := cc.queue.TryPeek(); ok {
			cc.queue.Pop()
			f(false)
		} else {
			runtime.Gosched()
		}
	}

	for {
		f, ok := cc.queue.TryPeek()
		if !ok {
			break
		}
		cc.queue.Pop()
		f(true)
	}

	cc.setStopped()

	succeeded := cc.chain.Status() == chain.Finished
	tt, haveTT := cc.chain.ActualTimetable()
	snap := cc.snapshotMetrics()

	cc.mu.Lock()
	cc.finished = true
	cc.mu.Unlock()

	if succeeded {
		cc.publish(events.EventChainFinished, "")
	} else {
		cc.publish(events.EventChainInterrupted, "")
	}

	if cc.finishClb != nil {
		cc.finishClb(succeeded, tt, haveTT, snap)
	}
	close(cc.done)
}
