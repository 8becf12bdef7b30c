package processor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warren-sched/pkg/algorithm"
	"github.com/cuemby/warren-sched/pkg/chain"
	"github.com/cuemby/warren-sched/pkg/chaincontroller"
	"github.com/cuemby/warren-sched/pkg/events"
	"github.com/cuemby/warren-sched/pkg/log"
	"github.com/cuemby/warren-sched/pkg/metrics"
	"github.com/cuemby/warren-sched/pkg/storage"
	"github.com/cuemby/warren-sched/pkg/types"
)

// requestsMetricID is the domain metrics id service_metrics.cpp
// registers its running request counter under.
const requestsMetricID = 1

// reapInterval bounds how often the worker loop checks for finished
// controllers to release, mirroring processor.cpp's 2ms poll.
const reapInterval = 2 * time.Millisecond

// Sentinel errors.
var (
	ErrAlreadyInitialized = errors.New("processor: already initialized")
	ErrNilDependency      = errors.New("processor: factory and queues must not be nil")
	ErrTimeoutTooSmall    = errors.New("processor: timeout must be positive")
	ErrNoAlgorithmSpecs   = errors.New("processor: cannot create an algorithm without a specification")
	ErrChainNotFound      = errors.New("processor: chain not found")
	ErrChainAlreadyExists = errors.New("processor: chain already exists")
)

// Processor reads types.Command values off an input channel, dispatches
// each to a new or existing chain, and writes exactly one types.Response
// per command onto an output channel.
type Processor struct {
	factory  *algorithm.Factory
	timeout  time.Duration
	logger   zerolog.Logger
	inQueue  <-chan types.Command
	outQueue chan<- types.Response

	serviceMetrics *metrics.Registry
	eventBroker    *events.Broker
	store          storage.Store

	mu          sync.Mutex
	initialized bool
	closed      bool
	chains      map[string]*chainEntry
	done        chan struct{}
}

type chainEntry struct {
	chain      *chain.Chain
	controller *chaincontroller.Controller
}

// New returns an uninitialized Processor.
func New() *Processor {
	reg := metrics.NewRegistry()
	_ = reg.RegisterInt(requestsMetricID, "requests_total")
	broker := events.NewBroker()
	broker.Start()
	return &Processor{
		logger:         log.WithComponent("processor"),
		serviceMetrics: reg,
		eventBroker:    broker,
		chains:         make(map[string]*chainEntry),
	}
}

// Events returns a subscription to this processor's chain lifecycle
// notifications. Callers must Unsubscribe when done.
func (p *Processor) Events() events.Subscriber {
	return p.eventBroker.Subscribe()
}

// SetStore attaches a Store this processor persists a ChainResult to
// once a chain finishes, so its outcome survives past the in-memory
// reap. Call before Init; a nil store (the default) disables
// persistence entirely.
func (p *Processor) SetStore(store storage.Store) {
	p.mu.Lock()
	p.store = store
	p.mu.Unlock()
}

// Init wires the processor to factory (used to resolve AlgorithmSpecs)
// and spawns its worker goroutine reading in and writing out. timeout
// bounds every ChainController's interrupt and exchange handshakes.
func (p *Processor) Init(factory *algorithm.Factory, in <-chan types.Command, out chan<- types.Response, timeout time.Duration) error {
	if factory == nil || in == nil || out == nil {
		return ErrNilDependency
	}
	if timeout <= 0 {
		return ErrTimeoutTooSmall
	}

	p.mu.Lock()
	if p.initialized {
		p.mu.Unlock()
		return ErrAlreadyInitialized
	}
	p.initialized = true
	p.factory = factory
	p.inQueue = in
	p.outQueue = out
	p.timeout = timeout
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.workerLoop()
	return nil
}

// Close requests the worker loop stop accepting new dispatch once
// every chain it owns has finished, then blocks until it has.
func (p *Processor) Close() {
	p.mu.Lock()
	p.closed = true
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	p.eventBroker.Stop()
}

func (p *Processor) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Processor) chainCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chains)
}

func (p *Processor) workerLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd, ok := <-p.inQueue:
			if ok {
				p.dispatch(cmd)
			} else {
				p.inQueue = nil
			}
		case <-ticker.C:
		}

		p.reapFinished()
		metrics.ChainsActive.Set(float64(p.chainCount()))
		metrics.QueueDepth.WithLabelValues("in").Set(float64(len(p.inQueue)))
		metrics.QueueDepth.WithLabelValues("out").Set(float64(len(p.outQueue)))

		if p.isClosed() && p.chainCount() == 0 {
			p.mu.Lock()
			done := p.done
			p.mu.Unlock()
			close(done)
			return
		}
	}
}

func (p *Processor) reapFinished() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entry := range p.chains {
		if entry.controller.Finished() {
			delete(p.chains, id)
		}
	}
}

func (p *Processor) dispatch(cmd types.Command) {
	if cmd.Context.Timer != nil {
		release := cmd.Context.Timer.Acquire()
		defer release()
	}

	status := "ok"
	defer func() {
		p.serviceMetrics.UpdateInt(requestsMetricID, 1)
		metrics.CommandsTotal.WithLabelValues(kindLabel(cmd.Kind), status).Inc()
	}()

	// Each handler below is responsible for pushing exactly one
	// Response onto outQueue on every path, including failure - dispatch
	// only derives the ambient status label from the returned error.
	var err error
	switch cmd.Kind {
	case types.CmdSchedule:
		err = p.handleSchedule(cmd)
	case types.CmdInterrupt:
		err = p.handleInterrupt(cmd)
	case types.CmdMetrics:
		err = p.handleMetrics(cmd)
	case types.CmdExchange:
		err = p.handleExchange(cmd)
	case types.CmdCorrupted:
		err = errors.New("processor: corrupted command")
		p.respondEmpty(cmd, false)
	default:
		err = errors.New("processor: unknown command kind")
		p.respondEmpty(cmd, false)
	}
	if err != nil {
		status = "error"
	}
}

func kindLabel(k types.CommandKind) string {
	switch k {
	case types.CmdSchedule:
		return "schedule"
	case types.CmdInterrupt:
		return "interrupt"
	case types.CmdMetrics:
		return "metrics"
	case types.CmdExchange:
		return "exchange"
	case types.CmdCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

func (p *Processor) handleSchedule(cmd types.Command) error {
	p.mu.Lock()
	_, exists := p.chains[cmd.ChainID]
	p.mu.Unlock()
	if exists {
		p.logger.Warn().Str("chain_id", cmd.ChainID).Msg("chain already exists")
		p.respondEmpty(cmd, false)
		return ErrChainAlreadyExists
	}

	algs, err := p.createAlgorithms(cmd.AlgSpecs, cmd.Snapshot)
	if err != nil {
		p.logger.Warn().Err(err).Str("chain_id", cmd.ChainID).Msg("failed to create algorithms")
		p.respondEmpty(cmd, false)
		return err
	}

	c := chain.New()
	if err := c.Init(cmd.Snapshot, algs, cmd.Context.Timer); err != nil {
		p.respondEmpty(cmd, false)
		return fmt.Errorf("processor: init chain: %w", err)
	}

	cc := chaincontroller.New()
	cc.SetAlgorithms(algs)
	cc.SetEventSink(cmd.ChainID, p.eventBroker)

	finishClb := func(succeeded bool, tt types.Timetable, haveTT bool, snap chaincontroller.MetricsSnapshot) {
		resp := types.Response{RequestID: cmd.RequestID, Status: types.ResponseStatus(succeeded)}
		metricSamples := toMetricSamples(snap)
		if succeeded && haveTT {
			resp.Timetables = tt
			resp.Metrics = metricSamples
		}
		p.persistResult(cmd.ChainID, succeeded, tt, metricSamples)
		p.recordSchedulingOutcome(succeeded, cmd.Snapshot, tt)
		p.fillTimes(&resp, cmd)
		p.outQueue <- resp
	}

	if err := cc.Init(c, p.serviceMetrics, p.timeout, finishClb, cmd.Context.Timer); err != nil {
		p.respondEmpty(cmd, false)
		return fmt.Errorf("processor: init chain controller: %w", err)
	}

	p.mu.Lock()
	p.chains[cmd.ChainID] = &chainEntry{chain: c, controller: cc}
	p.mu.Unlock()
	return nil
}

func (p *Processor) createAlgorithms(specs []types.AlgorithmSpec, snap *types.Snapshot) ([]algorithm.Algorithm, error) {
	if len(specs) == 0 {
		return nil, ErrNoAlgorithmSpecs
	}

	algs := make([]algorithm.Algorithm, 0, len(specs))
	for _, spec := range specs {
		alg, err := p.factory.Create(spec, snap)
		if err != nil {
			return nil, fmt.Errorf("processor: resolve algorithm for family %q: %w", spec.Family, err)
		}
		algs = append(algs, alg)
	}
	return algs, nil
}

func (p *Processor) handleInterrupt(cmd types.Command) error {
	entry, ok := p.lookupChain(cmd.ChainID)
	if !ok {
		p.respondChainNotFound(cmd, cmd.ChainID)
		return ErrChainNotFound
	}

	entry.controller.InvokeInterrupt(func(succeeded bool, _ chaincontroller.MetricsSnapshot) {
		resp := types.Response{RequestID: cmd.RequestID, Status: types.ResponseStatus(succeeded)}
		p.fillTimes(&resp, cmd)
		p.outQueue <- resp
	})
	return nil
}

func (p *Processor) handleMetrics(cmd types.Command) error {
	entry, ok := p.lookupChain(cmd.ChainID)
	if !ok {
		p.respondChainNotFound(cmd, cmd.ChainID)
		return ErrChainNotFound
	}

	entry.controller.InvokeStats(func(succeeded bool, snap chaincontroller.MetricsSnapshot) {
		resp := types.Response{RequestID: cmd.RequestID, Status: types.ResponseStatus(succeeded)}
		if succeeded {
			resp.Metrics = toMetricSamples(snap)
		}
		p.fillTimes(&resp, cmd)
		p.outQueue <- resp
	})
	return nil
}

// handleExchange invokes the swap on both sides, matching
// processor.cpp:300-305 exactly: only the source side's callback
// produces a Response, the destination side's is a no-op.
func (p *Processor) handleExchange(cmd types.Command) error {
	src, ok := p.lookupChain(cmd.ChainID)
	if !ok {
		p.respondChainNotFound(cmd, cmd.ChainID)
		return ErrChainNotFound
	}
	dst, ok := p.lookupChain(cmd.TargetID)
	if !ok {
		p.respondChainNotFound(cmd, cmd.TargetID)
		return ErrChainNotFound
	}

	src.controller.InvokeExchange(dst.controller, func(succeeded bool) {
		resp := types.Response{RequestID: cmd.RequestID, Status: types.ResponseStatus(succeeded)}
		p.fillTimes(&resp, cmd)
		p.outQueue <- resp
	})
	dst.controller.InvokeExchange(src.controller, func(bool) {})
	return nil
}

func (p *Processor) lookupChain(id string) (*chainEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.chains[id]
	return e, ok
}

func (p *Processor) respondChainNotFound(cmd types.Command, chainID string) {
	p.logger.Warn().Str("chain_id", chainID).Str("request_id", cmd.RequestID).Msg("target chain not found")
	p.respondEmpty(cmd, false)
}

func (p *Processor) respondEmpty(cmd types.Command, succeeded bool) {
	resp := types.Response{RequestID: cmd.RequestID, Status: types.ResponseStatus(succeeded)}
	p.fillTimes(&resp, cmd)
	p.outQueue <- resp
}

func (p *Processor) persistResult(chainID string, succeeded bool, tt types.Timetable, samples []types.MetricSample) {
	p.mu.Lock()
	store := p.store
	p.mu.Unlock()
	if store == nil {
		return
	}
	err := store.SaveChainResult(&storage.ChainResult{
		ChainID:    chainID,
		Succeeded:  succeeded,
		Timetable:  tt,
		Metrics:    samples,
		FinishedAt: time.Now(),
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("chain_id", chainID).Msg("failed to persist chain result")
	}
}

// recordSchedulingOutcome reports a finished chain's placement result
// to the ambient ops counters: every job that ended up on the actual
// timetable counts as scheduled, every other job in the snapshot
// counts as failed.
func (p *Processor) recordSchedulingOutcome(succeeded bool, snap *types.Snapshot, tt types.Timetable) {
	if snap == nil {
		return
	}
	placed := make(map[string]bool, len(tt))
	for _, e := range tt {
		placed[e.JobID] = true
	}
	for _, j := range snap.Jobs {
		if succeeded && placed[j.ID] {
			metrics.JobsScheduled.Inc()
		} else {
			reason := "chain_failed"
			if succeeded {
				reason = "not_placed"
			}
			metrics.JobsFailed.WithLabelValues(reason).Inc()
		}
	}
}

func (p *Processor) fillTimes(resp *types.Response, cmd types.Command) {
	if cmd.Context.Timer == nil {
		return
	}
	astro, idle, working := cmd.Context.Timer.GetTimes()
	resp.AstroTime = astro
	resp.IdleTime = idle
	resp.WorkTime = working
}

func toMetricSamples(snap chaincontroller.MetricsSnapshot) []types.MetricSample {
	var out []types.MetricSample
	appendFrom := func(prefix string, reg *metrics.Registry) {
		if reg == nil {
			return
		}
		for _, s := range reg.Samples() {
			out = append(out, types.MetricSample{
				Name:         prefix + s.Name,
				IntegerValue: s.IntegerValue,
				FloatValue:   s.FloatValue,
			})
		}
	}

	appendFrom("service.", snap.Service)
	appendFrom("chain.", snap.Chain)
	for _, am := range snap.Algorithms {
		prefix := fmt.Sprintf("algorithm.%s.", am.Descriptor.Family)
		appendFrom(prefix+"internal.", am.Internal)
		appendFrom(prefix+"external.", am.External)
	}
	return out
}
