package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/warren-sched/pkg/algorithm"
	"github.com/cuemby/warren-sched/pkg/log"
	"github.com/cuemby/warren-sched/pkg/metrics"
	"github.com/cuemby/warren-sched/pkg/processor"
	"github.com/cuemby/warren-sched/pkg/storage"
	"github.com/cuemby/warren-sched/pkg/timecounter"
	"github.com/cuemby/warren-sched/pkg/types"
)

// version is reported on /health; overridden at build time with
// -ldflags "-X main.version=...".
var version = "dev"

// Exit codes. Go processes only carry the low 8 bits of os.Exit's
// argument, so a negative original_source return code is represented
// here as its two's-complement byte value (-1 -> 255, -42 -> 214).
const (
	exitOK         = 0
	exitBadArgs    = 255 // -1: bad args or hierarchy scan failure
	exitPluginLoad = 254 // -2: plugin directory missing or unreadable
	exitEnvInit    = 253 // -3: env init or input-file failure
	exitUncaught   = 214 // -42: uncaught panic
)

// cliError pins a RunE failure to one of the exit codes above instead
// of the default exitBadArgs.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func failWith(code int, err error) error {
	return &cliError{code: code, err: err}
}

func main() {
	os.Exit(run())
}

func run() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n", r)
			code = exitUncaught
		}
	}()

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ce *cliError
		if errors.As(err, &ce) {
			return ce.code
		}
		return exitBadArgs
	}
	return exitOK
}

var rootCmd = &cobra.Command{
	Use:   "warren-sched",
	Short: "FCFS scheduling daemon: a Processor reading typed commands and writing typed responses",
	Long: `warren-sched hosts the FCFS scheduling engine, chain runtime and
processor described by the core scheduling contract. Given a batch
file it schedules the chains the file declares and prints their
outcome; without one it starts the processor and idles, ready to be
embedded by an external command receiver/sender pair.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("input", "i", "", "read a batch of scheduling requests from this YAML file")
	rootCmd.PersistentFlags().StringP("plugins", "p", "", "directory external algorithm plugins would be loaded from (none are loaded in this build)")
	rootCmd.PersistentFlags().Int("in-queue", 64, "input command queue size")
	rootCmd.PersistentFlags().Int("out-queue", 64, "output response queue size")
	rootCmd.PersistentFlags().Float64("timeout", 5.0, "chain controller handshake timeout, in seconds")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for chain result persistence (disabled if empty)")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics, /health, /ready and /live on (disabled if empty)")
}

func initLogging(debug bool) {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level})
}

func runDaemon(cmd *cobra.Command, args []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	input, _ := cmd.Flags().GetString("input")
	plugins, _ := cmd.Flags().GetString("plugins")
	inQueue, _ := cmd.Flags().GetInt("in-queue")
	outQueue, _ := cmd.Flags().GetInt("out-queue")
	timeoutSecs, _ := cmd.Flags().GetFloat64("timeout")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	initLogging(debug)
	metrics.SetVersion(version)

	if inQueue < 0 || outQueue < 0 {
		return failWith(exitBadArgs, fmt.Errorf("queue sizes must be non-negative, got in=%d out=%d", inQueue, outQueue))
	}
	if timeoutSecs <= 0 {
		return failWith(exitBadArgs, fmt.Errorf("timeout must be positive, got %v", timeoutSecs))
	}

	if plugins != "" {
		if _, err := os.Stat(plugins); err != nil {
			return failWith(exitPluginLoad, fmt.Errorf("plugin directory %q: %w", plugins, err))
		}
		log.Logger.Warn().Str("dir", plugins).Msg("external algorithm plugins are not loaded in this build; only fcfs is registered")
	}

	factory := algorithm.NewFactory()
	if err := factory.Register(algorithm.FCFSDescriptor, algorithm.NewFCFSConstructor()); err != nil {
		return failWith(exitEnvInit, fmt.Errorf("registering fcfs: %w", err))
	}

	var store storage.Store
	if dataDir != "" {
		boltStore, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return failWith(exitEnvInit, fmt.Errorf("opening store at %q: %w", dataDir, err))
		}
		store = boltStore
		defer store.Close()
		metrics.RegisterComponent("storage", true, "ready")
	} else {
		metrics.RegisterComponent("storage", true, "disabled")
	}

	in := make(chan types.Command, inQueue)
	out := make(chan types.Response, outQueue)

	proc := processor.New()
	if store != nil {
		proc.SetStore(store)
	}
	if err := proc.Init(factory, in, out, time.Duration(timeoutSecs*float64(time.Second))); err != nil {
		return failWith(exitEnvInit, fmt.Errorf("initializing processor: %w", err))
	}
	defer proc.Close()
	metrics.RegisterComponent("processor", true, "ready")

	logEvents(proc)

	if metricsAddr != "" {
		serveOps(metricsAddr)
	}

	if input != "" {
		return runBatch(input, in, out)
	}
	return runIdle()
}

// serveOps starts the ambient ops HTTP endpoints (/metrics, /health,
// /ready, /live) in the background. A listen failure is logged, not
// fatal: scheduling still works without anyone scraping it.
func serveOps(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Warn().Err(err).Str("addr", addr).Msg("ops endpoint server stopped")
		}
	}()
	log.Logger.Info().Str("addr", addr).Msg("serving /metrics, /health, /ready, /live")
}

// logEvents drains the processor's lifecycle events onto the debug log
// for the lifetime of the process, so a caller with no other observer
// still gets visibility into chain starts, finishes and exchanges.
func logEvents(proc *processor.Processor) {
	sub := proc.Events()
	go func() {
		for ev := range sub {
			log.Logger.Debug().
				Str("chain_id", ev.ChainID).
				Str("event", string(ev.Type)).
				Msg(ev.Message)
		}
	}()
}

// batchRequest is one scheduling request as read from an --input file.
type batchRequest struct {
	ChainID  string                `yaml:"chain_id"`
	AlgSpecs []types.AlgorithmSpec `yaml:"algorithms"`
	Snapshot types.Snapshot        `yaml:"snapshot"`
}

type batchFile struct {
	Requests []batchRequest `yaml:"requests"`
}

type batchResult struct {
	RequestID string          `yaml:"request_id"`
	ChainID   string          `yaml:"chain_id"`
	Status    string          `yaml:"status"`
	Timetable types.Timetable `yaml:"timetable,omitempty"`
}

func runBatch(path string, in chan<- types.Command, out <-chan types.Response) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return failWith(exitEnvInit, fmt.Errorf("reading input file: %w", err))
	}

	var file batchFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return failWith(exitEnvInit, fmt.Errorf("parsing input file: %w", err))
	}
	if len(file.Requests) == 0 {
		return failWith(exitEnvInit, errors.New("input file declares no requests"))
	}

	for i, req := range file.Requests {
		snap := req.Snapshot
		in <- types.Command{
			Kind:      types.CmdSchedule,
			ChainID:   req.ChainID,
			RequestID: fmt.Sprintf("req-%d", i),
			AlgSpecs:  req.AlgSpecs,
			Snapshot:  &snap,
			Context:   types.Context{RequestUID: fmt.Sprintf("req-%d", i), Timer: timecounter.New()},
		}
	}

	results := make([]batchResult, 0, len(file.Requests))
	for range file.Requests {
		resp := <-out
		status := "failed"
		if resp.Status == types.StatusOK {
			status = "ok"
		}
		results = append(results, batchResult{
			RequestID: resp.RequestID,
			Status:    status,
			Timetable: resp.Timetables,
		})
	}

	encoded, err := yaml.Marshal(results)
	if err != nil {
		return failWith(exitEnvInit, fmt.Errorf("encoding results: %w", err))
	}
	fmt.Print(string(encoded))
	return nil
}

// runIdle keeps the processor alive for an external embedder until the
// process receives an interrupt or termination signal.
func runIdle() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	log.Logger.Info().Msg("processor running, no --input given; waiting for signal")
	<-sigCh
	log.Logger.Info().Msg("shutting down")
	return nil
}
