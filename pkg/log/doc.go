/*
Package log provides structured logging for warren-sched using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("processor")               │          │
	│  │  - WithChainID("chain-abc123")              │          │
	│  │  - WithJobID("job-def456")                  │          │
	│  │  - WithRequestID("req-789")                 │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  {"level":"info","component":"processor",   │          │
	│  │   "chain_id":"chain-abc123",                │          │
	│  │   "message":"timetable committed"}          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	procLog := log.WithComponent("processor")
	procLog.Info().Str("chain_id", chainID).Msg("chain started")

	chainLog := log.WithChainID(chainID)
	chainLog.Warn().Err(err).Msg("step failed, interrupting chain")

	jobLog := log.WithJobID(job.ID)
	jobLog.Debug().Int("priority", job.Priority).Msg("job queued")

# Context Logger Helpers

  - WithComponent: tag logs with the owning package ("fcfs", "chain",
    "chaincontroller", "processor")
  - WithChainID: tag logs for one chain's lifetime, across its
    worker goroutine and its ChainController
  - WithJobID: tag logs for one job as it moves through placement
  - WithRequestID: tag logs for one inbound Command/Response pair,
    matching command_context.h's per-request id

# Integration Points

This package integrates with:

  - pkg/fcfs: logs jobs it could not place
  - pkg/chain: logs step failures
  - pkg/chaincontroller: logs hard-interrupt fallbacks
  - pkg/processor: logs rejected commands and failed result persistence
  - cmd/warren-sched: logs chain lifecycle events at debug level

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data (chain_id, job_id,
    request_id) instead of string interpolation
  - Create component-specific loggers and pass them down, rather than
    reaching for the package-level Logger from deep call stacks
  - Log errors with .Err() for consistent error formatting

Don't:
  - Log full Snapshot or Timetable payloads at Info level; they can be
    large and belong at Debug
  - Block on log writes in a chain's hot loop
*/
package log
