package storage

import (
	"time"

	"github.com/cuemby/warren-sched/pkg/types"
)

// ChainResult is the durable record of one chain's outcome: its final
// status, the actual timetable it published (if any), and a flattened
// metrics snapshot, keyed by chain id.
type ChainResult struct {
	ChainID    string
	Succeeded  bool
	Timetable  types.Timetable
	Metrics    []types.MetricSample
	FinishedAt time.Time
}

// Store persists chain results across process restarts, so a caller
// that asks for a chain's outcome after the processor has already
// reaped its controller can still retrieve it.
type Store interface {
	SaveChainResult(result *ChainResult) error
	GetChainResult(chainID string) (*ChainResult, error)
	ListChainResults() ([]*ChainResult, error)
	DeleteChainResult(chainID string) error
	Close() error
}
