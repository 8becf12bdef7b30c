// Package chaincontroller supervises a single chain.Chain: it owns a
// bounded command queue that serializes invoke/exchange/interrupt/stats
// requests onto the chain's worker goroutine, and implements the
// multi-stage handshake two controllers use to swap actual timetables,
// matching original_source's ChainController/worker_loop split.
package chaincontroller
