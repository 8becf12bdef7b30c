// Package chain runs a fixed sequence of algorithm.Algorithm steps
// against one snapshot: the first step constructs a timetable from
// scratch, each later step improves the previous step's result. A
// Chain owns a dedicated goroutine and exposes a small thread-safe
// async surface (interrupt, inject) to a single external supervisor,
// matching original_source's Chain/worker_loop split.
package chain
