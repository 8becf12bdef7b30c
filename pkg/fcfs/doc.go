// Package fcfs implements the first-come-first-served placement engine:
// given a resource hierarchy and a batch of queued jobs it produces a
// Timetable assigning each schedulable job a start time and a set of
// nodes, honoring priority order, gang alignment, dependency ordering
// and partition affinity.
package fcfs
