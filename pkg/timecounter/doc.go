// Package timecounter implements a multi-reader, multi-writer
// stopwatch with three readouts: astronomical time since construction
// or the last reset, idling time (no acquirer held the counter on),
// and working time (sum of per-acquirer on-time).
//
// The original implementation keys per-acquirer state by OS thread id
// (std::thread::get_id()). Go goroutines have no portable, stable
// identity, so callers carry an explicit Token obtained from NewToken
// and pass the same Token to TurnOn and TurnOff - the Go-idiomatic
// equivalent of the
// original's thread-id map key.
package timecounter
