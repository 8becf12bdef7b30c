// Package queue implements a fixed-capacity, thread-safe FIFO, used as
// a chain controller's command queue (the processor itself exchanges
// commands and responses over Go channels). Push blocks while full, pop blocks while empty, both via
// cooperative yielding rather than condition variables, matching the
// spin-yield discipline of the system this package is modeled on.
package queue
