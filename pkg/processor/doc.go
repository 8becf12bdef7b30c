// Package processor dispatches typed commands to chains: SCHEDULE
// creates a Chain and its supervising ChainController, INTERRUPT and
// METRICS look one up and delegate, EXCHANGE invokes both sides of a
// timetable swap, and CORRUPTED commands are rejected outright. A
// background loop reaps controllers whose chains have finished,
// matching original_source's processor.cpp worker_thread. Every
// chain's lifecycle events are also mirrored onto an events.Broker a
// caller can subscribe to via Events, independent of the Response a
// command produces.
package processor
