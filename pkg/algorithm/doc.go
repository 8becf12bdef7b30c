// Package algorithm defines the pluggable scheduling-step interface a
// Chain runs in sequence, plus a Factory that resolves an
// AlgorithmSpec to a concrete Algorithm instance the way the original
// plugin loader resolved a descriptor to a dynamic-library binding -
// minus the dynamic-library host itself, which is out of scope: every
// Algorithm here is registered in-process.
package algorithm
