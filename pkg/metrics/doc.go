// Package metrics provides two distinct layers of instrumentation.
//
// Registry is the domain-level metrics map each chain, controller and
// algorithm instance owns: a thread-safe id->(name, value, handlers)
// table, separately typed for integers and floats, supporting
// register/read/update/reset/enumerate/clone. It has no prometheus
// dependency - nothing in the ecosystem offers register-handler-
// invoked-outside-the-lock-with-a-snapshot semantics, so this layer
// is hand-rolled generics (see DESIGN.md).
//
// The ambient operational metrics (scheduling latency, queue depth,
// exchange duration) are registered with prometheus/client_golang in
// metrics.go, following this module's ambient logging/metrics
// conventions, and are independent of Registry.
package metrics
