package types

import (
	"time"

	"github.com/cuemby/warren-sched/pkg/timecounter"
)

// RhKind identifies the kind of a Resource Hierarchy tree node.
type RhKind string

const (
	RhKindGrid      RhKind = "grid"
	RhKindCluster   RhKind = "cluster"
	RhKindPartition RhKind = "partition"
	RhKindNode      RhKind = "node"
)

// RhItem is one node of the Resource Hierarchy as submitted by a caller,
// before validation by pkg/rhi.
type RhItem struct {
	Kind     RhKind
	ID       string
	Children []*RhItem
}

// ClusterState is the up/down state of a scheduling domain.
type ClusterState string

const (
	ClusterUp   ClusterState = "up"
	ClusterDown ClusterState = "down"
)

// Cluster identifies a scheduling domain made of one or more partitions.
type Cluster struct {
	ID           string
	State        ClusterState
	PartitionIDs []string
}

// Partition nests inside a cluster (or inside another partition) and
// owns a set of nodes.
type Partition struct {
	ID          string
	State       ClusterState
	NodeIDs     []string
	JobsPerNode int
}

// PowerState is a node's physical power state.
type PowerState string

const (
	PowerUp   PowerState = "up"
	PowerDown PowerState = "down"
)

// AllocState is a node's current allocation state.
type AllocState string

const (
	AllocIdle AllocState = "idle"
	AllocBusy AllocState = "busy"
)

// Node is a leaf of the Resource Hierarchy: a schedulable unit of
// compute with a fixed resource inventory.
type Node struct {
	ID         string
	StatePower PowerState
	StateAlloc AllocState
	IsTemplate bool
	Resources  []Resource
}

// Resource is a named, countable capacity (attached to a Node) or
// request (attached to a Job), with an optional set of opaque
// properties used for exact-match filtering.
type Resource struct {
	Name       string
	Count      int
	Properties []Property
}

// Property is an (atom, opaque value) pair attached to a Resource.
// Values are compared for equality only, the engine never interprets
// their contents.
type Property struct {
	Name  string
	Value string
}

// Property looks up a property by name on a Resource.
func (r Resource) Property(name string) (Property, bool) {
	for _, p := range r.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// JobState is the lifecycle state of a Job as carried in a snapshot.
type JobState string

const (
	JobQueued    JobState = "Q"
	JobRunning   JobState = "R"
	JobSuspended JobState = "S"
	JobComplete  JobState = "C"
)

// Job is a unit of work submitted to the scheduler.
type Job struct {
	ID            string
	ClusterID     string
	State         JobState
	Priority      int
	GangID        string
	Duration      uint64
	Request       []Resource
	PreSelectedID []string
	Dependencies  []string
}

// TimetableEntry is one placement decision: a job assigned to a set of
// nodes starting at a given time offset.
type TimetableEntry struct {
	JobID     string
	StartTime uint64
	NodeIDs   []string
}

// Timetable is the ordered output of a scheduling pass.
type Timetable []TimetableEntry

// Snapshot bundles everything the FCFS engine and Chain need: the
// resource hierarchy tree plus the catalog of clusters/partitions/nodes
// it resolves against, and the batch of jobs to place.
//
// RH is the root-level item list exactly as submitted: either a
// single "grid" item wrapping the clusters, or the clusters
// themselves (spec §4.1's "if the single root is a grid, descend into
// its children; otherwise treat the list as clusters directly").
type Snapshot struct {
	RH         []*RhItem
	Clusters   []Cluster
	Partitions []Partition
	Nodes      []Node
	Jobs       []Job
}

// GetID returns a Cluster's identifier, satisfying the generic
// identifiable constraint used by pkg/rhi.
func (c Cluster) GetID() string { return c.ID }

// GetID returns a Partition's identifier.
func (p Partition) GetID() string { return p.ID }

// GetID returns a Node's identifier.
func (n Node) GetID() string { return n.ID }

// AlgorithmSpec names a requested algorithm implementation. Family is
// mandatory; Version and DeviceType are optional match constraints.
type AlgorithmSpec struct {
	Family     string
	Version    string
	DeviceType string
}

// AlgorithmDescriptor is what a factory publishes about an algorithm it
// can construct.
type AlgorithmDescriptor struct {
	Family     string
	Version    string
	DeviceType string
}

// Matches reports whether this descriptor satisfies spec's present
// constraints (family required equal, version/device_type compared
// only when spec sets them).
func (d AlgorithmDescriptor) Matches(spec AlgorithmSpec) bool {
	if d.Family != spec.Family {
		return false
	}
	if spec.Version != "" && d.Version != spec.Version {
		return false
	}
	if spec.DeviceType != "" && d.DeviceType != spec.DeviceType {
		return false
	}
	return true
}

// CommandKind tags the command types the processor accepts: the four
// request kinds plus CmdCorrupted for a command that could not be
// decoded.
type CommandKind int

const (
	CmdSchedule CommandKind = iota
	CmdInterrupt
	CmdMetrics
	CmdExchange
	CmdCorrupted
)

// Context carries a request's identity and its dedicated TimeCounter,
// so a Response can report per-request astro/idle/work readouts
// instead of a single counter shared across every request a processor
// ever serves.
type Context struct {
	RequestUID string
	Timer      *timecounter.Counter
}

// Command is a typed request delivered to the processor's input queue.
// It is the boundary type an external Receiver decodes wire frames
// into - this core never touches the wire format itself (spec §6).
type Command struct {
	Kind       CommandKind
	Context    Context
	RequestID  string
	ChainID    string
	TargetID   string // EXCHANGE's destination chain id
	AlgSpecs   []AlgorithmSpec
	Snapshot   *Snapshot
	IgnorePrio bool
}

// ResponseStatus distinguishes a successful response from a failed one.
type ResponseStatus bool

const (
	StatusOK     ResponseStatus = true
	StatusFailed ResponseStatus = false
)

// MetricSample is a flattened (name, integer, float) metric reading,
// matching the wire shape `(metric, name, integer_value, float_value)`.
type MetricSample struct {
	Name         string
	IntegerValue int64
	FloatValue   float64
}

// Response is a typed reply placed on the processor's output queue.
// Every request produces exactly one Response.
type Response struct {
	RequestID  string
	Status     ResponseStatus
	Timetables Timetable
	Metrics    []MetricSample
	AstroTime  time.Duration
	IdleTime   time.Duration
	WorkTime   time.Duration
}
