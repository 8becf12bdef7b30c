package fcfs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/warren-sched/pkg/log"
	"github.com/cuemby/warren-sched/pkg/rhi"
	"github.com/cuemby/warren-sched/pkg/types"
)

// Sentinel errors returned by Engine.Schedule and its helpers.
var (
	ErrMalformedJob   = errors.New("fcfs: job malformed")
	ErrNotEnoughNodes = errors.New("fcfs: not enough nodes")
	ErrCancelled      = errors.New("fcfs: scheduling cancelled")
	ErrUnknownCluster = errors.New("fcfs: unknown cluster")
)

// dynamicRequestNames never block node selection on their own - they
// describe the placement itself rather than a capacity the node must
// carry. "image" is restored here alongside the four names literal in
// fcfs_implementation.cpp, per spec's dynamic-request set.
var dynamicRequestNames = map[string]bool{
	"node":            true,
	"image":           true,
	"container-image": true,
	"cloud-image":     true,
	"ports":           true,
}

func isDynamicRequest(name string) bool {
	return dynamicRequestNames[name]
}

// nodeRef tracks the mutable when-free bookkeeping the engine keeps
// per candidate node, on top of the immutable snapshot data.
type nodeRef struct {
	node     types.Node
	whenFree uint64
}

// jobRef pairs a scheduled job with the timetable entry and node refs
// it was placed on, so a later gang alignment pass can rewrite both.
type jobRef struct {
	job   *types.Job
	tt    *types.TimetableEntry
	nodes []*nodeRef
}

// Engine holds the per-cluster candidate node pools built once from a
// Snapshot's resource hierarchy and mutated across a Schedule call.
type Engine struct {
	idx             *rhi.RHI
	nodesPerCluster map[string][]*nodeRef
	logger          zerolog.Logger
}

// NewEngine validates snap's resource hierarchy and builds the
// per-cluster pool of nodes eligible for placement: a node is eligible
// if it is a template, or if it and its cluster and partition are all
// "up" and it is currently idle.
func NewEngine(snap *types.Snapshot) (*Engine, error) {
	idx, err := rhi.Build(snap)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		idx:             idx,
		nodesPerCluster: make(map[string][]*nodeRef, len(snap.Clusters)),
		logger:          log.WithComponent("fcfs"),
	}
	for _, c := range snap.Clusters {
		e.nodesPerCluster[c.ID] = nil
	}

	for _, n := range snap.Nodes {
		clusterID, ok := idx.ClusterOf(n.ID)
		if !ok {
			continue
		}
		cluster, _ := idx.Cluster(clusterID)
		partID, _ := idx.PartitionOf(n.ID)
		part, _ := idx.Partition(partID)

		isUp := n.StatePower == types.PowerUp && n.StateAlloc == types.AllocIdle &&
			cluster.State == types.ClusterUp && part.State == types.ClusterUp
		if n.IsTemplate || isUp {
			e.nodesPerCluster[clusterID] = append(e.nodesPerCluster[clusterID], &nodeRef{node: n})
		}
	}
	return e, nil
}

// Schedule places the queued jobs in jobs, honoring priority and gang
// order unless ignorePriorities is set, and returns one timetable
// entry per job it was able to place. interrupted is polled between
// jobs and, when it reports true, Schedule returns immediately with
// ErrCancelled and whatever entries it had already produced.
func (e *Engine) Schedule(jobs []types.Job, ignorePriorities bool, interrupted func() bool) (types.Timetable, error) {
	ordered := jobs
	if !ignorePriorities {
		ordered = make([]types.Job, len(jobs))
		copy(ordered, jobs)
		sort.SliceStable(ordered, func(i, j int) bool {
			if ordered[i].Priority != ordered[j].Priority {
				return ordered[i].Priority > ordered[j].Priority
			}
			return ordered[i].GangID < ordered[j].GangID
		})
	}

	jobsToEndtimes := make(map[string]uint64)
	knownGangIDs := make(map[string]bool)
	gangNodes := make(map[string]bool)
	var gangJobs []jobRef
	var gangID string
	var gangStartTime uint64

	var results []*types.TimetableEntry

	for i := range ordered {
		if interrupted != nil && interrupted() {
			return finalize(results), ErrCancelled
		}

		job := &ordered[i]
		if job.State != types.JobQueued {
			continue
		}

		var startTimeThreshold uint64
		hasUnresolvedDeps := false
		for _, dep := range job.Dependencies {
			end, ok := jobsToEndtimes[dep]
			if !ok {
				hasUnresolvedDeps = true
				break
			}
			if end > startTimeThreshold {
				startTimeThreshold = end
			}
		}
		if hasUnresolvedDeps {
			continue
		}

		if job.GangID != gangID {
			if job.GangID != "" {
				if knownGangIDs[job.GangID] {
					continue
				}
				knownGangIDs[job.GangID] = true
			}
			if gangID != "" {
				e.alignJobs(gangJobs, jobsToEndtimes, gangStartTime)
			}
			gangNodes = make(map[string]bool)
			gangJobs = nil
			gangStartTime = 0
			gangID = job.GangID
		} else if job.GangID == "" {
			gangNodes = make(map[string]bool)
			gangJobs = nil
			gangStartTime = 0
		}

		tt, jr, err := e.scheduleSingleJob(job, startTimeThreshold, gangNodes)
		if err != nil {
			e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("can't schedule job")
			continue
		}

		jobsToEndtimes[job.ID] = tt.StartTime + job.Duration
		if tt.StartTime > gangStartTime {
			gangStartTime = tt.StartTime
		}
		gangJobs = append(gangJobs, jr)
		results = append(results, tt)
	}

	if gangID != "" {
		e.alignJobs(gangJobs, jobsToEndtimes, gangStartTime)
	}
	return finalize(results), nil
}

func finalize(entries []*types.TimetableEntry) types.Timetable {
	tt := make(types.Timetable, len(entries))
	for i, e := range entries {
		tt[i] = *e
	}
	return tt
}

// alignJobs shifts every job of a closed gang window to a common start
// time, refreshes the when-free bookkeeping of the nodes it used, and
// re-sorts every cluster pool it touched.
func (e *Engine) alignJobs(jobs []jobRef, jobsToEndtimes map[string]uint64, startTime uint64) {
	touched := make(map[string]bool)
	for _, jr := range jobs {
		jr.tt.StartTime = startTime
		end := startTime + jr.job.Duration
		for _, nr := range jr.nodes {
			nr.whenFree = end
		}
		touched[jr.job.ClusterID] = true
		jobsToEndtimes[jr.job.ID] = end
	}
	for clusterID := range touched {
		sortByWhenFree(e.nodesPerCluster[clusterID])
	}
}

func sortByWhenFree(nodes []*nodeRef) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].whenFree < nodes[j].whenFree
	})
}

// scheduleSingleJob runs the five-step placement: resolve the
// requested node count, gather fitting candidates, extend the
// candidate window to include ties, prefer the most populated
// partition when there is a choice, then commit the placement and
// resort the cluster's pool by when-free time.
func (e *Engine) scheduleSingleJob(job *types.Job, startTimeThreshold uint64, busyNodes map[string]bool) (*types.TimetableEntry, jobRef, error) {
	// Step 1 - resolve the requested node count.
	var nodeCount int
	found := false
	for _, req := range job.Request {
		if req.Name == "node" {
			nodeCount = req.Count
			found = true
			break
		}
	}
	if !found {
		return nil, jobRef{}, fmt.Errorf("%w: job %q requests no \"node\" resource", ErrMalformedJob, job.ID)
	}
	if nodeCount < 1 {
		return nil, jobRef{}, fmt.Errorf("%w: job %q requests node count < 1", ErrMalformedJob, job.ID)
	}
	nodes, ok := e.nodesPerCluster[job.ClusterID]
	if !ok {
		return nil, jobRef{}, fmt.Errorf("%w: %q", ErrUnknownCluster, job.ClusterID)
	}

	// Step 2 - select candidates that fit the job's requests.
	preselected := make(map[string]bool, len(job.PreSelectedID))
	for _, id := range job.PreSelectedID {
		preselected[id] = true
	}
	restrictToPreselected := len(preselected) > 0

	var selected []*nodeRef
	for _, nr := range nodes {
		if busyNodes[nr.node.ID] {
			continue
		}
		if restrictToPreselected {
			if !preselected[nr.node.ID] {
				continue
			}
			delete(preselected, nr.node.ID)
		}
		if isNodeOwnedByOtherJob(job, nr.node.Resources) {
			continue
		}
		if doesNodeFitRequest(job.Request, nr.node.Resources) {
			selected = append(selected, nr)
		}
	}

	// Step 3 - the first nodeCount nodes are preferred since the pool is
	// sorted by when-free time, but ties extend the candidate window.
	if nodeCount > len(selected) {
		return nil, jobRef{}, fmt.Errorf("%w: %d > %d for job %q", ErrNotEnoughNodes, nodeCount, len(selected), job.ID)
	}
	extended := nodeCount
	for extended < len(selected) && selected[extended].whenFree == selected[nodeCount-1].whenFree {
		extended++
	}
	selected = selected[:extended]

	// Step 4 - when there is a choice, prefer nodes from the most
	// populated partition.
	if len(selected) > nodeCount {
		selected = preferLargestPartitions(e.idx, selected, nodeCount)
	}

	// Step 5 - commit the placement.
	first := selected[0]
	for _, nr := range selected[1:] {
		if nr.whenFree < first.whenFree {
			first = nr
		}
	}
	startTime := startTimeThreshold
	if first.whenFree > startTime {
		startTime = first.whenFree
	}

	nodeIDs := make([]string, len(selected))
	for i, nr := range selected {
		nr.whenFree = startTime + job.Duration
		nodeIDs[i] = nr.node.ID
		busyNodes[nr.node.ID] = true
	}

	tt := &types.TimetableEntry{JobID: job.ID, StartTime: startTime, NodeIDs: nodeIDs}
	sortByWhenFree(nodes)

	return tt, jobRef{job: job, tt: tt, nodes: selected}, nil
}

// preferLargestPartitions groups candidates by partition and refills a
// nodeCount-sized selection starting from the largest partitions, so a
// placement that has a choice favors partition locality.
func preferLargestPartitions(idx *rhi.RHI, candidates []*nodeRef, nodeCount int) []*nodeRef {
	groups := make(map[string][]*nodeRef)
	for _, nr := range candidates {
		partID, _ := idx.PartitionOf(nr.node.ID)
		groups[partID] = append(groups[partID], nr)
	}

	partIDs := make([]string, 0, len(groups))
	for partID := range groups {
		partIDs = append(partIDs, partID)
	}
	sort.Slice(partIDs, func(i, j int) bool {
		if len(groups[partIDs[i]]) != len(groups[partIDs[j]]) {
			return len(groups[partIDs[i]]) > len(groups[partIDs[j]])
		}
		return partIDs[i] < partIDs[j]
	})

	refilled := make([]*nodeRef, 0, nodeCount)
	for _, partID := range partIDs {
		refilled = append(refilled, groups[partID]...)
		if len(refilled) >= nodeCount {
			break
		}
	}
	return refilled[:nodeCount]
}

// isNodeOwnedByOtherJob reports whether resources carries a "job"
// resource whose "id" property names a job other than job.
func isNodeOwnedByOtherJob(job *types.Job, resources []types.Resource) bool {
	for _, res := range resources {
		if res.Name != "job" {
			continue
		}
		idProp, ok := res.Property("id")
		if !ok {
			continue
		}
		if idProp.Value != job.ID {
			return true
		}
	}
	return false
}

// doesNodeFitRequest reports whether resources satisfies every
// non-dynamic entry in requests: same name, sufficient count, and
// every requested property matched by name and value.
func doesNodeFitRequest(requests, resources []types.Resource) bool {
	for _, req := range requests {
		if isDynamicRequest(req.Name) {
			continue
		}
		if !anyResourceFits(req, resources) {
			return false
		}
	}
	return true
}

func anyResourceFits(req types.Resource, resources []types.Resource) bool {
	for _, res := range resources {
		if res.Name != req.Name || req.Count > res.Count {
			continue
		}
		if propertiesMatch(req.Properties, res.Properties) {
			return true
		}
	}
	return false
}

func propertiesMatch(reqProps, resProps []types.Property) bool {
	for _, reqProp := range reqProps {
		matched := false
		for _, resProp := range resProps {
			if resProp.Name == reqProp.Name && resProp.Value == reqProp.Value {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
