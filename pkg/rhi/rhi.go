package rhi

import (
	"fmt"

	"github.com/cuemby/warren-sched/pkg/types"
)

// ErrInvalidHierarchy wraps every validation failure Build can report.
type ErrInvalidHierarchy struct {
	Reason string
}

func (e *ErrInvalidHierarchy) Error() string {
	return fmt.Sprintf("rhi: invalid hierarchy: %s", e.Reason)
}

func invalid(format string, args ...any) error {
	return &ErrInvalidHierarchy{Reason: fmt.Sprintf(format, args...)}
}

// RHI is the validated, queryable Resource Hierarchy Index for one
// scheduling snapshot. Built once, immutable thereafter.
type RHI struct {
	clusters   map[string]types.Cluster
	partitions map[string]types.Partition
	nodes      map[string]types.Node

	nodeToCluster   map[string]string
	nodeToPartition map[string]string
	partToCluster   map[string]string
}

// Build validates snap's resource hierarchy tree and constructs the
// reverse lookup maps described in spec §4.1. It fails with
// ErrInvalidHierarchy if an id is unresolvable, the tree shape is
// wrong, a node item carries children, or any id repeats within one
// top-to-bottom walk.
func Build(snap *types.Snapshot) (*RHI, error) {
	if snap == nil {
		return nil, invalid("snapshot is nil")
	}

	idx := &RHI{
		clusters:        make(map[string]types.Cluster, len(snap.Clusters)),
		partitions:      make(map[string]types.Partition, len(snap.Partitions)),
		nodes:           make(map[string]types.Node, len(snap.Nodes)),
		nodeToCluster:   make(map[string]string, len(snap.Nodes)),
		nodeToPartition: make(map[string]string, len(snap.Nodes)),
		partToCluster:   make(map[string]string, len(snap.Partitions)),
	}
	for _, c := range snap.Clusters {
		idx.clusters[c.ID] = c
	}
	for _, p := range snap.Partitions {
		idx.partitions[p.ID] = p
	}
	for _, n := range snap.Nodes {
		idx.nodes[n.ID] = n
	}

	roots := snap.RH
	if len(roots) == 1 && roots[0].Kind == types.RhKindGrid {
		roots = roots[0].Children
	}

	clusterIDs := make(map[string]bool)
	partIDs := make(map[string]bool)
	nodeIDs := make(map[string]bool)

	for _, c := range roots {
		if err := idx.parseCluster(c, clusterIDs, partIDs, nodeIDs); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *RHI) parseCluster(item *types.RhItem, clusterIDs, partIDs, nodeIDs map[string]bool) error {
	cluster, err := checkAndExtract(item, types.RhKindCluster, idx.clusters, clusterIDs)
	if err != nil {
		return err
	}
	for _, child := range item.Children {
		if err := idx.parsePart(child, partIDs, nodeIDs, cluster.ID); err != nil {
			return err
		}
	}
	return nil
}

func (idx *RHI) parsePart(item *types.RhItem, partIDs, nodeIDs map[string]bool, clusterID string) error {
	part, err := checkAndExtract(item, types.RhKindPartition, idx.partitions, partIDs)
	if err != nil {
		return err
	}
	for _, child := range item.Children {
		if child.Kind == types.RhKindPartition {
			if err := idx.parsePart(child, partIDs, nodeIDs, clusterID); err != nil {
				return err
			}
			continue
		}
		if err := idx.parseNode(child, nodeIDs, clusterID, part.ID); err != nil {
			return err
		}
	}
	idx.partToCluster[part.ID] = clusterID
	return nil
}

func (idx *RHI) parseNode(item *types.RhItem, nodeIDs map[string]bool, clusterID, partID string) error {
	node, err := checkAndExtract(item, types.RhKindNode, idx.nodes, nodeIDs)
	if err != nil {
		return err
	}
	if len(item.Children) > 0 {
		return invalid("node %q has children", item.ID)
	}
	idx.nodeToCluster[node.ID] = clusterID
	idx.nodeToPartition[node.ID] = partID
	return nil
}

func checkAndExtract[T interface{ GetID() string }](item *types.RhItem, wantKind types.RhKind, m map[string]T, metIDs map[string]bool) (T, error) {
	var zero T
	if item.Kind != wantKind {
		return zero, invalid("expected %q, found %q for id %q", wantKind, item.Kind, item.ID)
	}
	entity, ok := m[item.ID]
	if !ok {
		return zero, invalid("%s with id=%s was referenced in RH but not found", wantKind, item.ID)
	}
	if metIDs[item.ID] {
		return zero, invalid("%s #%s was referenced twice", wantKind, item.ID)
	}
	metIDs[item.ID] = true
	return entity, nil
}

// ClusterOf returns the cluster id owning nodeID.
func (idx *RHI) ClusterOf(nodeID string) (string, bool) {
	id, ok := idx.nodeToCluster[nodeID]
	return id, ok
}

// PartitionOf returns the partition id owning nodeID.
func (idx *RHI) PartitionOf(nodeID string) (string, bool) {
	id, ok := idx.nodeToPartition[nodeID]
	return id, ok
}

// ClusterOfPartition returns the cluster id owning partID.
func (idx *RHI) ClusterOfPartition(partID string) (string, bool) {
	id, ok := idx.partToCluster[partID]
	return id, ok
}

// Cluster resolves a cluster id to its entity.
func (idx *RHI) Cluster(id string) (types.Cluster, bool) {
	c, ok := idx.clusters[id]
	return c, ok
}

// Partition resolves a partition id to its entity.
func (idx *RHI) Partition(id string) (types.Partition, bool) {
	p, ok := idx.partitions[id]
	return p, ok
}

// Node resolves a node id to its entity.
func (idx *RHI) Node(id string) (types.Node, bool) {
	n, ok := idx.nodes[id]
	return n, ok
}

// Nodes returns every node validated into the hierarchy.
func (idx *RHI) Nodes() map[string]types.Node {
	return idx.nodes
}
