// Package rhi builds the Resource Hierarchy Index: it validates the
// submitted tree (grid? -> clusters -> partitions* -> nodes) against
// the entity catalogs in a types.Snapshot and builds the O(1) reverse
// maps node->cluster, node->partition and partition->cluster.
package rhi
