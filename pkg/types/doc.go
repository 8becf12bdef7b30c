/*
Package types defines the domain model shared by the scheduling core:
the Resource Hierarchy (Grid/Cluster/Partition/Node/Resource), Jobs,
Timetables, and the Command/Response values that form the boundary
between the core and its external Receiver/Sender.

All types are plain structs with typed string enums, following the
same style used throughout this module's other packages: exported
fields, no hidden invariants enforced by the zero value, validation
done by the packages that consume these types (pkg/rhi, pkg/fcfs).
*/
package types
