/*
Package types defines the core data structures used throughout Purser.

This package contains all fundamental types that represent Purser's domain model:
task documents, resource descriptions, resource instances, reservation placements,
and the callback protocol values exchanged between cooperating tasks.

# Core Types

Task lifecycle:
  - TaskDocument: The persisted unit of work for one lifecycle step
  - TaskStage: Coarse stage (CREATED, STARTED, FINISHED, FAILED, CANCELLED)
  - SubStage: Type-specific state nested within STARTED
  - TaskCallback / CallbackResponse: Completion notification protocol

Resource model:
  - ContainerDescription, VolumeDescription, NetworkDescription,
    LoadBalancerDescription: Desired specifications per resource type
  - CompositeDescription: A template expanded into a heterogeneous set
  - ResourceState: An allocated instance with observed power state

Reservation model:
  - Placement: Per-pool allocation counters with per-description quota

# State Machine

Task documents move forward only:

	CREATED -> STARTED{sub-stages in declared order} -> FINISHED | FAILED

CANCELLED is reachable from CREATED or STARTED via an explicit cancel request.
All four end states are terminal with respect to deletion. A document with
stage FAILED or CANCELLED accepts no further domain patches.

# Design Patterns

All enums use typed string constants:

	type TaskStage string
	const TaskStageCreated TaskStage = "CREATED"

Optional configurations use omitempty JSON tags; documents are serialized as
JSON both in the BoltDB store and on the REST surface.

# Thread Safety

Types in this package carry no synchronization. The storage layer serializes
writes per document through optimistic versioning (DocumentVersion); in-memory
holders must do their own locking.
*/
package types
