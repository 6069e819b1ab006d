package core

import "github.com/google/uuid"

// WorkOrderID uniquely identifies a work order.
type WorkOrderID string

// RunID uniquely identifies a run attempt of a work order.
type RunID string

// WorkspaceID uniquely identifies a provisioned workspace.
type WorkspaceID string

// LeaseID uniquely identifies a lease on a workspace.
type LeaseID string

// SnapshotID uniquely identifies a post-iteration snapshot.
type SnapshotID string

// NewWorkOrderID generates a new random work order id.
func NewWorkOrderID() WorkOrderID { return WorkOrderID(uuid.NewString()) }

// NewRunID generates a new random run id.
func NewRunID() RunID { return RunID(uuid.NewString()) }

// NewWorkspaceID generates a new random workspace id.
func NewWorkspaceID() WorkspaceID { return WorkspaceID(uuid.NewString()) }

// NewLeaseID generates a new random lease id.
func NewLeaseID() LeaseID { return LeaseID(uuid.NewString()) }

// NewSnapshotID generates a new random snapshot id.
func NewSnapshotID() SnapshotID { return SnapshotID(uuid.NewString()) }
