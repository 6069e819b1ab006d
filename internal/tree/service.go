// Package tree wraps core.Tree with per-root locking and persistence, and
// fires integration on the event that triggers it (spec.md §4.10).
package tree

import (
	"sync"

	"github.com/fl-sean03/agentgate/internal/artifacts"
	"github.com/fl-sean03/agentgate/internal/core"
)

// IntegrationTrigger is invoked once every child of a parent has succeeded,
// so the caller can admit the integration work order (spec.md §4.10:
// "triggerIntegration(parent) is a no-op unless every child is
// succeeded"). AgentGate wires this to the Work-Order Queue's Submit.
type IntegrationTrigger func(parentID core.WorkOrderID) error

// Service serializes reads/writes to work-order trees by root id, per
// spec.md §4.10's "concurrent updates on the same tree must be serialized
// by a per-tree mutex" — grounded on internal/events/bus.go's single-lock-
// guards-a-shared-map shape, narrowed to a lock-per-key instead of one
// global lock since trees are independent of each other.
type Service struct {
	store   *artifacts.Store
	trigger IntegrationTrigger

	mu    sync.Mutex
	locks map[core.WorkOrderID]*sync.Mutex
}

// New creates a tree Service backed by store, invoking trigger whenever a
// parent's children all succeed.
func New(store *artifacts.Store, trigger IntegrationTrigger) *Service {
	return &Service{
		store:   store,
		trigger: trigger,
		locks:   make(map[core.WorkOrderID]*sync.Mutex),
	}
}

func (s *Service) lockFor(rootID core.WorkOrderID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[rootID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[rootID] = l
	}
	return l
}

// CreateRoot creates and persists a new single-node tree for a root work
// order (no parentId).
func (s *Service) CreateRoot(root *core.WorkOrder) (*core.Tree, error) {
	lock := s.lockFor(root.ID)
	lock.Lock()
	defer lock.Unlock()

	t := core.NewTree(root)
	if err := s.store.SaveTree(t); err != nil {
		return nil, err
	}
	return t, nil
}

// AddChild appends child under its ParentID within rootID's tree.
func (s *Service) AddChild(rootID core.WorkOrderID, child *core.WorkOrder) error {
	lock := s.lockFor(rootID)
	lock.Lock()
	defer lock.Unlock()

	t, err := s.store.LoadTree(rootID)
	if err != nil {
		return err
	}
	if err := t.AddChild(child); err != nil {
		return err
	}
	return s.store.SaveTree(t)
}

// UpdateStatus applies a node status change, recomputes the tree-level
// status, persists the result, and fires triggerIntegration on the node's
// parent when every sibling has now succeeded (spec.md §4.10).
func (s *Service) UpdateStatus(rootID, nodeID core.WorkOrderID, status core.WorkOrderStatus) (*core.Tree, error) {
	lock := s.lockFor(rootID)
	lock.Lock()
	defer lock.Unlock()

	t, err := s.store.LoadTree(rootID)
	if err != nil {
		return nil, err
	}
	if err := t.UpdateStatus(nodeID, status); err != nil {
		return nil, err
	}
	if err := s.store.SaveTree(t); err != nil {
		return nil, err
	}

	if node, ok := t.Nodes[nodeID]; ok && node.ParentID != nil {
		s.triggerIntegration(t, *node.ParentID)
	}
	return t, nil
}

// triggerIntegration is a no-op unless every child of parentID succeeded
// (spec.md §4.10).
func (s *Service) triggerIntegration(t *core.Tree, parentID core.WorkOrderID) {
	if !t.AllChildrenSucceeded(parentID) {
		return
	}
	if s.trigger == nil {
		return
	}
	_ = s.trigger(parentID)
}

// Get loads the tree rooted at rootID.
func (s *Service) Get(rootID core.WorkOrderID) (*core.Tree, error) {
	return s.store.LoadTree(rootID)
}
