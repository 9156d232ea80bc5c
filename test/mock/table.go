package mock

import (
	"sync"

	"git.srvlab.io/whiskey/disk-provision/pkg/fstab"
)

// MockTable is an in-memory implementation of fstab.MountTable for testing
type MockTable struct {
	mu sync.RWMutex

	// Records keyed by mount target
	records map[string]fstab.Entry

	// Error injection
	reconcileErr error

	// Call tracking
	reconcileCalls []ReconcileCall
	mutations      int
}

// ReconcileCall tracks a Reconcile operation
type ReconcileCall struct {
	Desired fstab.Entry
	DryRun  bool
}

// NewMockTable creates a new in-memory mount table
func NewMockTable() *MockTable {
	return &MockTable{
		records: make(map[string]fstab.Entry),
	}
}

// Reconcile implements fstab.MountTable
func (t *MockTable) Reconcile(desired fstab.Entry, dryRun bool) (fstab.Action, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reconcileCalls = append(t.reconcileCalls, ReconcileCall{Desired: desired, DryRun: dryRun})

	if t.reconcileErr != nil {
		return fstab.ActionNone, t.reconcileErr
	}

	existing, ok := t.records[desired.Target]
	switch {
	case !ok:
		if !dryRun {
			t.records[desired.Target] = desired
			t.mutations++
		}
		return fstab.ActionAppend, nil
	case existing.Equal(desired):
		return fstab.ActionNone, nil
	default:
		if !dryRun {
			t.records[desired.Target] = desired
			t.mutations++
		}
		return fstab.ActionReplace, nil
	}
}

// Test helper methods

// SetRecord seeds a record in the table
func (t *MockTable) SetRecord(entry fstab.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[entry.Target] = entry
}

// GetRecord returns the record for a target, if any
func (t *MockTable) GetRecord(target string) (fstab.Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.records[target]
	return entry, ok
}

// SetReconcileError sets an error to return from Reconcile
func (t *MockTable) SetReconcileError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reconcileErr = err
}

// GetReconcileCalls returns the history of Reconcile calls
func (t *MockTable) GetReconcileCalls() []ReconcileCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	calls := make([]ReconcileCall, len(t.reconcileCalls))
	copy(calls, t.reconcileCalls)
	return calls
}

// MutationCount returns how many calls actually changed the table
func (t *MockTable) MutationCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mutations
}
