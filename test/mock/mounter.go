package mock

import (
	"fmt"
	"sync"
)

// MockMounter is a mock implementation of mount.Mounter for testing
type MockMounter struct {
	mu sync.RWMutex

	// Mounted filesystems: target path -> source device
	mounted map[string]string

	// Devices a by-target mount would attach (simulated fstab records):
	// target path -> source device
	tableSources map[string]string

	// Error injection
	mountErr         error
	mountByTargetErr error
	unmountErr       error

	// Call tracking
	mountCalls         []MountCall
	mountByTargetCalls []string
	unmountCalls       []string
	makeDirCalls       []string
}

// MountCall tracks a Mount operation
type MountCall struct {
	Source  string
	Target  string
	FSType  string
	Options []string
}

// NewMockMounter creates a new mock mounter
func NewMockMounter() *MockMounter {
	return &MockMounter{
		mounted:      make(map[string]string),
		tableSources: make(map[string]string),
	}
}

// Mount implements mount.Mounter
func (m *MockMounter) Mount(source, target, fsType string, options []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mountCalls = append(m.mountCalls, MountCall{
		Source:  source,
		Target:  target,
		FSType:  fsType,
		Options: options,
	})

	if m.mountErr != nil {
		return m.mountErr
	}

	m.mounted[target] = source
	return nil
}

// MountByTarget implements mount.Mounter. It succeeds only when a
// simulated mount table record exists for the target.
func (m *MockMounter) MountByTarget(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mountByTargetCalls = append(m.mountByTargetCalls, target)

	if m.mountByTargetErr != nil {
		return m.mountByTargetErr
	}

	source, ok := m.tableSources[target]
	if !ok {
		return fmt.Errorf("can't find %s in fstab", target)
	}

	m.mounted[target] = source
	return nil
}

// Unmount implements mount.Mounter
func (m *MockMounter) Unmount(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unmountCalls = append(m.unmountCalls, target)

	if m.unmountErr != nil {
		return m.unmountErr
	}

	delete(m.mounted, target)
	return nil
}

// IsMountPoint implements mount.Mounter
func (m *MockMounter) IsMountPoint(path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, mounted := m.mounted[path]
	return mounted, nil
}

// MountSource implements mount.Mounter
func (m *MockMounter) MountSource(path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	source, mounted := m.mounted[path]
	if !mounted {
		return "", fmt.Errorf("mount point not found: %s", path)
	}
	return source, nil
}

// MakeDir implements mount.Mounter
func (m *MockMounter) MakeDir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.makeDirCalls = append(m.makeDirCalls, path)
	return nil
}

// Test helper methods

// SetMounted marks a target as mounted from source
func (m *MockMounter) SetMounted(target, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mounted[target] = source
}

// SetTableSource simulates a mount table record resolving target to source
func (m *MockMounter) SetTableSource(target, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tableSources[target] = source
}

// SetMountError sets an error to return on Mount operations
func (m *MockMounter) SetMountError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mountErr = err
}

// SetMountByTargetError sets an error to return on MountByTarget operations
func (m *MockMounter) SetMountByTargetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mountByTargetErr = err
}

// SetUnmountError sets an error to return on Unmount operations
func (m *MockMounter) SetUnmountError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmountErr = err
}

// IsMounted checks if a path is currently mounted
func (m *MockMounter) IsMounted(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, mounted := m.mounted[path]
	return mounted
}

// GetMountCalls returns the history of Mount calls
func (m *MockMounter) GetMountCalls() []MountCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]MountCall, len(m.mountCalls))
	copy(calls, m.mountCalls)
	return calls
}

// GetMountByTargetCalls returns the history of MountByTarget calls
func (m *MockMounter) GetMountByTargetCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]string, len(m.mountByTargetCalls))
	copy(calls, m.mountByTargetCalls)
	return calls
}

// GetUnmountCalls returns the history of Unmount calls
func (m *MockMounter) GetUnmountCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]string, len(m.unmountCalls))
	copy(calls, m.unmountCalls)
	return calls
}

// MutationCount returns how many mutating calls were made
func (m *MockMounter) MutationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mountCalls) + len(m.mountByTargetCalls) + len(m.unmountCalls)
}
