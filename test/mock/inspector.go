package mock

import (
	"context"
	"fmt"
	"sync"
)

// MockInspector is a mock implementation of blockdev.Inspector for testing
type MockInspector struct {
	mu sync.RWMutex

	// Resolved device references: ref -> canonical path
	resolved map[string]string

	// Filesystem signatures: device path -> filesystem type
	fstypes map[string]string

	// Filesystem identities: device path -> UUID
	uuids map[string]string

	// UUID assigned to a device when Format is called
	formatUUID string

	// Error injection
	resolveErr error
	fstypeErr  error
	uuidErr    error
	formatErr  error

	// Call tracking
	formatCalls []FormatCall
}

// FormatCall tracks a Format operation
type FormatCall struct {
	Device string
	FSType string
}

// NewMockInspector creates a new mock inspector
func NewMockInspector() *MockInspector {
	return &MockInspector{
		resolved: make(map[string]string),
		fstypes:  make(map[string]string),
		uuids:    make(map[string]string),
	}
}

// Resolve implements blockdev.Inspector
func (m *MockInspector) Resolve(ref string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.resolveErr != nil {
		return "", m.resolveErr
	}

	if device, ok := m.resolved[ref]; ok {
		return device, nil
	}
	return "", fmt.Errorf("device not found: %s", ref)
}

// FilesystemType implements blockdev.Inspector
func (m *MockInspector) FilesystemType(device string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fstypeErr != nil {
		return "", m.fstypeErr
	}
	return m.fstypes[device], nil
}

// UUID implements blockdev.Inspector
func (m *MockInspector) UUID(ctx context.Context, device string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.uuidErr != nil {
		return "", m.uuidErr
	}

	if id, ok := m.uuids[device]; ok && id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no UUID on %s", device)
}

// Format implements blockdev.Inspector
func (m *MockInspector) Format(device, fsType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.formatCalls = append(m.formatCalls, FormatCall{Device: device, FSType: fsType})

	if m.formatErr != nil {
		return m.formatErr
	}

	m.fstypes[device] = fsType
	m.uuids[device] = m.formatUUID
	return nil
}

// Test helper methods

// SetResolved maps a device reference to its canonical path
func (m *MockInspector) SetResolved(ref, device string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved[ref] = device
}

// SetFilesystem sets the filesystem type and UUID present on a device
func (m *MockInspector) SetFilesystem(device, fsType, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fstypes[device] = fsType
	m.uuids[device] = id
}

// SetFormatUUID sets the UUID a device receives when formatted
func (m *MockInspector) SetFormatUUID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formatUUID = id
}

// SetResolveError sets an error to return from Resolve
func (m *MockInspector) SetResolveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveErr = err
}

// SetFilesystemTypeError sets an error to return from FilesystemType
func (m *MockInspector) SetFilesystemTypeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fstypeErr = err
}

// SetUUIDError sets an error to return from UUID
func (m *MockInspector) SetUUIDError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uuidErr = err
}

// SetFormatError sets an error to return from Format
func (m *MockInspector) SetFormatError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formatErr = err
}

// GetFormatCalls returns the history of Format calls
func (m *MockInspector) GetFormatCalls() []FormatCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	calls := make([]FormatCall, len(m.formatCalls))
	copy(calls, m.formatCalls)
	return calls
}
