package provision_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/disk-provision/pkg/config"
	"git.srvlab.io/whiskey/disk-provision/pkg/fstab"
	"git.srvlab.io/whiskey/disk-provision/pkg/provision"
	"git.srvlab.io/whiskey/disk-provision/test/mock"
)

const (
	deviceRef  = "/dev/disk/by-id/scsi-0DO_Volume_data"
	devicePath = "/dev/sdb"
	mountPoint = "/var/lib/data"
	deviceUUID = "2f9e8c44-1d0b-4bb7-9f3c-8a2d5e7b1c6f"
	otherUUID  = "9c1d2e3f-4a5b-6c7d-8e9f-0a1b2c3d4e5f"
)

// rig wires a provisioner to in-memory collaborators
type rig struct {
	cfg       config.Config
	inspector *mock.MockInspector
	mounter   *mock.MockMounter
	table     *mock.MockTable
}

func newRig() *rig {
	cfg := config.Default()
	cfg.Device = deviceRef
	cfg.MountPoint = mountPoint

	inspector := mock.NewMockInspector()
	inspector.SetResolved(deviceRef, devicePath)
	inspector.SetFormatUUID(deviceUUID)

	return &rig{
		cfg:       cfg,
		inspector: inspector,
		mounter:   mock.NewMockMounter(),
		table:     mock.NewMockTable(),
	}
}

func (r *rig) run() error {
	p := provision.NewWithCollaborators(r.cfg, r.inspector, r.mounter, r.table)
	return p.Run(context.Background())
}

func (r *rig) desiredEntry(id string) fstab.Entry {
	return fstab.Entry{
		Spec:    "UUID=" + id,
		Target:  mountPoint,
		FSType:  "ext4",
		Options: "defaults",
		Dump:    0,
		Pass:    2,
	}
}

func TestRunFreshDevice(t *testing.T) {
	r := newRig()

	require.NoError(t, r.run())

	// Exactly one format call
	formatCalls := r.inspector.GetFormatCalls()
	require.Len(t, formatCalls, 1)
	assert.Equal(t, mock.FormatCall{Device: devicePath, FSType: "ext4"}, formatCalls[0])

	// Record appended with the new UUID
	record, ok := r.table.GetRecord(mountPoint)
	require.True(t, ok)
	assert.Equal(t, r.desiredEntry(deviceUUID), record)

	// Mounted; the by-target attempt has no simulated fstab record, so the
	// direct fallback performs the mount
	assert.True(t, r.mounter.IsMounted(mountPoint))
	assert.Len(t, r.mounter.GetMountByTargetCalls(), 1)
	assert.Len(t, r.mounter.GetMountCalls(), 1)
}

func TestRunIdempotent(t *testing.T) {
	r := newRig()

	require.NoError(t, r.run())
	formatCalls := len(r.inspector.GetFormatCalls())
	tableMutations := r.table.MutationCount()
	mountMutations := r.mounter.MutationCount()

	// Second run with no external changes performs zero mutations
	require.NoError(t, r.run())
	assert.Equal(t, formatCalls, len(r.inspector.GetFormatCalls()))
	assert.Equal(t, tableMutations, r.table.MutationCount())
	assert.Equal(t, mountMutations, r.mounter.MutationCount())
}

func TestRunAlreadyFormattedSkipsFormat(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "ext4", deviceUUID)

	require.NoError(t, r.run())

	assert.Empty(t, r.inspector.GetFormatCalls())
	record, ok := r.table.GetRecord(mountPoint)
	require.True(t, ok)
	assert.Equal(t, "UUID="+deviceUUID, record.Spec)
	assert.True(t, r.mounter.IsMounted(mountPoint))
}

func TestRunForeignFilesystemWithoutForce(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "vfat", otherUUID)

	err := r.run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, provision.ErrConflict))
	assert.Contains(t, err.Error(), "vfat")
	assert.Contains(t, err.Error(), "--force")

	// Nothing was touched
	assert.Empty(t, r.inspector.GetFormatCalls())
	assert.Empty(t, r.table.GetReconcileCalls())
	assert.Equal(t, 0, r.mounter.MutationCount())
}

func TestRunForeignFilesystemWithForce(t *testing.T) {
	r := newRig()
	r.cfg.Force = true
	r.inspector.SetFilesystem(devicePath, "vfat", otherUUID)

	require.NoError(t, r.run())

	require.Len(t, r.inspector.GetFormatCalls(), 1)

	// The recreated filesystem's UUID is read fresh, not the old one
	record, ok := r.table.GetRecord(mountPoint)
	require.True(t, ok)
	assert.Equal(t, "UUID="+deviceUUID, record.Spec)
}

func TestRunMountedMatchingUUIDSatisfied(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "ext4", deviceUUID)
	r.mounter.SetMounted(mountPoint, devicePath)

	require.NoError(t, r.run())

	// Early exit: no format, no table access, no mount mutations
	assert.Empty(t, r.inspector.GetFormatCalls())
	assert.Empty(t, r.table.GetReconcileCalls())
	assert.Equal(t, 0, r.mounter.MutationCount())
}

func TestRunMountedWithDifferentUUID(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "ext4", deviceUUID)
	r.inspector.SetFilesystem("/dev/sdc", "ext4", otherUUID)
	r.mounter.SetMounted(mountPoint, "/dev/sdc")

	err := r.run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, provision.ErrConflict))

	assert.Empty(t, r.inspector.GetFormatCalls())
	assert.Empty(t, r.table.GetReconcileCalls())
	assert.Equal(t, 0, r.mounter.MutationCount())
}

func TestRunMountedExpectedUUIDUnreadable(t *testing.T) {
	r := newRig()
	// Target mounted from some device, while the expected device has no
	// readable identity yet: comparison is skipped, state is satisfying
	r.inspector.SetFilesystem("/dev/sdc", "ext4", otherUUID)
	r.mounter.SetMounted(mountPoint, "/dev/sdc")

	require.NoError(t, r.run())

	assert.Empty(t, r.inspector.GetFormatCalls())
	assert.Empty(t, r.table.GetReconcileCalls())
	assert.Equal(t, 0, r.mounter.MutationCount())
}

func TestRunMountedSourceUUIDUnreadable(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "ext4", deviceUUID)
	// The mount's backing device has no readable UUID, so the safety
	// comparison cannot run at all
	r.mounter.SetMounted(mountPoint, "/dev/sdc")

	err := r.run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, provision.ErrResolution))
	assert.Equal(t, 0, r.mounter.MutationCount())
}

func TestRunDeviceResolutionFailure(t *testing.T) {
	r := newRig()
	r.inspector.SetResolveError(fmt.Errorf("no such file or directory"))

	err := r.run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, provision.ErrResolution))
}

func TestRunRecordReplaced(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "ext4", deviceUUID)

	stale := r.desiredEntry(otherUUID)
	stale.Options = "noatime"
	r.table.SetRecord(stale)

	require.NoError(t, r.run())

	record, ok := r.table.GetRecord(mountPoint)
	require.True(t, ok)
	assert.Equal(t, r.desiredEntry(deviceUUID), record)
	assert.Equal(t, 1, r.table.MutationCount())
}

func TestRunAmbiguousTableRecords(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "ext4", deviceUUID)
	r.table.SetReconcileError(fmt.Errorf("2 records match: %w", fstab.ErrAmbiguousTarget))

	err := r.run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, provision.ErrConflict))
	assert.Equal(t, 0, r.mounter.MutationCount())
}

func TestRunMountByTargetPreferred(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "ext4", deviceUUID)
	r.mounter.SetTableSource(mountPoint, devicePath)

	require.NoError(t, r.run())

	// The fstab-driven attempt succeeded, so no direct mount happened
	assert.Len(t, r.mounter.GetMountByTargetCalls(), 1)
	assert.Empty(t, r.mounter.GetMountCalls())
	assert.True(t, r.mounter.IsMounted(mountPoint))
}

func TestRunBothMountAttemptsFail(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "ext4", deviceUUID)
	r.mounter.SetMountByTargetError(fmt.Errorf("mount: can't find %s in fstab", mountPoint))
	r.mounter.SetMountError(fmt.Errorf("mount: wrong fs type"))

	err := r.run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, provision.ErrMount))
	assert.False(t, r.mounter.IsMounted(mountPoint))
}

// captureLogOutput runs fn with os.Stderr redirected to a pipe and returns
// everything klog wrote to it, at whatever verbosity the process defaults to
func captureLogOutput(t *testing.T, fn func()) string {
	t.Helper()

	old := os.Stderr
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stderr = w
	defer func() { os.Stderr = old }()

	fn()
	klog.Flush()

	require.NoError(t, w.Close())
	os.Stderr = old
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestRunDryRunFreshDevice(t *testing.T) {
	r := newRig()
	r.cfg.DryRun = true

	require.NoError(t, r.run())

	// Zero real mutating calls anywhere
	assert.Empty(t, r.inspector.GetFormatCalls())
	assert.Equal(t, 0, r.table.MutationCount())
	assert.Equal(t, 0, r.mounter.MutationCount())

	// The plan still walked the table reconciliation
	calls := r.table.GetReconcileCalls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].DryRun)
}

func TestRunDryRunPlanVisibleByDefault(t *testing.T) {
	r := newRig()
	r.cfg.DryRun = true

	out := captureLogOutput(t, func() {
		require.NoError(t, r.run())
	})

	// Every simulated outcome is readable without raising verbosity
	assert.Contains(t, out, "Dry-run mode: no changes will be made")
	assert.Contains(t, out, "Step 1/6: resolve-device")
	assert.Contains(t, out, "[dry-run] Would create ext4 filesystem")
	assert.Contains(t, out, "[dry-run] Would append record")
	assert.Contains(t, out, "[dry-run] Would mount")
}

func TestRunNarrationVisibleByDefault(t *testing.T) {
	r := newRig()
	r.inspector.SetFilesystem(devicePath, "ext4", deviceUUID)
	r.mounter.SetMounted(mountPoint, devicePath)

	out := captureLogOutput(t, func() {
		require.NoError(t, r.run())
	})

	assert.Contains(t, out, "Step 2/6: inspect-mount")
	assert.Contains(t, out, "already satisfied")
}

func TestRunDryRunForeignFilesystem(t *testing.T) {
	r := newRig()
	r.cfg.DryRun = true
	r.inspector.SetFilesystem(deviceRef, "vfat", otherUUID)

	// A dry run reports the would-be refusal but still exits cleanly
	require.NoError(t, r.run())

	assert.Empty(t, r.inspector.GetFormatCalls())
	assert.Equal(t, 0, r.table.MutationCount())
	assert.Equal(t, 0, r.mounter.MutationCount())
}

func TestRunDryRunForce(t *testing.T) {
	r := newRig()
	r.cfg.DryRun = true
	r.cfg.Force = true
	r.inspector.SetFilesystem(deviceRef, "vfat", otherUUID)

	require.NoError(t, r.run())

	// Force never overrides dry-run: still zero mutating calls
	assert.Empty(t, r.inspector.GetFormatCalls())
	assert.Equal(t, 0, r.table.MutationCount())
	assert.Equal(t, 0, r.mounter.MutationCount())
}
