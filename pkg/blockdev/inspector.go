package blockdev

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/disk-provision/pkg/utils"
)

// Inspector handles block device inspection and filesystem creation
type Inspector interface {
	// Resolve canonicalizes a device reference (typically a symlink under
	// /dev/disk/by-*) to the real device path
	Resolve(ref string) (string, error)

	// FilesystemType returns the filesystem type currently on the device,
	// or "" if the device carries no recognizable filesystem
	FilesystemType(device string) (string, error)

	// UUID returns the filesystem UUID of the device, waiting out a short
	// settle window for udev metadata propagation
	UUID(ctx context.Context, device string) (string, error)

	// Format creates a filesystem of the given type on the device.
	// Destructive: any existing data on the device is lost. Callers are
	// responsible for checking the current filesystem state first.
	Format(device, fsType string) error
}

// inspector implements Inspector using system commands
type inspector struct {
	execCommand   func(name string, args ...string) *exec.Cmd
	settleBackoff wait.Backoff
}

// NewInspector creates a new block device inspector
func NewInspector() Inspector {
	return &inspector{
		execCommand:   exec.Command,
		settleBackoff: utils.SettleBackoff(),
	}
}

// Resolve canonicalizes a device reference to its real device path
func (i *inspector) Resolve(ref string) (string, error) {
	resolved, err := filepath.EvalSymlinks(ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve device %s: %w", ref, err)
	}

	// Whatever the reference pointed at must be an actual block device
	var st unix.Stat_t
	if err := unix.Stat(resolved, &st); err != nil {
		return "", fmt.Errorf("failed to stat device %s: %w", resolved, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return "", fmt.Errorf("%s resolves to %s, which is not a block device", ref, resolved)
	}

	klog.V(2).Infof("Resolved device %s to %s", ref, resolved)
	return resolved, nil
}

// FilesystemType probes the device's filesystem signature with blkid
func (i *inspector) FilesystemType(device string) (string, error) {
	out, err := i.runBlkid(device, "TYPE")
	if err != nil {
		return "", err
	}
	klog.V(4).Infof("Device %s has filesystem type %q", device, out)
	return out, nil
}

// UUID reads the device's filesystem UUID, retrying through the settle
// window since udev publishes blkid metadata asynchronously after mkfs
func (i *inspector) UUID(ctx context.Context, device string) (string, error) {
	var id string

	err := utils.RetryWithBackoff(ctx, i.settleBackoff, func() error {
		out, err := i.runBlkid(device, "UUID")
		if err != nil {
			return err
		}
		if out == "" {
			return fmt.Errorf("no UUID on %s: %w", device, utils.ErrNotSettled)
		}
		id = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to read UUID of %s: %w", device, err)
	}

	// ext* and xfs UUIDs are RFC 4122; anything else means blkid gave us
	// something unexpected and the fstab record would be garbage
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("device %s reported malformed UUID %q: %w", device, id, err)
	}

	klog.V(2).Infof("Device %s has UUID %s", device, id)
	return id, nil
}

// runBlkid probes a single blkid tag value for the device.
// Returns "" without error when blkid finds nothing (exit status 2).
func (i *inspector) runBlkid(device, tag string) (string, error) {
	cmd := i.execCommand("blkid", "-o", "value", "-s", tag, device)
	output, err := cmd.CombinedOutput()
	if err != nil {
		// blkid exits 2 when the requested tag is absent
		if strings.Contains(err.Error(), "exit status 2") {
			return "", nil
		}
		return "", fmt.Errorf("blkid failed for %s: %w, output: %s", device, err, string(output))
	}

	klog.V(5).Infof("blkid %s output for %s: %s", tag, device, string(output))
	return strings.TrimSpace(string(output)), nil
}

// Format creates a filesystem on the device with mkfs
func (i *inspector) Format(device, fsType string) error {
	klog.V(0).Infof("Formatting device %s with %s", device, fsType)

	// Build mkfs command based on filesystem type
	var cmd *exec.Cmd
	switch fsType {
	case "ext4":
		// mkfs.ext4 -F (force) device
		cmd = i.execCommand("mkfs.ext4", "-F", device)
	case "ext3":
		cmd = i.execCommand("mkfs.ext3", "-F", device)
	case "xfs":
		cmd = i.execCommand("mkfs.xfs", "-f", device)
	default:
		return fmt.Errorf("unsupported filesystem type: %s", fsType)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mkfs.%s failed: %w, output: %s", fsType, err, string(output))
	}

	klog.V(4).Infof("mkfs output: %s", string(output))
	klog.V(2).Infof("Successfully formatted %s with %s", device, fsType)
	return nil
}

// SupportedFilesystems lists the filesystem types Format can create
func SupportedFilesystems() []string {
	return []string{"ext4", "ext3", "xfs"}
}
