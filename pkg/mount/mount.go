package mount

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/moby/sys/mountinfo"
	"k8s.io/klog/v2"
)

// Mounter handles mount operations
type Mounter interface {
	// Mount mounts source to target with the given fsType and options
	Mount(source, target, fsType string, options []string) error

	// MountByTarget mounts the target by path alone, letting the persistent
	// mount table supply the device and options
	MountByTarget(target string) error

	// Unmount unmounts the target
	Unmount(target string) error

	// IsMountPoint checks whether path itself is the root of a mount.
	// A path merely residing under some other mount returns false; only the
	// exact mount point returns true.
	IsMountPoint(path string) (bool, error)

	// MountSource returns the device backing the mount at path
	MountSource(path string) (string, error)

	// MakeDir creates the directory if it does not exist
	MakeDir(path string) error
}

// mounter implements Mounter interface using system commands
type mounter struct {
	execCommand func(name string, args ...string) *exec.Cmd
}

// NewMounter creates a new filesystem mounter
func NewMounter() Mounter {
	return &mounter{
		execCommand: exec.Command,
	}
}

// Mount mounts source to target with the given filesystem type and options
func (m *mounter) Mount(source, target, fsType string, options []string) error {
	klog.V(2).Infof("Mounting %s to %s (fsType: %s, options: %v)", source, target, fsType, options)

	if err := m.MakeDir(target); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	// Build mount command arguments
	args := []string{}

	if fsType != "" {
		args = append(args, "-t", fsType)
	}

	if len(options) > 0 {
		args = append(args, "-o", strings.Join(options, ","))
	}

	args = append(args, source, target)

	cmd := m.execCommand("mount", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount failed: %w, output: %s", err, string(output))
	}

	klog.V(5).Infof("mount output: %s", string(output))
	klog.V(2).Infof("Successfully mounted %s to %s", source, target)
	return nil
}

// MountByTarget mounts using only the target path, so the device and
// options come from the persistent mount table entry
func (m *mounter) MountByTarget(target string) error {
	klog.V(2).Infof("Mounting %s via persistent mount table", target)

	cmd := m.execCommand("mount", target)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount %s failed: %w, output: %s", target, err, string(output))
	}

	klog.V(5).Infof("mount output: %s", string(output))
	klog.V(2).Infof("Successfully mounted %s", target)
	return nil
}

// Unmount unmounts the target path
func (m *mounter) Unmount(target string) error {
	klog.V(2).Infof("Unmounting %s", target)

	mounted, err := m.IsMountPoint(target)
	if err != nil {
		return fmt.Errorf("failed to check if mounted: %w", err)
	}

	if !mounted {
		klog.V(2).Infof("Path %s is not mounted, nothing to unmount", target)
		return nil
	}

	cmd := m.execCommand("umount", target)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("umount failed: %w, output: %s", err, string(output))
	}

	klog.V(5).Infof("umount output: %s", string(output))
	klog.V(2).Infof("Successfully unmounted %s", target)
	return nil
}

// IsMountPoint checks whether path is exactly a mount root
func (m *mounter) IsMountPoint(path string) (bool, error) {
	// A missing path cannot be a mount point
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	// mountinfo.Mounted compares against the kernel mount table, so a path
	// that merely lives under another mount does not count
	mounted, err := mountinfo.Mounted(path)
	if err != nil {
		return false, fmt.Errorf("failed to check mount state of %s: %w", path, err)
	}

	klog.V(4).Infof("Mount point check for %s: %v", path, mounted)
	return mounted, nil
}

// MountSource returns the source device of the mount rooted at path
func (m *mounter) MountSource(path string) (string, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter(path))
	if err != nil {
		return "", fmt.Errorf("failed to read mount table: %w", err)
	}

	if len(mounts) == 0 {
		return "", fmt.Errorf("mount point not found: %s", path)
	}

	klog.V(4).Infof("Found mount source for %s: %s", path, mounts[0].Source)
	return mounts[0].Source, nil
}

// MakeDir creates the directory and any missing parents
func (m *mounter) MakeDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
