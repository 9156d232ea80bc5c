// Package config holds the run configuration for disk provisioning.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"git.srvlab.io/whiskey/disk-provision/pkg/blockdev"
)

// DefaultFstabPath is the system-wide persistent mount table
const DefaultFstabPath = "/etc/fstab"

// Config is the full configuration for one provisioning run.
// Values come from defaults, then an optional TOML file, then flags.
type Config struct {
	// Device is the block device reference to provision, typically a
	// stable symlink under /dev/disk/by-id or /dev/disk/by-path
	Device string `toml:"device"`

	// MountPoint is the absolute path the device gets mounted at
	MountPoint string `toml:"mount_point"`

	// FSType is the target filesystem type
	FSType string `toml:"fs_type"`

	// Options is the mount options field of the fstab record
	Options string `toml:"options"`

	// FstabPath is the persistent mount table file
	FstabPath string `toml:"fstab"`

	// Dump is the dump(8) flag of the fstab record
	Dump int `toml:"dump"`

	// Pass is the fsck pass number of the fstab record
	Pass int `toml:"pass"`

	// DryRun suppresses every mutating operation; runtime-only
	DryRun bool `toml:"-"`

	// Force permits destroying a conflicting existing filesystem; runtime-only
	Force bool `toml:"-"`
}

// Default returns the built-in configuration defaults
func Default() Config {
	return Config{
		FSType:    "ext4",
		Options:   "defaults",
		FstabPath: DefaultFstabPath,
		Dump:      0,
		Pass:      2,
	}
}

// LoadFile overlays TOML values from path onto cfg. Keys absent from the
// file leave the current values untouched.
func LoadFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
	}
	return nil
}

// Validate checks that the configuration describes a runnable provisioning
func (c Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("device is required")
	}
	if c.MountPoint == "" {
		return fmt.Errorf("mount point is required")
	}
	if !filepath.IsAbs(c.MountPoint) {
		return fmt.Errorf("mount point %s must be an absolute path", c.MountPoint)
	}
	if c.Options == "" {
		return fmt.Errorf("mount options must not be empty")
	}
	if c.FstabPath == "" {
		return fmt.Errorf("fstab path must not be empty")
	}

	for _, fs := range blockdev.SupportedFilesystems() {
		if c.FSType == fs {
			return nil
		}
	}
	return fmt.Errorf("unsupported filesystem type %q (supported: %v)",
		c.FSType, blockdev.SupportedFilesystems())
}
