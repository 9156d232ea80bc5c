package provision

import (
	"context"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/disk-provision/pkg/blockdev"
	"git.srvlab.io/whiskey/disk-provision/pkg/config"
	"git.srvlab.io/whiskey/disk-provision/pkg/fstab"
	"git.srvlab.io/whiskey/disk-provision/pkg/mount"
)

// Version of the disk-provision tool
const Version = "1.2.0"

// stageResult tags a stage outcome consumed by the driver loop
type stageResult int

const (
	// stageContinue proceeds to the next stage
	stageContinue stageResult = iota

	// stageSatisfied ends the run successfully without running the
	// remaining stages (target already mounted from the expected device)
	stageSatisfied
)

// stage is one step of the reconciliation pipeline
type stage struct {
	name string
	run  func(ctx context.Context, st *state) (stageResult, error)
}

// state is the mutable context shared by the stages of a single run
type state struct {
	// device is the canonical device path (or the raw reference in dry-run)
	device string

	// uuid is the filesystem UUID once resolved
	uuid string

	// fsCreated records that this run created (or in dry-run would create)
	// the filesystem, invalidating any previously known UUID
	fsCreated bool
}

// Provisioner reconciles one device into its configured state
type Provisioner struct {
	cfg       config.Config
	inspector blockdev.Inspector
	mounter   mount.Mounter
	table     fstab.MountTable
}

// New creates a Provisioner with the real system-backed collaborators
func New(cfg config.Config) *Provisioner {
	return NewWithCollaborators(cfg,
		blockdev.NewInspector(),
		mount.NewMounter(),
		fstab.NewFileTable(cfg.FstabPath),
	)
}

// NewWithCollaborators creates a Provisioner with injected collaborators,
// so the reconciliation logic can be exercised without a real disk
func NewWithCollaborators(cfg config.Config, inspector blockdev.Inspector, mounter mount.Mounter, table fstab.MountTable) *Provisioner {
	return &Provisioner{
		cfg:       cfg,
		inspector: inspector,
		mounter:   mounter,
		table:     table,
	}
}

// Run executes the reconciliation pipeline. Each stage is idempotent; the
// whole sequence can be re-run from the start at any time. The first stage
// error aborts the run.
func (p *Provisioner) Run(ctx context.Context) error {
	if p.cfg.DryRun {
		klog.Info("Dry-run mode: no changes will be made")
	}

	stages := []stage{
		{"resolve-device", p.resolveDevice},
		{"inspect-mount", p.inspectMount},
		{"ensure-filesystem", p.ensureFilesystem},
		{"resolve-identity", p.resolveIdentity},
		{"reconcile-record", p.reconcileRecord},
		{"enforce-mount", p.enforceMount},
	}

	st := &state{}
	for i, s := range stages {
		klog.Infof("Step %d/%d: %s", i+1, len(stages), s.name)

		result, err := s.run(ctx, st)
		if err != nil {
			return err
		}
		if result == stageSatisfied {
			klog.Infof("Target %s already satisfied, nothing to do", p.cfg.MountPoint)
			return nil
		}
	}

	klog.Infof("Reconciliation complete: %s carries %s, is recorded in %s, and is mounted at %s",
		st.device, p.cfg.FSType, p.cfg.FstabPath, p.cfg.MountPoint)
	return nil
}
