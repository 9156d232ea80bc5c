package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/disk-provision/pkg/fstab"
)

// resolveDevice canonicalizes the configured device reference.
// Dry-run passes the reference through unchanged, since resolution may
// depend on a live filesystem that a dry run must not require.
func (p *Provisioner) resolveDevice(ctx context.Context, st *state) (stageResult, error) {
	if p.cfg.DryRun {
		st.device = p.cfg.Device
		klog.Infof("[dry-run] Using device reference %s unresolved", st.device)
		return stageContinue, nil
	}

	device, err := p.inspector.Resolve(p.cfg.Device)
	if err != nil {
		return stageContinue, fmt.Errorf("cannot resolve device %s: %v: %w", p.cfg.Device, err, ErrResolution)
	}

	st.device = device
	return stageContinue, nil
}

// inspectMount decides whether the target is already a genuine mount point
// and, if so, whether the expected device backs it. A mount backed by an
// unexpected device aborts the run before anything is touched.
func (p *Provisioner) inspectMount(ctx context.Context, st *state) (stageResult, error) {
	mounted, err := p.mounter.IsMountPoint(p.cfg.MountPoint)
	if err != nil {
		return stageContinue, fmt.Errorf("cannot inspect mount state of %s: %v: %w", p.cfg.MountPoint, err, ErrResolution)
	}

	if !mounted {
		klog.Infof("%s is not currently a mount point", p.cfg.MountPoint)
		return stageContinue, nil
	}

	source, err := p.mounter.MountSource(p.cfg.MountPoint)
	if err != nil {
		return stageContinue, fmt.Errorf("%s is mounted but its source is unknown: %v: %w", p.cfg.MountPoint, err, ErrResolution)
	}

	expected, err := p.inspector.UUID(ctx, st.device)
	if err != nil {
		// The expected device's identity may be undiscoverable here, e.g.
		// before its filesystem exists. Treat the existing mount as
		// satisfying rather than guessing.
		klog.Warningf("%s is mounted from %s and UUID of %s is unreadable, treating as satisfied: %v",
			p.cfg.MountPoint, source, st.device, err)
		return stageSatisfied, nil
	}

	current, err := p.inspector.UUID(ctx, source)
	if err != nil {
		return stageContinue, fmt.Errorf("cannot read UUID of mounted device %s backing %s: %v: %w",
			source, p.cfg.MountPoint, err, ErrResolution)
	}

	if current == expected {
		klog.Infof("%s is already mounted from %s (UUID %s)", p.cfg.MountPoint, source, current)
		return stageSatisfied, nil
	}

	if p.cfg.DryRun {
		// A dry run reports where a real run would refuse, then stops the
		// plan; it never exits non-zero over pre-existing state
		klog.Warningf("[dry-run] Real run would fail: %s is mounted from %s (UUID %s) but device %s has UUID %s",
			p.cfg.MountPoint, source, current, st.device, expected)
		return stageSatisfied, nil
	}

	return stageContinue, fmt.Errorf(
		"%s is mounted from %s (UUID %s) but device %s has UUID %s; refusing to touch an unrelated mount: %w",
		p.cfg.MountPoint, source, current, st.device, expected, ErrConflict)
}

// ensureFilesystem creates the target filesystem if the device has none.
// A foreign filesystem is only destroyed with --force.
func (p *Provisioner) ensureFilesystem(ctx context.Context, st *state) (stageResult, error) {
	current, err := p.inspector.FilesystemType(st.device)
	if err != nil {
		return stageContinue, fmt.Errorf("cannot read filesystem signature of %s: %v: %w", st.device, err, ErrResolution)
	}

	switch {
	case current == p.cfg.FSType:
		klog.Infof("Device %s already carries %s, skipping format", st.device, p.cfg.FSType)
		return stageContinue, nil

	case current == "":
		klog.Infof("Device %s has no filesystem", st.device)

	case p.cfg.Force:
		klog.V(0).Infof("Overriding existing %s filesystem on %s (--force)", current, st.device)

	default:
		if p.cfg.DryRun {
			klog.Warningf("[dry-run] Real run would fail: device %s carries %s, expected %s (--force would destroy it)",
				st.device, current, p.cfg.FSType)
			// Plan the remaining steps against the existing filesystem
			return stageContinue, nil
		}
		return stageContinue, fmt.Errorf(
			"device %s already carries a %s filesystem, expected %s; re-run with --force to destroy it: %w",
			st.device, current, p.cfg.FSType, ErrConflict)
	}

	// Whatever UUID was known before is invalid once a new filesystem
	// exists (or would exist)
	st.fsCreated = true

	if p.cfg.DryRun {
		klog.Infof("[dry-run] Would create %s filesystem on %s", p.cfg.FSType, st.device)
		return stageContinue, nil
	}

	if err := p.inspector.Format(st.device, p.cfg.FSType); err != nil {
		return stageContinue, fmt.Errorf("cannot create %s filesystem on %s: %v: %w", p.cfg.FSType, st.device, err, ErrResolution)
	}
	return stageContinue, nil
}

// resolveIdentity reads the filesystem UUID the fstab record will use.
// Dry-run substitutes a generated placeholder when no real UUID is
// readable, so the remaining stages can still print a coherent plan.
func (p *Provisioner) resolveIdentity(ctx context.Context, st *state) (stageResult, error) {
	if p.cfg.DryRun {
		if !st.fsCreated {
			if id, err := p.inspector.UUID(ctx, st.device); err == nil {
				st.uuid = id
				return stageContinue, nil
			}
		}
		st.uuid = uuid.New().String()
		klog.Infof("[dry-run] Using placeholder UUID %s for %s", st.uuid, st.device)
		return stageContinue, nil
	}

	id, err := p.inspector.UUID(ctx, st.device)
	if err != nil {
		return stageContinue, fmt.Errorf("cannot read UUID of %s: %v: %w", st.device, err, ErrResolution)
	}

	st.uuid = id
	return stageContinue, nil
}

// reconcileRecord ensures the persistent mount table maps the UUID to the
// mount point with the desired options
func (p *Provisioner) reconcileRecord(ctx context.Context, st *state) (stageResult, error) {
	desired := fstab.Entry{
		Spec:    "UUID=" + st.uuid,
		Target:  p.cfg.MountPoint,
		FSType:  p.cfg.FSType,
		Options: p.cfg.Options,
		Dump:    p.cfg.Dump,
		Pass:    p.cfg.Pass,
	}

	action, err := p.table.Reconcile(desired, p.cfg.DryRun)
	if err != nil {
		if errors.Is(err, fstab.ErrAmbiguousTarget) {
			return stageContinue, fmt.Errorf("%v: %w", err, ErrConflict)
		}
		return stageContinue, fmt.Errorf("cannot reconcile %s: %w", p.cfg.FstabPath, err)
	}

	if p.cfg.DryRun && action != fstab.ActionNone {
		klog.Infof("[dry-run] Would %s record in %s: %s", action, p.cfg.FstabPath, desired)
		return stageContinue, nil
	}

	klog.Infof("Mount table record for %s: %s", p.cfg.MountPoint, action)
	return stageContinue, nil
}

// enforceMount attaches the device at the mount point, preferring the
// persistent record so options stay authoritative in one place
func (p *Provisioner) enforceMount(ctx context.Context, st *state) (stageResult, error) {
	mounted, err := p.mounter.IsMountPoint(p.cfg.MountPoint)
	if err != nil {
		return stageContinue, fmt.Errorf("cannot inspect mount state of %s: %v: %w", p.cfg.MountPoint, err, ErrMount)
	}
	if mounted {
		klog.Infof("%s is already mounted", p.cfg.MountPoint)
		return stageContinue, nil
	}

	if p.cfg.DryRun {
		klog.Infof("[dry-run] Would mount %s at %s via its mount table record", st.device, p.cfg.MountPoint)
		return stageContinue, nil
	}

	if err := p.mounter.MakeDir(p.cfg.MountPoint); err != nil {
		return stageContinue, fmt.Errorf("cannot create mount point %s: %v: %w", p.cfg.MountPoint, err, ErrMount)
	}

	// Mounting by target lets the freshly written record supply device and
	// options; fall back to mounting the device directly
	tableErr := p.mounter.MountByTarget(p.cfg.MountPoint)
	if tableErr == nil {
		return stageContinue, nil
	}

	klog.V(4).Infof("Mount by target failed (%v), falling back to direct mount of %s", tableErr, st.device)
	directErr := p.mounter.Mount(st.device, p.cfg.MountPoint, p.cfg.FSType, nil)
	if directErr == nil {
		return stageContinue, nil
	}

	return stageContinue, fmt.Errorf(
		"cannot mount %s at %s (by target: %v; direct: %v): %w",
		st.device, p.cfg.MountPoint, tableErr, directErr, ErrMount)
}
