// Package provision implements the idempotent disk reconciliation pipeline:
// resolve the device, inspect the current mount state, ensure the target
// filesystem exists, resolve its UUID, reconcile the persistent mount table
// record, and enforce the mount.
//
// # Logging Verbosity Convention
//
// This package follows Kubernetes logging conventions for verbosity levels:
//
//   - V(0): Always visible - step progression, stage outcomes, the dry-run
//     plan, destructive operations, safety refusals
//     Examples: "Step 3/6: ensure-filesystem", "[dry-run] Would create..."
//   - V(4): Debug level - intermediate state, fallback diagnostics
//   - V(5): Trace level - raw collaborator output
//
// The pipeline narrates at V(0) because its one-line-per-stage output is the
// operator-facing result of a run, not diagnostics; in particular the
// dry-run plan must be readable without extra flags. Set --v=4 for
// troubleshooting.
package provision
