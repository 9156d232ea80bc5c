// Package blockdev inspects and formats local block devices.
//
// # Logging Verbosity Convention
//
// This package follows Kubernetes logging conventions for verbosity levels:
//
//   - V(0): Always visible - programmer errors, destructive operations
//   - V(2): Production default - operation outcomes, state changes
//     Examples: "Formatted /dev/sdb with ext4", "Resolved /dev/disk/by-id/... to /dev/sdb"
//   - V(4): Debug level - intermediate steps, parameters, diagnostics
//     Examples: "Probing filesystem type", "UUID not published yet, retrying"
//   - V(5): Trace level - command output, parsing details
//
// V(3) is avoided in favor of V(2) (if actionable) or V(4) (if diagnostic).
//
// Production deployments use V(2) by default. Set --v=4 for troubleshooting.
package blockdev
