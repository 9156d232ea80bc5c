// Package fstab reconciles records in the persistent mount table
// (/etc/fstab by default). Reconciliation touches at most the one record
// line matching the mount target; every other line, comments included, is
// preserved byte-for-byte.
package fstab

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// backupTimeFormat gives second resolution; two runs inside the same
// second reuse the same backup name (known limitation)
const backupTimeFormat = "20060102_150405"

// ErrAmbiguousTarget indicates more than one record matches the mount
// target. The table is left untouched since rewriting an ambiguous table
// risks corrupting it.
var ErrAmbiguousTarget = errors.New("multiple records match mount target")

// Entry is one record line in the persistent mount table
type Entry struct {
	// Spec is the identity selector, e.g. "UUID=2f9e8c44-..."
	Spec string

	// Target is the absolute mount point path
	Target string

	// FSType is the filesystem type
	FSType string

	// Options is the comma-separated mount options field
	Options string

	// Dump is the dump(8) flag
	Dump int

	// Pass is the fsck pass number
	Pass int
}

// String renders the entry as a table line with escaped fields
func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s %s %d %d",
		escapeField(e.Spec), escapeField(e.Target), e.FSType, e.Options, e.Dump, e.Pass)
}

// Equal reports field-wise equality. Whitespace layout of the original
// line does not matter; two entries with the same six fields are equal.
func (e Entry) Equal(other Entry) bool {
	return e == other
}

// Action describes what Reconcile did (or, in dry-run, would do)
type Action int

const (
	// ActionNone means a matching record already had the desired content
	ActionNone Action = iota

	// ActionAppend means no record matched and the desired line was appended
	ActionAppend

	// ActionReplace means one record matched with different content and was
	// rewritten in place
	ActionReplace
)

// String returns a human-readable action name
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAppend:
		return "append"
	case ActionReplace:
		return "replace"
	default:
		return fmt.Sprintf("unknown(%d)", int(a))
	}
}

// MountTable reconciles a desired record into the persistent mount table
type MountTable interface {
	// Reconcile ensures exactly one record for desired.Target. With dryRun
	// set the table is read but never written; the returned action is what
	// a real run would have done. The first mutation of a run backs up the
	// table file, and rewrites go through a temp file plus atomic rename.
	Reconcile(desired Entry, dryRun bool) (Action, error)
}

// fileTable implements MountTable against a table file on disk
type fileTable struct {
	path     string
	backedUp bool
}

// NewFileTable creates a MountTable backed by the file at path
func NewFileTable(path string) MountTable {
	return &fileTable{path: path}
}

// Reconcile implements MountTable
func (t *fileTable) Reconcile(desired Entry, dryRun bool) (Action, error) {
	lines, mode, terminated, err := t.read()
	if err != nil {
		return ActionNone, err
	}

	// Collect non-comment record lines whose target field matches
	var matches []int
	for idx, line := range lines {
		entry, ok := parseLine(line)
		if !ok {
			continue
		}
		if entry.Target == desired.Target {
			matches = append(matches, idx)
		}
	}

	var action Action
	switch len(matches) {
	case 0:
		action = ActionAppend
	case 1:
		existing, _ := parseLine(lines[matches[0]])
		if existing.Equal(desired) {
			klog.V(2).Infof("Record for %s in %s already up to date", desired.Target, t.path)
			return ActionNone, nil
		}
		action = ActionReplace
	default:
		return ActionNone, fmt.Errorf("%d records in %s match target %s: %w",
			len(matches), t.path, desired.Target, ErrAmbiguousTarget)
	}

	if dryRun {
		klog.V(4).Infof("Dry-run: would %s record for %s in %s", action, desired.Target, t.path)
		return action, nil
	}

	if err := t.backup(lines, mode, terminated); err != nil {
		return action, err
	}

	switch action {
	case ActionAppend:
		lines = append(lines, desired.String())
		klog.V(2).Infof("Appending record to %s: %s", t.path, desired)
	case ActionReplace:
		klog.V(2).Infof("Replacing record in %s: %q -> %q", t.path, lines[matches[0]], desired.String())
		lines[matches[0]] = desired.String()
	}

	if err := writeAtomic(t.path, lines, mode, terminated); err != nil {
		return action, err
	}
	return action, nil
}

// read loads the table file as raw lines, preserving blank lines.
// terminated reports whether the file ended with a newline, so rewrites can
// reproduce the original termination. A missing file is treated as an empty
// newline-terminated table.
func (t *fileTable) read() ([]string, os.FileMode, bool, error) {
	info, err := os.Stat(t.path)
	if os.IsNotExist(err) {
		klog.V(2).Infof("Mount table %s does not exist, starting empty", t.path)
		return nil, 0644, true, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to stat %s: %w", t.path, err)
	}

	data, err := os.ReadFile(t.path)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read %s: %w", t.path, err)
	}

	terminated := len(data) == 0 || strings.HasSuffix(string(data), "\n")

	lines := strings.Split(string(data), "\n")
	// The final newline produces one empty trailing element; drop it so
	// Join writes the file back unchanged
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines, info.Mode().Perm(), terminated, nil
}

// backup writes a timestamped copy of the table before the first mutation
// of this run. Later mutations in the same run reuse the first backup.
func (t *fileTable) backup(lines []string, mode os.FileMode, terminated bool) error {
	if t.backedUp {
		return nil
	}

	backupPath := fmt.Sprintf("%s.backup.%s", t.path, time.Now().Format(backupTimeFormat))
	if err := writeAtomic(backupPath, lines, mode, terminated); err != nil {
		return fmt.Errorf("failed to back up %s: %w", t.path, err)
	}

	klog.V(2).Infof("Backed up %s to %s", t.path, backupPath)
	t.backedUp = true
	return nil
}

// parseLine parses a table line into an Entry. ok is false for comment
// lines, blank lines, and lines with fewer than four fields; those are
// never matched or rewritten.
func parseLine(line string) (Entry, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Entry{}, false
	}

	fields := strings.Fields(trimmed)
	if len(fields) < 4 {
		return Entry{}, false
	}

	entry := Entry{
		Spec:    unescapeField(fields[0]),
		Target:  unescapeField(fields[1]),
		FSType:  fields[2],
		Options: fields[3],
	}
	if len(fields) > 4 {
		entry.Dump, _ = strconv.Atoi(fields[4])
	}
	if len(fields) > 5 {
		entry.Pass, _ = strconv.Atoi(fields[5])
	}

	return entry, true
}

// writeAtomic writes lines to path via a temp file in the same directory
// followed by rename, so the table is never left partially written.
// terminated controls the final newline: a table whose last line had no
// newline keeps that shape after a rewrite.
func writeAtomic(path string, lines []string, mode os.FileMode, terminated bool) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename has happened
		_ = os.Remove(tmpName)
	}()

	content := strings.Join(lines, "\n")
	if terminated && len(lines) > 0 {
		content += "\n"
	}

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}

// Field escaping in fstab follows the /proc/mounts convention:
// spaces are encoded as \040, tabs as \011, newlines as \012,
// backslashes as \134

func escapeField(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\134")
	s = strings.ReplaceAll(s, " ", "\\040")
	s = strings.ReplaceAll(s, "\t", "\\011")
	s = strings.ReplaceAll(s, "\n", "\\012")
	return s
}

func unescapeField(s string) string {
	s = strings.ReplaceAll(s, "\\040", " ")
	s = strings.ReplaceAll(s, "\\011", "\t")
	s = strings.ReplaceAll(s, "\\012", "\n")
	s = strings.ReplaceAll(s, "\\134", "\\")
	return s
}
