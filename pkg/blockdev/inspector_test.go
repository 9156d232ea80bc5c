package blockdev

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"git.srvlab.io/whiskey/disk-provision/pkg/utils"
)

// mockExecCommand creates a mock exec.Cmd for testing
func mockExecCommand(stdout, stderr string, exitCode int) func(string, ...string) *exec.Cmd {
	return func(command string, args ...string) *exec.Cmd {
		cs := []string{"-test.run=TestHelperProcess", "--", command}
		cs = append(cs, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			"STDOUT=" + stdout,
			"STDERR=" + stderr,
			"EXIT_CODE=" + fmt.Sprintf("%d", exitCode),
		}
		return cmd
	}
}

// TestHelperProcess is used by mockExecCommand to simulate command execution
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	_, _ = os.Stdout.WriteString(os.Getenv("STDOUT"))
	_, _ = os.Stderr.WriteString(os.Getenv("STDERR"))

	exitCode, _ := strconv.Atoi(os.Getenv("EXIT_CODE"))
	os.Exit(exitCode)
}

// testBackoff avoids real settle delays in tests
func testBackoff() wait.Backoff {
	return wait.Backoff{Steps: 3, Duration: time.Millisecond, Factor: 1.0}
}

func TestFilesystemType(t *testing.T) {
	tests := []struct {
		name          string
		blkidOutput   string
		blkidExitCode int
		expectedType  string
		expectError   bool
	}{
		{
			name:          "ext4 filesystem",
			blkidOutput:   "ext4\n",
			blkidExitCode: 0,
			expectedType:  "ext4",
		},
		{
			name:          "xfs filesystem",
			blkidOutput:   "xfs\n",
			blkidExitCode: 0,
			expectedType:  "xfs",
		},
		{
			name:          "no filesystem",
			blkidOutput:   "",
			blkidExitCode: 2, // blkid exits 2 when nothing found
			expectedType:  "",
		},
		{
			name:          "blkid failure",
			blkidOutput:   "",
			blkidExitCode: 4,
			expectError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := &inspector{
				execCommand:   mockExecCommand(tt.blkidOutput, "", tt.blkidExitCode),
				settleBackoff: testBackoff(),
			}

			fsType, err := i.FilesystemType("/dev/sdb")
			if tt.expectError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if fsType != tt.expectedType {
				t.Errorf("Expected type %q, got %q", tt.expectedType, fsType)
			}
		})
	}
}

func TestUUID(t *testing.T) {
	tests := []struct {
		name          string
		blkidOutput   string
		blkidExitCode int
		expectedUUID  string
		expectError   bool
		expectSettle  bool
	}{
		{
			name:          "valid uuid",
			blkidOutput:   "2f9e8c44-1d0b-4bb7-9f3c-8a2d5e7b1c6f\n",
			blkidExitCode: 0,
			expectedUUID:  "2f9e8c44-1d0b-4bb7-9f3c-8a2d5e7b1c6f",
		},
		{
			name:          "uuid never published",
			blkidOutput:   "",
			blkidExitCode: 2,
			expectError:   true,
			expectSettle:  true,
		},
		{
			name:          "malformed uuid",
			blkidOutput:   "not-a-uuid\n",
			blkidExitCode: 0,
			expectError:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := &inspector{
				execCommand:   mockExecCommand(tt.blkidOutput, "", tt.blkidExitCode),
				settleBackoff: testBackoff(),
			}

			id, err := i.UUID(context.Background(), "/dev/sdb")
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if tt.expectSettle && !errors.Is(err, utils.ErrNotSettled) {
					t.Errorf("Expected settle error, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if id != tt.expectedUUID {
				t.Errorf("Expected UUID %q, got %q", tt.expectedUUID, id)
			}
		})
	}
}

func TestFormatUnsupportedFilesystem(t *testing.T) {
	i := &inspector{
		execCommand:   mockExecCommand("", "", 0),
		settleBackoff: testBackoff(),
	}

	err := i.Format("/dev/sdb", "btrfs")
	if err == nil {
		t.Error("Expected error for unsupported filesystem")
	}
	if !strings.Contains(err.Error(), "unsupported filesystem type") {
		t.Errorf("Expected 'unsupported filesystem type' error, got: %v", err)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name        string
		fsType      string
		exitCode    int
		expectError bool
	}{
		{name: "ext4 success", fsType: "ext4", exitCode: 0},
		{name: "ext3 success", fsType: "ext3", exitCode: 0},
		{name: "xfs success", fsType: "xfs", exitCode: 0},
		{name: "mkfs failure", fsType: "ext4", exitCode: 1, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := &inspector{
				execCommand:   mockExecCommand("", "", tt.exitCode),
				settleBackoff: testBackoff(),
			}

			err := i.Format("/dev/sdb", tt.fsType)
			if tt.expectError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestResolveMissingDevice(t *testing.T) {
	i := NewInspector()

	_, err := i.Resolve("/nonexistent-device-for-testing")
	if err == nil {
		t.Error("Expected error for missing device")
	}
}

func TestResolveNotABlockDevice(t *testing.T) {
	// A regular file resolves but must be rejected by the block-device check
	f, err := os.CreateTemp(t.TempDir(), "notablockdev")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	_ = f.Close()

	i := NewInspector()
	_, err = i.Resolve(f.Name())
	if err == nil {
		t.Error("Expected error for non-block-device path")
	}
	if err != nil && !strings.Contains(err.Error(), "not a block device") {
		t.Errorf("Expected 'not a block device' error, got: %v", err)
	}
}

func TestNewInspector(t *testing.T) {
	i := NewInspector()
	if i == nil {
		t.Fatal("NewInspector returned nil")
	}

	// Verify it implements the interface
	var _ = Inspector(i)
}
