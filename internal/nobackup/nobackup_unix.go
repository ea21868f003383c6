//go:build linux || darwin

// Package nobackup marks files and directories excluded from OS backup
// where the platform supports it. On Linux and Darwin this sets the
// conventional "user.nobackup" extended attribute; other platforms use
// the documented no-op in nobackup_other.go.
package nobackup

import "golang.org/x/sys/unix"

// Mark sets the no-backup extended attribute on path. Failure is expected
// and ignored on filesystems that don't support extended attributes
// (FAT-formatted removable storage, some tmpfs mounts); callers should
// treat this as a best-effort attempt, not a guarantee.
func Mark(path string) {
	_ = unix.Setxattr(path, "user.nobackup", []byte{1}, 0)
}
