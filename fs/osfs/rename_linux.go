package osfs

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/polydawn/treecommit/fs"
)

// os.Rename refuses any directory destination; rename(2) itself replaces
// an empty one.
func (afs *osFS) Rename(from, to fs.RelPath) error {
	rfrom, rto, err := afs.realpathPair(from, to)
	if err != nil {
		return err
	}
	if err := unix.Rename(rfrom, rto); err != nil {
		return fs.NormalizeIOError(&os.LinkError{Op: "rename", Old: rfrom, New: rto, Err: err})
	}
	return nil
}

func (afs *osFS) RenameNoReplace(from, to fs.RelPath) error {
	rfrom, rto, err := afs.realpathPair(from, to)
	if err != nil {
		return err
	}
	err = unix.Renameat2(unix.AT_FDCWD, rfrom, unix.AT_FDCWD, rto, unix.RENAME_NOREPLACE)
	if err == unix.EINVAL || err == unix.ENOSYS {
		// Filesystem doesn't know the flag.  Check-then-rename is racy, but
		// we assume no concurrent writers in the tree anyway.
		if _, err := os.Lstat(rto); err == nil {
			return fs.NormalizeIOError(&os.LinkError{Op: "rename", Old: rfrom, New: rto, Err: unix.EEXIST})
		}
		return fs.NormalizeIOError(os.Rename(rfrom, rto))
	}
	if err != nil {
		return fs.NormalizeIOError(&os.LinkError{Op: "renameat2", Old: rfrom, New: rto, Err: err})
	}
	return nil
}
