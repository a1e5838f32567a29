package osfs

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/polydawn/treecommit/fs"
)

// SetTimesLNano sets times without following a symlink at path.
// Needs kernel 2.6.22 or newer for utimensat.
func (afs *osFS) SetTimesLNano(path fs.RelPath, mtime time.Time, atime time.Time) error {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return err
	}
	utimes := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return fs.NormalizeIOError(unix.UtimesNanoAt(unix.AT_FDCWD, rpath, utimes, unix.AT_SYMLINK_NOFOLLOW))
}
