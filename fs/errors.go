package fs

import (
	"os"
	"syscall"

	. "github.com/warpfork/go-errcat"
)

type ErrorCategory string

const (
	ErrNotExists     = ErrorCategory("fs-not-exists")
	ErrAlreadyExists = ErrorCategory("fs-already-exists")
	ErrNotDir        = ErrorCategory("fs-not-dir")
	ErrRecursion     = ErrorCategory("fs-recursion")   // Symlink cycle.
	ErrBreakout      = ErrorCategory("fs-breakout")    // A path or link would leave the filesystem's base path.
	ErrCrossDevice   = ErrorCategory("fs-cross-device") // Rename across mounts; we never fall back to copying.
	ErrPermission    = ErrorCategory("fs-permission")
	ErrMisc          = ErrorCategory("fs-misc")
)

/*
	Attach a category to an error from the os or syscall packages.

	Already-categorized errors and nil pass through unchanged.
*/
func NormalizeIOError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(Error); ok {
		return err
	}
	var errno syscall.Errno
	switch e2 := err.(type) {
	case *os.PathError:
		errno, _ = e2.Err.(syscall.Errno)
	case *os.LinkError:
		errno, _ = e2.Err.(syscall.Errno)
	case *os.SyscallError:
		errno, _ = e2.Err.(syscall.Errno)
	case syscall.Errno:
		errno = e2
	}
	switch errno {
	case syscall.ENOENT:
		return Errorf(ErrNotExists, "%s", err)
	case syscall.EEXIST, syscall.ENOTEMPTY:
		return Errorf(ErrAlreadyExists, "%s", err)
	case syscall.ENOTDIR:
		return Errorf(ErrNotDir, "%s", err)
	case syscall.ELOOP:
		return Errorf(ErrRecursion, "%s", err)
	case syscall.EXDEV:
		return Errorf(ErrCrossDevice, "%s", err)
	case syscall.EPERM, syscall.EACCES:
		return Errorf(ErrPermission, "%s", err)
	default:
		return Errorf(ErrMisc, "%s", err)
	}
}
