/*
	Helpers for checking whether we hold the capabilities that a pipeline step needs.
*/
package caps

import (
	"os"
	"runtime"

	"github.com/syndtr/gocapability/capability"
)

func Scan() *Fulcrum {
	f := &Fulcrum{}
	f.onLinux = runtime.GOOS == "linux"
	f.ourUID = os.Getuid()
	if f.onLinux {
		var err error
		f.ourCaps, err = capability.NewPid2(0) // zero means self
		if err == nil {
			err = f.ourCaps.Load()
		}
		if err != nil {
			f.ourCaps = nil
		}
	}
	return f
}

type Fulcrum struct {
	onLinux bool
	ourUID  int
	ourCaps capability.Capabilities // nil if not on linux or unreadable; then we fall back to asking "are we root".
}

func (f Fulcrum) has(which capability.Cap) bool {
	if f.ourCaps == nil {
		return f.ourUID == 0
	}
	return f.ourCaps.Get(capability.EFFECTIVE, which)
}

// Whether we may chroot into an install root to run depmod and dracut.
// This requires CAP_SYS_CHROOT.
func (f Fulcrum) CanChroot() bool {
	return f.has(capability.CAP_SYS_CHROOT)
}

// Whether checked-out and relocated files can keep their recorded ownership.
// This requires CAP_CHOWN, and also CAP_FOWNER for setting mtimes on files
// after chowning them.
func (f Fulcrum) CanManageOwnership() bool {
	return f.has(capability.CAP_CHOWN) && f.has(capability.CAP_FOWNER)
}
