package boot

import (
	"encoding/hex"
	"sort"
	"strings"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
)

const (
	KernelPrefix    = "vmlinuz-"
	InitramfsPrefix = "initramfs-"
)

// Artifacts are the boot files as found in a boot dir, before any renaming.
type Artifacts struct {
	BootDir   fs.AbsolutePath
	Kernel    string // file name within BootDir
	Initramfs string // file name within BootDir; empty if there is none
}

func (a Artifacts) KernelPath() fs.AbsolutePath {
	return a.BootDir.Join(fs.MustRelPath(a.Kernel))
}

func (a Artifacts) InitramfsPath() fs.AbsolutePath {
	if a.Initramfs == "" {
		return fs.AbsolutePath{}
	}
	return a.BootDir.Join(fs.MustRelPath(a.Initramfs))
}

// Kver is the kernel version, taken from the kernel file name after the first dash.
func (a Artifacts) Kver() string {
	return a.Kernel[strings.IndexByte(a.Kernel, '-')+1:]
}

/*
	Find the kernel and initramfs in bootDir.  Read-only.

	May return errors of category:

	  - `treecommit.ErrAmbiguousArtifact` -- if more than one file matches either prefix
	  - `treecommit.ErrMissingKernel` -- if no file is a kernel
	  - `fs.Err*` -- if bootDir can't be listed
*/
func Locate(bootDir fs.AbsolutePath) (Artifacts, error) {
	names, err := osfs.New(bootDir).ReadDirNames(fs.RelPath{})
	if err != nil {
		return Artifacts{}, err
	}
	sort.Strings(names)
	a := Artifacts{BootDir: bootDir}
	for _, name := range names {
		switch {
		case strings.HasPrefix(name, KernelPrefix):
			if a.Kernel != "" {
				return Artifacts{}, ErrorDetailed(treecommit.ErrAmbiguousArtifact,
					"multiple "+KernelPrefix+" in "+bootDir.String(),
					map[string]string{"path": bootDir.String(), "first": a.Kernel, "second": name})
			}
			a.Kernel = name
		case strings.HasPrefix(name, InitramfsPrefix):
			if a.Initramfs != "" {
				return Artifacts{}, ErrorDetailed(treecommit.ErrAmbiguousArtifact,
					"multiple "+InitramfsPrefix+" in "+bootDir.String(),
					map[string]string{"path": bootDir.String(), "first": a.Initramfs, "second": name})
			}
			a.Initramfs = name
		}
	}
	if a.Kernel == "" {
		return Artifacts{}, ErrorDetailed(treecommit.ErrMissingKernel,
			"unable to find "+KernelPrefix+" in "+bootDir.String(),
			map[string]string{"path": bootDir.String()})
	}
	return a, nil
}

/*
	The checksum the artifacts already carry, if Finalize has named them.
	Empty when neither name has a content suffix.

	A suffixed kernel beside an initramfs without the same suffix (or the
	reverse) is `treecommit.ErrAmbiguousArtifact`.
*/
func (a Artifacts) ContentChecksum() (string, error) {
	kernelSum := contentSuffix(a.Kernel)
	initramfsSum := contentSuffix(a.Initramfs)
	switch {
	case kernelSum == "" && initramfsSum == "":
		return "", nil
	case kernelSum != "" && (a.Initramfs == "" || initramfsSum == kernelSum):
		return kernelSum, nil
	}
	return "", ErrorDetailed(treecommit.ErrAmbiguousArtifact,
		"boot artifacts in "+a.BootDir.String()+" are only partly named by content",
		map[string]string{"path": a.BootDir.String(), "kernel": a.Kernel, "initramfs": a.Initramfs})
}

// contentSuffix returns the trailing "-<hex sha256>" of name, without the dash.
func contentSuffix(name string) string {
	i := strings.LastIndexByte(name, '-')
	if i < 0 || len(name)-i-1 != hex.EncodedLen(sha256Size) {
		return ""
	}
	sum := name[i+1:]
	if _, err := hex.DecodeString(sum); err != nil {
		return ""
	}
	return sum
}
