/*
	Package boot finds the kernel and initramfs in an install root,
	regenerates the initramfs reproducibly, and names both by content.
*/
package boot

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/polydawn/treecommit/config"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
)

type Deduplicator struct {
	Runner Runner             // nil means a ChrootRunner that discards output
	Log    logrus.FieldLogger // nil means silent
}

func (d *Deduplicator) runner() Runner {
	if d.Runner == nil {
		return ChrootRunner{}
	}
	return d.Runner
}

func (d *Deduplicator) log() logrus.FieldLogger {
	if d.Log == nil {
		return config.NullLogger()
	}
	return d.Log
}

/*
	Run all three stages against installRoot/boot: Locate, Regenerate, and
	Finalize.  The hash suffix is only computed once the initramfs has been
	rebuilt for the final kernel, so it fingerprints the shipped bytes.

	Artifacts that already carry a content suffix are left untouched and
	reported as they are; nothing is removed or rerun.
*/
func (d *Deduplicator) Prepare(ctx context.Context, installRoot fs.AbsolutePath) (Pair, error) {
	bootDir := installRoot.Join(fs.MustRelPath("boot"))
	a, err := Locate(bootDir)
	if err != nil {
		return Pair{}, err
	}
	sum, err := a.ContentChecksum()
	if err != nil {
		return Pair{}, err
	}
	if sum != "" {
		d.log().WithField("checksum", sum).Info("boot artifacts already named by content, leaving them be")
		return Pair{Kernel: a.KernelPath(), Initramfs: a.InitramfsPath(), Checksum: sum}, nil
	}
	d.checkKernelRelease(a)
	initramfs, err := d.Regenerate(ctx, installRoot, a)
	if err != nil {
		return Pair{}, err
	}
	pair, err := Finalize(a.KernelPath(), initramfs)
	if err != nil {
		return Pair{}, err
	}
	d.log().WithFields(logrus.Fields{
		"kernel":    pair.Kernel.Last(),
		"initramfs": pair.Initramfs.Last(),
	}).Info("boot artifacts named by content")
	return pair, nil
}

// Warn if the kernel image disagrees with its file name about its version.
// Only a diagnostic: dracut will go by the name.
func (d *Deduplicator) checkKernelRelease(a Artifacts) {
	f, err := osfs.New(a.BootDir).OpenFile(fs.MustRelPath(a.Kernel), os.O_RDONLY, 0)
	if err != nil {
		return
	}
	defer f.Close()
	release, err := KernelRelease(f)
	if err != nil {
		d.log().WithField("kernel", a.Kernel).Debugf("cannot read kernel release: %s", err)
		return
	}
	if release != a.Kver() {
		d.log().WithFields(logrus.Fields{
			"kernel":  a.Kernel,
			"release": release,
		}).Warn("kernel image release does not match its file name")
	}
}
