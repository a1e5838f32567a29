package boot

import (
	"context"
	"os"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
	"github.com/polydawn/treecommit/fsOp"
)

// Written into etc/machine-id before regenerating, so that identical
// package sets produce byte-identical initramfs images.
const MachineID = "45bb3b96146aa94f299b9eb43646eb35\n"

var (
	pathMachineID    = fs.MustRelPath("etc/machine-id")
	pathBootLoader   = fs.MustRelPath("boot/loader")
	pathDracutOutput = fs.MustRelPath("tmp/initramfs.img")
)

/*
	Rebuild the initramfs for the kernel in `a`, inside installRoot.

	The package-supplied initramfs and the boot loader staging dir are
	removed first: boot loader configuration belongs to the store, not the
	package manager.  Then depmod and dracut run chrooted into installRoot.
	The result is placed at `boot/initramfs-KVER.img`, and its path returned.

	May return errors of category:

	  - `treecommit.ErrRegenerationFailed` -- if either tool fails or dracut's output is absent
	  - `treecommit.ErrCancelled`
	  - `fs.Err*` -- for failures preparing the install root
*/
func (d *Deduplicator) Regenerate(ctx context.Context, installRoot fs.AbsolutePath, a Artifacts) (fs.AbsolutePath, error) {
	afs := osfs.New(installRoot)
	kver := a.Kver()
	bootRel := fs.MustRelPath("boot")

	if a.Initramfs != "" {
		if err := afs.Remove(bootRel.Join(fs.MustRelPath(a.Initramfs))); err != nil {
			return fs.AbsolutePath{}, err
		}
	}
	if err := afs.RemoveAll(pathBootLoader); err != nil {
		return fs.AbsolutePath{}, err
	}

	if err := fsOp.MkdirAll(afs, pathMachineID.Dir(), 0755); err != nil {
		return fs.AbsolutePath{}, err
	}
	if err := writeFile(afs, pathMachineID, MachineID, 0444); err != nil {
		return fs.AbsolutePath{}, err
	}
	if err := fsOp.MkdirAll(afs, pathDracutOutput.Dir(), 01777); err != nil {
		return fs.AbsolutePath{}, err
	}

	d.log().WithField("kver", kver).Info("running depmod")
	if err := d.runner().Run(ctx, installRoot, "depmod", kver); err != nil {
		return fs.AbsolutePath{}, err
	}
	d.log().WithField("kver", kver).Info("running dracut")
	if err := d.runner().Run(ctx, installRoot,
		"dracut", "-v", "--tmpdir=/tmp", "-f", "/"+pathDracutOutput.Bare(), kver,
	); err != nil {
		return fs.AbsolutePath{}, err
	}

	stat, err := afs.LStat(pathDracutOutput)
	switch {
	case Category(err) == fs.ErrNotExists:
		return fs.AbsolutePath{}, ErrorDetailed(treecommit.ErrRegenerationFailed,
			"dracut did not produce "+pathDracutOutput.String(),
			map[string]string{"root": installRoot.String(), "kver": kver})
	case err != nil:
		return fs.AbsolutePath{}, err
	case stat.Type != fs.Type_File:
		return fs.AbsolutePath{}, Errorf(treecommit.ErrRegenerationFailed, "dracut output %s is a %s, not a file", pathDracutOutput, stat.Type)
	}

	dest := bootRel.Join(fs.MustRelPath(InitramfsPrefix + kver + ".img"))
	if err := afs.Rename(pathDracutOutput, dest); err != nil {
		return fs.AbsolutePath{}, err
	}
	return installRoot.Join(dest), nil
}

// writeFile replaces path; a read-only file already there is not an obstacle.
func writeFile(afs fs.FS, path fs.RelPath, content string, perms fs.Perms) error {
	if err := afs.Remove(path); err != nil && Category(err) != fs.ErrNotExists {
		return err
	}
	f, err := afs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perms)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		return fs.NormalizeIOError(err)
	}
	if err := f.Close(); err != nil {
		return fs.NormalizeIOError(err)
	}
	return afs.Chmod(path, perms)
}
