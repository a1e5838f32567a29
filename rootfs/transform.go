/*
	Package rootfs restructures a package manager's install root into the
	layout that gets committed: /usr holds the OS, /etc defaults live in
	/usr/etc, /var is empty, and toplevel paths that used to hold state
	become links into /var.
*/
package rootfs

import (
	"context"
	_ "embed"
	"os"

	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/boot"
	"github.com/polydawn/treecommit/config"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
	"github.com/polydawn/treecommit/fsOp"
)

//go:embed tmpfiles-treecommit-integration.conf
var tmpfilesConf string

const tmpfilesConfName = "tmpfiles-treecommit-integration.conf"

// Mount points that must exist, empty, at the top of the tree.
var toplevelDirs = []string{"dev", "proc", "run", "sys", "var", "sysroot"}

// Compatibility links: name at toplevel, and what it points to.
var toplevelLinks = []struct{ name, target string }{
	{"opt", "var/opt"},
	{"srv", "var/srv"},
	{"mnt", "var/mnt"},
	{"root", "var/roothome"},
	{"home", "var/home"},
	{"media", "run/media"},
	{"ostree", "sysroot/ostree"},
	{"tmp", "sysroot/tmp"},
}

// Toplevel names carried over only when they're merged-usr symlinks.
var compatLinkNames = []string{"lib", "lib64", "lib32", "bin", "sbin"}

const (
	StepBootArtifacts = "boot-artifacts"
	StepInitSkeleton  = "init-skeleton"
	StepMoveUsr       = "move-usr"
	StepUsrLocal      = "usr-local"
	StepRelocateEtc   = "relocate-etc"
	StepRelocateRpmdb = "relocate-rpmdb"
	StepMoveBoot      = "move-boot"
	StepCompatLinks   = "compat-links"
	StepTmpfiles      = "tmpfiles"
)

type Transformer struct {
	Boot *boot.Deduplicator
	Log  logrus.FieldLogger
}

// Everything is addressed from "/", since install and target roots are
// siblings and renames between them have to stay on one filesystem.
var rootFs = osfs.New(fs.MustAbsolutePath("/"))

/*
	Move the contents of installRoot into a fresh tree at targetRoot.

	installRoot is consumed: usr, etc, the rpm database, boot, and any
	merged-usr links are renamed out of it.  Every step fails fast and
	nothing is rolled back; the caller is expected to be building into a
	scratch path (see placer.Publish).

	A real directory where a merged-usr link was expected (e.g. /lib) is
	left behind, not carried and not an error.

	May return errors of category:

	  - `treecommit.ErrTransformStepFailed` -- for any filesystem failure; details carry "step" and "path"
	  - `treecommit.ErrCancelled`
	  - whatever boot.Deduplicator.Prepare returns, for the boot step
*/
func (t *Transformer) Transform(ctx context.Context, installRoot, targetRoot fs.AbsolutePath) error {
	log := t.log()
	in := func(p string) fs.RelPath { return installRoot.Join(fs.MustRelPath(p)).CoerceRelative() }
	out := func(p string) fs.RelPath { return targetRoot.Join(fs.MustRelPath(p)).CoerceRelative() }

	steps := []struct {
		name string
		path fs.AbsolutePath
		fn   func() error
	}{
		{StepBootArtifacts, installRoot.Join(fs.MustRelPath("boot")), func() error {
			dedup := t.Boot
			if dedup == nil {
				dedup = &boot.Deduplicator{Log: log}
			}
			_, err := dedup.Prepare(ctx, installRoot)
			return err
		}},
		{StepInitSkeleton, targetRoot, func() error {
			return initSkeleton(targetRoot)
		}},
		{StepMoveUsr, installRoot.Join(fs.MustRelPath("usr")), func() error {
			return fsOp.MoveInto(rootFs, in("usr"), out("usr"), true)
		}},
		{StepUsrLocal, targetRoot.Join(fs.MustRelPath("usr/local")), func() error {
			if err := rootFs.RemoveAll(out("usr/local")); err != nil {
				return err
			}
			return rootFs.Mklink(out("usr/local"), "../var/usrlocal")
		}},
		{StepRelocateEtc, installRoot.Join(fs.MustRelPath("etc")), func() error {
			return fsOp.MoveInto(rootFs, in("etc"), out("usr/etc"), true)
		}},
		{StepRelocateRpmdb, installRoot.Join(fs.MustRelPath("var/lib/rpm")), func() error {
			return fsOp.MoveInto(rootFs, in("var/lib/rpm"), out("usr/share/rpm"), true)
		}},
		{StepMoveBoot, installRoot.Join(fs.MustRelPath("boot")), func() error {
			return fsOp.MoveInto(rootFs, in("boot"), out("boot"), true)
		}},
		{StepCompatLinks, installRoot, func() error {
			return t.moveCompatLinks(in, out)
		}},
		{StepTmpfiles, targetRoot.Join(fs.MustRelPath("usr/lib/tmpfiles.d")), func() error {
			return installTmpfilesConf(out("usr/lib/tmpfiles.d"))
		}},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return ErrorDetailed(treecommit.ErrCancelled, "transform cancelled before "+step.name,
				map[string]string{"step": step.name, "path": step.path.String()})
		}
		log.WithField("step", step.name).Info(describeStep(step.name, installRoot, targetRoot))
		if err := step.fn(); err != nil {
			return stepError(step.name, step.path, err)
		}
	}
	return nil
}

func (t *Transformer) log() logrus.FieldLogger {
	if t.Log == nil {
		return config.NullLogger()
	}
	return t.Log
}

func describeStep(step string, installRoot, targetRoot fs.AbsolutePath) string {
	switch step {
	case StepBootArtifacts:
		return "Preparing kernel and initramfs in " + installRoot.String()
	case StepInitSkeleton:
		return "Initializing rootfs at " + targetRoot.String()
	case StepMoveUsr:
		return "Moving /usr to target"
	case StepUsrLocal:
		return "Replacing /usr/local with a link into /var"
	case StepRelocateEtc:
		return "Moving /etc to /usr/etc"
	case StepRelocateRpmdb:
		return "Placing RPM db in /usr/share/rpm"
	case StepMoveBoot:
		return "Moving /boot to target"
	case StepCompatLinks:
		return "Carrying over merged-usr links"
	case StepTmpfiles:
		return "Installing " + tmpfilesConfName
	}
	return step
}

// Filesystem errors get wrapped with the step and path; errors that
// already carry a pipeline category (bad boot artifacts, cancellation,
// a failed dracut) pass through untouched.
func stepError(step string, path fs.AbsolutePath, err error) error {
	if _, isFs := Category(err).(fs.ErrorCategory); !isFs {
		if _, categorized := err.(Error); categorized {
			return err
		}
	}
	return ErrorDetailed(treecommit.ErrTransformStepFailed,
		"transform step "+step+" failed at "+path.String()+": "+err.Error(),
		map[string]string{"step": step, "path": path.String(), "cause": err.Error()})
}

func initSkeleton(targetRoot fs.AbsolutePath) error {
	root := targetRoot.CoerceRelative()
	if err := fsOp.MkdirAll(rootFs, root.Dir(), 0755); err != nil {
		return err
	}
	if err := rootFs.Mkdir(root, 0755); err != nil {
		return err
	}
	for _, name := range toplevelDirs {
		if err := rootFs.Mkdir(root.Join(fs.MustRelPath(name)), 0755); err != nil {
			return err
		}
	}
	for _, link := range toplevelLinks {
		if err := rootFs.Mklink(root.Join(fs.MustRelPath(link.name)), link.target); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transformer) moveCompatLinks(in, out func(string) fs.RelPath) error {
	for _, name := range compatLinkNames {
		stat, err := rootFs.LStat(in(name))
		switch {
		case Category(err) == fs.ErrNotExists:
			continue
		case err != nil:
			return err
		case stat.Type != fs.Type_Symlink:
			t.log().WithField("path", "/"+name).Info("not a symlink; leaving it behind (non-merged-usr layouts are unsupported)")
			continue
		}
		if err := rootFs.RenameNoReplace(in(name), out(name)); err != nil {
			return err
		}
	}
	return nil
}

func installTmpfilesConf(dir fs.RelPath) error {
	if err := fsOp.MkdirAll(rootFs, dir, 0755); err != nil {
		return err
	}
	path := dir.Join(fs.MustRelPath(tmpfilesConfName))
	f, err := rootFs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(tmpfilesConf)); err != nil {
		f.Close()
		return fs.NormalizeIOError(err)
	}
	if err := f.Close(); err != nil {
		return fs.NormalizeIOError(err)
	}
	return rootFs.Chmod(path, 0644)
}
