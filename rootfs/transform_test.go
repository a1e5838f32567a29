package rootfs

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/boot"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/testutil"
)

var installFixture = []testutil.Fixture{
	{Path: "usr/bin/bash", Body: "#!bash"},
	{Path: "usr/local/bin/", Body: ""},
	{Path: "usr/lib/modules/5.0.0/", Body: ""},
	{Path: "etc/passwd", Body: "root:x:0:0::/root:/bin/bash\n"},
	{Path: "var/lib/rpm/Packages", Body: "rpmdb"},
	{Path: "boot/vmlinuz-5.0.0", Body: "kernel"},
	{Path: "boot/initramfs-5.0.0.img", Body: "stale initramfs"},
	{Path: "boot/loader/entries/", Body: ""},
	{Path: "lib", Linkname: "usr/lib"},
	{Path: "bin", Linkname: "usr/bin"},
	{Path: "sbin/", Body: ""},
}

func readlink(p fs.AbsolutePath, rel string) string {
	target, err := os.Readlink(filepath.Join(p.String(), rel))
	So(err, ShouldBeNil)
	return target
}

func listNames(p fs.AbsolutePath, rel string) []string {
	infos, err := ioutil.ReadDir(filepath.Join(p.String(), rel))
	So(err, ShouldBeNil)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names
}

func TestTransform(t *testing.T) {
	Convey("Transform:", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			install := tmpDir.Join(fs.MustRelPath("install"))
			target := tmpDir.Join(fs.MustRelPath("rootfs.tmp"))
			testutil.PlaceFixture(install, installFixture)
			runner := &testutil.FakeDracut{}
			tf := &Transformer{Boot: &boot.Deduplicator{Runner: runner}}

			Convey("a merged-usr install root becomes a committable tree", func() {
				So(tf.Transform(context.Background(), install, target), ShouldBeNil)

				Convey("toplevel mount points exist and are empty", func() {
					for _, name := range toplevelDirs {
						infos, err := ioutil.ReadDir(filepath.Join(target.String(), name))
						So(err, ShouldBeNil)
						So(infos, ShouldHaveLength, 0)
					}
				})
				Convey("compat links point into var, run, and sysroot", func() {
					So(readlink(target, "opt"), ShouldEqual, "var/opt")
					So(readlink(target, "root"), ShouldEqual, "var/roothome")
					So(readlink(target, "home"), ShouldEqual, "var/home")
					So(readlink(target, "media"), ShouldEqual, "run/media")
					So(readlink(target, "ostree"), ShouldEqual, "sysroot/ostree")
					So(readlink(target, "tmp"), ShouldEqual, "sysroot/tmp")
				})
				Convey("usr moves wholesale and usr/local becomes a link", func() {
					So(testutil.ReadFile(target, "usr/bin/bash"), ShouldEqual, "#!bash")
					So(readlink(target, "usr/local"), ShouldEqual, "../var/usrlocal")
					_, err := os.Lstat(filepath.Join(install.String(), "usr"))
					So(os.IsNotExist(err), ShouldBeTrue)
				})
				Convey("etc lands in usr/etc, with the fixed machine-id", func() {
					So(testutil.ReadFile(target, "usr/etc/passwd"), ShouldStartWith, "root:")
					So(testutil.ReadFile(target, "usr/etc/machine-id"), ShouldEqual, boot.MachineID)
					_, err := os.Lstat(filepath.Join(target.String(), "etc"))
					So(os.IsNotExist(err), ShouldBeTrue)
				})
				Convey("the rpm database moves under usr/share", func() {
					So(testutil.ReadFile(target, "usr/share/rpm/Packages"), ShouldEqual, "rpmdb")
				})
				Convey("boot holds the content-named kernel and regenerated initramfs", func() {
					infos, err := ioutil.ReadDir(filepath.Join(target.String(), "boot"))
					So(err, ShouldBeNil)
					So(infos, ShouldHaveLength, 2)
					So(infos[0].Name(), ShouldStartWith, "initramfs-5.0.0.img-")
					So(infos[1].Name(), ShouldStartWith, "vmlinuz-5.0.0-")
					So(strings.TrimPrefix(infos[1].Name(), "vmlinuz-5.0.0-"), ShouldHaveLength, 64)
					So(runner.Calls, ShouldHaveLength, 2)
				})
				Convey("merged-usr symlinks move, real dirs stay behind", func() {
					So(readlink(target, "lib"), ShouldEqual, "usr/lib")
					So(readlink(target, "bin"), ShouldEqual, "usr/bin")
					_, err := os.Lstat(filepath.Join(target.String(), "sbin"))
					So(os.IsNotExist(err), ShouldBeTrue)
					fi, err := os.Lstat(filepath.Join(install.String(), "sbin"))
					So(err, ShouldBeNil)
					So(fi.IsDir(), ShouldBeTrue)
				})
				Convey("the tmpfiles integration config is installed", func() {
					body := testutil.ReadFile(target, "usr/lib/tmpfiles.d/"+tmpfilesConfName)
					So(body, ShouldContainSubstring, "d /var/roothome 0700 root root -")
					So(body, ShouldContainSubstring, "L /var/lib/rpm")
				})

				Convey("running again on the consumed install root applies nothing", func() {
					again := tmpDir.Join(fs.MustRelPath("again"))
					err := tf.Transform(context.Background(), install, again)
					So(err, ShouldNotBeNil)
					_, err = os.Lstat(again.String())
					So(os.IsNotExist(err), ShouldBeTrue)
				})
				Convey("transforming the output again stops at the etc relocation", func() {
					bootBefore := listNames(target, "boot")
					again := tmpDir.Join(fs.MustRelPath("again"))
					err := tf.Transform(context.Background(), target, again)
					So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrTransformStepFailed)
					So(err.(errcat.Error).Details()["step"], ShouldEqual, StepRelocateEtc)
					So(listNames(target, "boot"), ShouldResemble, bootBefore)
					So(bootBefore, ShouldHaveLength, 2)
					So(runner.Calls, ShouldHaveLength, 2)
				})
			})

			Convey("an install root whose usr already carries etc stops at the etc relocation", func() {
				testutil.PlaceFixture(install, []testutil.Fixture{{Path: "usr/etc/os-release", Body: "NAME=prior"}})
				err := tf.Transform(context.Background(), install, target)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrTransformStepFailed)
				So(err.(errcat.Error).Details()["step"], ShouldEqual, StepRelocateEtc)
				So(testutil.ReadFile(target, "usr/etc/os-release"), ShouldEqual, "NAME=prior")
				So(testutil.ReadFile(install, "etc/passwd"), ShouldStartWith, "root:")
			})

			Convey("a missing kernel fails before anything moves", func() {
				So(os.Remove(filepath.Join(install.String(), "boot/vmlinuz-5.0.0")), ShouldBeNil)
				err := tf.Transform(context.Background(), install, target)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrMissingKernel)
				_, err = os.Lstat(target.String())
				So(os.IsNotExist(err), ShouldBeTrue)
				So(testutil.ReadFile(install, "etc/passwd"), ShouldStartWith, "root:")
			})

			Convey("an existing target is refused at the skeleton step", func() {
				So(os.Mkdir(target.String(), 0755), ShouldBeNil)
				err := tf.Transform(context.Background(), install, target)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrTransformStepFailed)
				So(err.(errcat.Error).Details()["step"], ShouldEqual, StepInitSkeleton)
				So(err.(errcat.Error).Details()["path"], ShouldEqual, target.String())
			})

			Convey("a cancelled context stops before the first step", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				err := tf.Transform(ctx, install, target)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrCancelled)
				So(runner.Calls, ShouldHaveLength, 0)
			})
		})
	})
}
