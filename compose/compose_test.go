package compose

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/config"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/store"
	"github.com/polydawn/treecommit/store/fsrepo"
	"github.com/polydawn/treecommit/testutil"
)

const ref = "fedora/31/x86_64/silverblue"

var installFixture = []testutil.Fixture{
	{Path: "usr/bin/bash", Body: "#!bash"},
	{Path: "usr/lib/modules/5.3.7/", Body: ""},
	{Path: "etc/os-release", Body: "NAME=Fedora\n"},
	{Path: "var/lib/rpm/Packages", Body: "rpmdb"},
	{Path: "boot/vmlinuz-5.3.7", Body: "kernel"},
	{Path: "lib", Linkname: "usr/lib"},
	{Path: "bin", Linkname: "usr/bin"},
}

func exists(p fs.AbsolutePath, rel string) bool {
	_, err := os.Lstat(filepath.Join(p.String(), rel))
	return err == nil
}

func TestCompose(t *testing.T) {
	Convey("Composing an install root:", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			repoPath := tmpDir.Join(fs.MustRelPath("repo"))
			install := tmpDir.Join(fs.MustRelPath("install"))
			_, err := fsrepo.Init(repoPath, fsrepo.ModeBare)
			So(err, ShouldBeNil)
			testutil.PlaceFixture(install, installFixture)

			logger, hook := logtest.NewNullLogger()
			runner := &testutil.FakeDracut{}
			c := &Composer{
				Config: config.Config{
					StorePath:     repoPath.String(),
					CommitMessage: "nightly",
					Metadata:      map[string]string{store.MetaVersion: "31.20261016.0"},
					Log:           logger,
				},
				Runner: runner,
			}
			ctx := context.Background()

			Convey("the tree is committed and the install root removed", func() {
				result, err := c.Run(ctx, install, ref)
				So(err, ShouldBeNil)
				So(result.Ref, ShouldEqual, ref)
				So(store.IsChecksum(result.Checksum.String()), ShouldBeTrue)
				So(result.Preserved, ShouldBeFalse)
				So(exists(install, ""), ShouldBeFalse)
				So(exists(install.Sibling(".tmp"), ""), ShouldBeFalse)
				So(runner.Calls, ShouldHaveLength, 2)
				So(hook.AllEntries(), ShouldNotBeEmpty)

				repo, err := fsrepo.Open(repoPath)
				So(err, ShouldBeNil)
				head, err := repo.ResolveRev(ref, false)
				So(err, ShouldBeNil)
				So(head, ShouldEqual, result.Checksum)
				commit, err := repo.LoadCommit(head)
				So(err, ShouldBeNil)
				So(commit.Parent, ShouldEqual, "")
				So(commit.Body, ShouldEqual, "nightly")
				So(commit.Metadata[store.MetaVersion], ShouldEqual, "31.20261016.0")

				Convey("the committed tree is the transformed one", func() {
					out := tmpDir.Join(fs.MustRelPath("checkout"))
					So(repo.Checkout(head, out, true), ShouldBeNil)
					So(testutil.ReadFile(out, "usr/bin/bash"), ShouldEqual, "#!bash")
					So(testutil.ReadFile(out, "usr/etc/os-release"), ShouldEqual, "NAME=Fedora\n")
					So(testutil.ReadFile(out, "usr/share/rpm/Packages"), ShouldEqual, "rpmdb")
					So(exists(out, "etc"), ShouldBeFalse)
					So(exists(out, "usr/lib/tmpfiles.d/tmpfiles-treecommit-integration.conf"), ShouldBeTrue)
				})
				Convey("a second compose stacks on the first", func() {
					testutil.PlaceFixture(install, installFixture)
					second, err := c.Run(ctx, install, ref)
					So(err, ShouldBeNil)
					So(second.Checksum, ShouldNotEqual, result.Checksum)
					commit, err := repo.LoadCommit(second.Checksum)
					So(err, ShouldBeNil)
					So(commit.Parent, ShouldEqual, result.Checksum)
				})
			})
			Convey("preserving leaves the committed tree in place", func() {
				c.Config.PreserveSupersededRoot = true
				result, err := c.Run(ctx, install, ref)
				So(err, ShouldBeNil)
				So(result.Preserved, ShouldBeTrue)
				So(testutil.ReadFile(install, "usr/etc/os-release"), ShouldEqual, "NAME=Fedora\n")
				So(exists(install, "etc"), ShouldBeFalse)
				So(exists(install.Sibling(".tmp"), ""), ShouldBeFalse)
			})
			Convey("a missing repo fails before anything moves", func() {
				c.Config.StorePath = tmpDir.Join(fs.MustRelPath("nope")).String()
				_, err := c.Run(ctx, install, ref)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrUsage)
				So(testutil.ReadFile(install, "usr/bin/bash"), ShouldEqual, "#!bash")
				So(runner.Calls, ShouldHaveLength, 0)
			})
			Convey("a failed transform leaves the install root and the ref alone", func() {
				So(os.Remove(filepath.Join(install.String(), "boot/vmlinuz-5.3.7")), ShouldBeNil)
				_, err := c.Run(ctx, install, ref)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrMissingKernel)
				So(testutil.ReadFile(install, "usr/bin/bash"), ShouldEqual, "#!bash")
				repo, err := fsrepo.Open(repoPath)
				So(err, ShouldBeNil)
				head, err := repo.ResolveRev(ref, true)
				So(err, ShouldBeNil)
				So(head, ShouldEqual, "")
			})
			Convey("a failed commit leaves the transformed tree for inspection", func() {
				_, err := c.Run(ctx, install, "bad..ref/")
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrStoreTransaction)
				So(exists(install, "usr/etc/os-release"), ShouldBeTrue)
			})
			Convey("cancellation stops the run", func() {
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				_, err := c.Run(cctx, install, ref)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrCancelled)
				So(testutil.ReadFile(install, "usr/bin/bash"), ShouldEqual, "#!bash")
			})
			Convey("a store override is used as given", func() {
				var opened config.Config
				c.OpenStore = func(cfg config.Config) (store.ContentStore, error) {
					opened = cfg
					return OpenRepo(cfg)
				}
				_, err := c.Run(ctx, install, ref)
				So(err, ShouldBeNil)
				So(opened.StorePath, ShouldEqual, repoPath.String())
			})
		})
	})
}
