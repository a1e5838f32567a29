package fsOp

import (
	"bytes"
	"io"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
	. "github.com/polydawn/treecommit/testutil"
)

func TestMkdirAll(t *testing.T) {
	Convey("MkdirAll:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := osfs.New(tmpDir)
			Convey("MkdirAll on an existing path should work...", func() {
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("dir"), Type: fs.Type_Dir, Perms: 0755}, nil)

				So(MkdirAll(afs, fs.MustRelPath("dir"), 0755), ShouldBeNil)
			})
			Convey("MkdirAll creating several nodes should work...", func() {
				So(MkdirAll(afs, fs.MustRelPath("usr/lib/tmpfiles.d"), 0755), ShouldBeNil)
				stat, err := afs.LStat(fs.MustRelPath("usr/lib/tmpfiles.d"))
				So(err, ShouldBeNil)
				So(stat.Type, ShouldEqual, fs.Type_Dir)
			})
			Convey("MkdirAll traversing existing file should error...", func() {
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("womp"), Type: fs.Type_File, Perms: 0644}, nil)

				So(MkdirAll(afs, fs.MustRelPath("womp/2/3"), 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotDir)
			})
			Convey("MkdirAll traversing symlinks should work...", func() {
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("dir"), Type: fs.Type_Dir, Perms: 0755}, nil)
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("lnk"), Type: fs.Type_Symlink, Linkname: "./dir"}, nil)

				So(MkdirAll(afs, fs.MustRelPath("lnk/woo"), 0755), ShouldBeNil)
				stat, err := afs.LStat(fs.MustRelPath("dir/woo"))
				So(err, ShouldBeNil)
				So(stat.Type, ShouldEqual, fs.Type_Dir)
			})
			Convey("MkdirAll with a dangling symlink should error...", func() {
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("lnk"), Type: fs.Type_Symlink, Linkname: "./dir"}, nil)

				So(MkdirAll(afs, fs.MustRelPath("lnk"), 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotDir)
			})
			Convey("MkdirAll when the entire filesystem DNE should error...", func() {
				afs := osfs.New(tmpDir.Join(fs.MustRelPath("nope")))

				So(MkdirAll(afs, fs.MustRelPath("dir"), 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
			})
		})
	})
}

func TestMoveInto(t *testing.T) {
	Convey("MoveInto:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := osfs.New(tmpDir)
			PlaceFixture(tmpDir, []Fixture{
				{Path: "src/etc/nsswitch.conf", Body: "hosts: files"},
				{Path: "dst/"},
			})
			Convey("moving into a missing parent creates it", func() {
				So(MoveInto(afs, fs.MustRelPath("src/etc"), fs.MustRelPath("dst/usr/etc"), true), ShouldBeNil)
				So(ReadFile(tmpDir, "dst/usr/etc/nsswitch.conf"), ShouldEqual, "hosts: files")
				_, err := afs.LStat(fs.MustRelPath("src/etc"))
				So(err, errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
			})
			Convey("a missing source is reported as such", func() {
				So(MoveInto(afs, fs.MustRelPath("src/nope"), fs.MustRelPath("dst/nope"), false), errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
			})
			Convey("noReplace refuses an existing destination", func() {
				PlaceFixture(tmpDir, []Fixture{{Path: "dst/usr/etc/"}})
				So(MoveInto(afs, fs.MustRelPath("src/etc"), fs.MustRelPath("dst/usr/etc"), true), errcat.ErrorShouldHaveCategory, fs.ErrAlreadyExists)
				So(ReadFile(tmpDir, "src/etc/nsswitch.conf"), ShouldEqual, "hosts: files")
			})
		})
	})
}

func mustPlaceFile(afs fs.FS, fmeta fs.Metadata, body io.Reader) {
	if fmeta.Type == fs.Type_File && body == nil {
		body = &bytes.Buffer{}
	}
	if err := PlaceFile(afs, fmeta, body, true); err != nil {
		panic(err)
	}
}
