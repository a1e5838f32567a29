// Package tests holds behavioral checks that any fs.FS implementation should pass.
package tests

import (
	"io/ioutil"
	"os"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
)

func CheckMkdirLstatRoundtrip(afs fs.FS) {
	Convey("mkdir and lstat should roundtrip", func() {
		d1 := fs.MustRelPath("d1")
		So(afs.Mkdir(d1, 0755), ShouldBeNil)
		stat, err := afs.LStat(d1)
		So(err, ShouldBeNil)
		So(stat.Type, ShouldEqual, fs.Type_Dir)
		So(stat.Name, ShouldResemble, d1)
	})
}

func CheckDeepMkdirError(afs fs.FS) {
	Convey("deep mkdir should error", func() {
		d1d2 := fs.MustRelPath("d1/d2")
		So(afs.Mkdir(d1d2, 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
		_, err := afs.LStat(d1d2)
		So(err, errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
	})
}

func CheckMklinkLstatRoundtrip(afs fs.FS) {
	Convey("mklink and lstat should roundtrip", func() {
		l1 := fs.MustRelPath("l1")
		So(afs.Mklink(l1, "./target"), ShouldBeNil)
		stat, err := afs.LStat(l1)
		So(err, ShouldBeNil)
		So(stat.Type, ShouldEqual, fs.Type_Symlink)
		So(stat.Linkname, ShouldEqual, "./target")
	})
}

func CheckRenames(afs fs.FS) {
	Convey("renames", func() {
		So(afs.Mkdir(fs.MustRelPath("a"), 0755), ShouldBeNil)
		So(makeFile(afs, fs.MustRelPath("a/f"), "body"), ShouldBeNil)
		Convey("plain rename moves a tree", func() {
			So(afs.Rename(fs.MustRelPath("a"), fs.MustRelPath("b")), ShouldBeNil)
			So(readFile(afs, fs.MustRelPath("b/f")), ShouldEqual, "body")
		})
		Convey("no-replace rename onto a fresh name works", func() {
			So(afs.RenameNoReplace(fs.MustRelPath("a"), fs.MustRelPath("b")), ShouldBeNil)
			So(readFile(afs, fs.MustRelPath("b/f")), ShouldEqual, "body")
		})
		Convey("no-replace rename onto an existing empty dir fails", func() {
			So(afs.Mkdir(fs.MustRelPath("b"), 0755), ShouldBeNil)
			So(afs.RenameNoReplace(fs.MustRelPath("a"), fs.MustRelPath("b")), errcat.ErrorShouldHaveCategory, fs.ErrAlreadyExists)
			So(readFile(afs, fs.MustRelPath("a/f")), ShouldEqual, "body")
		})
		Convey("plain rename onto an existing empty dir replaces it", func() {
			So(afs.Mkdir(fs.MustRelPath("b"), 0755), ShouldBeNil)
			So(afs.Rename(fs.MustRelPath("a"), fs.MustRelPath("b")), ShouldBeNil)
			So(readFile(afs, fs.MustRelPath("b/f")), ShouldEqual, "body")
		})
		Convey("plain rename onto a non-empty dir fails", func() {
			So(afs.Mkdir(fs.MustRelPath("b"), 0755), ShouldBeNil)
			So(makeFile(afs, fs.MustRelPath("b/g"), "other"), ShouldBeNil)
			So(afs.Rename(fs.MustRelPath("a"), fs.MustRelPath("b")), errcat.ErrorShouldHaveCategory, fs.ErrAlreadyExists)
			So(readFile(afs, fs.MustRelPath("a/f")), ShouldEqual, "body")
		})
	})
}

func CheckRemoveAll(afs fs.FS) {
	Convey("removeall", func() {
		So(afs.Mkdir(fs.MustRelPath("keep"), 0755), ShouldBeNil)
		So(makeFile(afs, fs.MustRelPath("keep/f"), "body"), ShouldBeNil)
		So(afs.Mklink(fs.MustRelPath("lnk"), "keep"), ShouldBeNil)
		Convey("removing a symlink leaves its target", func() {
			So(afs.RemoveAll(fs.MustRelPath("lnk")), ShouldBeNil)
			So(readFile(afs, fs.MustRelPath("keep/f")), ShouldEqual, "body")
		})
		Convey("removing a missing path is fine", func() {
			So(afs.RemoveAll(fs.MustRelPath("nope")), ShouldBeNil)
		})
		Convey("removing the base path is refused", func() {
			So(afs.RemoveAll(fs.RelPath{}), errcat.ErrorShouldHaveCategory, fs.ErrBreakout)
		})
	})
}

func CheckSymlinks(afs fs.FS) {
	Convey("symlink resolution stays inside the base path", func() {
		So(afs.Mkdir(fs.MustRelPath("usr"), 0755), ShouldBeNil)
		So(afs.Mkdir(fs.MustRelPath("usr/lib"), 0755), ShouldBeNil)
		So(makeFile(afs, fs.MustRelPath("usr/lib/f"), "body"), ShouldBeNil)
		Convey("relative links resolve", func() {
			So(afs.Mklink(fs.MustRelPath("lib"), "usr/lib"), ShouldBeNil)
			So(readFile(afs, fs.MustRelPath("lib/f")), ShouldEqual, "body")
		})
		Convey("absolute links resolve against the base path", func() {
			So(afs.Mklink(fs.MustRelPath("lib"), "/usr/lib"), ShouldBeNil)
			So(readFile(afs, fs.MustRelPath("lib/f")), ShouldEqual, "body")
		})
		Convey("excessive up segments clamp at the base path", func() {
			So(afs.Mklink(fs.MustRelPath("lib"), "../../../usr/lib"), ShouldBeNil)
			So(readFile(afs, fs.MustRelPath("lib/f")), ShouldEqual, "body")
		})
		Convey("cycles are detected", func() {
			So(afs.Mklink(fs.MustRelPath("a"), "b"), ShouldBeNil)
			So(afs.Mklink(fs.MustRelPath("b"), "a"), ShouldBeNil)
			_, err := afs.Stat(fs.MustRelPath("a"))
			So(err, errcat.ErrorShouldHaveCategory, fs.ErrRecursion)
		})
		Convey("paths that go up are rejected", func() {
			_, err := afs.LStat(fs.MustRelPath("../x"))
			So(err, errcat.ErrorShouldHaveCategory, fs.ErrBreakout)
		})
	})
}

func makeFile(afs fs.FS, path fs.RelPath, body string) error {
	f, err := afs.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(body))
	return err
}

func readFile(afs fs.FS, path fs.RelPath) string {
	f, err := afs.OpenFile(path, os.O_RDONLY, 0)
	So(err, ShouldBeNil)
	defer f.Close()
	bs, err := ioutil.ReadAll(f)
	So(err, ShouldBeNil)
	return string(bs)
}
