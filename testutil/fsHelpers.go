package testutil

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/treecommit/fs"
)

/*
	Creates a temp dir, calls fn with it, and removes it after.

	Use inside a Convey block; the dir is made fresh for each leaf run.
*/
func WithTmpdir(fn func(tmpDir fs.AbsolutePath)) {
	dir, err := ioutil.TempDir("", "treecommit-test-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)
	// Some CI hosts put TMPDIR behind a symlink; resolve it so path comparisons hold.
	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		panic(err)
	}
	fn(fs.MustAbsolutePath(dir))
}

func ShouldStat(afs fs.FS, path fs.RelPath) fs.Metadata {
	stat, err := afs.LStat(path)
	convey.So(err, convey.ShouldBeNil)
	stat.Mtime = stat.Mtime.UTC()
	return *stat
}

/*
	Fixture entries describe a small tree to lay down for a test.
	A Linkname makes a symlink; a trailing slash on the path makes a dir;
	anything else is a file with Body as content.
*/
type Fixture struct {
	Path     string
	Body     string
	Linkname string
}

func PlaceFixture(base fs.AbsolutePath, fixtures []Fixture) {
	for _, fx := range fixtures {
		p := filepath.Join(base.String(), fx.Path)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			panic(err)
		}
		switch {
		case fx.Linkname != "":
			if err := os.Symlink(fx.Linkname, p); err != nil {
				panic(err)
			}
		case fx.Path[len(fx.Path)-1] == '/':
			if err := os.MkdirAll(p, 0755); err != nil {
				panic(err)
			}
		default:
			if err := ioutil.WriteFile(p, []byte(fx.Body), 0644); err != nil {
				panic(err)
			}
		}
	}
}

// ReadFile reads a file under base, failing the current convey on error.
func ReadFile(base fs.AbsolutePath, path string) string {
	bs, err := ioutil.ReadFile(filepath.Join(base.String(), path))
	convey.So(err, convey.ShouldBeNil)
	return string(bs)
}
