package osfs

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/tests"
	"github.com/polydawn/treecommit/testutil"
)

func TestAll(t *testing.T) {
	Convey("osfs compliance tests", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			tfs := New(tmpDir)
			boxPath := fs.MustRelPath("sandbox")
			So(tfs.Mkdir(boxPath, 0755), ShouldBeNil)
			afs := New(tmpDir.Join(boxPath))

			tests.CheckMkdirLstatRoundtrip(afs)
			tests.CheckDeepMkdirError(afs)
			tests.CheckMklinkLstatRoundtrip(afs)
			tests.CheckRenames(afs)
			tests.CheckRemoveAll(afs)
			tests.CheckSymlinks(afs)
		})
	})
	Convey("osfs xattr reads", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := New(tmpDir)
			So(afs.Mkdir(fs.MustRelPath("d"), 0755), ShouldBeNil)
			xattrs, err := afs.Lxattrs(fs.MustRelPath("d"))
			So(err, ShouldBeNil)
			So(xattrs, ShouldNotBeNil)
		})
	})
}

func TestWalk(t *testing.T) {
	Convey("Walk visits in sorted order, pre and post", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			testutil.PlaceFixture(tmpDir, []testutil.Fixture{
				{Path: "b/2", Body: "x"},
				{Path: "b/1", Body: "x"},
				{Path: "a/"},
				{Path: "c", Linkname: "b"},
			})
			var pre, post []string
			err := fs.Walk(New(tmpDir),
				func(node *fs.FilewalkNode) error {
					pre = append(pre, node.Info.Name.String())
					return node.Err
				},
				func(node *fs.FilewalkNode) error {
					post = append(post, node.Info.Name.String())
					return nil
				},
			)
			So(err, ShouldBeNil)
			So(pre, ShouldResemble, []string{".", "./a", "./b", "./b/1", "./b/2", "./c"})
			So(post, ShouldResemble, []string{"./a", "./b/1", "./b/2", "./b", "./c", "."})
		})
	})
}
