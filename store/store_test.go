package store

import (
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"
)

func TestChecksum(t *testing.T) {
	Convey("Checksums:", t, func() {
		good := strings.Repeat("ab", 32)
		Convey("64 lowercase hex chars parse", func() {
			c, err := ParseChecksum(good)
			So(err, ShouldBeNil)
			a, b := c.Chunk()
			So(a, ShouldEqual, "ab")
			So(b, ShouldHaveLength, 62)
		})
		for _, bad := range []string{"", "abc", strings.ToUpper(good), good + "0", strings.Repeat("zz", 32)} {
			Convey("reject "+bad, func() {
				_, err := ParseChecksum(bad)
				So(err, errcat.ErrorShouldHaveCategory, ErrUsage)
			})
		}
	})
}

func TestMutableTree(t *testing.T) {
	Convey("MutableTree:", t, func() {
		mt := NewMutableTree()
		sub := mt.EnsureDir("usr")
		So(mt.EnsureDir("usr"), ShouldPointTo, sub)
		mt.ReplaceFile("b", "1")
		mt.ReplaceFile("a", "2")
		So(mt.FileNames(), ShouldResemble, []string{"a", "b"})
		So(mt.DirNames(), ShouldResemble, []string{"usr"})

		Convey("a file replaces a dir of the same name", func() {
			mt.ReplaceFile("usr", "3")
			f, d := mt.Lookup("usr")
			So(f, ShouldEqual, Checksum("3"))
			So(d, ShouldBeNil)
		})
		Convey("and a dir replaces a file", func() {
			mt.EnsureDir("a")
			f, d := mt.Lookup("a")
			So(f, ShouldEqual, Checksum(""))
			So(d, ShouldNotBeNil)
		})
	})
}
