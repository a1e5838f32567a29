package guid

import (
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

func TestNew(t *testing.T) {
	Convey("Guids:", t, func() {
		id1 := New()
		time.Sleep(2 * time.Millisecond)
		id2 := New()

		Convey("have a fixed length", func() {
			So(id1, ShouldHaveLength, size)
			So(id2, ShouldHaveLength, size)
		})
		Convey("are path-safe base58", func() {
			So(strings.Trim(id1, base58Alphabet), ShouldEqual, "")
		})
		Convey("differ, and sort by creation", func() {
			So(id1, ShouldNotEqual, id2)
			So(id1 < id2, ShouldBeTrue)
		})
	})
}
