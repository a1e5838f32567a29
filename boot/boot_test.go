package boot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/testutil"
)

// fakeRunner stands in for depmod and dracut.  "dracut" writes its output
// file unless skipOutput is set; any command named in fail exits badly.
type fakeRunner struct {
	calls      [][]string
	fail       string
	skipOutput bool
}

func (r *fakeRunner) Run(ctx context.Context, root fs.AbsolutePath, argv ...string) error {
	r.calls = append(r.calls, argv)
	if argv[0] == r.fail {
		return errcat.Errorf(treecommit.ErrRegenerationFailed, "%s exited 1", argv[0])
	}
	if argv[0] == "dracut" && !r.skipOutput {
		return ioutil.WriteFile(filepath.Join(root.String(), argv[4]), []byte("initramfs for "+argv[5]), 0644)
	}
	return nil
}

func listDir(dir fs.AbsolutePath) []string {
	infos, err := ioutil.ReadDir(dir.String())
	So(err, ShouldBeNil)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names
}

func TestLocate(t *testing.T) {
	Convey("Locate:", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			bootDir := tmpDir.Join(fs.MustRelPath("boot"))
			Convey("one kernel and one initramfs are found", func() {
				testutil.PlaceFixture(tmpDir, []testutil.Fixture{
					{Path: "boot/vmlinuz-5.0.0", Body: "k"},
					{Path: "boot/initramfs-5.0.0.img", Body: "i"},
					{Path: "boot/config-5.0.0", Body: "c"},
				})
				a, err := Locate(bootDir)
				So(err, ShouldBeNil)
				So(a.Kernel, ShouldEqual, "vmlinuz-5.0.0")
				So(a.Initramfs, ShouldEqual, "initramfs-5.0.0.img")
				So(a.Kver(), ShouldEqual, "5.0.0")
			})
			Convey("an initramfs is optional", func() {
				testutil.PlaceFixture(tmpDir, []testutil.Fixture{{Path: "boot/vmlinuz-5.0.0-1.fc30.x86_64", Body: "k"}})
				a, err := Locate(bootDir)
				So(err, ShouldBeNil)
				So(a.Initramfs, ShouldEqual, "")
				So(a.InitramfsPath(), ShouldResemble, fs.AbsolutePath{})
				So(a.Kver(), ShouldEqual, "5.0.0-1.fc30.x86_64")
			})
			Convey("two kernels are ambiguous and nothing is touched", func() {
				testutil.PlaceFixture(tmpDir, []testutil.Fixture{
					{Path: "boot/vmlinuz-5.0.0", Body: "k"},
					{Path: "boot/vmlinuz-5.1.0", Body: "k2"},
				})
				_, err := Locate(bootDir)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrAmbiguousArtifact)
				So(listDir(bootDir), ShouldResemble, []string{"vmlinuz-5.0.0", "vmlinuz-5.1.0"})
			})
			Convey("two initramfs are ambiguous", func() {
				testutil.PlaceFixture(tmpDir, []testutil.Fixture{
					{Path: "boot/vmlinuz-5.0.0", Body: "k"},
					{Path: "boot/initramfs-5.0.0.img", Body: "i"},
					{Path: "boot/initramfs-5.0.0.img.bak", Body: "i"},
				})
				_, err := Locate(bootDir)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrAmbiguousArtifact)
			})
			Convey("no kernel is an error", func() {
				testutil.PlaceFixture(tmpDir, []testutil.Fixture{{Path: "boot/initramfs-5.0.0.img", Body: "i"}})
				_, err := Locate(bootDir)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrMissingKernel)
			})
		})
	})
}

func TestFinalize(t *testing.T) {
	Convey("Finalize:", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			testutil.PlaceFixture(tmpDir, []testutil.Fixture{
				{Path: "boot/vmlinuz-5.0.0", Body: "kernel bytes"},
				{Path: "boot/initramfs-5.0.0.img", Body: "initramfs bytes"},
			})
			bootDir := tmpDir.Join(fs.MustRelPath("boot"))
			kernel := bootDir.Join(fs.MustRelPath("vmlinuz-5.0.0"))
			initramfs := bootDir.Join(fs.MustRelPath("initramfs-5.0.0.img"))
			Convey("both files share a suffix hashing kernel then initramfs", func() {
				pair, err := Finalize(kernel, initramfs)
				So(err, ShouldBeNil)
				sum := sha256.Sum256([]byte("kernel bytes" + "initramfs bytes"))
				want := hex.EncodeToString(sum[:])
				So(pair.Checksum, ShouldEqual, want)
				So(listDir(bootDir), ShouldResemble, []string{
					"initramfs-5.0.0.img-" + want,
					"vmlinuz-5.0.0-" + want,
				})
				So(pair.Kernel.Last(), ShouldEqual, "vmlinuz-5.0.0-"+want)
				So(testutil.ReadFile(bootDir, pair.Initramfs.Last()), ShouldEqual, "initramfs bytes")
			})
			Convey("the hash is order-sensitive, not a merge", func() {
				pair, err := Finalize(kernel, initramfs)
				So(err, ShouldBeNil)
				swapped := sha256.Sum256([]byte("initramfs bytes" + "kernel bytes"))
				So(pair.Checksum, ShouldNotEqual, hex.EncodeToString(swapped[:]))
			})
			Convey("without an initramfs only the kernel is hashed", func() {
				So(os.Remove(initramfs.String()), ShouldBeNil)
				pair, err := Finalize(kernel, fs.AbsolutePath{})
				So(err, ShouldBeNil)
				sum := sha256.Sum256([]byte("kernel bytes"))
				So(pair.Checksum, ShouldEqual, hex.EncodeToString(sum[:]))
				So(pair.Initramfs, ShouldResemble, fs.AbsolutePath{})
			})
		})
	})
}

func TestPrepare(t *testing.T) {
	Convey("Prepare:", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			testutil.PlaceFixture(tmpDir, []testutil.Fixture{
				{Path: "boot/vmlinuz-5.0.0", Body: "kernel bytes"},
				{Path: "boot/initramfs-5.0.0.img", Body: "from the package"},
				{Path: "boot/loader/entries/x.conf", Body: "title x"},
				{Path: "etc/"},
			})
			runner := &fakeRunner{}
			d := &Deduplicator{Runner: runner}
			Convey("regenerates, then names by content", func() {
				pair, err := d.Prepare(context.Background(), tmpDir)
				So(err, ShouldBeNil)
				So(runner.calls, ShouldResemble, [][]string{
					{"depmod", "5.0.0"},
					{"dracut", "-v", "--tmpdir=/tmp", "-f", "/tmp/initramfs.img", "5.0.0"},
				})
				So(testutil.ReadFile(tmpDir, "etc/machine-id"), ShouldEqual, MachineID)
				bootDir := tmpDir.Join(fs.MustRelPath("boot"))
				sum := sha256.Sum256([]byte("kernel bytes" + "initramfs for 5.0.0"))
				want := hex.EncodeToString(sum[:])
				So(pair.Checksum, ShouldEqual, want)
				So(listDir(bootDir), ShouldResemble, []string{
					"initramfs-5.0.0.img-" + want,
					"vmlinuz-5.0.0-" + want,
				})

				Convey("preparing again leaves the named pair alone", func() {
					again, err := d.Prepare(context.Background(), tmpDir)
					So(err, ShouldBeNil)
					So(again, ShouldResemble, pair)
					So(runner.calls, ShouldHaveLength, 2)
					So(listDir(bootDir), ShouldResemble, []string{
						"initramfs-5.0.0.img-" + want,
						"vmlinuz-5.0.0-" + want,
					})
				})
			})
			Convey("a partly content-named pair is ambiguous and nothing is touched", func() {
				suffix := strings.Repeat("ab", 32)
				bootDir := tmpDir.Join(fs.MustRelPath("boot"))
				So(os.Rename(bootDir.String()+"/vmlinuz-5.0.0", bootDir.String()+"/vmlinuz-5.0.0-"+suffix), ShouldBeNil)
				_, err := d.Prepare(context.Background(), tmpDir)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrAmbiguousArtifact)
				So(runner.calls, ShouldHaveLength, 0)
				So(listDir(bootDir), ShouldResemble, []string{
					"initramfs-5.0.0.img",
					"loader",
					"vmlinuz-5.0.0-" + suffix,
				})
			})
			Convey("a failing tool aborts", func() {
				runner.fail = "depmod"
				_, err := d.Prepare(context.Background(), tmpDir)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrRegenerationFailed)
				So(len(runner.calls), ShouldEqual, 1)
			})
			Convey("missing dracut output is a regeneration failure", func() {
				runner.skipOutput = true
				_, err := d.Prepare(context.Background(), tmpDir)
				So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrRegenerationFailed)
				So(listDir(tmpDir.Join(fs.MustRelPath("boot"))), ShouldResemble, []string{"vmlinuz-5.0.0"})
			})
		})
	})
}

func TestChrootRunner(t *testing.T) {
	Convey("ChrootRunner refuses to start once cancelled", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := ChrootRunner{}.Run(ctx, fs.MustAbsolutePath("/"), "true")
		So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrCancelled)
	})
	Convey("ChrootRunner reports exit codes", t, testutil.Requires(
		testutil.RequiresCanChroot,
		testutil.RequiresCommand("sh"),
		func() {
			var out bytes.Buffer
			So(ChrootRunner{Output: &out}.Run(context.Background(), fs.MustAbsolutePath("/"), "sh", "-c", "echo hi"), ShouldBeNil)
			So(out.String(), ShouldEqual, "hi\n")
			err := ChrootRunner{}.Run(context.Background(), fs.MustAbsolutePath("/"), "sh", "-c", "exit 3")
			So(err, errcat.ErrorShouldHaveCategory, treecommit.ErrRegenerationFailed)
			So(err.(errcat.Error).Details()["exit"], ShouldEqual, "3")
		},
	))
}

func TestKernelRelease(t *testing.T) {
	Convey("KernelRelease:", t, func() {
		Convey("reads the release out of a setup header", func() {
			buf := make([]byte, 0x3100)
			buf[0x1fe], buf[0x1ff] = 0x55, 0xaa
			copy(buf[0x202:], "HdrS")
			buf[0x20e], buf[0x20f] = 0x00, 0x2e // 0x2e00 + 0x200
			copy(buf[0x3000:], "5.0.0-1.fc30.x86_64 (mockbuild@host) #1 SMP\x00junk")
			release, err := KernelRelease(bytes.NewReader(buf))
			So(err, ShouldBeNil)
			So(release, ShouldEqual, "5.0.0-1.fc30.x86_64")
		})
		Convey("rejects things that aren't kernels", func() {
			_, err := KernelRelease(bytes.NewReader([]byte("kernel bytes")))
			So(err, errcat.ErrorShouldHaveCategory, fs.ErrMisc)
		})
	})
}
