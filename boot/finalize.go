package boot

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
)

const sha256Size = sha256.Size

// Pair is the boot artifacts after content naming.
// Both names carry the same "-<Checksum>" suffix.
type Pair struct {
	Kernel    fs.AbsolutePath
	Initramfs fs.AbsolutePath // zero value if there was no initramfs
	Checksum  string          // hex sha256 of kernel bytes followed by initramfs bytes
}

/*
	Name the boot artifacts by their content.

	One sha256 runs over the kernel's bytes and then the initramfs's bytes,
	in that order; both files are then renamed in place to
	`<name>-<hexhash>`, kernel first.  Renames never leave the directory,
	so nothing is copied.

	initramfs may be the zero path, in which case only the kernel is hashed
	and renamed.
*/
func Finalize(kernel, initramfs fs.AbsolutePath) (Pair, error) {
	hasher := sha256.New()
	if err := hashInto(hasher, kernel); err != nil {
		return Pair{}, err
	}
	hasInitramfs := initramfs != (fs.AbsolutePath{})
	if hasInitramfs {
		if err := hashInto(hasher, initramfs); err != nil {
			return Pair{}, err
		}
	}
	checksum := hex.EncodeToString(hasher.Sum(nil))

	pair := Pair{Checksum: checksum}
	var err error
	if pair.Kernel, err = renameWithSuffix(kernel, checksum); err != nil {
		return Pair{}, err
	}
	if hasInitramfs {
		if pair.Initramfs, err = renameWithSuffix(initramfs, checksum); err != nil {
			return Pair{}, err
		}
	}
	return pair, nil
}

func hashInto(w io.Writer, path fs.AbsolutePath) error {
	afs := osfs.New(path.Dir())
	f, err := afs.OpenFile(fs.MustRelPath(path.Last()), os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return fs.NormalizeIOError(err)
}

func renameWithSuffix(path fs.AbsolutePath, checksum string) (fs.AbsolutePath, error) {
	afs := osfs.New(path.Dir())
	newName := path.Last() + "-" + checksum
	if err := afs.RenameNoReplace(fs.MustRelPath(path.Last()), fs.MustRelPath(newName)); err != nil {
		return fs.AbsolutePath{}, err
	}
	return path.Dir().Join(fs.MustRelPath(newName)), nil
}
