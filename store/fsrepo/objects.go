package fsrepo

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fsOp"
	"github.com/polydawn/treecommit/lib/guid"
	"github.com/polydawn/treecommit/store"
)

// File extensions of each object kind.
const (
	extFile       = "file"
	extFileZ      = "filez" // archive mode
	extDirTree    = "dirtree"
	extDirMeta    = "dirmeta"
	extCommit     = "commit"
	extCommitMeta = "commitmeta" // detached; keyed by commit checksum, not its own content
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fsrepo: CBOR encoder initialization failed: " + err.Error())
	}
}

/*
	The header for a file object.  A file object's checksum covers the
	encoded header followed by the raw content, so the same bytes with
	different ownership or mode are different objects.
*/
type fileHeader struct {
	Type     fs.Type           `cbor:"1,keyasint"`
	Perms    fs.Perms          `cbor:"2,keyasint"`
	Uid      uint32            `cbor:"3,keyasint"`
	Gid      uint32            `cbor:"4,keyasint"`
	Size     int64             `cbor:"5,keyasint"`
	Linkname string            `cbor:"6,keyasint,omitempty"`
	Xattrs   map[string]string `cbor:"7,keyasint,omitempty"`
}

type dirMeta struct {
	Perms  fs.Perms          `cbor:"1,keyasint"`
	Uid    uint32            `cbor:"2,keyasint"`
	Gid    uint32            `cbor:"3,keyasint"`
	Xattrs map[string]string `cbor:"4,keyasint,omitempty"`
}

type dirTree struct {
	Files []treeFile `cbor:"1,keyasint"`
	Dirs  []treeDir  `cbor:"2,keyasint"`
}

type treeFile struct {
	_        struct{} `cbor:",toarray"`
	Name     string
	Checksum store.Checksum
}

type treeDir struct {
	_    struct{} `cbor:",toarray"`
	Name string
	Tree store.Checksum
	Meta store.Checksum
}

type commitMeta struct {
	Signatures [][]byte `cbor:"1,keyasint"`
}

func objectPath(c store.Checksum, ext string) fs.RelPath {
	a, b := c.Chunk()
	return pathObjects.Join(fs.MustRelPath(a + "/" + b + "." + ext))
}

func (r *Repo) fileExt() string {
	if r.Mode() == ModeArchive {
		return extFileZ
	}
	return extFile
}

/*
	Find where an object currently lives: in the open transaction's
	staging area, or in objects/.
*/
func (r *Repo) findObject(c store.Checksum, ext string) (fs.RelPath, error) {
	if !store.IsChecksum(string(c)) {
		return fs.RelPath{}, Errorf(store.ErrUsage, "not a checksum: %q", c)
	}
	if r.txn != nil {
		staged := r.txn.dir.Join(objectPath(c, ext))
		if _, err := r.afs.LStat(staged); err == nil {
			return staged, nil
		}
	}
	final := objectPath(c, ext)
	_, err := r.afs.LStat(final)
	switch Category(err) {
	case nil:
		return final, nil
	case fs.ErrNotExists:
		return fs.RelPath{}, Errorf(store.ErrNotFound, "%s object %s not found", ext, c)
	default:
		return fs.RelPath{}, Errorf(store.ErrCorrupt, "%s object %s unreadable: %s", ext, c, err)
	}
}

func (r *Repo) hasObject(c store.Checksum, ext string) bool {
	_, err := r.findObject(c, ext)
	return err == nil
}

// Read a whole metadata object and check it hashes to its name.
func (r *Repo) readObjectBytes(c store.Checksum, ext string) ([]byte, error) {
	path, err := r.findObject(c, ext)
	if err != nil {
		return nil, err
	}
	f, err := r.afs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, Errorf(store.ErrCorrupt, "%s object %s unreadable: %s", ext, c, err)
	}
	defer f.Close()
	bs, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, Errorf(store.ErrCorrupt, "%s object %s unreadable: %s", ext, c, err)
	}
	if ext != extCommitMeta {
		sum := sha256.Sum256(bs)
		if store.ChecksumFromBytes(sum[:]) != c {
			return nil, Errorf(store.ErrCorrupt, "%s object %s does not match its checksum", ext, c)
		}
	}
	return bs, nil
}

func (r *Repo) readObject(c store.Checksum, ext string, v interface{}) error {
	bs, err := r.readObjectBytes(c, ext)
	if err != nil {
		return err
	}
	if err := cbor.Unmarshal(bs, v); err != nil {
		return Errorf(store.ErrCorrupt, "%s object %s does not decode: %s", ext, c, err)
	}
	return nil
}

// Encode v, name it by checksum, and stage it unless already present.
func (r *Repo) writeObject(ext string, v interface{}) (store.Checksum, error) {
	bs, err := encMode.Marshal(v)
	if err != nil {
		return "", Errorf(store.ErrCorrupt, "cannot encode %s object: %s", ext, err)
	}
	sum := sha256.Sum256(bs)
	c := store.ChecksumFromBytes(sum[:])
	if r.hasObject(c, ext) {
		return c, nil
	}
	return c, r.writeFileAtomic(r.txn.dir.Join(objectPath(c, ext)), bs, 0644)
}

/*
	Write a file or symlink as a file object.

	Layout on disk is a 4-byte big-endian header length, the CBOR header,
	then content: raw in bare mode, zstd in archive mode.
*/
func (r *Repo) writeFileObject(hdr fileHeader, body io.Reader) (store.Checksum, error) {
	hb, err := encMode.Marshal(hdr)
	if err != nil {
		return "", Errorf(store.ErrCorrupt, "cannot encode file header: %s", err)
	}
	scratch := r.txn.dir.Join(fs.MustRelPath("incoming-" + guid.New()))
	f, err := r.afs.OpenFile(scratch, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", Errorf(store.ErrUnwritable, "cannot reserve space for file object: %s", err)
	}
	hasher := sha256.New()
	hasher.Write(hb)
	err = func() error {
		var lenbuf [4]byte
		binary.BigEndian.PutUint32(lenbuf[:], uint32(len(hb)))
		if _, err := f.Write(lenbuf[:]); err != nil {
			return err
		}
		if _, err := f.Write(hb); err != nil {
			return err
		}
		if body == nil {
			return nil
		}
		if r.Mode() != ModeArchive {
			_, err := io.Copy(io.MultiWriter(hasher, f), body)
			return err
		}
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		if _, err := io.Copy(io.MultiWriter(hasher, zw), body); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}()
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		r.afs.Remove(scratch)
		return "", Errorf(store.ErrUnwritable, "cannot write file object: %s", err)
	}

	c := store.ChecksumFromBytes(hasher.Sum(nil))
	if r.hasObject(c, r.fileExt()) {
		r.afs.Remove(scratch)
		return c, nil
	}
	dest := r.txn.dir.Join(objectPath(c, r.fileExt()))
	if err := mkdirParent(r.afs, dest); err != nil {
		r.afs.Remove(scratch)
		return "", err
	}
	if err := r.afs.Rename(scratch, dest); err != nil {
		r.afs.Remove(scratch)
		return "", Errorf(store.ErrUnwritable, "cannot stage file object %s: %s", c, err)
	}
	return c, nil
}

/*
	Open a file object.  The returned reader yields raw content (nil for
	symlinks) and must be closed.
*/
func (r *Repo) readFileObject(c store.Checksum) (fileHeader, io.ReadCloser, error) {
	var hdr fileHeader
	path, err := r.findObject(c, r.fileExt())
	if err != nil {
		return hdr, nil, err
	}
	f, err := r.afs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return hdr, nil, Errorf(store.ErrCorrupt, "file object %s unreadable: %s", c, err)
	}
	var lenbuf [4]byte
	if _, err := io.ReadFull(f, lenbuf[:]); err != nil {
		f.Close()
		return hdr, nil, Errorf(store.ErrCorrupt, "file object %s truncated: %s", c, err)
	}
	hb := make([]byte, binary.BigEndian.Uint32(lenbuf[:]))
	if _, err := io.ReadFull(f, hb); err != nil {
		f.Close()
		return hdr, nil, Errorf(store.ErrCorrupt, "file object %s truncated: %s", c, err)
	}
	if err := cbor.Unmarshal(hb, &hdr); err != nil {
		f.Close()
		return hdr, nil, Errorf(store.ErrCorrupt, "file object %s header does not decode: %s", c, err)
	}
	if hdr.Type != fs.Type_File {
		f.Close()
		return hdr, nil, nil
	}
	if r.Mode() != ModeArchive {
		return hdr, f, nil
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return hdr, nil, Errorf(store.ErrCorrupt, "file object %s: %s", c, err)
	}
	return hdr, zstdReadCloser{zr, f}, nil
}

type zstdReadCloser struct {
	*zstd.Decoder
	file io.Closer
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.file.Close()
}

func mkdirParent(afs fs.FS, path fs.RelPath) error {
	if err := fsOp.MkdirAll(afs, path.Dir(), 0755); err != nil {
		return Errorf(store.ErrUnwritable, "cannot create %s: %s", path.Dir(), err)
	}
	return nil
}
