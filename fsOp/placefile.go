package fsOp

import (
	"io"
	"os"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
)

/*
	Places a file on the filesystem, replicating the attributes described
	in the metadata.  The path within the filesystem is `fmeta.Name`.

	No part of `fmeta.Name` may traverse a symlink; that is rejected with
	fs.ErrBreakout.  Symlinks themselves may *point* anywhere, since the
	tree is likely to be booted or chrooted into later.

	Ownership is only applied if `skipChown` is false.  Only files, dirs,
	and symlinks are supported; the store never records other types.
*/
func PlaceFile(afs fs.FS, fmeta fs.Metadata, body io.Reader, skipChown bool) error {
	for path := fmeta.Name.Dir(); path != (fs.RelPath{}); path = path.Dir() {
		target, isSymlink, err := afs.Readlink(path)
		switch {
		case isSymlink:
			return ErrorDetailed(fs.ErrBreakout, "refusing to place through a symlink", map[string]string{
				"path":   fmeta.Name.String(),
				"link":   path.String(),
				"target": target,
			})
		case err == nil, Category(err) == fs.ErrNotExists:
			continue
		default:
			return err
		}
	}

	switch fmeta.Type {
	case fs.Type_File:
		file, err := afs.OpenFile(fmeta.Name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		if body != nil {
			if _, err := io.Copy(file, body); err != nil {
				file.Close()
				return fs.NormalizeIOError(err)
			}
		}
		if err := file.Close(); err != nil {
			return fs.NormalizeIOError(err)
		}
	case fs.Type_Dir:
		if fmeta.Name == (fs.RelPath{}) {
			// The base dir may already exist; then we only apply attributes.
			if existing, err := afs.LStat(fmeta.Name); err == nil && existing.Type == fs.Type_Dir {
				break
			}
		}
		if err := afs.Mkdir(fmeta.Name, 0700); err != nil {
			return err
		}
	case fs.Type_Symlink:
		if err := afs.Mklink(fmeta.Name, fmeta.Linkname); err != nil {
			return err
		}
	default:
		return Errorf(fs.ErrMisc, "placefile: unsupported file type %s at %s", fmeta.Type, fmeta.Name)
	}

	if !skipChown {
		if err := afs.Lchown(fmeta.Name, fmeta.Uid, fmeta.Gid); err != nil {
			return err
		}
	}
	if fmeta.Type != fs.Type_Symlink {
		// No lchmod on linux; symlink perms are meaningless anyway.
		if err := afs.Chmod(fmeta.Name, fmeta.Perms); err != nil {
			return err
		}
	}
	if !fmeta.Mtime.IsZero() {
		if err := afs.SetTimesLNano(fmeta.Name, fmeta.Mtime, fmeta.Mtime); err != nil {
			return err
		}
	}
	return nil
}
