package fsOp

import (
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
)

/*
	Makes dirs recursively so the requested path exists, applying perms to
	each one that needed to be produced.

	Existing dirs are not mutated.  Symlinks are traversed without comment.
*/
func MkdirAll(afs fs.FS, path fs.RelPath, perms fs.Perms) error {
	stat, err := afs.Stat(path)
	switch Category(err) {
	case nil:
		if stat.Type == fs.Type_Dir {
			return nil
		}
		return Errorf(fs.ErrNotDir, "%s already exists and is a %s not %s", afs.BasePath().Join(path), stat.Type, fs.Type_Dir)
	case fs.ErrNotExists:
		if path == (fs.RelPath{}) {
			return Errorf(fs.ErrNotExists, "base path %s does not exist", afs.BasePath())
		}
		if err := MkdirAll(afs, path.Dir(), perms); err != nil {
			return err
		}
		if err := afs.Mkdir(path, perms); err != nil {
			if Category(err) == fs.ErrAlreadyExists {
				// Stat said no but mkdir says yes: it's a dangling symlink.
				return Errorf(fs.ErrNotDir, "%s already exists and is a %s not %s", afs.BasePath().Join(path), fs.Type_Symlink, fs.Type_Dir)
			}
			return err
		}
		return nil
	case fs.ErrNotDir:
		return Errorf(fs.ErrNotDir, "%s has parents which are not a directory", afs.BasePath().Join(path))
	default:
		return err
	}
}

/*
	Moves src to dst within one filesystem by rename, creating dst's parent
	dirs first if needed.  Never copies; a cross-device move fails with
	fs.ErrCrossDevice.

	If noReplace is set, an existing dst is an error (fs.ErrAlreadyExists)
	rather than being replaced.
*/
func MoveInto(afs fs.FS, src, dst fs.RelPath, noReplace bool) error {
	if _, err := afs.LStat(src); err != nil {
		return err
	}
	if err := MkdirAll(afs, dst.Dir(), 0755); err != nil {
		return err
	}
	if noReplace {
		return afs.RenameNoReplace(src, dst)
	}
	return afs.Rename(src, dst)
}
