package osfs

import (
	"os"
	"strings"
	"syscall"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
)

func New(basePath fs.AbsolutePath) fs.FS {
	return &osFS{basePath}
}

type osFS struct {
	basePath fs.AbsolutePath
}

func (afs *osFS) BasePath() fs.AbsolutePath {
	return afs.basePath
}

func (afs *osFS) OpenFile(path fs.RelPath, flag int, perms fs.Perms) (fs.File, error) {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(rpath, flag, permsToOs(perms))
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	return f, nil
}

func (afs *osFS) Mkdir(path fs.RelPath, perms fs.Perms) error {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Mkdir(rpath, permsToOs(perms)))
}

func (afs *osFS) Mklink(path fs.RelPath, target string) error {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Symlink(target, rpath))
}

func (afs *osFS) realpathPair(from, to fs.RelPath) (string, string, error) {
	rfrom, err := afs.realpath(from, false)
	if err != nil {
		return "", "", err
	}
	rto, err := afs.realpath(to, false)
	if err != nil {
		return "", "", err
	}
	return rfrom, rto, nil
}

func (afs *osFS) Remove(path fs.RelPath) error {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Remove(rpath))
}

// RemoveAll does not follow a symlink at path; it removes the link.
// A path that does not exist is not an error.
func (afs *osFS) RemoveAll(path fs.RelPath) error {
	if path == (fs.RelPath{}) {
		return Errorf(fs.ErrBreakout, "fs: refusing to remove base path %s", afs.basePath)
	}
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.RemoveAll(rpath))
}

func (afs *osFS) Chmod(path fs.RelPath, perms fs.Perms) error {
	rpath, err := afs.realpath(path, true)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Chmod(rpath, permsToOs(perms)))
}

func (afs *osFS) Lchown(path fs.RelPath, uid uint32, gid uint32) error {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return err
	}
	return fs.NormalizeIOError(os.Lchown(rpath, int(uid), int(gid)))
}

func (afs *osFS) Stat(path fs.RelPath) (*fs.Metadata, error) {
	rpath, err := afs.realpath(path, true)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(rpath)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	return afs.convertFileinfo(path, fi)
}

func (afs *osFS) LStat(path fs.RelPath) (*fs.Metadata, error) {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return nil, err
	}
	fi, err := os.Lstat(rpath)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	return afs.convertFileinfo(path, fi)
}

func (afs *osFS) convertFileinfo(path fs.RelPath, fi os.FileInfo) (*fs.Metadata, error) {
	fmeta := &fs.Metadata{
		Name:  path,
		Mtime: fi.ModTime(),
	}

	fm := fi.Mode()
	switch fm & (os.ModeType | os.ModeCharDevice) {
	case 0:
		fmeta.Type = fs.Type_File
		fmeta.Size = fi.Size()
	case os.ModeDir:
		fmeta.Type = fs.Type_Dir
	case os.ModeSymlink:
		fmeta.Type = fs.Type_Symlink
		// Nearly every caller that lstats a link wants its target too.
		target, _, err := afs.readlink(afs.basePath.Join(path).String())
		if err != nil {
			return nil, fs.NormalizeIOError(err)
		}
		fmeta.Linkname = target
	case os.ModeNamedPipe:
		fmeta.Type = fs.Type_NamedPipe
	case os.ModeSocket:
		fmeta.Type = fs.Type_Socket
	case os.ModeDevice:
		fmeta.Type = fs.Type_Device
	case os.ModeDevice | os.ModeCharDevice:
		fmeta.Type = fs.Type_CharDevice
	default:
		return nil, Errorf(fs.ErrMisc, "fs: unknown file mode %s at %s", fm, path)
	}
	fmeta.Perms = fs.Perms(fm.Perm())
	if fm&os.ModeSetuid != 0 {
		fmeta.Perms |= fs.Perms_Setuid
	}
	if fm&os.ModeSetgid != 0 {
		fmeta.Perms |= fs.Perms_Setgid
	}
	if fm&os.ModeSticky != 0 {
		fmeta.Perms |= fs.Perms_Sticky
	}

	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		fmeta.Uid = sys.Uid
		fmeta.Gid = sys.Gid
	}
	return fmeta, nil
}

func (afs *osFS) ReadDirNames(path fs.RelPath) ([]string, error) {
	rpath, err := afs.realpath(path, true)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(rpath)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	return names, fs.NormalizeIOError(err)
}

func (afs *osFS) Readlink(path fs.RelPath) (string, bool, error) {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return "", false, err
	}
	target, isLink, err := afs.readlink(rpath)
	return target, isLink, fs.NormalizeIOError(err)
}

func (afs *osFS) readlink(path string) (string, bool, error) {
	target, err := os.Readlink(path)
	switch {
	case err == nil:
		return target, true, nil
	case err.(*os.PathError).Err == syscall.EINVAL:
		// EINVAL means "not a symlink", which callers mostly use as a cheaper lstat.
		return "", false, nil
	default:
		return "", false, err
	}
}

// realpath joins a path onto the base, resolving any symlinks in the
// intermediate segments so that the result cannot leave the base path.
// If resolveLast is set, a symlink in the final segment is resolved too.
func (afs *osFS) realpath(path fs.RelPath, resolveLast bool) (string, error) {
	if path.GoesUp() {
		return "", Errorf(fs.ErrBreakout, "fs: invalid path %q: must not depart basepath", path)
	}
	resolved, err := afs.resolvePath(path, resolveLast)
	return afs.basePath.Join(resolved).String(), err
}

func (afs *osFS) resolvePath(path fs.RelPath, resolveLast bool) (fs.RelPath, error) {
	if path == (fs.RelPath{}) {
		return path, nil
	}
	segments := strings.Split(path.Bare(), "/")
	iLast := len(segments) - 1
	resolved := fs.RelPath{}
	for i, segment := range segments {
		resolved = resolved.Join(fs.MustRelPath(segment))
		if i == iLast && !resolveLast {
			return resolved, nil
		}
		target, isLink, err := afs.readlink(afs.basePath.Join(resolved).String())
		if err != nil {
			if os.IsNotExist(err) {
				// Nothing below a missing node can be a link; let the caller's syscall report it.
				if i == iLast {
					return resolved, nil
				}
				return resolved.Join(fs.MustRelPath(strings.Join(segments[i+1:], "/"))), nil
			}
			return resolved, fs.NormalizeIOError(err)
		}
		if isLink {
			resolved, err = afs.resolveLink(target, resolved, map[fs.RelPath]struct{}{})
			if err != nil {
				return resolved, err
			}
		}
	}
	return resolved, nil
}

func (afs *osFS) resolveLink(symlink string, startingAt fs.RelPath, seen map[fs.RelPath]struct{}) (fs.RelPath, error) {
	if _, isSeen := seen[startingAt]; isSeen {
		return startingAt, Errorf(fs.ErrRecursion, "fs: cyclic symlinks detected from %q", startingAt)
	}
	seen[startingAt] = struct{}{}
	segments := strings.Split(symlink, "/")
	path := startingAt.Dir()
	if segments[0] == "" {
		// Rooted links are read as rooted at the base path.
		path = fs.RelPath{}
		segments = segments[1:]
	}
	for _, s := range segments {
		if s == "" || s == "." {
			continue
		}
		if s == ".." {
			// Excessive ups clamp at the base path rather than escaping it.
			path = path.Dir()
			continue
		}
		path = path.Join(fs.MustRelPath(s))
		target, isLink, err := afs.readlink(afs.basePath.Join(path).String())
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return startingAt, fs.NormalizeIOError(err)
		}
		if isLink {
			path, err = afs.resolveLink(target, path, seen)
			if err != nil {
				return startingAt, err
			}
		}
	}
	return path, nil
}

func permsToOs(perms fs.Perms) (mode os.FileMode) {
	mode = os.FileMode(perms & 0777)
	if perms&fs.Perms_Setuid != 0 {
		mode |= os.ModeSetuid
	}
	if perms&fs.Perms_Setgid != 0 {
		mode |= os.ModeSetgid
	}
	if perms&fs.Perms_Sticky != 0 {
		mode |= os.ModeSticky
	}
	return mode
}
