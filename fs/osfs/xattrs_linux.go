package osfs

import (
	"bytes"

	"golang.org/x/sys/unix"

	"github.com/polydawn/treecommit/fs"
)

// Lxattrs reads all extended attributes of path without following a symlink.
// Filesystems without xattr support yield an empty map.
func (afs *osFS) Lxattrs(path fs.RelPath) (map[string]string, error) {
	rpath, err := afs.realpath(path, false)
	if err != nil {
		return nil, err
	}
	sz, err := unix.Llistxattr(rpath, nil)
	switch {
	case err == unix.ENOTSUP:
		return map[string]string{}, nil
	case err != nil:
		return nil, fs.NormalizeIOError(err)
	case sz == 0:
		return map[string]string{}, nil
	}
	buf := make([]byte, sz)
	sz, err = unix.Llistxattr(rpath, buf)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	result := map[string]string{}
	for _, name := range bytes.Split(buf[:sz], []byte{0}) {
		if len(name) == 0 {
			continue
		}
		vsz, err := unix.Lgetxattr(rpath, string(name), nil)
		if err != nil {
			return nil, fs.NormalizeIOError(err)
		}
		val := make([]byte, vsz)
		vsz, err = unix.Lgetxattr(rpath, string(name), val)
		if err != nil {
			return nil, fs.NormalizeIOError(err)
		}
		result[string(name)] = string(val[:vsz])
	}
	return result, nil
}
