package fsOp

import (
	"io"
	"os"

	"github.com/polydawn/treecommit/fs"
)

/*
	Scan file attributes into an `fs.Metadata` struct, and return an
	`io.ReadCloser` for the file content.

	The reader is nil if the path is any type other than a file.  If a
	reader is returned, the caller is expected to close it.
	Xattrs are read only if `withXattrs` is set.
*/
func ScanFile(afs fs.FS, path fs.RelPath, withXattrs bool) (fmeta *fs.Metadata, body io.ReadCloser, err error) {
	fmeta, err = afs.LStat(path)
	if err != nil {
		return nil, nil, err
	}
	if withXattrs {
		fmeta.Xattrs, err = afs.Lxattrs(path)
		if err != nil {
			return nil, nil, err
		}
	}
	if fmeta.Type == fs.Type_File {
		body, err = afs.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return nil, nil, err
		}
	}
	return fmeta, body, nil
}
