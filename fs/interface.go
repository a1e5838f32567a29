package fs

import (
	"io"
	"time"
)

/*
	Interface for all primitive functions we expect to be able to perform
	on a filesystem.

	All paths accepted are RelPath types; the FS instance is constructed
	with an AbsolutePath, and all operations are joined with that base path.
	Paths that would leave the base path are rejected with ErrBreakout.
*/
type FS interface {
	BasePath() AbsolutePath

	OpenFile(path RelPath, flag int, perms Perms) (File, error)
	Mkdir(path RelPath, perms Perms) error
	Mklink(path RelPath, target string) error

	// Rename replaces the destination if it exists (and, for dirs, is empty).
	Rename(from, to RelPath) error
	// RenameNoReplace fails with ErrAlreadyExists if the destination exists.
	RenameNoReplace(from, to RelPath) error

	Remove(path RelPath) error
	RemoveAll(path RelPath) error

	Chmod(path RelPath, perms Perms) error
	Lchown(path RelPath, uid uint32, gid uint32) error
	SetTimesLNano(path RelPath, mtime, atime time.Time) error

	Stat(path RelPath) (*Metadata, error)
	LStat(path RelPath) (*Metadata, error)
	Lxattrs(path RelPath) (map[string]string, error)
	ReadDirNames(path RelPath) ([]string, error)
	Readlink(path RelPath) (target string, isSymlink bool, err error)
}

type File interface {
	io.Reader
	io.Writer
	io.Closer
	io.Seeker
}
