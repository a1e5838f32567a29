package fs

import (
	"time"
)

type Type string

const (
	Type_Invalid    Type = ""
	Type_File       Type = "F"
	Type_Dir        Type = "D"
	Type_Symlink    Type = "L"
	Type_NamedPipe  Type = "P"
	Type_Socket     Type = "S"
	Type_Device     Type = "B"
	Type_CharDevice Type = "C"
)

func (t Type) String() string {
	switch t {
	case Type_File:
		return "file"
	case Type_Dir:
		return "dir"
	case Type_Symlink:
		return "symlink"
	case Type_NamedPipe:
		return "fifo"
	case Type_Socket:
		return "socket"
	case Type_Device:
		return "blockdev"
	case Type_CharDevice:
		return "chardev"
	default:
		return "invalid"
	}
}

// Perms holds the permission bits plus setuid, setgid, and sticky,
// in their traditional octal positions.
type Perms uint16

const (
	Perms_Setuid Perms = 04000
	Perms_Setgid Perms = 02000
	Perms_Sticky Perms = 01000
)

type Metadata struct {
	Name     RelPath
	Type     Type
	Perms    Perms
	Uid      uint32
	Gid      uint32
	Size     int64  // only meaningful for files
	Linkname string // only meaningful for symlinks
	Mtime    time.Time
	Xattrs   map[string]string // only filled by an explicit Lxattrs call
}
