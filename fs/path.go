package fs

import (
	"path"
	"path/filepath"
	"strings"
)

// RelPath and AbsolutePath are deliberately not interchangeable.
// Accept an AbsolutePath at the edges (install roots, repo paths) and
// address everything underneath an FS with a RelPath.

type RelPath struct {
	path      string
	lastSplit int
}

func MustRelPath(p string) RelPath {
	p = path.Clean(p)
	if p[0] == '/' {
		panic("fs: relative path must not be rooted: " + p)
	}
	if p == "." {
		return RelPath{}
	}
	return RelPath{p, strings.LastIndexByte(p, '/')}
}

func (p RelPath) String() string {
	switch {
	case p.path == "":
		return "."
	case p.GoesUp():
		return p.path
	default:
		return "./" + p.path
	}
}

// Bare returns the path without the leading "./", suitable for joining
// with a prefix by plain string concatenation.
func (p RelPath) Bare() string {
	return p.path
}

func (p RelPath) Dir() RelPath {
	switch {
	case p.path == "":
		return p
	case p.lastSplit == -1:
		return RelPath{}
	default:
		p2 := p.path[0:p.lastSplit]
		return RelPath{p2, strings.LastIndexByte(p2, '/')}
	}
}

func (p RelPath) Last() string {
	switch {
	case p.path == "":
		return "."
	case p.lastSplit == -1:
		return p.path
	default:
		return p.path[p.lastSplit+1:]
	}
}

func (p RelPath) Join(p2 RelPath) RelPath {
	switch {
	case p2.path == "":
		return p
	case p.path == "":
		return p2
	default:
		return MustRelPath(p.path + "/" + p2.path)
	}
}

// GoesUp is true if the path starts by leaving its base.
func (p RelPath) GoesUp() bool {
	return p.path == ".." || strings.HasPrefix(p.path, "../")
}

type AbsolutePath struct {
	path      string
	lastSplit int
}

func MustAbsolutePath(p string) AbsolutePath {
	p = path.Clean(p)
	if p[0] != '/' {
		panic("fs: absolute path must be rooted: " + p)
	}
	if p == "/" {
		return AbsolutePath{}
	}
	return AbsolutePath{p, strings.LastIndexByte(p, '/')}
}

// ToAbsolutePath resolves a user-supplied path against the working directory.
func ToAbsolutePath(p string) (AbsolutePath, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return AbsolutePath{}, NormalizeIOError(err)
	}
	return MustAbsolutePath(abs), nil
}

func (p AbsolutePath) String() string {
	if p.path == "" {
		return "/"
	}
	return p.path
}

func (p AbsolutePath) Dir() AbsolutePath {
	switch {
	case p.path == "":
		return p
	case p.lastSplit == 0:
		return AbsolutePath{}
	default:
		p2 := p.path[0:p.lastSplit]
		return AbsolutePath{p2, strings.LastIndexByte(p2, '/')}
	}
}

func (p AbsolutePath) Last() string {
	if p.path == "" {
		return "/"
	}
	return p.path[p.lastSplit+1:]
}

func (p AbsolutePath) Join(p2 RelPath) AbsolutePath {
	if p2.path == "" {
		return p
	}
	return MustAbsolutePath(p.path + "/" + p2.path)
}

// Sibling returns a path in the same directory with the given suffix
// appended to the last segment, e.g. "/a/rootfs" + ".tmp".
func (p AbsolutePath) Sibling(suffix string) AbsolutePath {
	return MustAbsolutePath(p.String() + suffix)
}

// CoerceRelative reinterprets the path relative to "/", for use with an FS
// rooted there.
func (p AbsolutePath) CoerceRelative() RelPath {
	if p.path == "" {
		return RelPath{}
	}
	return RelPath{p.path[1:], p.lastSplit - 1}
}
