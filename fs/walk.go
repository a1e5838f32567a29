package fs

import (
	"sort"
)

type WalkFunc func(node *FilewalkNode) error

// SkipDir may be returned from a pre-visit func to skip a directory's children.
// The post-visit func is still called for it.
const SkipDir = walkSignal("skip this directory")

type walkSignal string

func (s walkSignal) Error() string { return string(s) }

type FilewalkNode struct {
	Info *Metadata
	Err  error
}

/*
	Walks a filesystem depth-first, calling preVisit before a node's
	children and postVisit after them.  Either func may be nil.

	The first node visited is always the base path itself (with the zero
	RelPath as its name).  Siblings are visited in sorted order, so walks
	are deterministic.  Symlinks are not followed.

	If a node cannot be stat'd, the visit funcs receive it with Err set
	and Info nil; returning that error aborts the walk.
*/
func Walk(afs FS, preVisit WalkFunc, postVisit WalkFunc) error {
	return walk(afs, RelPath{}, preVisit, postVisit)
}

func walk(afs FS, path RelPath, preVisit WalkFunc, postVisit WalkFunc) error {
	node := &FilewalkNode{}
	node.Info, node.Err = afs.LStat(path)
	skip := false
	if preVisit != nil {
		if err := preVisit(node); err == SkipDir {
			skip = true
		} else if err != nil {
			return err
		}
	}
	if node.Err != nil && preVisit == nil {
		return node.Err
	}
	if node.Err == nil && node.Info.Type == Type_Dir && !skip {
		names, err := afs.ReadDirNames(path)
		if err != nil {
			return err
		}
		sort.Strings(names)
		for _, name := range names {
			if err := walk(afs, path.Join(MustRelPath(name)), preVisit, postVisit); err != nil {
				return err
			}
		}
	}
	if postVisit != nil {
		return postVisit(node)
	}
	return nil
}
