package fsrepo

import (
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
	"github.com/polydawn/treecommit/fsOp"
	"github.com/polydawn/treecommit/store"
)

/*
	Scan the tree at path into mtree.  File and symlink content is written
	as file objects; each directory's attributes become a dirmeta object.

	Only files, dirs, and symlinks can be committed; anything else
	(devices, fifos, sockets) is an error.  Mtimes are not recorded.
*/
func (r *Repo) WriteDirectoryToTree(mtree *store.MutableTree, path fs.AbsolutePath, modifier *store.Modifier) error {
	if err := r.requireTxn("write objects"); err != nil {
		return err
	}
	if modifier == nil {
		modifier = &store.Modifier{}
	}
	srcFs := osfs.New(path)
	trees := map[fs.RelPath]*store.MutableTree{{}: mtree}
	preVisit := func(node *fs.FilewalkNode) error {
		if node.Err != nil {
			return node.Err
		}
		name := node.Info.Name
		fmeta, body, err := fsOp.ScanFile(srcFs, name, !modifier.SkipXattrs)
		if err != nil {
			return err
		}
		if body != nil {
			defer body.Close()
		}
		if modifier.CanonicalOwnership {
			fmeta.Uid, fmeta.Gid = 0, 0
		}
		if len(fmeta.Xattrs) == 0 {
			fmeta.Xattrs = nil
		}

		switch fmeta.Type {
		case fs.Type_Dir:
			meta, err := r.writeObject(extDirMeta, dirMeta{
				Perms:  fmeta.Perms,
				Uid:    fmeta.Uid,
				Gid:    fmeta.Gid,
				Xattrs: fmeta.Xattrs,
			})
			if err != nil {
				return err
			}
			sub := mtree
			if name != (fs.RelPath{}) {
				sub = trees[name.Dir()].EnsureDir(name.Last())
			}
			sub.SetMetadata(meta)
			trees[name] = sub
		case fs.Type_File, fs.Type_Symlink:
			if name == (fs.RelPath{}) {
				return Errorf(store.ErrUsage, "cannot commit %s: not a directory", path)
			}
			c, err := r.writeFileObject(fileHeader{
				Type:     fmeta.Type,
				Perms:    fmeta.Perms,
				Uid:      fmeta.Uid,
				Gid:      fmeta.Gid,
				Size:     fmeta.Size,
				Linkname: fmeta.Linkname,
				Xattrs:   fmeta.Xattrs,
			}, body)
			if err != nil {
				return err
			}
			trees[name.Dir()].ReplaceFile(name.Last(), c)
		default:
			return Errorf(store.ErrUsage, "cannot commit %s: %s is a %s", path, name, fmeta.Type)
		}
		return nil
	}
	if err := fs.Walk(srcFs, preVisit, nil); err != nil {
		if Category(err) == store.ErrUsage || Category(err) == store.ErrUnwritable {
			return err
		}
		return Errorf(store.ErrUnwritable, "error scanning %s: %s", path, err)
	}
	return nil
}

// Default attributes of a dir that was never scanned from disk.
var defaultDirMeta = dirMeta{Perms: 0755}

/*
	Write dirtree objects bottom-up for mtree.  A subtree that never had
	metadata set gets root-owned 0755.
*/
func (r *Repo) WriteTree(mtree *store.MutableTree) (store.Root, error) {
	if err := r.requireTxn("write objects"); err != nil {
		return store.Root{}, err
	}
	return r.writeTree(mtree)
}

func (r *Repo) writeTree(mtree *store.MutableTree) (store.Root, error) {
	tree := dirTree{
		Files: []treeFile{},
		Dirs:  []treeDir{},
	}
	for _, name := range mtree.FileNames() {
		c, _ := mtree.Lookup(name)
		tree.Files = append(tree.Files, treeFile{Name: name, Checksum: c})
	}
	for _, name := range mtree.DirNames() {
		_, sub := mtree.Lookup(name)
		root, err := r.writeTree(sub)
		if err != nil {
			return store.Root{}, err
		}
		tree.Dirs = append(tree.Dirs, treeDir{Name: name, Tree: root.Tree, Meta: root.Meta})
	}
	treeSum, err := r.writeObject(extDirTree, tree)
	if err != nil {
		return store.Root{}, err
	}
	meta := mtree.Metadata()
	if meta.IsZero() {
		meta, err = r.writeObject(extDirMeta, defaultDirMeta)
		if err != nil {
			return store.Root{}, err
		}
		mtree.SetMetadata(meta)
	}
	return store.Root{Tree: treeSum, Meta: meta}, nil
}

func (r *Repo) WriteCommit(parent store.Checksum, subject, body string, metadata map[string]string, root store.Root) (store.Checksum, error) {
	if err := r.requireTxn("write a commit"); err != nil {
		return "", err
	}
	if !parent.IsZero() && !r.hasObject(parent, extCommit) {
		return "", Errorf(store.ErrNotFound, "parent commit %s not found", parent)
	}
	if !r.hasObject(root.Tree, extDirTree) || !r.hasObject(root.Meta, extDirMeta) {
		return "", Errorf(store.ErrNotFound, "root tree %s/%s not written", root.Tree, root.Meta)
	}
	if len(metadata) == 0 {
		metadata = nil
	}
	return r.writeObject(extCommit, store.Commit{
		Parent:    parent,
		Subject:   subject,
		Body:      body,
		Metadata:  metadata,
		Timestamp: uint64(r.now().Unix()),
		RootTree:  root.Tree,
		RootMeta:  root.Meta,
	})
}

func (r *Repo) LoadCommit(c store.Checksum) (store.Commit, error) {
	var commit store.Commit
	err := r.readObject(c, extCommit, &commit)
	return commit, err
}
