package fsrepo

import (
	"time"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
	"github.com/polydawn/treecommit/fsOp"
	"github.com/polydawn/treecommit/store"
)

// Commits don't record mtimes; checked-out files all get this one.
var checkoutMtime = time.Unix(0, 0).UTC()

/*
	Recreate the tree of commit c at dest, which must not exist yet.

	Ownership is applied unless skipChown is set; without the capability
	to chown, pass true.
*/
func (r *Repo) Checkout(c store.Checksum, dest fs.AbsolutePath, skipChown bool) error {
	commit, err := r.LoadCommit(c)
	if err != nil {
		return err
	}
	rootFs := osfs.New(fs.MustAbsolutePath("/"))
	if _, err := rootFs.LStat(dest.CoerceRelative()); err == nil {
		return Errorf(store.ErrUsage, "checkout destination %s already exists", dest)
	}
	if err := fsOp.MkdirAll(rootFs, dest.Dir().CoerceRelative(), 0755); err != nil {
		return Errorf(store.ErrUnwritable, "cannot create checkout parent: %s", err)
	}
	if err := rootFs.Mkdir(dest.CoerceRelative(), 0700); err != nil {
		return Errorf(store.ErrUnwritable, "cannot create checkout dir: %s", err)
	}
	destFs := osfs.New(dest)
	if err := r.checkoutDir(destFs, fs.RelPath{}, commit.RootTree, commit.RootMeta, skipChown); err != nil {
		return err
	}
	return nil
}

func (r *Repo) checkoutDir(destFs fs.FS, path fs.RelPath, treeSum, metaSum store.Checksum, skipChown bool) error {
	var tree dirTree
	if err := r.readObject(treeSum, extDirTree, &tree); err != nil {
		return err
	}
	var meta dirMeta
	if err := r.readObject(metaSum, extDirMeta, &meta); err != nil {
		return err
	}
	// Create the dir writable first; its real perms and mtime go on after its children.
	dirMetadata := fs.Metadata{Name: path, Type: fs.Type_Dir, Perms: 0700, Uid: meta.Uid, Gid: meta.Gid}
	if err := fsOp.PlaceFile(destFs, dirMetadata, nil, skipChown); err != nil {
		return Errorf(store.ErrUnwritable, "checkout of %s failed: %s", path, err)
	}
	for _, f := range tree.Files {
		if err := r.checkoutFile(destFs, path.Join(fs.MustRelPath(f.Name)), f.Checksum, skipChown); err != nil {
			return err
		}
	}
	for _, d := range tree.Dirs {
		if err := r.checkoutDir(destFs, path.Join(fs.MustRelPath(d.Name)), d.Tree, d.Meta, skipChown); err != nil {
			return err
		}
	}
	if err := destFs.Chmod(path, meta.Perms); err != nil {
		return Errorf(store.ErrUnwritable, "checkout of %s failed: %s", path, err)
	}
	if err := destFs.SetTimesLNano(path, checkoutMtime, checkoutMtime); err != nil {
		return Errorf(store.ErrUnwritable, "checkout of %s failed: %s", path, err)
	}
	return nil
}

func (r *Repo) checkoutFile(destFs fs.FS, path fs.RelPath, c store.Checksum, skipChown bool) error {
	hdr, body, err := r.readFileObject(c)
	if err != nil {
		return err
	}
	if body != nil {
		defer body.Close()
	}
	fmeta := fs.Metadata{
		Name:     path,
		Type:     hdr.Type,
		Perms:    hdr.Perms,
		Uid:      hdr.Uid,
		Gid:      hdr.Gid,
		Linkname: hdr.Linkname,
		Mtime:    checkoutMtime,
	}
	if err := fsOp.PlaceFile(destFs, fmeta, body, skipChown); err != nil {
		return Errorf(store.ErrUnwritable, "checkout of %s failed: %s", path, err)
	}
	return nil
}
