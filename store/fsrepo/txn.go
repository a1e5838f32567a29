package fsrepo

import (
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
	"github.com/polydawn/treecommit/lib/guid"
	"github.com/polydawn/treecommit/store"
)

type transaction struct {
	dir  fs.RelPath // tmp/txn-GUID; staged objects mirror the objects/ layout under it
	refs map[string]store.Checksum
}

func (r *Repo) requireTxn(doing string) error {
	if r.txn == nil {
		return Errorf(store.ErrTransactionState, "cannot %s outside a transaction", doing)
	}
	return nil
}

func (r *Repo) BeginTransaction() error {
	if r.txn != nil {
		return Errorf(store.ErrTransactionState, "a transaction is already open")
	}
	dir := pathTmp.Join(fs.MustRelPath("txn-" + guid.New()))
	if err := r.afs.Mkdir(dir, 0755); err != nil {
		return Errorf(store.ErrUnwritable, "cannot open transaction: %s", err)
	}
	r.txn = &transaction{
		dir:  dir,
		refs: map[string]store.Checksum{},
	}
	r.log().WithField("txn", dir.Last()).Debug("transaction opened")
	return nil
}

func (r *Repo) SetRef(ref string, c store.Checksum) error {
	if err := r.requireTxn("set a ref"); err != nil {
		return err
	}
	if _, err := refPath(ref); err != nil {
		return err
	}
	if !r.hasObject(c, extCommit) {
		return Errorf(store.ErrNotFound, "cannot point ref %q at unknown commit %s", ref, c)
	}
	r.txn.refs[ref] = c
	return nil
}

/*
	Move every staged object into objects/, then write staged refs.

	An object already present is left alone.  Detached commit metadata is
	the exception; it is replaced, since signing appends to it.
	If moving objects fails, no ref has been written yet; the transaction
	stays open so the caller can abort it.
*/
func (r *Repo) CommitTransaction() error {
	if err := r.requireTxn("commit"); err != nil {
		return err
	}
	txn := r.txn
	stagedFs := osfs.New(r.basePath.Join(txn.dir))
	moved := 0
	err := fs.Walk(stagedFs, func(node *fs.FilewalkNode) error {
		if node.Err != nil {
			return node.Err
		}
		if node.Info.Type != fs.Type_File || node.Info.Name.Dir() == (fs.RelPath{}) {
			// Dirs, and leftover scratch files at the top of the staging dir.
			return nil
		}
		name := node.Info.Name
		dest := name
		if _, err := r.afs.LStat(dest); err == nil && !strings.HasSuffix(name.Last(), "."+extCommitMeta) {
			return nil
		}
		if err := mkdirParent(r.afs, dest); err != nil {
			return err
		}
		moved++
		return r.afs.Rename(txn.dir.Join(name), dest)
	}, nil)
	if err != nil {
		return Errorf(store.ErrUnwritable, "cannot move staged objects into place: %s", err)
	}

	refs := make([]string, 0, len(txn.refs))
	for ref := range txn.refs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		if err := r.writeRef(ref, txn.refs[ref]); err != nil {
			return err
		}
	}

	r.txn = nil
	if err := r.afs.RemoveAll(txn.dir); err != nil {
		r.log().WithField("txn", txn.dir.Last()).Warnf("could not remove staging dir: %s", err)
	}
	r.log().WithFields(logrus.Fields{
		"objects": moved,
		"refs":    len(refs),
	}).Debug("transaction committed")
	return nil
}

func (r *Repo) AbortTransaction() error {
	if r.txn == nil {
		return nil
	}
	txn := r.txn
	r.txn = nil
	if err := r.afs.RemoveAll(txn.dir); err != nil {
		return Errorf(store.ErrUnwritable, "cannot remove staging dir of aborted transaction: %s", err)
	}
	r.log().WithField("txn", txn.dir.Last()).Debug("transaction aborted")
	return nil
}
