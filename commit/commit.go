/*
	Package commit drives one store transaction over a finished tree:
	scan it in, write a commit on top of the ref's current head, sign it
	if asked, and move the ref.  Either all of that lands, or none of the
	store's refs change.
*/
package commit

import (
	"context"

	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/config"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/store"
)

type Request struct {
	Path      fs.AbsolutePath // The tree to commit.
	Ref       string
	ParentRef string // Empty means Ref.
	Subject   string
	Body      string
	Metadata  map[string]string
	SignKey   string // Empty means unsigned.
}

type Orchestrator struct {
	Store store.ContentStore
	Log   logrus.FieldLogger
}

// Step names, as reported in the "step" detail of errors.
const (
	StepBegin         = "begin-transaction"
	StepWriteTree     = "write-directory"
	StepFinalizeTree  = "write-tree"
	StepResolveParent = "resolve-parent"
	StepWriteCommit   = "write-commit"
	StepSign          = "sign-commit"
	StepSetRef        = "set-ref"
	StepCommitTxn     = "commit-transaction"
)

/*
	Commit the tree at req.Path onto req.Ref and return the new commit.

	A missing parent ref is the first-commit case, not an error.
	Extended attributes are not recorded, so SELinux labels are lost; a
	warning says so on every call.

	May return errors of category:

	  - `treecommit.ErrStoreTransaction` -- for any failed step; details carry "step" and "ref".  The transaction is aborted.
	  - `treecommit.ErrCancelled` -- also aborting the transaction
*/
func (o *Orchestrator) Commit(ctx context.Context, req Request) (store.Checksum, error) {
	log := o.Log
	if log == nil {
		log = config.NullLogger()
	}
	log = log.WithField("ref", req.Ref)
	parentRef := req.ParentRef
	if parentRef == "" {
		parentRef = req.Ref
	}

	if err := o.Store.BeginTransaction(); err != nil {
		return "", stepError(StepBegin, req.Ref, err)
	}
	var (
		mtree  = store.NewMutableTree()
		root   store.Root
		parent store.Checksum
		result store.Checksum
	)
	steps := []struct {
		name string
		fn   func() error
	}{
		{StepWriteTree, func() error {
			log.WithField("path", req.Path.String()).Info("writing tree")
			log.Warn("extended attributes are not recorded; SELinux labeling of committed content is not supported")
			return o.Store.WriteDirectoryToTree(mtree, req.Path, &store.Modifier{SkipXattrs: true})
		}},
		{StepFinalizeTree, func() (err error) {
			root, err = o.Store.WriteTree(mtree)
			return
		}},
		{StepResolveParent, func() (err error) {
			parent, err = o.Store.ResolveRev(parentRef, true)
			if err == nil && parent.IsZero() {
				log.WithField("parent", parentRef).Info("no parent; this is the first commit")
			}
			return
		}},
		{StepWriteCommit, func() (err error) {
			result, err = o.Store.WriteCommit(parent, req.Subject, req.Body, req.Metadata, root)
			return
		}},
		{StepSign, func() error {
			if req.SignKey == "" {
				return nil
			}
			return o.Store.SignCommit(result, req.SignKey)
		}},
		{StepSetRef, func() error {
			return o.Store.SetRef(req.Ref, result)
		}},
		{StepCommitTxn, func() error {
			return o.Store.CommitTransaction()
		}},
	}
	for _, step := range steps {
		if ctx.Err() != nil {
			o.abort(log)
			return "", ErrorDetailed(treecommit.ErrCancelled, "commit of "+req.Ref+" cancelled before "+step.name,
				map[string]string{"step": step.name, "ref": req.Ref})
		}
		if err := step.fn(); err != nil {
			o.abort(log)
			return "", stepError(step.name, req.Ref, err)
		}
	}
	log.WithFields(logrus.Fields{
		"commit": result.String(),
		"parent": parent.String(),
	}).Info("committed")
	return result, nil
}

func (o *Orchestrator) abort(log logrus.FieldLogger) {
	if err := o.Store.AbortTransaction(); err != nil {
		log.Warnf("aborting transaction: %s", err)
	}
}

func stepError(step, ref string, err error) error {
	return ErrorDetailed(treecommit.ErrStoreTransaction,
		"commit of "+ref+" failed at "+step+": "+err.Error(),
		map[string]string{"step": step, "ref": ref, "cause": err.Error()})
}
