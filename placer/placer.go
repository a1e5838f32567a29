/*
	Package placer makes a tree appear at a path all at once.

	A tree is built beside its final location and then renamed over it,
	so anyone looking at the final path sees either the old complete tree
	or the new complete tree, never something half-populated.
*/
package placer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/config"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
)

// Suffix for the staging path a tree is built in before publishing.
const StagingSuffix = ".tmp"

type BuildFunc func(tmp fs.AbsolutePath) error

type Janitor interface {
	// Describe, in a shell-like way, what the teardown would do.
	// (e.g. 'rm -rf' plus the absolute path.)
	Description() string

	// Do the teardown.
	Teardown() error

	// Whether or not to always attempt the teardown, even when other teardowns
	// in a group have errored.
	AlwaysTry() bool
}

var rootFs = osfs.New(fs.MustAbsolutePath("/")) // handy, since placers are always absolutized

type Controller struct {
	Log logrus.FieldLogger
}

/*
	Publish runs build against `final.tmp`, then swaps the result onto final.

	Any stale staging tree from an earlier, interrupted run is removed
	first.  If build fails, final is untouched and the partial staging tree
	is left where it is for the next run to clear.  Once build succeeds the
	old tree at final is sacrificed: it's removed, then the staging tree
	renamed into its place.  There is no rollback of that removal.

	The returned Janitor removes final; it's how a caller discards the
	published tree once it's been committed elsewhere.

	May return errors of category:

	  - `treecommit.ErrTransformStepFailed` -- clearing or renaming failed; the "step" detail is "publish"
	  - `treecommit.ErrCancelled`
	  - whatever build returns
*/
func (c *Controller) Publish(ctx context.Context, build BuildFunc, final fs.AbsolutePath) (Janitor, error) {
	log := c.Log
	if log == nil {
		log = config.NullLogger()
	}
	tmp := final.Sibling(StagingSuffix)

	if err := rootFs.RemoveAll(tmp.CoerceRelative()); err != nil {
		return nil, publishError(tmp, "clearing stale staging tree", err)
	}
	if err := checkCancelled(ctx, final); err != nil {
		return nil, err
	}
	log.WithField("path", tmp.String()).Debug("building staging tree")
	if err := build(tmp); err != nil {
		return nil, err
	}
	if err := checkCancelled(ctx, final); err != nil {
		return nil, err
	}
	if err := rootFs.RemoveAll(final.CoerceRelative()); err != nil {
		return nil, publishError(final, "removing superseded tree", err)
	}
	if err := rootFs.Rename(tmp.CoerceRelative(), final.CoerceRelative()); err != nil {
		return nil, publishError(final, "renaming staging tree into place", err)
	}
	log.WithField("path", final.String()).Info("published tree")
	return removeJanitor{final}, nil
}

// Publish with a silent Controller.
func Publish(ctx context.Context, build BuildFunc, final fs.AbsolutePath) (Janitor, error) {
	return (&Controller{}).Publish(ctx, build, final)
}

func checkCancelled(ctx context.Context, final fs.AbsolutePath) error {
	if ctx.Err() == nil {
		return nil
	}
	return ErrorDetailed(treecommit.ErrCancelled, "publish of "+final.String()+" cancelled",
		map[string]string{"step": "publish", "path": final.String()})
}

func publishError(path fs.AbsolutePath, doing string, err error) error {
	return ErrorDetailed(treecommit.ErrTransformStepFailed,
		fmt.Sprintf("error %s at %s: %s", doing, path, err),
		map[string]string{"step": "publish", "path": path.String(), "cause": err.Error()})
}

type removeJanitor struct {
	path fs.AbsolutePath
}

func (j removeJanitor) Description() string {
	return fmt.Sprintf("rm -rf %q;", j.path)
}
func (j removeJanitor) Teardown() error {
	if err := rootFs.RemoveAll(j.path.CoerceRelative()); err != nil {
		return Errorf(treecommit.ErrTransformStepFailed, "error tearing down %s: %s", j.path, err)
	}
	return nil
}
func (j removeJanitor) AlwaysTry() bool { return false }
