/*
	Package compose runs the whole pipeline: turn an install root into a
	deployable tree in place, commit it, and clean up.
*/
package compose

import (
	"context"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/boot"
	"github.com/polydawn/treecommit/commit"
	"github.com/polydawn/treecommit/config"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/placer"
	"github.com/polydawn/treecommit/rootfs"
	"github.com/polydawn/treecommit/store"
	"github.com/polydawn/treecommit/store/fsrepo"
)

type Composer struct {
	Config config.Config

	// Runs depmod and dracut.  Nil means chrooting for real.
	Runner boot.Runner

	// Replaced in tests; nil means fsrepo.Open on Config.StorePath.
	OpenStore func(cfg config.Config) (store.ContentStore, error)
}

// The outcome of a Run.
type Result struct {
	Ref       string
	Checksum  store.Checksum
	Preserved bool // The committed tree was left at the install root path.
}

/*
	Compose the tree at installRoot and commit it onto ref.

	The new tree is built at `installRoot.tmp`, then swapped onto
	installRoot, so installRoot only ever holds the old install tree or
	the finished one.  That finished tree is what gets committed.  After
	the commit it is removed, unless Config.PreserveSupersededRoot is set;
	a failure to remove it is logged, and does not fail the run.

	May return errors of category:

	  - `treecommit.ErrUsage` -- if the repo can't be opened
	  - anything rootfs.Transformer.Transform, placer.Publish, or commit.Orchestrator.Commit return
*/
func (c *Composer) Run(ctx context.Context, installRoot fs.AbsolutePath, ref string) (Result, error) {
	cfg := c.Config
	log := cfg.Logger().WithField("ref", ref)

	st, err := c.openStore(cfg)
	if err != nil {
		return Result{}, err
	}

	xform := &rootfs.Transformer{
		Boot: &boot.Deduplicator{Runner: c.Runner, Log: cfg.Logger()},
		Log:  cfg.Logger(),
	}
	janitor, err := (&placer.Controller{Log: cfg.Logger()}).Publish(ctx, func(tmp fs.AbsolutePath) error {
		return xform.Transform(ctx, installRoot, tmp)
	}, installRoot)
	if err != nil {
		return Result{}, err
	}

	log.WithField("path", installRoot.String()).Info("committing")
	checksum, err := (&commit.Orchestrator{Store: st, Log: cfg.Logger()}).Commit(ctx, commit.Request{
		Path:     installRoot,
		Ref:      ref,
		Body:     cfg.CommitMessage,
		Metadata: cfg.Metadata,
		SignKey:  cfg.SignKey,
	})
	if err != nil {
		return Result{}, err
	}
	log.WithField("commit", checksum.String()).Info("committed")

	result := Result{Ref: ref, Checksum: checksum}
	if cfg.PreserveSupersededRoot {
		log.WithField("path", installRoot.String()).Info("preserved tree")
		result.Preserved = true
		return result, nil
	}
	if err := janitor.Teardown(); err != nil {
		log.WithField("cleanup", janitor.Description()).Warnf("cleanup failed: %s", err)
	}
	return result, nil
}

func (c *Composer) openStore(cfg config.Config) (store.ContentStore, error) {
	if c.OpenStore != nil {
		return c.OpenStore(cfg)
	}
	repo, err := OpenRepo(cfg)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

/*
	Open the fsrepo named by cfg.StorePath (or the default repo path),
	set up for signing from cfg's gpg homedir.
*/
func OpenRepo(cfg config.Config) (*fsrepo.Repo, error) {
	path := config.GetRepoBasePath()
	if cfg.StorePath != "" {
		var err error
		path, err = fs.ToAbsolutePath(cfg.StorePath)
		if err != nil {
			return nil, Errorf(treecommit.ErrUsage, "bad repo path %q: %s", cfg.StorePath, err)
		}
	}
	repo, err := fsrepo.Open(path)
	if err != nil {
		return nil, ErrorDetailed(treecommit.ErrUsage, "cannot open repo: "+err.Error(),
			map[string]string{"path": path.String(), "cause": err.Error()})
	}
	repo.GPGHomedir = cfg.GPGHome()
	repo.Log = cfg.Logger().WithField("repo", path.String())
	return repo, nil
}

// Convenience for a one-off run with the given config and no runner override.
func Run(ctx context.Context, cfg config.Config, installRoot fs.AbsolutePath, ref string) (Result, error) {
	return (&Composer{Config: cfg}).Run(ctx, installRoot, ref)
}
