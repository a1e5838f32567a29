/*
	Package fsrepo is a content store laid out in a plain directory.

	config              -- git-config style; repo mode and remotes
	objects/ab/cdef...  -- content-addressed objects, fanned out by checksum prefix
	refs/heads/NAME     -- local refs; one checksum per file
	refs/remotes/R/NAME -- refs belonging to remote R
	tmp/                -- transaction staging and scratch files
	trusted.gpg         -- keys whose signatures are trusted for any commit
	R.trustedkeys.gpg   -- keys trusted for commits from remote R

	Objects are written into a transaction's staging dir, then renamed
	into objects/ when the transaction commits.  Refs are only touched
	after every staged object is in place.
*/
package fsrepo

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/config"
	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
	"github.com/polydawn/treecommit/fsOp"
	"github.com/polydawn/treecommit/lib/guid"
	"github.com/polydawn/treecommit/store"
)

var _ store.ContentStore = &Repo{}

type Mode string

const (
	ModeBare    = Mode("bare")    // File content stored as-is.
	ModeArchive = Mode("archive") // File content zstd-compressed; suited to serving over a network.
)

var (
	pathConfig      = fs.MustRelPath("config")
	pathObjects     = fs.MustRelPath("objects")
	pathRefsHeads   = fs.MustRelPath("refs/heads")
	pathRefsRemotes = fs.MustRelPath("refs/remotes")
	pathTmp         = fs.MustRelPath("tmp")
	pathTrustedGPG  = fs.MustRelPath("trusted.gpg")
)

const remoteKeyringSuffix = ".trustedkeys.gpg"

type Repo struct {
	basePath fs.AbsolutePath
	afs      fs.FS
	cfg      repoConfig
	txn      *transaction

	// Where the signing keyring lives; see gpg.HomedirKeyrings.
	// Its public ring is also consulted when verifying.
	GPGHomedir string

	Log logrus.FieldLogger

	// Stamped into commits.  Replaced in tests.
	Now func() time.Time
}

/*
	Create an empty repo at path.  Parent dirs are created as needed;
	an existing repo at path is an error.

	May return errors of category:

	  - `store.ErrUsage` -- for an unknown mode, or if a repo is already there
	  - `store.ErrUnwritable`
*/
func Init(path fs.AbsolutePath, mode Mode) (*Repo, error) {
	switch mode {
	case ModeBare, ModeArchive:
	default:
		return nil, Errorf(store.ErrUsage, "unknown repo mode %q (valid options are 'bare' or 'archive')", mode)
	}
	rootFs := osfs.New(fs.MustAbsolutePath("/"))
	if err := fsOp.MkdirAll(rootFs, path.CoerceRelative(), 0755); err != nil {
		return nil, Errorf(store.ErrUnwritable, "cannot create repo dir %s: %s", path, err)
	}
	afs := osfs.New(path)
	if _, err := afs.LStat(pathConfig); err == nil {
		return nil, Errorf(store.ErrUsage, "a repo already exists at %s", path)
	}
	for _, dir := range []fs.RelPath{pathObjects, pathRefsHeads, pathRefsRemotes, pathTmp} {
		if err := fsOp.MkdirAll(afs, dir, 0755); err != nil {
			return nil, Errorf(store.ErrUnwritable, "cannot initialize repo at %s: %s", path, err)
		}
	}
	if err := writeConfig(afs, newRepoConfig(mode)); err != nil {
		return nil, err
	}
	return Open(path)
}

/*
	Open an existing repo.

	May return errors of category:

	  - `store.ErrNotFound` -- if there's no repo at path
	  - `store.ErrCorrupt` -- if its config can't be read
*/
func Open(path fs.AbsolutePath) (*Repo, error) {
	afs := osfs.New(path)
	cfg, err := readConfig(afs)
	if err != nil {
		return nil, err
	}
	return &Repo{
		basePath: path,
		afs:      afs,
		cfg:      cfg,
		Log:      config.NullLogger(),
		Now:      time.Now,
	}, nil
}

func (r *Repo) BasePath() fs.AbsolutePath { return r.basePath }

func (r *Repo) Mode() Mode { return r.cfg.mode() }

func (r *Repo) log() logrus.FieldLogger {
	if r.Log == nil {
		return config.NullLogger()
	}
	return r.Log
}

func (r *Repo) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Scratch file name under tmp/, unique to this call.
func (r *Repo) scratchPath(prefix string) fs.RelPath {
	return pathTmp.Join(fs.MustRelPath(prefix + guid.New()))
}

// Write content to a scratch file, then rename it onto dest.
func (r *Repo) writeFileAtomic(dest fs.RelPath, content []byte, perms fs.Perms) error {
	if err := fsOp.MkdirAll(r.afs, dest.Dir(), 0755); err != nil {
		return Errorf(store.ErrUnwritable, "cannot write %s: %s", dest, err)
	}
	scratch := r.scratchPath(".write.")
	f, err := r.afs.OpenFile(scratch, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perms)
	if err != nil {
		return Errorf(store.ErrUnwritable, "cannot write %s: %s", dest, err)
	}
	_, err = f.Write(content)
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		r.afs.Remove(scratch)
		return Errorf(store.ErrUnwritable, "cannot write %s: %s", dest, err)
	}
	if err := r.afs.Rename(scratch, dest); err != nil {
		r.afs.Remove(scratch)
		return Errorf(store.ErrUnwritable, "cannot write %s: %s", dest, err)
	}
	return nil
}
