package fsrepo

import (
	"io/ioutil"
	"os"
	"strings"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/fs/osfs"
	"github.com/polydawn/treecommit/store"
)

/*
	Map a ref name to its file.  "remote:name" refs live under
	refs/remotes/remote/; everything else under refs/heads/.
*/
func refPath(ref string) (fs.RelPath, error) {
	base := pathRefsHeads
	name := ref
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		remote := ref[:i]
		if err := validateRemoteName(remote); err != nil {
			return fs.RelPath{}, err
		}
		base = pathRefsRemotes.Join(fs.MustRelPath(remote))
		name = ref[i+1:]
	}
	if err := validateRefName(name); err != nil {
		return fs.RelPath{}, err
	}
	return base.Join(fs.MustRelPath(name)), nil
}

func validateRefName(name string) error {
	if name == "" {
		return Errorf(store.ErrUsage, "empty ref name")
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || strings.HasPrefix(seg, ".") {
			return Errorf(store.ErrUsage, "invalid ref name %q", name)
		}
		for _, c := range seg {
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			case c == '-', c == '_', c == '.':
			default:
				return Errorf(store.ErrUsage, "invalid ref name %q", name)
			}
		}
	}
	return nil
}

func (r *Repo) ResolveRev(ref string, allowMissing bool) (store.Checksum, error) {
	if store.IsChecksum(ref) {
		c := store.Checksum(ref)
		if r.hasObject(c, extCommit) {
			return c, nil
		}
		if allowMissing {
			return "", nil
		}
		return "", Errorf(store.ErrNotFound, "no commit %s", c)
	}
	path, err := refPath(ref)
	if err != nil {
		return "", err
	}
	f, err := r.afs.OpenFile(path, os.O_RDONLY, 0)
	switch Category(err) {
	case nil:
	case fs.ErrNotExists, fs.ErrNotDir:
		if allowMissing {
			return "", nil
		}
		return "", Errorf(store.ErrNotFound, "no such ref %q", ref)
	default:
		return "", Errorf(store.ErrCorrupt, "cannot read ref %q: %s", ref, err)
	}
	defer f.Close()
	bs, err := ioutil.ReadAll(f)
	if err != nil {
		return "", Errorf(store.ErrCorrupt, "cannot read ref %q: %s", ref, err)
	}
	c, err := store.ParseChecksum(strings.TrimSpace(string(bs)))
	if err != nil {
		return "", Errorf(store.ErrCorrupt, "ref %q does not hold a checksum", ref)
	}
	return c, nil
}

func (r *Repo) writeRef(ref string, c store.Checksum) error {
	path, err := refPath(ref)
	if err != nil {
		return err
	}
	return r.writeFileAtomic(path, []byte(c.String()+"\n"), 0644)
}

// ListRefs returns every local ref and the commit it points at.
func (r *Repo) ListRefs() (map[string]store.Checksum, error) {
	refs := map[string]store.Checksum{}
	headsFs := osfs.New(r.basePath.Join(pathRefsHeads))
	err := fs.Walk(headsFs, func(node *fs.FilewalkNode) error {
		if node.Err != nil {
			return node.Err
		}
		if node.Info.Type != fs.Type_File {
			return nil
		}
		ref := node.Info.Name.Bare()
		c, err := r.ResolveRev(ref, false)
		if err != nil {
			return err
		}
		refs[ref] = c
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return refs, nil
}
