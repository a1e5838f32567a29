package fsrepo

import (
	"bytes"
	"os"
	"strconv"
	"strings"

	"github.com/src-d/gcfg/types"
	. "github.com/warpfork/go-errcat"
	gitconfig "gopkg.in/src-d/go-git.v4/plumbing/format/config"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/store"
)

const (
	repoVersion = 1

	sectionCore   = "core"
	sectionRemote = "remote"
	keyRepoVer    = "repo-version"
	keyMode       = "mode"
	keyURL        = "url"
	keyGPGVerify  = "gpg-verify"
)

/*
	The repo's `config` file, in git-config syntax:

		[core]
			repo-version = 1
			mode = bare
		[remote "fedora"]
			url = https://example.org/repo
			gpg-verify = true

	Sections and keys not named here are kept as read and written back out
	when the file is rewritten.
*/
type repoConfig struct {
	raw *gitconfig.Config
}

func newRepoConfig(mode Mode) repoConfig {
	raw := gitconfig.New()
	raw.Section(sectionCore).
		SetOption(keyRepoVer, strconv.Itoa(repoVersion)).
		SetOption(keyMode, string(mode))
	return repoConfig{raw}
}

func (cfg repoConfig) mode() Mode {
	return Mode(cfg.raw.Section(sectionCore).Option(keyMode))
}

// Looked up without Section(), which would add an empty section as a side effect.
func (cfg repoConfig) remote(name string) (*gitconfig.Subsection, bool) {
	for _, s := range cfg.raw.Sections {
		if !s.IsName(sectionRemote) {
			continue
		}
		for _, ss := range s.Subsections {
			if ss.Name == name {
				return ss, true
			}
		}
	}
	return nil, false
}

func readConfig(afs fs.FS) (repoConfig, error) {
	path := afs.BasePath().Join(pathConfig)
	f, err := afs.OpenFile(pathConfig, os.O_RDONLY, 0)
	if err != nil {
		return repoConfig{}, Errorf(store.ErrNotFound, "no repo at %s: %s", afs.BasePath(), err)
	}
	defer f.Close()
	raw := gitconfig.New()
	if err := gitconfig.NewDecoder(f).Decode(raw); err != nil {
		return repoConfig{}, Errorf(store.ErrCorrupt, "cannot read repo config %s: %s", path, err)
	}
	cfg := repoConfig{raw}
	switch cfg.mode() {
	case ModeBare, ModeArchive:
	default:
		return repoConfig{}, Errorf(store.ErrCorrupt, "repo config %s has unknown mode %q", path, cfg.mode())
	}
	return cfg, nil
}

func writeConfig(afs fs.FS, cfg repoConfig) error {
	var buf bytes.Buffer
	if err := gitconfig.NewEncoder(&buf).Encode(cfg.raw); err != nil {
		return Errorf(store.ErrUnwritable, "cannot encode repo config: %s", err)
	}
	r := &Repo{basePath: afs.BasePath(), afs: afs}
	return r.writeFileAtomic(pathConfig, buf.Bytes(), 0644)
}

/*
	Add a remote to the repo's config.  A remote of the same name
	already present is an error.
*/
func (r *Repo) AddRemote(name, url string, gpgVerify bool) error {
	if err := validateRemoteName(name); err != nil {
		return err
	}
	if err := validateRemoteURL(url); err != nil {
		return err
	}
	if _, exists := r.cfg.remote(name); exists {
		return Errorf(store.ErrUsage, "remote %q already exists", name)
	}
	// Work on a copy, so a failed write leaves r.cfg as it was.
	next, err := r.cfg.clone()
	if err != nil {
		return err
	}
	next.raw.Section(sectionRemote).Subsection(name).
		SetOption(keyURL, url).
		SetOption(keyGPGVerify, strconv.FormatBool(gpgVerify))
	if err := writeConfig(r.afs, next); err != nil {
		return err
	}
	r.cfg = next
	return nil
}

func (cfg repoConfig) clone() (repoConfig, error) {
	var buf bytes.Buffer
	if err := gitconfig.NewEncoder(&buf).Encode(cfg.raw); err != nil {
		return repoConfig{}, Errorf(store.ErrUnwritable, "cannot encode repo config: %s", err)
	}
	raw := gitconfig.New()
	if err := gitconfig.NewDecoder(&buf).Decode(raw); err != nil {
		return repoConfig{}, Errorf(store.ErrCorrupt, "cannot reread repo config: %s", err)
	}
	return repoConfig{raw}, nil
}

func (r *Repo) RemoteURL(name string) (string, error) {
	remote, ok := r.cfg.remote(name)
	if !ok {
		return "", Errorf(store.ErrNotFound, "no remote named %q", name)
	}
	return remote.Option(keyURL), nil
}

// Unset means true.
func (r *Repo) RemoteGPGVerify(name string) (bool, error) {
	remote, ok := r.cfg.remote(name)
	if !ok {
		return false, Errorf(store.ErrNotFound, "no remote named %q", name)
	}
	raw := remote.Option(keyGPGVerify)
	if raw == "" {
		return true, nil
	}
	v, err := types.ParseBool(raw)
	if err != nil {
		return false, Errorf(store.ErrCorrupt, "remote %q: bad gpg-verify value %q", name, raw)
	}
	return v, nil
}

func validateRemoteName(name string) error {
	if name == "" || strings.ContainsAny(name, "/:\"\\ \t\n") || strings.HasPrefix(name, ".") {
		return Errorf(store.ErrUsage, "invalid remote name %q", name)
	}
	return nil
}

// Config values are written bare, so anything a reader would take as a
// comment, a quote, or an escape can't be in a URL.
func validateRemoteURL(url string) error {
	if url == "" || strings.ContainsAny(url, ";#\"\\ \t\r\n") {
		return Errorf(store.ErrUsage, "invalid remote url %q", url)
	}
	return nil
}
