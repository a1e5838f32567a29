/*
	Helpers for loading contextual config.

	Config here means "things that are the host operator's concerns": where
	the repo lives, whether to keep the superseded root around for
	debugging, which key signs commits.  Everything is gathered once, at
	the edge of the program, into a Config value which is then passed
	down explicitly.  Nothing below the CLI reads the environment.
*/
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/fs"
)

const (
	EnvRepo           = "TREECOMMIT_REPO"
	EnvPreserveRootfs = "TREECOMMIT_PRESERVE_ROOTFS"
	EnvGPGHome        = "GNUPGHOME"
	DefaultRepoPath   = "/ostree/repo"
)

type Config struct {
	// Keep the install root after a successful commit instead of removing it.
	PreserveSupersededRoot bool `toml:"preserve_superseded_root"`

	// Repo to commit into.  Empty means GetRepoBasePath().
	StorePath string `toml:"repo"`

	CommitMessage string            `toml:"message"`
	SignKey       string            `toml:"gpg_sign"`    // key id; empty means no signature
	GPGHomedir    string            `toml:"gpg_homedir"` // empty means $GNUPGHOME, then ~/.gnupg
	Metadata      map[string]string `toml:"metadata"`    // extra commit metadata, e.g. "version"

	Log logrus.FieldLogger `toml:"-"`
}

/*
	Assemble a Config from the environment, logging to stderr.
*/
func FromEnv() Config {
	return Config{
		PreserveSupersededRoot: envBool(EnvPreserveRootfs),
		StorePath:              GetRepoBasePath().String(),
		GPGHomedir:             os.Getenv(EnvGPGHome),
		Log:                    NewLogger(os.Stderr),
	}
}

/*
	Overlay settings from a TOML file onto cfg.  Keys present in the file
	win over what cfg already holds; keys we don't know are a usage error
	rather than being silently ignored.
*/
func LoadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return Errorf(treecommit.ErrUsage, "config: cannot read %s: %s", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Errorf(treecommit.ErrUsage, "config: unknown key %q in %s", undecoded[0].String(), path)
	}
	return nil
}

/*
	Return the path of the repo to commit into.

	The default value is `"/ostree/repo"`;
	this can be overriden by the `TREECOMMIT_REPO` environment variable.
*/
func GetRepoBasePath() fs.AbsolutePath {
	pth := os.Getenv(EnvRepo)
	if pth == "" {
		pth = DefaultRepoPath
	}
	abs, err := fs.ToAbsolutePath(pth)
	if err != nil {
		panic(err)
	}
	return abs
}

// Any set value other than a recognizable false counts as true,
// so `TREECOMMIT_PRESERVE_ROOTFS=1` and `=yes` both work.
func envBool(key string) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

/*
	Where to look for signing keys: cfg.GPGHomedir if set, otherwise
	"~/.gnupg".  (FromEnv has already folded in $GNUPGHOME.)
*/
func (cfg Config) GPGHome() string {
	if cfg.GPGHomedir != "" {
		return cfg.GPGHomedir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gnupg")
}

// Logger returns cfg.Log, or a logger that writes nowhere if none was set.
func (cfg Config) Logger() logrus.FieldLogger {
	if cfg.Log != nil {
		return cfg.Log
	}
	return NullLogger()
}
