package deployment

import (
	"io/ioutil"
	"os"
	"strings"

	"github.com/src-d/gcfg"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
)

// Origin says what a deployment tracks; read from its INI-style origin file.
type Origin struct {
	Refspec string // "remote:ref", or a bare "ref" for a local-only deployment

	// Set instead of Refspec on a deployment with packages layered over
	// its base commit; names the base.
	BaseRefspec string
}

type originFile struct {
	Origin struct {
		Refspec     string
		BaseRefspec string
	}
}

// Tracked is the refspec the deployment follows: its refspec, or failing
// that its baserefspec.  Empty for a nil Origin.
func (o *Origin) Tracked() string {
	if o == nil {
		return ""
	}
	if o.Refspec != "" {
		return o.Refspec
	}
	return o.BaseRefspec
}

/*
	Parse the text of an origin file:

		[origin]
		refspec = fedora:fedora/30/x86_64/silverblue

	A layered deployment has `baserefspec` in place of `refspec`.
	Other sections and keys are ignored.  A file with neither yields an
	empty Origin, not an error; only unparseable text is
	`treecommit.ErrMalformedOrigin`.
*/
func ParseOrigin(text string) (Origin, error) {
	var f originFile
	if err := gcfg.FatalOnly(gcfg.ReadStringInto(&f, text)); err != nil {
		return Origin{}, Errorf(treecommit.ErrMalformedOrigin, "malformed origin: %s", err)
	}
	return Origin{
		Refspec:     strings.TrimSpace(f.Origin.Refspec),
		BaseRefspec: strings.TrimSpace(f.Origin.BaseRefspec),
	}, nil
}

// LoadOrigin reads an origin file.  A file that doesn't exist yields nil.
func LoadOrigin(path string) (*Origin, error) {
	bs, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return nil, nil
	case err != nil:
		return nil, Errorf(treecommit.ErrMalformedOrigin, "cannot read origin %s: %s", path, err)
	}
	origin, err := ParseOrigin(string(bs))
	if err != nil {
		return nil, ErrorDetailed(treecommit.ErrMalformedOrigin, err.Error(), map[string]string{"path": path})
	}
	return &origin, nil
}

/*
	Split a refspec into remote and ref.  A refspec with no colon has no
	remote.  Either half being empty around a colon is malformed.
*/
func ParseRefspec(refspec string) (remote, ref string, err error) {
	if refspec == "" {
		return "", "", Errorf(treecommit.ErrMalformedOrigin, "empty refspec")
	}
	i := strings.IndexByte(refspec, ':')
	if i < 0 {
		return "", refspec, nil
	}
	remote, ref = refspec[:i], refspec[i+1:]
	if remote == "" || ref == "" {
		return "", "", Errorf(treecommit.ErrMalformedOrigin, "malformed refspec %q", refspec)
	}
	return remote, ref, nil
}
