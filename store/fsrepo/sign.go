package fsrepo

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"
	"golang.org/x/crypto/openpgp"

	"github.com/polydawn/treecommit/gpg"
	"github.com/polydawn/treecommit/store"
)

/*
	Sign a commit with the secret key matching keyID from GPGHomedir,
	appending the signature to the commit's detached metadata.

	Inside a transaction the new metadata is staged with everything else;
	otherwise it's written in place immediately.
*/
func (r *Repo) SignCommit(c store.Checksum, keyID string) error {
	payload, err := r.readObjectBytes(c, extCommit)
	if err != nil {
		return err
	}
	if r.GPGHomedir == "" {
		return Errorf(store.ErrSigning, "cannot sign with key %q: no gpg home directory configured", keyID)
	}
	keyring, err := gpg.LoadKeyrings(gpg.HomedirKeyrings(r.GPGHomedir)...)
	if err != nil {
		return Errorf(store.ErrSigning, "cannot sign with key %q: %s", keyID, err)
	}
	sig, err := gpg.Sign(keyring, keyID, payload)
	if err != nil {
		return ErrorDetailed(store.ErrSigning, "cannot sign with key "+keyID+": "+err.Error(),
			map[string]string{"key": keyID, "cause": fmt.Sprint(Category(err))})
	}

	meta, err := r.loadCommitMeta(c)
	if err != nil {
		return err
	}
	meta.Signatures = append(meta.Signatures, sig)
	bs, err := encMode.Marshal(meta)
	if err != nil {
		return Errorf(store.ErrCorrupt, "cannot encode commit metadata: %s", err)
	}
	dest := objectPath(c, extCommitMeta)
	if r.txn != nil {
		dest = r.txn.dir.Join(dest)
	}
	if err := r.writeFileAtomic(dest, bs, 0644); err != nil {
		return err
	}
	r.log().WithFields(logrus.Fields{
		"commit": c.String(),
		"key":    keyID,
	}).Info("signed commit")
	return nil
}

func (r *Repo) loadCommitMeta(c store.Checksum) (commitMeta, error) {
	var meta commitMeta
	err := r.readObject(c, extCommitMeta, &meta)
	if Category(err) == store.ErrNotFound {
		return commitMeta{}, nil
	}
	return meta, err
}

func (r *Repo) VerifyCommitSignatures(c store.Checksum) ([]store.Signature, error) {
	payload, err := r.readObjectBytes(c, extCommit)
	if err != nil {
		return nil, err
	}
	meta, err := r.loadCommitMeta(c)
	if err != nil {
		return nil, Errorf(store.ErrVerification, "commit %s metadata unreadable: %s", c, err)
	}
	if len(meta.Signatures) == 0 {
		return nil, Errorf(store.ErrNotFound, "commit %s is not signed", c)
	}
	keyring, err := r.trustedKeyring()
	if err != nil {
		return nil, Errorf(store.ErrVerification, "cannot load trusted keys: %s", err)
	}
	results := make([]store.Signature, 0, len(meta.Signatures))
	for i, sig := range meta.Signatures {
		result, err := gpg.Verify(keyring, payload, sig, r.now())
		if err != nil {
			return nil, Errorf(store.ErrVerification, "commit %s signature %d: %s", c, i, err)
		}
		results = append(results, result)
	}
	return results, nil
}

/*
	Every keyring a signature may be checked against: the repo's
	trusted.gpg, each remote's R.trustedkeys.gpg, and the public ring in
	GPGHomedir.
*/
func (r *Repo) trustedKeyring() (openpgp.EntityList, error) {
	paths := []string{r.basePath.Join(pathTrustedGPG).String()}
	remoteRings, err := filepath.Glob(filepath.Join(r.basePath.String(), "*"+remoteKeyringSuffix))
	if err != nil {
		return nil, err
	}
	paths = append(paths, remoteRings...)
	if r.GPGHomedir != "" {
		paths = append(paths, gpg.HomedirKeyrings(r.GPGHomedir)...)
	}
	return gpg.LoadKeyrings(paths...)
}
