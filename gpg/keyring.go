/*
	Package gpg signs and checks detached OpenPGP signatures over commit
	objects, using keyring files in the layout gpg(1) has historically
	written: `pubring.gpg` and `secring.gpg` in a home directory.
*/
package gpg

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/crypto/openpgp"
)

type ErrorCategory string

const (
	ErrKeyNotFound  = ErrorCategory("gpg-key-not-found")
	ErrKeyLocked    = ErrorCategory("gpg-key-locked") // Passphrase-protected secret keys are not supported.
	ErrKeyring      = ErrorCategory("gpg-keyring")    // A keyring file exists but can't be read.
	ErrBadSignature = ErrorCategory("gpg-bad-signature")
)

const (
	PubringName = "pubring.gpg"
	SecringName = "secring.gpg"
)

/*
	Read and concatenate keyring files.

	Files may be binary or ASCII-armored.  A path that doesn't exist is
	skipped, so callers can offer every conventional location.
*/
func LoadKeyrings(paths ...string) (openpgp.EntityList, error) {
	var all openpgp.EntityList
	for _, path := range paths {
		f, err := os.Open(path)
		switch {
		case os.IsNotExist(err):
			continue
		case err != nil:
			return nil, Errorf(ErrKeyring, "cannot open keyring %s: %s", path, err)
		}
		list, err := readKeyring(f)
		f.Close()
		if err != nil {
			return nil, Errorf(ErrKeyring, "cannot read keyring %s: %s", path, err)
		}
		all = append(all, list...)
	}
	return all, nil
}

func readKeyring(f *os.File) (openpgp.EntityList, error) {
	r := bufio.NewReader(f)
	peek, _ := r.Peek(64)
	if bytes.HasPrefix(bytes.TrimSpace(peek), []byte("-----BEGIN PGP")) {
		return openpgp.ReadArmoredKeyRing(r)
	}
	return openpgp.ReadKeyRing(r)
}

// Both rings in a gpg home directory.
func HomedirKeyrings(homedir string) []string {
	return []string{
		filepath.Join(homedir, SecringName),
		filepath.Join(homedir, PubringName),
	}
}

/*
	Find the entity whose primary key or a subkey matches keyID.

	keyID may be a full fingerprint, a long (16 hex) or short (8 hex) key
	id, optionally prefixed with "0x", or exactly the email of one of the
	entity's identities.
*/
func FindEntity(keyring openpgp.EntityList, keyID string) (*openpgp.Entity, error) {
	want := strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(keyID, "0x"), "0X"))
	for _, e := range keyring {
		if keyMatches(e, want) {
			return e, nil
		}
		for _, ident := range e.Identities {
			if ident.UserId != nil && ident.UserId.Email == keyID {
				return e, nil
			}
		}
	}
	return nil, Errorf(ErrKeyNotFound, "no key matching %q in keyring", keyID)
}

func keyMatches(e *openpgp.Entity, want string) bool {
	if idMatches(e.PrimaryKey.Fingerprint[:], e.PrimaryKey.KeyIdString(), e.PrimaryKey.KeyIdShortString(), want) {
		return true
	}
	for _, sub := range e.Subkeys {
		if idMatches(sub.PublicKey.Fingerprint[:], sub.PublicKey.KeyIdString(), sub.PublicKey.KeyIdShortString(), want) {
			return true
		}
	}
	return false
}

func idMatches(fingerprint []byte, long, short, want string) bool {
	return fingerprintString(fingerprint) == want || long == want || short == want
}

func fingerprintString(fp []byte) string {
	return strings.ToUpper(hex.EncodeToString(fp))
}
