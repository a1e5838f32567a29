package gpg

import (
	"bytes"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/crypto/openpgp"
)

/*
	Produce a binary detached signature over payload with the secret key
	matching keyID.

	May return errors of category:

	  - `ErrKeyNotFound` -- if no entity matches, or the match has no secret key
	  - `ErrKeyLocked` -- if the secret key is passphrase-protected
	  - `ErrBadSignature` -- if signing itself fails
*/
func Sign(keyring openpgp.EntityList, keyID string, payload []byte) ([]byte, error) {
	signer, err := FindEntity(keyring, keyID)
	if err != nil {
		return nil, err
	}
	if signer.PrivateKey == nil {
		return nil, Errorf(ErrKeyNotFound, "key %q has no secret part in keyring", keyID)
	}
	if signer.PrivateKey.Encrypted {
		return nil, Errorf(ErrKeyLocked, "secret key %q is passphrase-protected; unlocking is not supported", keyID)
	}
	var buf bytes.Buffer
	if err := openpgp.DetachSign(&buf, signer, bytes.NewReader(payload), nil); err != nil {
		return nil, Errorf(ErrBadSignature, "signing with key %q failed: %s", keyID, err)
	}
	return buf.Bytes(), nil
}
