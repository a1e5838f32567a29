package gpg

import (
	"bytes"
	"fmt"
	"time"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/polydawn/treecommit/store"
)

/*
	Check one detached signature over payload against keyring.

	A signature from a key not in the keyring comes back with KeyMissing
	set and no error.  Only an unparseable signature is an error
	(ErrBadSignature).
*/
func Verify(keyring openpgp.EntityList, payload, sigBytes []byte, now time.Time) (store.Signature, error) {
	p, err := packet.Read(bytes.NewReader(sigBytes))
	if err != nil {
		return store.Signature{}, Errorf(ErrBadSignature, "cannot parse signature: %s", err)
	}
	sig, ok := p.(*packet.Signature)
	if !ok {
		return store.Signature{}, Errorf(ErrBadSignature, "expected a v4 signature packet, got %T", p)
	}
	if sig.IssuerKeyId == nil {
		return store.Signature{}, Errorf(ErrBadSignature, "signature names no issuer key")
	}

	result := store.Signature{
		Timestamp:  sig.CreationTime.Unix(),
		PubkeyAlgo: pubkeyAlgoName(sig.PubKeyAlgo),
		HashAlgo:   sig.Hash.String(),
	}
	if sig.SigLifetimeSecs != nil && *sig.SigLifetimeSecs != 0 {
		exp := sig.CreationTime.Add(time.Duration(*sig.SigLifetimeSecs) * time.Second)
		result.ExpTimestamp = exp.Unix()
		result.SigExpired = now.After(exp)
	}

	keys := keyring.KeysById(*sig.IssuerKeyId)
	if len(keys) == 0 {
		result.KeyMissing = true
		result.Fingerprint = fmt.Sprintf("%016X", *sig.IssuerKeyId)
		return result, nil
	}
	key := keys[0]
	result.Fingerprint = fingerprintString(key.PublicKey.Fingerprint[:])
	if ident := primaryIdentity(key.Entity); ident != nil {
		result.UserName = ident.UserId.Name
		result.UserEmail = ident.UserId.Email
	}
	result.KeyRevoked = len(key.Entity.Revocations) > 0
	if key.SelfSignature != nil && key.SelfSignature.KeyLifetimeSecs != nil && *key.SelfSignature.KeyLifetimeSecs != 0 {
		exp := key.PublicKey.CreationTime.Add(time.Duration(*key.SelfSignature.KeyLifetimeSecs) * time.Second)
		result.KeyExpired = now.After(exp)
	}

	if !sig.Hash.Available() {
		return result, nil
	}
	h := sig.Hash.New()
	h.Write(payload)
	if err := key.PublicKey.VerifySignature(h, sig); err != nil {
		return result, nil
	}
	result.Valid = !result.SigExpired && !result.KeyExpired && !result.KeyRevoked
	return result, nil
}

func primaryIdentity(e *openpgp.Entity) *openpgp.Identity {
	var first *openpgp.Identity
	for _, ident := range e.Identities {
		if ident.UserId == nil {
			continue
		}
		if ident.SelfSignature != nil && ident.SelfSignature.IsPrimaryId != nil && *ident.SelfSignature.IsPrimaryId {
			return ident
		}
		if first == nil || ident.Name < first.Name {
			first = ident
		}
	}
	return first
}

func pubkeyAlgoName(algo packet.PublicKeyAlgorithm) string {
	switch algo {
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSASignOnly:
		return "RSA"
	case packet.PubKeyAlgoDSA:
		return "DSA"
	case packet.PubKeyAlgoECDSA:
		return "ECDSA"
	default:
		return fmt.Sprintf("algo-%d", algo)
	}
}
