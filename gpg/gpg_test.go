package gpg

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	"github.com/polydawn/treecommit/fs"
	"github.com/polydawn/treecommit/testutil"
)

func newTestEntity(name, email string) *openpgp.Entity {
	e, err := openpgp.NewEntity(name, "test", email, &packet.Config{RSABits: 1024})
	if err != nil {
		panic(err)
	}
	return e
}

// Generated once: goconvey reruns each root block per leaf, and the
// leaves must come out the same every pass.
var (
	alice   = newTestEntity("Alice", "alice@example.org")
	bob     = newTestEntity("Bob", "bob@example.org")
	release = newTestEntity("Release Key", "release@example.org")
)

func TestSignAndVerify(t *testing.T) {
	Convey("Signing and verifying detached signatures:", t, func() {
		signer := release
		keyring := openpgp.EntityList{signer}
		payload := []byte("commit object bytes")
		now := time.Now()

		sig, err := Sign(keyring, signer.PrimaryKey.KeyIdString(), payload)
		So(err, ShouldBeNil)
		So(sig, ShouldNotBeEmpty)

		Convey("a good signature checks out", func() {
			result, err := Verify(keyring, payload, sig, now)
			So(err, ShouldBeNil)
			So(result.Valid, ShouldBeTrue)
			So(result.KeyMissing, ShouldBeFalse)
			So(result.Fingerprint, ShouldEqual, fingerprintString(signer.PrimaryKey.Fingerprint[:]))
			So(result.Fingerprint, ShouldHaveLength, 40)
			So(result.UserName, ShouldEqual, "Release Key")
			So(result.UserEmail, ShouldEqual, "release@example.org")
			So(result.PubkeyAlgo, ShouldEqual, "RSA")
			So(result.HashAlgo, ShouldEqual, "SHA-256")
			So(result.Timestamp, ShouldBeGreaterThan, 0)
		})
		Convey("a changed payload is reported invalid, not as an error", func() {
			result, err := Verify(keyring, []byte("other bytes"), sig, now)
			So(err, ShouldBeNil)
			So(result.Valid, ShouldBeFalse)
			So(result.KeyMissing, ShouldBeFalse)
		})
		Convey("an unknown signer is reported by key id", func() {
			result, err := Verify(openpgp.EntityList{}, payload, sig, now)
			So(err, ShouldBeNil)
			So(result.Valid, ShouldBeFalse)
			So(result.KeyMissing, ShouldBeTrue)
			So(result.Fingerprint, ShouldEqual, signer.PrimaryKey.KeyIdString())
		})
		Convey("garbage is not a signature", func() {
			_, err := Verify(keyring, payload, []byte("not a packet"), now)
			So(err, errcat.ErrorShouldHaveCategory, ErrBadSignature)
		})
		Convey("signing needs a key that's in the ring", func() {
			_, err := Sign(keyring, "DEADBEEF", payload)
			So(err, errcat.ErrorShouldHaveCategory, ErrKeyNotFound)
		})
		Convey("signing needs the secret half", func() {
			var pub bytes.Buffer
			So(signer.Serialize(&pub), ShouldBeNil)
			pubOnly, err := openpgp.ReadKeyRing(&pub)
			So(err, ShouldBeNil)
			_, err = Sign(pubOnly, "release@example.org", payload)
			So(err, errcat.ErrorShouldHaveCategory, ErrKeyNotFound)
		})
	})
}

func TestFindEntity(t *testing.T) {
	Convey("Finding keys by id:", t, func() {
		keyring := openpgp.EntityList{alice, bob}
		for _, tr := range []struct {
			desc, id string
		}{
			{"long key id", bob.PrimaryKey.KeyIdString()},
			{"short key id", bob.PrimaryKey.KeyIdShortString()},
			{"0x-prefixed key id", "0x" + bob.PrimaryKey.KeyIdString()},
			{"fingerprint", fingerprintString(bob.PrimaryKey.Fingerprint[:])},
			{"email", "bob@example.org"},
		} {
			Convey("by "+tr.desc, func() {
				e, err := FindEntity(keyring, tr.id)
				So(err, ShouldBeNil)
				So(e, ShouldPointTo, bob)
			})
		}
	})
}

func TestLoadKeyrings(t *testing.T) {
	Convey("Loading keyring files:", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			a, b := alice, bob

			secring, err := os.Create(filepath.Join(tmpDir.String(), SecringName))
			So(err, ShouldBeNil)
			So(a.SerializePrivate(secring, nil), ShouldBeNil)
			So(secring.Close(), ShouldBeNil)

			armored, err := os.Create(filepath.Join(tmpDir.String(), "bob.asc"))
			So(err, ShouldBeNil)
			w, err := armor.Encode(armored, openpgp.PublicKeyType, nil)
			So(err, ShouldBeNil)
			So(b.Serialize(w), ShouldBeNil)
			So(w.Close(), ShouldBeNil)
			So(armored.Close(), ShouldBeNil)

			paths := append(HomedirKeyrings(tmpDir.String()), filepath.Join(tmpDir.String(), "bob.asc"))
			keyring, err := LoadKeyrings(paths...)
			So(err, ShouldBeNil)
			So(keyring, ShouldHaveLength, 2)

			Convey("the secret key from disk can sign", func() {
				_, err := Sign(keyring, "alice@example.org", []byte("x"))
				So(err, ShouldBeNil)
			})
			Convey("an unreadable ring is an error", func() {
				bad := filepath.Join(tmpDir.String(), "bad.gpg")
				So(os.Mkdir(bad, 0755), ShouldBeNil)
				_, err := LoadKeyrings(bad)
				So(err, errcat.ErrorShouldHaveCategory, ErrKeyring)
			})
		})
	})
}
