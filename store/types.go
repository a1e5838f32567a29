package store

import (
	"sort"
)

/*
	Commit is a point in a ref's history: a root tree, a parent, and a message.

	The on-disk form is the deterministic CBOR encoding of this struct, and
	the commit's checksum is the sha256 of those bytes.  Signatures are
	detached and live alongside, so signing never changes the checksum.
*/
type Commit struct {
	Parent    Checksum          `cbor:"1,keyasint,omitempty"`
	Subject   string            `cbor:"2,keyasint"`
	Body      string            `cbor:"3,keyasint,omitempty"`
	Metadata  map[string]string `cbor:"4,keyasint,omitempty"`
	Timestamp uint64            `cbor:"5,keyasint"` // Seconds since the epoch, UTC.
	RootTree  Checksum          `cbor:"6,keyasint"`
	RootMeta  Checksum          `cbor:"7,keyasint"`
}

// Conventional metadata key for a human version string.
const MetaVersion = "version"

// Root names a tree: its dirtree listing and the dirmeta of its top dir.
type Root struct {
	Tree Checksum
	Meta Checksum
}

/*
	Signature is the outcome of checking one detached signature.

	Encoded as a fixed-order array, since descriptors embed it positionally.
*/
type Signature struct {
	_            struct{} `cbor:",toarray"`
	Valid        bool   `refmt:"valid"`
	SigExpired   bool   `refmt:"sig_expired"`
	KeyExpired   bool   `refmt:"key_expired"`
	KeyRevoked   bool   `refmt:"key_revoked"`
	KeyMissing   bool   `refmt:"key_missing"`
	Fingerprint  string `refmt:"fingerprint"`
	Timestamp    int64  `refmt:"timestamp"`
	ExpTimestamp int64  `refmt:"exp_timestamp"`
	PubkeyAlgo   string `refmt:"pubkey_algo"`
	HashAlgo     string `refmt:"hash_algo"`
	UserName     string `refmt:"user_name"`
	UserEmail    string `refmt:"user_email"`
}

// Modifier adjusts what WriteDirectoryToTree records.
type Modifier struct {
	// Extended attributes (and so SELinux labels) are not recorded.
	SkipXattrs bool

	// Every node is recorded as owned by root.
	CanonicalOwnership bool
}

/*
	MutableTree is a directory under construction: file names mapped to
	file object checksums, and subdirectories.  WriteTree turns it into
	immutable dirtree objects.
*/
type MutableTree struct {
	meta  Checksum
	files map[string]Checksum
	dirs  map[string]*MutableTree
}

func NewMutableTree() *MutableTree {
	return &MutableTree{
		files: map[string]Checksum{},
		dirs:  map[string]*MutableTree{},
	}
}

func (t *MutableTree) SetMetadata(meta Checksum) { t.meta = meta }
func (t *MutableTree) Metadata() Checksum       { return t.meta }

// A file replaces any dir of the same name, and vice versa.
func (t *MutableTree) ReplaceFile(name string, file Checksum) {
	delete(t.dirs, name)
	t.files[name] = file
}

func (t *MutableTree) EnsureDir(name string) *MutableTree {
	if sub, ok := t.dirs[name]; ok {
		return sub
	}
	delete(t.files, name)
	sub := NewMutableTree()
	t.dirs[name] = sub
	return sub
}

func (t *MutableTree) Lookup(name string) (file Checksum, dir *MutableTree) {
	return t.files[name], t.dirs[name]
}

func (t *MutableTree) FileNames() []string {
	names := make([]string, 0, len(t.files))
	for name := range t.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *MutableTree) DirNames() []string {
	names := make([]string, 0, len(t.dirs))
	for name := range t.dirs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
