/*
	Package store defines the content store a committed tree goes into:
	content-addressed objects, commits chaining to parents, named refs,
	and transactions that guard ref updates.

	The interface here is what the commit and deployment packages work
	against; store/fsrepo is the on-disk implementation.
*/
package store

import (
	"github.com/polydawn/treecommit/fs"
)

type ErrorCategory string

const (
	ErrNotFound         = ErrorCategory("store-not-found")         // A ref, object, or remote is absent.  Also: a commit with no signatures.
	ErrCorrupt          = ErrorCategory("store-corrupt")           // An object failed to decode or did not hash to its name.
	ErrVerification     = ErrorCategory("store-verification")      // Signatures exist but could not be checked.
	ErrTransactionState = ErrorCategory("store-transaction-state") // e.g. SetRef with no transaction open.
	ErrUsage            = ErrorCategory("store-usage")             // Bad ref name, bad checksum string, bad repo mode.
	ErrUnwritable       = ErrorCategory("store-unwritable")
	ErrSigning          = ErrorCategory("store-signing")
)

type ContentStore interface {
	/*
		Resolve a ref (or "remote:ref", or a full checksum) to a commit checksum.

		If allowMissing is set, an absent ref returns the zero Checksum and
		no error; otherwise ErrNotFound.
	*/
	ResolveRev(ref string, allowMissing bool) (Checksum, error)

	BeginTransaction() error

	// Scan the tree at path into mtree, writing file and dir objects as it goes.
	WriteDirectoryToTree(mtree *MutableTree, path fs.AbsolutePath, modifier *Modifier) error

	// Write the dirtree and dirmeta objects for mtree and its children.
	WriteTree(mtree *MutableTree) (Root, error)

	// A zero parent means no parent.
	WriteCommit(parent Checksum, subject, body string, metadata map[string]string, root Root) (Checksum, error)

	SignCommit(commit Checksum, keyID string) error

	/*
		Check the signatures attached to a commit.

		Returns ErrNotFound if the commit is unknown or carries no
		signatures at all; ErrVerification if a signature can't be parsed
		or no keyring is available.  A signature by an unknown or revoked
		key is reported in the result, not as an error.
	*/
	VerifyCommitSignatures(commit Checksum) ([]Signature, error)

	// Stage a ref update; applied by CommitTransaction.
	SetRef(ref string, commit Checksum) error

	// Make staged objects durable, then apply staged refs.
	CommitTransaction() error

	// Discard staged objects and refs.  Safe to call with no transaction open.
	AbortTransaction() error

	LoadCommit(commit Checksum) (Commit, error)

	// Whether commits pulled from the named remote must be signed.
	RemoteGPGVerify(remote string) (bool, error)
}
