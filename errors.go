package treecommit

import (
	"github.com/warpfork/go-errcat"
)

type ErrorCategory string
type ExitCode int

const (
	ExitSuccess = ExitCode(0)
	ExitError   = ExitCode(2) // Every reported failure exits with this; the message says which.
)

// Input errors: the install root or a descriptor input is not something we can work with.
const (
	ErrUsage             = ErrorCategory("treecommit-usage-error")
	ErrAmbiguousArtifact = ErrorCategory("treecommit-ambiguous-artifact") // More than one file in boot matched the kernel or initramfs pattern.
	ErrMissingKernel     = ErrorCategory("treecommit-missing-kernel")
	ErrMalformedOrigin   = ErrorCategory("treecommit-malformed-origin")
)

// Execution errors.
const (
	ErrRegenerationFailed  = ErrorCategory("treecommit-regeneration-failed")  // depmod or dracut exited non-zero, or produced nothing.
	ErrTransformStepFailed = ErrorCategory("treecommit-transform-step-failed") // Details carry "step" and "path".
	ErrStoreTransaction    = ErrorCategory("treecommit-store-transaction")     // The transaction was aborted; refs are as they were.
	ErrIDCollision         = ErrorCategory("treecommit-id-collision")
	ErrCancelled           = ErrorCategory("treecommit-cancelled")
)

/*
	Class buckets a categorized error into the coarse groups used when
	reporting: "input", "subprocess", "filesystem", "store", "consistency",
	or "cancelled".  Uncategorized errors report as "unknown".
*/
func Class(err error) string {
	switch errcat.Category(err) {
	case nil:
		return ""
	case ErrUsage, ErrAmbiguousArtifact, ErrMissingKernel, ErrMalformedOrigin:
		return "input"
	case ErrRegenerationFailed:
		return "subprocess"
	case ErrTransformStepFailed:
		return "filesystem"
	case ErrStoreTransaction:
		return "store"
	case ErrIDCollision:
		return "consistency"
	case ErrCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func ExitCodeFor(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	return ExitError
}
