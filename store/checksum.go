package store

import (
	"encoding/hex"

	. "github.com/warpfork/go-errcat"
)

// Checksum is the lowercase hex sha256 naming an object.
type Checksum string

const checksumLen = 64

func ParseChecksum(s string) (Checksum, error) {
	if !IsChecksum(s) {
		return "", Errorf(ErrUsage, "not a checksum: %q", s)
	}
	return Checksum(s), nil
}

func IsChecksum(s string) bool {
	if len(s) != checksumLen {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func ChecksumFromBytes(digest []byte) Checksum {
	return Checksum(hex.EncodeToString(digest))
}

func (c Checksum) String() string { return string(c) }

func (c Checksum) IsZero() bool { return c == "" }

// Split into the fanout dir and the remainder, the way objects are stored on disk.
func (c Checksum) Chunk() (string, string) {
	return string(c[:2]), string(c[2:])
}
