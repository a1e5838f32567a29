/*
	Package guid makes short random identifiers for scratch paths:
	staging dirs, transaction names, temp uploads.
*/
package guid

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"time"

	"github.com/polydawn/refmt/misc"
)

const (
	rawSize = 24
	size    = 33 // enough base58 digits for rawSize bytes
)

/*
	New returns a base58 string of fixed length.

	The leading bytes are the current time, so ids sort roughly by
	creation; the rest is random.
*/
func New() string {
	var raw [rawSize]byte
	binary.BigEndian.PutUint64(raw[:8], uint64(time.Now().UnixNano()))
	if _, err := rand.Read(raw[8:]); err != nil {
		panic(err)
	}
	s := misc.Base58Encode(raw[:])
	if len(s) < size {
		s = strings.Repeat("1", size-len(s)) + s
	}
	return s
}
