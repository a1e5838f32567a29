/*
	Package deployment describes deployed commits: a stable id for each,
	what commit and version it runs, where it came from, and who signed it.
*/
package deployment

import (
	"encoding/binary"
	"fmt"

	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/tok"
	"github.com/zeebo/blake3"
)

type ErrorCategory string

const (
	ErrNoDeployment = ErrorCategory("deployment-not-found")
)

/*
	Record is one deployment on a host: an OS name, the commit it was
	checked out from, and a serial distinguishing repeated deployments of
	the same commit.
*/
type Record struct {
	OSName   string
	Checksum string
	Serial   int32
	Origin   *Origin // nil if the deployment has no origin file
}

/*
	GenerateID names a record as "OSNAME_N", where N is the first 32 bits
	(big-endian, printed in decimal) of a blake3 digest over the CBOR array
	[osname, checksum, serial].

	Ids are stable for the same inputs across runs and hosts.
*/
func GenerateID(r Record) string {
	hasher := blake3.New()
	enc := cbor.NewEncoder(hasher)
	enc.Step(&tok.Token{Type: tok.TArrOpen, Length: 3})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.OSName})
	enc.Step(&tok.Token{Type: tok.TString, Str: r.Checksum})
	enc.Step(&tok.Token{Type: tok.TInt, Int: int64(r.Serial)})
	enc.Step(&tok.Token{Type: tok.TArrClose})
	digest := hasher.Sum(nil)
	return fmt.Sprintf("%s_%d", r.OSName, binary.BigEndian.Uint32(digest[:4]))
}
