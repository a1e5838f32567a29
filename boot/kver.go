package boot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit/fs"
)

const (
	bootSigOffset    = 0x1fe
	hdrMagicOffset   = 0x202
	kverPtrOffset    = 0x20e
	kverPtrBase      = 0x200
	maxKverStringLen = 512
)

/*
	Read the release string baked into an x86 bzImage's setup header,
	e.g. "5.0.0-1.fc30.x86_64".  Anything that isn't a bzImage is an
	fs.ErrMisc error; callers treat that as "can't tell".
*/
func KernelRelease(k io.ReadSeeker) (string, error) {
	var hdr [kverPtrOffset + 2]byte
	if _, err := k.Seek(0, io.SeekStart); err != nil {
		return "", fs.NormalizeIOError(err)
	}
	if _, err := io.ReadFull(k, hdr[:]); err != nil {
		return "", Errorf(fs.ErrMisc, "not a bzImage: short header: %s", err)
	}
	if hdr[bootSigOffset] != 0x55 || hdr[bootSigOffset+1] != 0xaa {
		return "", Errorf(fs.ErrMisc, "not a bzImage: no boot signature")
	}
	if !bytes.Equal(hdr[hdrMagicOffset:hdrMagicOffset+4], []byte("HdrS")) {
		return "", Errorf(fs.ErrMisc, "not a bzImage: no HdrS magic")
	}
	ptr := int64(binary.LittleEndian.Uint16(hdr[kverPtrOffset:])) + kverPtrBase
	if _, err := k.Seek(ptr, io.SeekStart); err != nil {
		return "", fs.NormalizeIOError(err)
	}
	desc, err := bufio.NewReader(io.LimitReader(k, maxKverStringLen)).ReadString(0)
	if err != nil {
		return "", Errorf(fs.ErrMisc, "not a bzImage: unterminated version string")
	}
	desc = strings.TrimSuffix(desc, "\x00")
	if i := strings.IndexByte(desc, ' '); i >= 0 {
		desc = desc[:i]
	}
	return desc, nil
}
