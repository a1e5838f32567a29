package testutil

import (
	"context"
	"io/ioutil"
	"path/filepath"

	"github.com/polydawn/treecommit/fs"
)

/*
	FakeDracut satisfies boot.Runner without a chroot: "depmod" does
	nothing, and "dracut" writes a small image at its output path under
	root.  Calls are recorded.
*/
type FakeDracut struct {
	Calls [][]string
}

func (r *FakeDracut) Run(ctx context.Context, root fs.AbsolutePath, argv ...string) error {
	r.Calls = append(r.Calls, argv)
	if argv[0] != "dracut" {
		return nil
	}
	out, kver := argv[len(argv)-2], argv[len(argv)-1]
	return ioutil.WriteFile(filepath.Join(root.String(), out), []byte("initramfs for "+kver), 0644)
}
