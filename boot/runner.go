package boot

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/treecommit"
	"github.com/polydawn/treecommit/caps"
	"github.com/polydawn/treecommit/fs"
)

// Runner runs a command with root as its filesystem root.
type Runner interface {
	Run(ctx context.Context, root fs.AbsolutePath, argv ...string) error
}

var _ Runner = ChrootRunner{}

/*
	Runs commands chrooted into the install root.

	A started command is not cancellable: killing depmod or dracut halfway
	leaves the install root in a state nobody wants to reason about, so
	the context is only consulted before starting.  Exit status is the
	only success signal.
*/
type ChrootRunner struct {
	Output io.Writer // receives both stdout and stderr; nil discards
}

func (r ChrootRunner) Run(ctx context.Context, root fs.AbsolutePath, argv ...string) error {
	if err := ctx.Err(); err != nil {
		return Errorf(treecommit.ErrCancelled, "cancelled before running %s: %s", argv[0], err)
	}
	if !caps.Scan().CanChroot() {
		return Errorf(treecommit.ErrRegenerationFailed, "cannot run %s: chroot into %s needs CAP_SYS_CHROOT", argv[0], root)
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = "/"
	cmd.Env = []string{"PATH=/usr/sbin:/usr/bin:/sbin:/bin", "LANG=C"}
	cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: root.String()}
	cmd.Stdout = r.Output
	cmd.Stderr = r.Output
	if err := cmd.Start(); err != nil {
		return Errorf(treecommit.ErrRegenerationFailed, "failed to start %s in %s: %s", argv[0], root, err)
	}
	code, err := waitFor(cmd)
	if err != nil {
		return err
	}
	if code != 0 {
		return ErrorDetailed(treecommit.ErrRegenerationFailed,
			"'"+strings.Join(argv, " ")+"' failed",
			map[string]string{"root": root.String(), "exit": strconv.Itoa(code)})
	}
	return nil
}

func waitFor(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, Errorf(treecommit.ErrRegenerationFailed, "%s: unknown wait error: %s", cmd.Path, err)
	}
	waitStatus, ok := exitErr.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return -1, Errorf(treecommit.ErrRegenerationFailed, "%s: unknown process state implementation %T", cmd.Path, exitErr.ProcessState.Sys())
	}
	switch {
	case waitStatus.Exited():
		return waitStatus.ExitStatus(), nil
	case waitStatus.Signaled():
		return int(waitStatus.Signal()) + 128, Errorf(treecommit.ErrRegenerationFailed, "%s: killed with signal %d", cmd.Path, waitStatus.Signal())
	default:
		return -1, Errorf(treecommit.ErrRegenerationFailed, "%s: unknown process wait status (%#v)", cmd.Path, waitStatus)
	}
}
