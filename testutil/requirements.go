package testutil

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/treecommit/caps"
)

// A precondition for running a test, such as holding a capability.
type ConveyRequirement struct {
	Name      string
	Predicate func() bool
}

var RequiresCanManageOwnership = ConveyRequirement{"have caps for managing file ownership", caps.Scan().CanManageOwnership}

// The initramfs regeneration steps chroot.
var RequiresCanChroot = ConveyRequirement{"have caps for chroot", caps.Scan().CanChroot}

func RequiresCommand(name string) ConveyRequirement {
	return ConveyRequirement{
		fmt.Sprintf("command %q on PATH", name),
		func() bool { _, err := exec.LookPath(name); return err == nil },
	}
}

/*
	Wrap a Convey body so it only runs when every requirement holds.

	Arguments are any number of ConveyRequirement, then the body (a
	`func()` or `func(convey.C)`), in the same order Convey takes them.
	When something is unmet, the body is replaced by a skipped block
	that lists which requirement failed.
*/
func Requires(items ...interface{}) func(c convey.C) {
	body := items[len(items)-1]
	var unmet []string
	for _, it := range items[:len(items)-1] {
		req := it.(ConveyRequirement)
		if !req.Predicate() {
			unmet = append(unmet, req.Name)
		}
	}
	if len(unmet) > 0 {
		return func(c convey.C) {
			convey.Convey("Skipped, unmet: "+strings.Join(unmet, ", "), nil)
		}
	}
	return func(c convey.C) {
		switch body := body.(type) {
		case func():
			body()
		case func(convey.C):
			body(c)
		default:
			panic(fmt.Sprintf("testutil.Requires: body must be a func, not %T", body))
		}
	}
}
