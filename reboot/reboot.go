// Package reboot performs the cold reboot that FAULT_HANDLING and
// SOFT_REBOOT both end in, after the caller has committed its counter.
package reboot

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/robolivable/pawrswarm/log"
)

// Cold issues a cold reboot of the host. On Linux it calls unix.Reboot
// directly (requires CAP_SYS_BOOT; callers without it will see this
// return an error rather than the process actually restarting). On any
// other platform — development machines, CI — there's no equivalent
// syscall, so it logs and panics with exitSentinel, which cmd/*'s run
// recovers (see Recover) so the process exits cleanly; the state machine
// re-enters INITIALIZE on the next process start.
func Cold() error {
	log.Warn("reboot: cold reboot requested")
	if runtime.GOOS != "linux" {
		log.Warn("reboot: no cold-reboot syscall on %s, exiting process instead", runtime.GOOS)
		panic(exitSentinel{})
	}
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}

// exitSentinel is recovered by cmd/*/main.go's top-level run loop to turn a
// non-Linux "reboot" into a clean process exit instead of an OS-level
// restart, without reaching for os.Exit deep inside this package (which
// would skip deferred cleanup such as closing the bbolt stores).
type exitSentinel struct{}

// Recover reports whether r (from a recover() call) is this package's exit
// sentinel, and if so that the caller should exit(0) after its own cleanup.
func Recover(r any) bool {
	_, ok := r.(exitSentinel)
	return ok
}
