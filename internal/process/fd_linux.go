//go:build linux

package process

import "golang.org/x/sys/unix"

// markInheritedCloseOnExec flags every descriptor above the standard three
// streams close-on-exec, so none leaks into the service program while the
// Go runtime keeps working until exec.
func markInheritedCloseOnExec() error {
	if err := unix.CloseRange(3, ^uint(0), unix.CLOSE_RANGE_CLOEXEC); err == nil {
		return nil
	}
	return markFromDir("/proc/self/fd")
}
