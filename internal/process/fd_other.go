//go:build !linux && !windows

package process

func markInheritedCloseOnExec() error {
	return markFromDir("/dev/fd")
}
