//go:build !windows

package process

import (
	"os"
	"strconv"

	sysconf "github.com/tklauser/go-sysconf"
	"golang.org/x/sys/unix"
)

// markFromDir walks a descriptor directory (/proc/self/fd, /dev/fd). When the
// directory is unavailable it falls back to every descriptor below OPEN_MAX.
func markFromDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return markUpToOpenMax()
	}
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil || fd <= 2 {
			continue
		}
		// The descriptor ReadDir used is already closed; EBADF is expected for it.
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
	}
	return nil
}

func markUpToOpenMax() error {
	limit, err := sysconf.Sysconf(sysconf.SC_OPEN_MAX)
	if err != nil || limit <= 0 {
		limit = 1024
	}
	for fd := 3; fd < int(limit); fd++ {
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)
	}
	return nil
}
