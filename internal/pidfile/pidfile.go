// Package pidfile manages the supervisor's own PID file.
//
// The file holds the PID on its first line, optionally followed by a JSON
// document describing the supervised services. Writes go through renameio so
// readers never observe a partially written file.
package pidfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned by Acquire when the file names a live process.
var ErrAlreadyRunning = errors.New("another supervisor is running")

// Info is the metadata stored after the PID line.
type Info struct {
	Services  []string  `json:"services"`
	StartedAt time.Time `json:"started_at"`
}

// Write atomically replaces path with pid and info.
func Write(path string, pid int, info *Info) error {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(pid))
	sb.WriteByte('\n')
	if info != nil {
		b, err := json.Marshal(info)
		if err != nil {
			return err
		}
		sb.Write(b)
		sb.WriteByte('\n')
	}
	return renameio.WriteFile(path, []byte(sb.String()), 0o644)
}

// Read returns the PID and, when present, the metadata that follows it.
// A metadata line that cannot be decoded is ignored.
func Read(path string) (int, *Info, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, nil, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return pid, nil, nil
	}
	var info Info
	if err := json.Unmarshal([]byte(rest), &info); err != nil {
		return pid, nil, nil
	}
	return pid, &info, nil
}

// Acquire writes the current PID to path unless the file already names a
// live process other than ourselves. Stale files are overwritten.
func Acquire(path string, info *Info) error {
	self := os.Getpid()
	if pid, _, err := Read(path); err == nil && pid != self && alive(pid) {
		return fmt.Errorf("%w: pid %d (from %s)", ErrAlreadyRunning, pid, path)
	}
	return Write(path, self, info)
}

// Release removes path if it still holds the current PID.
func Release(path string) error {
	pid, _, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
