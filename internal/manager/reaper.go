package manager

import (
	"errors"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/loykin/runsvc/internal/process"
)

// Exit describes one reaped child.
type Exit struct {
	Name   string
	PID    int
	Status unix.WaitStatus
}

// Code returns the exit status, or -1 if the child was killed by a signal.
func (e Exit) Code() int {
	if e.Status.Exited() {
		return e.Status.ExitStatus()
	}
	return -1
}

// How is "exited" or "signaled".
func (e Exit) How() string {
	if e.Status.Signaled() {
		return "signaled"
	}
	return "exited"
}

// Reaper collects terminated children without blocking and returns their
// records to Idle.
type Reaper struct {
	records []*process.Record
	log     *slog.Logger
	wait    func(ws *unix.WaitStatus) (int, error)
	onExit  func(*process.Record, Exit)
}

func NewReaper(records []*process.Record, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{records: records, log: log, wait: waitAny}
}

func waitAny(ws *unix.WaitStatus) (int, error) {
	return unix.Wait4(-1, ws, unix.WNOHANG, nil)
}

// OnExit registers fn to be called for every reaped child that belonged to a
// record, after the record went Idle.
func (r *Reaper) OnExit(fn func(*process.Record, Exit)) { r.onExit = fn }

// DrainExited waits for children until none is immediately available and
// reports how many records went Idle. Pids that match no record are dropped.
func (r *Reaper) DrainExited() int {
	n := 0
	for {
		var ws unix.WaitStatus
		pid, err := r.wait(&ws)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if !errors.Is(err, unix.ECHILD) {
				r.log.Error("failed on waiting for children", "error", err)
			}
			return n
		}
		if pid <= 0 {
			return n
		}
		rec := process.FindByPID(r.records, pid)
		if rec == nil {
			continue
		}
		rec.MarkIdle()
		n++
		e := Exit{Name: rec.Name(), PID: pid, Status: ws}
		r.report(e)
		if r.onExit != nil {
			r.onExit(rec, e)
		}
	}
}

func (r *Reaper) report(e Exit) {
	if e.Status.Signaled() {
		r.log.Warn("service stopped", "service", e.Name, "pid", e.PID,
			"signal", int(e.Status.Signal()), "signal_name", unix.SignalName(e.Status.Signal()))
		return
	}
	code := e.Status.ExitStatus()
	if reason := process.DescribeExitCode(code); reason != "" {
		r.log.Warn("service stopped", "service", e.Name, "pid", e.PID, "exit_code", code, "reason", reason)
		return
	}
	r.log.Warn("service stopped", "service", e.Name, "pid", e.PID, "exit_code", code)
}
