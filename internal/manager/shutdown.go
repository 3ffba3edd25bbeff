package manager

import (
	"errors"
	"os"
	"syscall"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/loykin/runsvc/internal/history"
	"github.com/loykin/runsvc/internal/metrics"
	"github.com/loykin/runsvc/internal/process"
)

// shutdown delivers SIGTERM, waits for the records to go idle, escalates to
// SIGKILL and finally gives up. Total sleep is bounded by
// termTries*termSleep + killTries*killSleep.
func (m *Manager) shutdown() {
	m.event(history.EventShutdown, history.Record{ExitCode: -1, Detail: m.opts.KillSubject.String()})
	if m.escalate(unix.SIGTERM, m.timing.termTries, m.timing.termSleep) {
		m.log.Info("all services stopped")
		return
	}
	m.log.Warn("services still running after SIGTERM, escalating to SIGKILL")
	if m.escalate(unix.SIGKILL, m.timing.killTries, m.timing.killSleep) {
		m.log.Info("all services stopped")
		return
	}
	m.reportSurvivors()
}

// escalate signals the kill subject once, then drains and checks up to tries
// times with pause between attempts. It reports whether every record is idle.
func (m *Manager) escalate(sig syscall.Signal, tries int, pause time.Duration) bool {
	m.signalSubject(sig)
	for i := 0; i < tries; i++ {
		m.reaper.DrainExited()
		m.publish()
		if !process.AnyRunning(m.records) {
			return true
		}
		m.sleep(pause)
	}
	return false
}

func (m *Manager) signalSubject(sig syscall.Signal) {
	name := unix.SignalName(sig)
	metrics.IncShutdownSignal(name)

	var targets []int
	switch m.opts.KillSubject.Kind {
	case SubjectPID:
		targets = []int{m.opts.KillSubject.PID}
	case SubjectChildren:
		for _, r := range m.records {
			if pid := r.PID(); pid > 0 {
				targets = append(targets, pid)
			}
		}
	default:
		pids, err := m.groupMembers()
		if err != nil {
			m.log.Error("cannot enumerate process group", "error", err)
			return
		}
		targets = pids
	}

	m.log.Info("sending signal", "signal", name, "kill_subject", m.opts.KillSubject.String(), "targets", len(targets))
	for _, pid := range targets {
		if err := m.kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
			m.log.Warn("cannot deliver signal", "signal", name, "pid", pid, "error", err)
		}
	}
}

// processGroupMembers lists every process in our process group but ourselves.
func processGroupMembers() ([]int, error) {
	pgrp := unix.Getpgrp()
	self := os.Getpid()
	pids, err := gopsprocess.Pids()
	if err != nil {
		return nil, err
	}
	var out []int
	for _, p := range pids {
		pid := int(p)
		if pid == self || pid <= 0 {
			continue
		}
		g, err := unix.Getpgid(pid)
		if err != nil {
			continue
		}
		if g == pgrp {
			out = append(out, pid)
		}
	}
	return out, nil
}

// reportSurvivors logs each child that outlived the shutdown budget.
func (m *Manager) reportSurvivors() {
	for _, r := range m.records {
		pid := r.PID()
		if pid <= 0 {
			continue
		}
		attrs := []any{"service", r.Name(), "pid", pid}
		if p, err := gopsprocess.NewProcess(int32(pid)); err == nil {
			if n, err := p.Name(); err == nil {
				attrs = append(attrs, "process_name", n)
			}
			if st, err := p.Status(); err == nil && len(st) > 0 {
				attrs = append(attrs, "process_status", st[0])
			}
			if c, err := p.Cmdline(); err == nil {
				attrs = append(attrs, "cmdline", c)
			}
		}
		m.log.Error("service did not stop, giving up", attrs...)
	}
}
