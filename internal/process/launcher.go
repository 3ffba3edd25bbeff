package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/runsvc/internal/logger"
)

// MinRestartInterval is the crash-loop guard: the minimum wall-clock time
// between two launch attempts of the same record.
const MinRestartInterval = 30 * time.Second

var (
	ErrThrottled      = errors.New("restart too frequently")
	ErrNotIdle        = errors.New("service already has a running process")
	ErrUnknownPrepare = errors.New("unknown prepare hook")
)

// Launcher starts idle records. It is used only from the supervision loop
// goroutine.
type Launcher struct {
	log        *slog.Logger
	childLog   logger.Config
	minRestart time.Duration
	now        func() time.Time
	spawn      func(Spec) (int, error)
	self       string
}

type LauncherOption func(*Launcher)

// WithChildLog passes the log sink configuration to children so that a
// pre-exec failure is reported through the same sink as the supervisor.
func WithChildLog(c logger.Config) LauncherOption {
	return func(l *Launcher) { l.childLog = c }
}

// WithMinRestartInterval overrides MinRestartInterval; intended for tests
// and embedding, the CLI never exposes it.
func WithMinRestartInterval(d time.Duration) LauncherOption {
	return func(l *Launcher) { l.minRestart = d }
}

// WithClock replaces time.Now for throttle decisions.
func WithClock(now func() time.Time) LauncherOption {
	return func(l *Launcher) { l.now = now }
}

// WithSpawner replaces child creation; the function returns the child pid.
func WithSpawner(spawn func(Spec) (int, error)) LauncherOption {
	return func(l *Launcher) { l.spawn = spawn }
}

func NewLauncher(log *slog.Logger, opts ...LauncherOption) (*Launcher, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &Launcher{log: log, minRestart: MinRestartInterval, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	if l.spawn == nil {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve supervisor executable: %w", err)
		}
		l.self = self
		l.spawn = l.reexec
	}
	return l, nil
}

// MaybeStart attempts to start r if and only if it is idle and its last
// launch attempt is older than the restart interval. Refusals are logged as
// warnings and returned as ErrThrottled or ErrNotIdle without touching r.
// A spawn failure is logged as an error and leaves r idle for the next tick.
func (l *Launcher) MaybeStart(r *Record) error {
	now := l.now()
	if !r.startedAt.IsZero() && now.Sub(r.startedAt) < l.minRestart {
		l.log.Warn("restart too frequently", "service", r.Name(), "last_start", r.startedAt, "min_interval", l.minRestart)
		return ErrThrottled
	}
	if !r.Idle() {
		l.log.Warn("cannot start service with a running process", "service", r.Name(), "pid", r.PID())
		return ErrNotIdle
	}
	r.startedAt = now
	pid, err := l.spawn(r.spec)
	if err != nil {
		l.log.Error("cannot spawn child process", "service", r.Name(), "error", err)
		return fmt.Errorf("spawn %s: %w", r.Name(), err)
	}
	r.markRunning(pid)
	l.log.Info("service started", "service", r.Name(), "pid", pid)
	return nil
}

// reexec creates the child by re-executing the supervisor binary in child
// mode; ChildMain then performs the pre-exec steps and execs the target.
func (l *Launcher) reexec(s Spec) (int, error) {
	plan, err := json.Marshal(childPlan{Spec: s, Log: l.childLog})
	if err != nil {
		return 0, err
	}
	// the child runtime keeps only the first of duplicate keys
	env := MergeEnv(os.Environ(), s.Env, []string{childPlanEnv + "=" + string(plan)})
	// #nosec G204
	p, err := os.StartProcess(l.self, []string{childArgv0 + s.Name}, &os.ProcAttr{
		Env:   env,
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	})
	if err != nil {
		return 0, err
	}
	pid := p.Pid
	// The reaper collects the child with wait4(-1); drop the handle so the
	// runtime never waits on it.
	_ = p.Release()
	return pid, nil
}
