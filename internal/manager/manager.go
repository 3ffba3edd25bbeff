// Package manager runs the supervision loop: it launches idle services, reaps
// exited children on a fixed tick and, once asked to stop, walks the
// escalating SIGTERM/SIGKILL shutdown sequence.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/loykin/runsvc/internal/history"
	"github.com/loykin/runsvc/internal/metrics"
	"github.com/loykin/runsvc/internal/process"
)

// TickInterval bounds restart and reaping latency.
const TickInterval = 10 * time.Second

var ErrAlreadyRun = errors.New("manager: Run called more than once")

// Starter launches one record; *process.Launcher is the production implementation.
type Starter interface {
	MaybeStart(r *process.Record) error
}

// EventRecorder receives lifecycle events; *history.Recorder satisfies it.
type EventRecorder interface {
	Record(e history.Event)
}

// LoopState is the phase of the supervision loop.
type LoopState int32

const (
	StateNew LoopState = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "new"
	}
}

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	Logger      *slog.Logger
	KillSubject KillSubject
	History     EventRecorder
	// MetricsTextfile, when set, receives the Gatherer's metrics after every
	// tick and once more after shutdown.
	MetricsTextfile string
	Gatherer        prometheus.Gatherer
	// KeepSignals leaves SIGINT/SIGTERM alone; the loop then stops only via
	// ctx or Stop.
	KeepSignals bool
}

// timing holds the loop cadence and the shutdown retry budgets.
type timing struct {
	tick      time.Duration
	termTries int
	termSleep time.Duration
	killTries int
	killSleep time.Duration
}

var defaultTiming = timing{
	tick:      TickInterval,
	termTries: 100,
	termSleep: 2 * time.Second,
	killTries: 10,
	killSleep: time.Second,
}

// Manager owns the record list for the lifetime of Run. Only the loop
// goroutine touches records; other goroutines observe them via Snapshots.
type Manager struct {
	records []*process.Record
	starter Starter
	reaper  *Reaper
	opts    Options
	log     *slog.Logger

	timing       timing
	sleep        func(time.Duration)
	kill         func(pid int, sig syscall.Signal) error
	groupMembers func() ([]int, error)

	stop    atomic.Bool
	wake    chan struct{}
	state   atomic.Int32
	started chan struct{}

	mu    sync.Mutex
	snaps []process.Snapshot
}

func New(records []*process.Record, starter Starter, opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	m := &Manager{
		records:      records,
		starter:      starter,
		reaper:       NewReaper(records, log),
		opts:         opts,
		log:          log,
		timing:       defaultTiming,
		sleep:        time.Sleep,
		kill:         unix.Kill,
		groupMembers: processGroupMembers,
		wake:         make(chan struct{}, 1),
		started:      make(chan struct{}),
	}
	m.reaper.OnExit(m.observeExit)
	m.publish()
	return m
}

// Run supervises until a stop is requested by SIGINT, SIGTERM, ctx or Stop,
// then runs the shutdown sequence and returns. It returns nil once the
// sequence has finished, whether or not every child died.
func (m *Manager) Run(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateNew), int32(StateRunning)) {
		return ErrAlreadyRun
	}
	restore := func() {}
	if !m.opts.KeepSignals {
		restore = m.installSignals()
	}
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			m.Stop()
		case <-finished:
		}
	}()
	close(m.started)

	m.log.Info("supervisor started", "services", len(m.records), "kill_subject", m.opts.KillSubject.String(), "pid", os.Getpid())
	for !m.stop.Load() {
		m.tick()
		if m.stop.Load() {
			break
		}
		m.pause(m.timing.tick)
	}

	// a second SIGINT/SIGTERM from here on takes its previous disposition
	restore()
	m.log.Info("stopping services")
	m.state.Store(int32(StateStopping))
	metrics.SetStopping(true)
	m.shutdown()
	m.state.Store(int32(StateStopped))
	m.exportMetrics()
	return nil
}

// Stop requests shutdown. It is safe to call from any goroutine, any number
// of times.
func (m *Manager) Stop() {
	m.stop.Store(true)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Started is closed once Run has installed its signal handlers.
func (m *Manager) Started() <-chan struct{} { return m.started }

func (m *Manager) State() LoopState { return LoopState(m.state.Load()) }

// Snapshots returns the record states as of the end of the last tick or
// shutdown iteration.
func (m *Manager) Snapshots() []process.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]process.Snapshot(nil), m.snaps...)
}

// tick starts every idle record, then drains exited children.
func (m *Manager) tick() {
	for _, r := range m.records {
		if !r.Idle() {
			continue
		}
		m.observeStart(r, m.starter.MaybeStart(r))
	}
	m.reaper.DrainExited()
	m.publish()
	m.exportMetrics()
}

// pause sleeps for d or until Stop is called.
func (m *Manager) pause(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-m.wake:
	}
}

func (m *Manager) publish() {
	snaps := make([]process.Snapshot, 0, len(m.records))
	for _, r := range m.records {
		snaps = append(snaps, r.Snapshot())
	}
	m.mu.Lock()
	m.snaps = snaps
	m.mu.Unlock()
}

func (m *Manager) observeStart(r *process.Record, err error) {
	rec := history.Record{Name: r.Name(), PID: r.PID(), StartedAt: r.StartedAt(), ExitCode: -1}
	switch {
	case err == nil:
		metrics.IncLaunch(r.Name())
		metrics.SetRunning(r.Name(), true)
		m.event(history.EventLaunch, rec)
	case errors.Is(err, process.ErrThrottled):
		metrics.IncThrottled(r.Name())
		rec.Detail = err.Error()
		m.event(history.EventThrottled, rec)
	case errors.Is(err, process.ErrNotIdle):
	default:
		metrics.IncLaunchFailure(r.Name())
		rec.Detail = err.Error()
		m.event(history.EventLaunchFailed, rec)
	}
}

func (m *Manager) observeExit(r *process.Record, e Exit) {
	metrics.IncExit(e.Name, e.How())
	metrics.SetRunning(e.Name, false)
	rec := history.Record{Name: e.Name, PID: e.PID, StartedAt: r.StartedAt(), ExitCode: e.Code()}
	if e.Status.Signaled() {
		rec.Signal = unix.SignalName(e.Status.Signal())
	} else {
		rec.Detail = process.DescribeExitCode(e.Code())
	}
	m.event(history.EventExit, rec)
}

func (m *Manager) event(t history.EventType, rec history.Record) {
	if m.opts.History == nil {
		return
	}
	m.opts.History.Record(history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec})
}

func (m *Manager) exportMetrics() {
	if m.opts.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(m.opts.MetricsTextfile, m.opts.Gatherer); err != nil {
		m.log.Warn("cannot write metrics textfile", "path", m.opts.MetricsTextfile, "error", err)
	}
}
