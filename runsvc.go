// Package runsvc supervises a fixed set of long-running services: it starts
// each one in its own working directory, restarts it when it dies (never more
// often than once per MinRestartInterval) and stops the whole set on SIGINT or
// SIGTERM.
//
// Children are re-executions of the supervisor binary, so every program that
// embeds runsvc must call ChildMain before doing anything else:
//
//	func main() {
//		if runsvc.IsChild() {
//			runsvc.ChildMain()
//		}
//		...
//	}
package runsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/runsvc/internal/config"
	"github.com/loykin/runsvc/internal/history"
	"github.com/loykin/runsvc/internal/history/factory"
	"github.com/loykin/runsvc/internal/logger"
	"github.com/loykin/runsvc/internal/manager"
	"github.com/loykin/runsvc/internal/metrics"
	"github.com/loykin/runsvc/internal/pidfile"
	"github.com/loykin/runsvc/internal/process"
)

// Re-export core types for external consumers.

type Spec = process.Spec

type Snapshot = process.Snapshot

type PrepareFunc = process.PrepareFunc

type KillSubject = manager.KillSubject

type Config = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

// MinRestartInterval is the minimum time between two launches of a service.
const MinRestartInterval = process.MinRestartInterval

// IsChild reports whether this process was started by the supervisor as a
// service child.
func IsChild() bool { return process.IsChild() }

// ChildMain runs the child side of a launch and never returns.
func ChildMain() { process.ChildMain() }

// RegisterPrepare makes fn available to service definitions under name.
// Register unconditionally at program start, before the IsChild check.
func RegisterPrepare(name string, fn PrepareFunc) { process.RegisterPrepare(name, fn) }

// LoadConfig reads and validates a configuration file plus extra service
// definition files.
func LoadConfig(path string, serviceFiles ...string) (*Config, error) {
	return cfg.Load(path, serviceFiles...)
}

// ParseKillSubject accepts "group", "children" and "pid:<n>".
func ParseKillSubject(s string) (KillSubject, error) { return manager.ParseKillSubject(s) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// Option customizes a Supervisor.
type Option func(*options)

type options struct {
	log         *slog.Logger
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	sink        HistorySink
	minRestart  time.Duration
	keepSignals bool
}

// WithLogger replaces the logger built from Config.Log. Children still use
// Config.Log to report pre-exec failures.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.log = l } }

// WithRegistry registers the supervisor metrics with r and exports g to the
// metrics textfile. Defaults are the prometheus default registry.
func WithRegistry(r prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(o *options) { o.registerer, o.gatherer = r, g }
}

// WithHistorySink records lifecycle events to s instead of the sink named by
// Config.History.DSN.
func WithHistorySink(s HistorySink) Option { return func(o *options) { o.sink = s } }

// WithMinRestartInterval overrides MinRestartInterval.
func WithMinRestartInterval(d time.Duration) Option {
	return func(o *options) { o.minRestart = d }
}

// WithoutSignalHandling leaves SIGINT and SIGTERM alone; the supervisor then
// stops only through its context or Stop.
func WithoutSignalHandling() Option { return func(o *options) { o.keepSignals = true } }

// Supervisor is a configured, not yet running, supervision loop.
type Supervisor struct {
	cfg      *Config
	log      *slog.Logger
	closers  []io.Closer
	recorder *history.Recorder
	mgr      *manager.Manager
}

// New builds a Supervisor from a validated Config. Nothing is spawned until
// Run.
func New(c *Config, opts ...Option) (*Supervisor, error) {
	if c == nil || len(c.Specs) == 0 {
		return nil, cfg.ErrNoServices
	}
	o := options{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Supervisor{cfg: c, log: o.log}
	if s.log == nil {
		l, closer, err := logger.New(c.Log)
		if err != nil {
			return nil, err
		}
		s.log = l
		if closer != nil {
			s.closers = append(s.closers, closer)
		}
	}
	for _, w := range c.Warnings {
		s.log.Warn(w)
	}

	if err := metrics.Register(o.registerer); err != nil {
		s.close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	sink := o.sink
	if sink == nil && c.History.DSN != "" {
		var err error
		sink, err = factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("history sink: %w", err)
		}
	}

	lopts := []process.LauncherOption{process.WithChildLog(c.Log)}
	if o.minRestart > 0 {
		lopts = append(lopts, process.WithMinRestartInterval(o.minRestart))
	}
	launcher, err := process.NewLauncher(s.log, lopts...)
	if err != nil {
		if sink != nil {
			if cl, ok := sink.(io.Closer); ok {
				_ = cl.Close()
			}
		}
		s.close()
		return nil, err
	}

	mopts := manager.Options{
		Logger:          s.log,
		KillSubject:     c.KillSubject,
		MetricsTextfile: c.MetricsTextfile,
		Gatherer:        o.gatherer,
		KeepSignals:     o.keepSignals,
	}
	if sink != nil {
		s.recorder = history.NewRecorder(sink, s.log, c.History.QueueSize)
		mopts.History = s.recorder
	}
	s.mgr = manager.New(process.NewRecords(c.Specs), launcher, mopts)
	return s, nil
}

// Run writes the pid file (when configured), supervises until a stop is
// requested and shuts the services down. It returns after the shutdown
// sequence has finished; the Supervisor cannot be run twice.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.close()
	if s.cfg.PIDFile != "" {
		info := &pidfile.Info{StartedAt: time.Now().UTC()}
		for _, sp := range s.cfg.Specs {
			info.Services = append(info.Services, sp.Name)
		}
		if err := pidfile.Acquire(s.cfg.PIDFile, info); err != nil {
			return err
		}
		defer func() {
			if err := pidfile.Release(s.cfg.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.log.Warn("failed to remove pid file", "path", s.cfg.PIDFile, "error", err)
			}
		}()
	}
	return s.mgr.Run(ctx)
}

// Stop requests shutdown; Run returns once the sequence has finished.
func (s *Supervisor) Stop() { s.mgr.Stop() }

// Started is closed once the first tick is about to run.
func (s *Supervisor) Started() <-chan struct{} { return s.mgr.Started() }

// Snapshots returns the per-service state as of the last tick.
func (s *Supervisor) Snapshots() []Snapshot { return s.mgr.Snapshots() }

func (s *Supervisor) close() {
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.log.Warn("closing history sink", "error", err)
		}
		s.recorder = nil
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
	s.closers = nil
}

// Run builds a Supervisor from c and runs it.
func Run(ctx context.Context, c *Config, opts ...Option) error {
	s, err := New(c, opts...)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
