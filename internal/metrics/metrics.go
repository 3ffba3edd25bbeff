package metrics

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	regMu      sync.Mutex
	registered = map[prometheus.Registerer]bool{}

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runsvc",
			Subsystem: "service",
			Name:      "launches_total",
			Help:      "Number of children spawned per service.",
		}, []string{"name"},
	)
	throttled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runsvc",
			Subsystem: "service",
			Name:      "throttled_total",
			Help:      "Number of launch attempts refused by the minimum restart interval.",
		}, []string{"name"},
	)
	launchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runsvc",
			Subsystem: "service",
			Name:      "launch_failures_total",
			Help:      "Number of launch attempts where the child could not be spawned.",
		}, []string{"name"},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runsvc",
			Subsystem: "service",
			Name:      "exits_total",
			Help:      "Number of reaped children, by how they ended (exited or signaled).",
		}, []string{"name", "how"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "runsvc",
			Subsystem: "service",
			Name:      "running",
			Help:      "1 when the service has a live child, 0 when idle.",
		}, []string{"name"},
	)
	shutdownSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "runsvc",
			Subsystem: "shutdown",
			Name:      "signals_total",
			Help:      "Number of shutdown signals delivered to the kill subject.",
		}, []string{"signal"},
	)
	stopping = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "runsvc",
			Subsystem: "supervisor",
			Name:      "stopping",
			Help:      "1 once the supervisor has entered its shutdown sequence.",
		},
	)
	historyDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "runsvc",
			Subsystem: "history",
			Name:      "dropped_total",
			Help:      "Number of lifecycle events dropped because the history queue was full.",
		},
	)
)

// Register registers all metrics with r. Every distinct registerer gets the
// same collectors, so supervisors exporting to different registries each see
// the full set; repeated calls with the same registerer are no-ops.
func Register(r prometheus.Registerer) error {
	regMu.Lock()
	defer regMu.Unlock()
	if registered[r] {
		return nil
	}
	cs := []prometheus.Collector{launches, throttled, launchFailures, exits, running, shutdownSignals, stopping, historyDropped}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	registered[r] = true
	regOK.Store(true)
	return nil
}

// WriteTextfile writes everything g gathers to path in the text exposition
// format, atomically, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncLaunch(name string) {
	if regOK.Load() {
		launches.WithLabelValues(name).Inc()
	}
}

func IncThrottled(name string) {
	if regOK.Load() {
		throttled.WithLabelValues(name).Inc()
	}
}

func IncLaunchFailure(name string) {
	if regOK.Load() {
		launchFailures.WithLabelValues(name).Inc()
	}
}

func IncExit(name, how string) {
	if regOK.Load() {
		exits.WithLabelValues(name, how).Inc()
	}
}

func SetRunning(name string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1
		}
		running.WithLabelValues(name).Set(v)
	}
}

func IncShutdownSignal(signal string) {
	if regOK.Load() {
		shutdownSignals.WithLabelValues(signal).Inc()
	}
}

func SetStopping(v bool) {
	if regOK.Load() {
		if v {
			stopping.Set(1)
		} else {
			stopping.Set(0)
		}
	}
}

func IncHistoryDropped() {
	if regOK.Load() {
		historyDropped.Inc()
	}
}
