package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncLaunch("a")
	IncLaunch("a")
	IncThrottled("a")
	IncLaunchFailure("a")
	IncExit("a", "exited")
	IncExit("a", "signaled")
	SetRunning("a", true)
	IncShutdownSignal("terminated")
	SetStopping(true)
	IncHistoryDropped()

	if got := testutil.ToFloat64(launches.WithLabelValues("a")); got != 2 {
		t.Fatalf("launches: got %v want 2", got)
	}
	if got := testutil.ToFloat64(exits.WithLabelValues("a", "signaled")); got != 1 {
		t.Fatalf("signaled exits: got %v want 1", got)
	}
	if got := testutil.ToFloat64(running.WithLabelValues("a")); got != 1 {
		t.Fatalf("running: got %v want 1", got)
	}
	SetRunning("a", false)
	if got := testutil.ToFloat64(running.WithLabelValues("a")); got != 0 {
		t.Fatalf("running after idle: got %v want 0", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"runsvc_service_launches_total":        false,
		"runsvc_service_throttled_total":       false,
		"runsvc_service_launch_failures_total": false,
		"runsvc_service_exits_total":           false,
		"runsvc_service_running":               false,
		"runsvc_shutdown_signals_total":        false,
		"runsvc_supervisor_stopping":           false,
		"runsvc_history_dropped_total":         false,
	}
	for _, mf := range mfs {
		if _, ok := wantNames[mf.GetName()]; ok {
			wantNames[mf.GetName()] = true
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "runsvc_textfile_probe_total", Help: "probe"})
	reg.MustRegister(c)
	c.Add(3)

	path := filepath.Join(t.TempDir(), "runsvc.prom")
	if err := WriteTextfile(path, reg); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(b), "runsvc_textfile_probe_total 3") {
		t.Fatalf("unexpected textfile content:\n%s", b)
	}
}

func TestRegisterExportsToEveryRegistry(t *testing.T) {
	first := prometheus.NewRegistry()
	second := prometheus.NewRegistry()
	if err := Register(first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := Register(second); err != nil {
		t.Fatalf("register second: %v", err)
	}

	IncLaunch("multi")
	for i, reg := range []*prometheus.Registry{first, second} {
		n, err := testutil.GatherAndCount(reg, "runsvc_service_launches_total")
		if err != nil {
			t.Fatalf("registry %d: gather: %v", i, err)
		}
		if n == 0 {
			t.Fatalf("registry %d: launches_total not exported", i)
		}
	}

	path := filepath.Join(t.TempDir(), "second.prom")
	if err := WriteTextfile(path, second); err != nil {
		t.Fatalf("write textfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(b), `runsvc_service_launches_total{name="multi"}`) {
		t.Fatalf("textfile of second registry lacks launches:\n%s", b)
	}
}
