package manager

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/loykin/runsvc/internal/history"
	"github.com/loykin/runsvc/internal/process"
)

// These scenarios spawn real children through the re-exec launcher. The
// reaper waits on any child of the test process, so none of them run in
// parallel.

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func sleepSpec(t *testing.T, name, seconds string) process.Spec {
	t.Helper()
	bin, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not found")
	}
	return process.FromCommand(name, t.TempDir(), []string{bin, seconds})
}

func realManager(t *testing.T, minRestart time.Duration, keepSignals bool, specs ...process.Spec) (*Manager, *eventLog) {
	t.Helper()
	l, err := process.NewLauncher(quietLogger(), process.WithMinRestartInterval(minRestart))
	require.NoError(t, err)
	events := &eventLog{}
	m := New(process.NewRecords(specs), l, Options{
		Logger:      quietLogger(),
		KillSubject: KillSubject{Kind: SubjectChildren},
		History:     events,
		KeepSignals: keepSignals,
	})
	m.timing = fastTiming
	return m, events
}

func runAsync(m *Manager, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	return done
}

func awaitRun(t *testing.T, done <-chan error, within time.Duration) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(within):
		t.Fatalf("supervisor did not return within %v", within)
	}
}

func TestScenario_KilledChildIsRelaunched(t *testing.T) {
	requireUnix(t)
	const minRestart = 300 * time.Millisecond
	m, events := realManager(t, minRestart, true, sleepSpec(t, "sleep-10", "10"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(m, ctx)

	var first process.Snapshot
	require.True(t, waitUntil(5*time.Second, 10*time.Millisecond, func() bool {
		first = m.Snapshots()[0]
		return first.PID > 0
	}), "service should be running within one tick")

	// the child must be the real sleep, i.e. exec happened
	require.True(t, waitUntil(5*time.Second, 10*time.Millisecond, func() bool {
		b, err := os.ReadFile("/proc/" + strconv.Itoa(first.PID) + "/comm")
		if err != nil {
			return runtime.GOOS != "linux"
		}
		return string(b) == "sleep\n"
	}))

	require.NoError(t, unix.Kill(first.PID, unix.SIGKILL))

	var second process.Snapshot
	require.True(t, waitUntil(5*time.Second, 10*time.Millisecond, func() bool {
		second = m.Snapshots()[0]
		return second.PID > 0 && second.PID != first.PID
	}), "killed service should be relaunched")
	assert.True(t, second.StartedAt.After(first.StartedAt))
	assert.GreaterOrEqual(t, second.StartedAt.Sub(first.StartedAt), minRestart)

	exits := events.ofType(history.EventExit)
	require.NotEmpty(t, exits)
	assert.Equal(t, first.PID, exits[0].Record.PID)
	assert.Equal(t, "SIGKILL", exits[0].Record.Signal)

	cancel()
	awaitRun(t, done, 10*time.Second)
	assert.Equal(t, unix.ESRCH, unix.Kill(second.PID, 0), "child must be reaped after shutdown")
}

func TestScenario_MissingExecutableExitsWithExecFailed(t *testing.T) {
	requireUnix(t)
	const minRestart = 500 * time.Millisecond
	spec := process.FromCommand("ghost", t.TempDir(), []string{"/nonexistent/runsvc-test-binary"})
	m, events := realManager(t, minRestart, true, spec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(m, ctx)

	require.True(t, waitUntil(10*time.Second, 10*time.Millisecond, func() bool {
		return len(events.ofType(history.EventLaunch)) >= 2
	}), "the failing service should be retried")
	cancel()
	awaitRun(t, done, 10*time.Second)

	exits := events.ofType(history.EventExit)
	require.NotEmpty(t, exits)
	assert.Equal(t, process.ExitExecFailed, exits[0].Record.ExitCode)
	assert.Equal(t, process.DescribeExitCode(process.ExitExecFailed), exits[0].Record.Detail)

	launches := events.ofType(history.EventLaunch)
	assert.GreaterOrEqual(t, launches[1].Record.StartedAt.Sub(launches[0].Record.StartedAt), minRestart)
	assert.NotEmpty(t, events.ofType(history.EventThrottled))
}

func TestScenario_BadWorkDirExitsWithChdirFailed(t *testing.T) {
	requireUnix(t)
	spec := sleepSpec(t, "nowhere", "1")
	spec.WorkDir = "/nonexistent/runsvc-workdir"
	m, events := realManager(t, time.Hour, true, spec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(m, ctx)
	require.True(t, waitUntil(10*time.Second, 10*time.Millisecond, func() bool {
		return len(events.ofType(history.EventExit)) >= 1
	}))
	cancel()
	awaitRun(t, done, 10*time.Second)

	assert.Equal(t, process.ExitChdirFailed, events.ofType(history.EventExit)[0].Record.ExitCode)
}

func TestScenario_SIGTERMStopsSupervisor(t *testing.T) {
	requireUnix(t)
	m, events := realManager(t, time.Minute, false, sleepSpec(t, "sleep-10", "10"))

	done := runAsync(m, context.Background())
	<-m.Started()
	require.True(t, waitUntil(5*time.Second, 10*time.Millisecond, func() bool {
		return m.Snapshots()[0].PID > 0
	}))
	pid := m.Snapshots()[0].PID

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGTERM))
	// phase 1 budget with the test timing is 100 x 20ms
	awaitRun(t, done, 2*time.Second+5*time.Second)

	assert.Equal(t, StateStopped, m.State())
	assert.Equal(t, unix.ESRCH, unix.Kill(pid, 0))
	exits := events.ofType(history.EventExit)
	require.Len(t, exits, 1)
	assert.Equal(t, "SIGTERM", exits[0].Record.Signal)
}
