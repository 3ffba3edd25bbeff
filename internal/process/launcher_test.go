package process

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type stubSpawner struct {
	pid   int
	err   error
	calls int
}

func (s *stubSpawner) spawn(Spec) (int, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	s.pid++
	return s.pid, nil
}

func newTestLauncher(t *testing.T, buf *bytes.Buffer, clk *fakeClock, sp *stubSpawner) *Launcher {
	t.Helper()
	l, err := NewLauncher(slog.New(slog.NewTextHandler(buf, nil)), WithClock(clk.Now), WithSpawner(sp.spawn))
	require.NoError(t, err)
	return l
}

func TestMaybeStart_BackToBackIsThrottled(t *testing.T) {
	var buf bytes.Buffer
	clk := &fakeClock{now: time.Unix(10_000, 0)}
	sp := &stubSpawner{pid: 500}
	l := newTestLauncher(t, &buf, clk, sp)
	r := NewRecord(FromCommand("svc", "/", []string{"/bin/true"}))

	require.NoError(t, l.MaybeStart(r))
	assert.Equal(t, 501, r.PID())
	assert.Equal(t, clk.now, r.StartedAt())

	// the child exits right away; a second attempt inside the interval is refused
	r.MarkIdle()
	clk.Advance(MinRestartInterval - time.Second)
	buf.Reset()
	err := l.MaybeStart(r)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.True(t, r.Idle(), "refusal must not change the record")
	assert.Equal(t, time.Unix(10_000, 0), r.StartedAt())
	assert.Equal(t, 1, sp.calls)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "restart too frequently")

	clk.Advance(time.Second)
	require.NoError(t, l.MaybeStart(r))
	assert.Equal(t, 502, r.PID())
	assert.Equal(t, time.Unix(10_000, 0).Add(MinRestartInterval), r.StartedAt(), "startedAt advances")
}

func TestMaybeStart_RefusesRunningRecord(t *testing.T) {
	var buf bytes.Buffer
	clk := &fakeClock{now: time.Unix(10_000, 0)}
	sp := &stubSpawner{}
	l := newTestLauncher(t, &buf, clk, sp)
	r := NewRecord(FromCommand("svc", "/", []string{"/bin/true"}))
	require.NoError(t, l.MaybeStart(r))

	clk.Advance(time.Hour)
	buf.Reset()
	assert.ErrorIs(t, l.MaybeStart(r), ErrNotIdle)
	assert.Equal(t, 1, sp.calls)
	assert.Equal(t, 1, r.PID())
	assert.Contains(t, buf.String(), "level=WARN")
}

func TestMaybeStart_SpawnFailureLeavesRecordIdle(t *testing.T) {
	var buf bytes.Buffer
	clk := &fakeClock{now: time.Unix(10_000, 0)}
	sp := &stubSpawner{err: errors.New("fork: resource temporarily unavailable")}
	l := newTestLauncher(t, &buf, clk, sp)
	r := NewRecord(FromCommand("svc", "/", []string{"/bin/true"}))

	err := l.MaybeStart(r)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrThrottled))
	assert.True(t, r.Idle())
	assert.Contains(t, buf.String(), "level=ERROR")

	// the failed attempt counts for throttling
	clk.Advance(time.Second)
	assert.ErrorIs(t, l.MaybeStart(r), ErrThrottled)
	assert.Equal(t, 1, sp.calls)
}

func TestMaybeStart_FirstLaunchIsNeverThrottled(t *testing.T) {
	var buf bytes.Buffer
	clk := &fakeClock{now: time.Unix(5, 0)} // close to the epoch
	sp := &stubSpawner{}
	l := newTestLauncher(t, &buf, clk, sp)
	require.NoError(t, l.MaybeStart(NewRecord(FromCommand("svc", "/", []string{"/bin/true"}))))
	assert.False(t, strings.Contains(buf.String(), "too frequently"))
}

func TestWithMinRestartInterval(t *testing.T) {
	var buf bytes.Buffer
	clk := &fakeClock{now: time.Unix(10_000, 0)}
	sp := &stubSpawner{}
	l, err := NewLauncher(slog.New(slog.NewTextHandler(&buf, nil)),
		WithClock(clk.Now), WithSpawner(sp.spawn), WithMinRestartInterval(time.Second))
	require.NoError(t, err)
	r := NewRecord(FromCommand("svc", "/", []string{"/bin/true"}))
	require.NoError(t, l.MaybeStart(r))
	r.MarkIdle()
	clk.Advance(time.Second)
	require.NoError(t, l.MaybeStart(r))
	assert.Equal(t, 2, sp.calls)
}
