package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/runsvc/internal/history"
)

func startClickHouse(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").WithPort("8123/tcp").WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestSink_AppendsEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ClickHouse container test in short mode")
	}
	ctx := context.Background()
	addr := startClickHouse(ctx, t)

	s, err := New(Config{Addr: addr, Table: "lifecycle"})
	require.NoError(t, err)
	defer func() { assert.NoError(t, s.Close()) }()

	rec := history.Record{Name: "api", PID: 777, StartedAt: time.Now().Add(-time.Minute), ExitCode: -1}
	require.NoError(t, s.Send(ctx, history.Event{Type: history.EventLaunch, OccurredAt: time.Now(), Record: rec}))
	rec.Signal = "terminated"
	require.NoError(t, s.Send(ctx, history.Event{Type: history.EventExit, OccurredAt: time.Now(), Record: rec}))
	// no name and no start time
	require.NoError(t, s.Send(ctx, history.Event{Type: history.EventShutdown, OccurredAt: time.Now(), Record: history.Record{ExitCode: -1}}))

	n, err := s.Count(ctx, "api")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// reopening finds the existing table
	again, err := New(Config{Addr: addr, Table: "lifecycle"})
	require.NoError(t, err)
	assert.NoError(t, again.Close())
}

func TestConfigDefaults(t *testing.T) {
	c := Config{Addr: "localhost:9000"}
	require.NoError(t, c.defaults())
	assert.Equal(t, DefaultTable, c.Table)
	assert.Equal(t, "default", c.Database)
	assert.Equal(t, "default", c.Username)
	assert.Equal(t, 5*time.Second, c.DialTimeout)

	for _, bad := range []string{"x; DROP TABLE y", "1abc", "a.b.c", "ev-ents"} {
		c := Config{Table: bad}
		assert.Error(t, c.defaults(), bad)
	}
	c = Config{Table: "ops.events"}
	assert.NoError(t, c.defaults())
}

func TestNew_UnreachableHost(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	_, err := New(Config{Addr: "invalid-host.invalid:9000", DialTimeout: time.Second})
	assert.Error(t, err)
}
