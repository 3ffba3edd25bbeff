// Package clickhouse appends lifecycle events to a MergeTree table over the
// native protocol.
package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/runsvc/internal/history"
)

// DefaultTable is used when Config.Table is empty.
const DefaultTable = "service_history"

// table names are spliced into DDL, so only plain identifiers pass
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
	// DialTimeout defaults to 5s.
	DialTimeout time.Duration
}

func (c *Config) defaults() error {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if !identifier.MatchString(c.Table) {
		return fmt.Errorf("invalid ClickHouse table name %q", c.Table)
	}
	if c.Database == "" {
		c.Database = "default"
	}
	if c.Username == "" {
		c.Username = "default"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return nil
}

type Sink struct {
	conn   driver.Conn
	table  string
	insert string
}

// New connects, pings and creates the table when missing.
func New(cfg Config) (*Sink, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open ClickHouse %s: %w", cfg.Addr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.DialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping ClickHouse %s: %w", cfg.Addr, err)
	}
	ddl := `CREATE TABLE IF NOT EXISTS ` + cfg.Table + ` (
		occurred_at DateTime64(6, 'UTC'),
		type LowCardinality(String),
		name LowCardinality(String),
		pid Int32,
		started_at Nullable(DateTime64(6, 'UTC')),
		exit_code Int32,
		signal LowCardinality(String),
		detail String
	) ENGINE = MergeTree
	ORDER BY (name, occurred_at)`
	if err := conn.Exec(ctx, ddl); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create %s: %w", cfg.Table, err)
	}
	return &Sink{
		conn:   conn,
		table:  cfg.Table,
		insert: `INSERT INTO ` + cfg.Table + ` (occurred_at, type, name, pid, started_at, exit_code, signal, detail)`,
	}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	batch, err := s.conn.PrepareBatch(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare insert: %w", err)
	}
	r := e.Record
	var started *time.Time
	if !r.StartedAt.IsZero() {
		t := r.StartedAt.UTC()
		started = &t
	}
	if err := batch.Append(e.OccurredAt.UTC(), string(e.Type), r.Name, int32(r.PID),
		started, int32(r.ExitCode), r.Signal, r.Detail); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("clickhouse: append: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: insert into %s: %w", s.table, err)
	}
	return nil
}

// Count returns how many events were stored for name.
func (s *Sink) Count(ctx context.Context, name string) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM `+s.table+` WHERE name = ?`, name).Scan(&n)
	return n, err
}

func (s *Sink) Close() error { return s.conn.Close() }
