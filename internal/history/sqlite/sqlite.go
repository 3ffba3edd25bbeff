// Package sqlite stores lifecycle events in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/runsvc/internal/history"
)

const schema = `CREATE TABLE IF NOT EXISTS service_history(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	occurred_at TIMESTAMP NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	pid INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP,
	exit_code INTEGER NOT NULL DEFAULT -1,
	signal TEXT,
	detail TEXT
);
CREATE INDEX IF NOT EXISTS service_history_name_idx ON service_history(name, id);`

const insert = `INSERT INTO service_history(occurred_at, type, name, pid, started_at, exit_code, signal, detail)
VALUES(?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`

type Sink struct {
	db  *sql.DB
	ins *sql.Stmt
}

// New opens the database named by dsn, which is "sqlite://<path>",
// "sqlite://:memory:" or a bare path, and creates the table when missing.
func New(dsn string) (*Sink, error) {
	path := strings.TrimSpace(dsn)
	if len(path) >= len("sqlite://") && strings.EqualFold(path[:len("sqlite://")], "sqlite://") {
		path = path[len("sqlite://"):]
	}
	if path == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection: ":memory:" databases live as long as it does
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create service_history: %w", err)
	}
	ins, err := db.PrepareContext(ctx, insert)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{db: db, ins: ins}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := e.Record
	var started sql.NullTime
	if !r.StartedAt.IsZero() {
		started = sql.NullTime{Time: r.StartedAt.UTC(), Valid: true}
	}
	_, err := s.ins.ExecContext(ctx,
		e.OccurredAt.UTC(), string(e.Type), r.Name, r.PID, started, r.ExitCode, r.Signal, r.Detail)
	return err
}

// Count returns how many events were stored for name.
func (s *Sink) Count(ctx context.Context, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_history WHERE name = ?`, name).Scan(&n)
	return n, err
}

// Recent returns up to limit events for name, newest first.
func (s *Sink) Recent(ctx context.Context, name string, limit int) ([]history.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, type, pid, started_at, exit_code, COALESCE(signal, ''), COALESCE(detail, '')
		FROM service_history WHERE name = ? ORDER BY id DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e       history.Event
			typ     string
			started sql.NullTime
		)
		e.Record.Name = name
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.PID, &started,
			&e.Record.ExitCode, &e.Record.Signal, &e.Record.Detail); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		if started.Valid {
			e.Record.StartedAt = started.Time.In(time.UTC)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.ins != nil {
		_ = s.ins.Close()
	}
	return s.db.Close()
}
