/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package history keeps an append-only log of generation requests. By default it
// lives in a local SQLite file next to the draft sessions; a postgres:// DSN moves
// it to a shared Postgres database instead.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"thumbdraft/internal/draft"
	applog "thumbdraft/internal/log"
)

//go:embed migrations
var migrationsFS embed.FS

// FileName is the SQLite file used when no DSN is configured.
const FileName = "history.sqlite"

// Entry is one recorded request.
type Entry struct {
	ID         string
	At         time.Time
	Op         draft.Op
	DraftID    string
	Idea       string
	Heading    string
	Thumbnails int
	Error      string
	Duration   time.Duration
}

// FromEvent converts a controller event.
func FromEvent(e draft.Event) Entry {
	en := Entry{
		ID:         uuid.NewString(),
		At:         e.Started.UTC(),
		Op:         e.Op,
		DraftID:    e.DraftID,
		Idea:       e.Idea,
		Heading:    e.Text.Heading,
		Thumbnails: e.Count,
		Duration:   e.Duration,
	}
	if e.Err != nil {
		en.Error = e.Err.Error()
	}
	return en
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Store is a history log backed by database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *slog.Logger
}

// IsPostgresDSN reports whether dsn selects the Postgres backend.
func IsPostgresDSN(dsn string) bool {
	d := strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://")
}

// Open selects the backend from dsn: a postgres URL, an explicit SQLite path, or
// (empty dsn) <dir>/history.sqlite.
func Open(ctx context.Context, dsn, dir string) (*Store, error) {
	if IsPostgresDSN(dsn) {
		return OpenPostgres(ctx, dsn)
	}
	p := strings.TrimSpace(dsn)
	if p == "" {
		p = filepath.Join(dir, FileName)
	}
	return OpenSQLite(ctx, p)
}

// OpenSQLite opens (creating if needed) the SQLite history at path in WAL mode.
func OpenSQLite(ctx context.Context, p string) (*Store, error) {
	l := applog.WithOperation(applog.WithComponent("history"), "open").With(slog.String("path", p))
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(p))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	return finishOpen(ctx, db, dialectSQLite, l)
}

// OpenPostgres connects through pgx and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	l := applog.WithOperation(applog.WithComponent("history"), "open").With(slog.String("backend", "postgres"))
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return finishOpen(ctx, db, dialectPostgres, l)
}

func finishOpen(ctx context.Context, db *sql.DB, d dialect, l *slog.Logger) (*Store, error) {
	if err := applyMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		l.Error("migrations failed", slog.Any("err", err))
		return nil, err
	}
	l.Debug("history ready")
	return &Store{db: db, dialect: d, log: applog.WithComponent("history")}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// bind rewrites ? placeholders to $n for Postgres.
func (s *Store) bind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqliteTime has a fixed width so that text order is time order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// timeArg stores times as text in SQLite and natively in Postgres.
func (s *Store) timeArg(t time.Time) any {
	if s.dialect == dialectSQLite {
		return t.UTC().Format(sqliteTime)
	}
	return t.UTC()
}

// Record appends e. A missing ID or timestamp is filled in.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.bind(`INSERT INTO generation_history
		(id, at, op, draft_id, idea, heading, thumbnails, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, s.timeArg(e.At), string(e.Op), e.DraftID, e.Idea, e.Heading, e.Thumbnails, e.Error, e.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	return s.query(ctx, `SELECT id, at, op, draft_id, idea, heading, thumbnails, error, duration_ms
		FROM generation_history ORDER BY at DESC LIMIT ?`, limit(n))
}

// ForDraft returns up to n entries of one draft, newest first.
func (s *Store) ForDraft(ctx context.Context, draftID string, n int) ([]Entry, error) {
	return s.query(ctx, `SELECT id, at, op, draft_id, idea, heading, thumbnails, error, duration_ms
		FROM generation_history WHERE draft_id = ? ORDER BY at DESC LIMIT ?`, draftID, limit(n))
}

func limit(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			op  string
			ms  int64
			raw any
		)
		if err := rows.Scan(&e.ID, &raw, &op, &e.DraftID, &e.Idea, &e.Heading, &e.Thumbnails, &e.Error, &ms); err != nil {
			return nil, err
		}
		at, err := scanTime(raw)
		if err != nil {
			return nil, err
		}
		e.At, e.Op, e.Duration = at, draft.Op(op), time.Duration(ms)*time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	}
	return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
}

// Hook returns a controller event handler that records into s. Failures are logged,
// never returned to the workflow.
func Hook(s *Store) func(draft.Event) {
	return func(e draft.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.Record(ctx, FromEvent(e)); err != nil {
			s.log.Warn("history record failed", slog.Any("err", err))
		}
	}
}

// applyMigrations runs the embedded migrations for d in filename order, once each.
func applyMigrations(ctx context.Context, db *sql.DB, d dialect) error {
	dir := "migrations/sqlite"
	createTable := `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`
	if d == dialectPostgres {
		dir = "migrations/postgres"
		createTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    BIGINT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)`
	}
	if _, err := db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	applied := map[int64]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	_ = rows.Close()

	mark := `INSERT INTO schema_migrations(version, name, applied_at) VALUES (?, ?, ?)`
	if d == dialectPostgres {
		mark = `INSERT INTO schema_migrations(version, name, applied_at) VALUES ($1, $2, $3)`
	}
	for _, name := range files {
		v, err := parseVersion(name)
		if err != nil {
			return err
		}
		if applied[v] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return err
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range splitStatements(string(b)) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("apply %s: %w", name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, mark, v, name, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("mark %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", name, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	prefix, _, ok := strings.Cut(path.Base(name), "_")
	if !ok {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s: %w", name, err)
	}
	return v, nil
}

func splitStatements(sqlText string) []string {
	var out []string
	for _, part := range strings.Split(sqlText, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
