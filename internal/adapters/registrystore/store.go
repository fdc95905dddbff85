// Package registrystore persists candidate registries in SQLite.
package registrystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/logger"
	"github.com/okian/revroute/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS candidates (
	task   TEXT NOT NULL,
	name   TEXT NOT NULL,
	ref    TEXT NOT NULL,
	status TEXT NOT NULL,
	PRIMARY KEY (task, name)
);
CREATE TABLE IF NOT EXISTS transitions (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	task   TEXT NOT NULL,
	name   TEXT NOT NULL,
	action TEXT NOT NULL,
	at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_task_name ON transitions(task, name);
`

// Store is a champion.Store backed by a SQLite database file.
type Store struct {
	db  *sql.DB
	now func() time.Time
	log logger.Logger
}

var _ champion.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the transition timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Open opens or creates the registry database at path. ":memory:" gives a
// private in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("registry path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create registry directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" one database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize registry schema: %w", err)
	}
	s := &Store{db: db, now: time.Now, log: logger.For("registrystore")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register implements champion.Store.
func (s *Store) Register(ctx context.Context, task operators.TaskID, ref champion.Ref) error {
	ref, err := ref.Normalize()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode ref: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored string
	err = tx.QueryRowContext(ctx, `SELECT ref FROM candidates WHERE task = ? AND name = ?`, string(task), ref.Name).Scan(&stored)
	switch {
	case err == nil:
		var prev champion.Ref
		if err := json.Unmarshal([]byte(stored), &prev); err != nil {
			return fmt.Errorf("decode stored ref %s/%s: %w", task, ref.Name, err)
		}
		if !reflect.DeepEqual(prev, ref) {
			return fmt.Errorf("%w: %s/%s", champion.ErrConflictingRef, task, ref.Name)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup candidate: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO candidates (task, name, ref, status) VALUES (?, ?, ?, ?)`,
		string(task), ref.Name, string(raw), string(champion.StatusRegistered)); err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	if err := s.transition(ctx, tx, task, ref.Name, champion.ActionRegister, s.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit register: %w", err)
	}
	metrics.RecordChampionChange(string(task), champion.ActionRegister)
	s.log.Info(ctx, "candidate registered", logger.String("task", string(task)), logger.String("name", ref.Name))
	return nil
}

// Promote implements champion.Store. The demotion and promotion commit in
// one transaction.
func (s *Store) Promote(ctx context.Context, task operators.TaskID, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM candidates WHERE task = ? AND name = ?`, string(task), name).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", champion.ErrUnregisteredCandidate, task, name)
	}
	if err != nil {
		return fmt.Errorf("lookup candidate: %w", err)
	}
	if champion.Status(status) == champion.StatusChampion {
		return nil
	}

	at := s.now()
	rows, err := tx.QueryContext(ctx, `SELECT name FROM candidates WHERE task = ? AND status = ?`, string(task), string(champion.StatusChampion))
	if err != nil {
		return fmt.Errorf("lookup champion: %w", err)
	}
	var prior []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan champion: %w", err)
		}
		prior = append(prior, n)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, n := range prior {
		if _, err := tx.ExecContext(ctx, `UPDATE candidates SET status = ? WHERE task = ? AND name = ?`,
			string(champion.StatusRegistered), string(task), n); err != nil {
			return fmt.Errorf("demote %s: %w", n, err)
		}
		if err := s.transition(ctx, tx, task, n, champion.ActionDemote, at); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE candidates SET status = ? WHERE task = ? AND name = ?`,
		string(champion.StatusChampion), string(task), name); err != nil {
		return fmt.Errorf("promote %s: %w", name, err)
	}
	if err := s.transition(ctx, tx, task, name, champion.ActionPromote, at); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit promote: %w", err)
	}
	metrics.RecordChampionChange(string(task), champion.ActionPromote)
	s.log.Info(ctx, "candidate promoted", logger.String("task", string(task)), logger.String("name", name), logger.Strings("demoted", prior))
	return nil
}

// Get implements champion.Store.
func (s *Store) Get(ctx context.Context, task operators.TaskID) (champion.State, error) {
	st := champion.State{Task: task, Entries: []champion.Entry{}}
	rows, err := s.db.QueryContext(ctx, `SELECT name, ref, status FROM candidates WHERE task = ? ORDER BY name`, string(task))
	if err != nil {
		return champion.State{}, fmt.Errorf("list candidates: %w", err)
	}
	for rows.Next() {
		var name, raw, status string
		if err := rows.Scan(&name, &raw, &status); err != nil {
			_ = rows.Close()
			return champion.State{}, fmt.Errorf("scan candidate: %w", err)
		}
		e := champion.Entry{Task: task, Status: champion.Status(status)}
		if err := json.Unmarshal([]byte(raw), &e.Ref); err != nil {
			_ = rows.Close()
			return champion.State{}, fmt.Errorf("decode ref %s: %w", name, err)
		}
		if e.Status == champion.StatusChampion {
			st.Champion = name
		}
		st.Entries = append(st.Entries, e)
	}
	if err := rows.Close(); err != nil {
		return champion.State{}, err
	}
	for i := range st.Entries {
		h, err := s.history(ctx, task, st.Entries[i].Ref.Name)
		if err != nil {
			return champion.State{}, err
		}
		st.Entries[i].History = h
	}
	return st, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) transition(ctx context.Context, tx *sql.Tx, task operators.TaskID, name, action string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO transitions (task, name, action, at) VALUES (?, ?, ?, ?)`,
		string(task), name, action, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record %s transition: %w", action, err)
	}
	return nil
}

func (s *Store) history(ctx context.Context, task operators.TaskID, name string) ([]champion.Transition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT action, at FROM transitions WHERE task = ? AND name = ? ORDER BY id`, string(task), name)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []champion.Transition
	for rows.Next() {
		var action, at string
		if err := rows.Scan(&action, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse transition time: %w", err)
		}
		out = append(out, champion.Transition{Name: name, Action: action, At: ts})
	}
	return out, rows.Err()
}
