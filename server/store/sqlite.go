package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"ai-oracle/server/sim"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_id   INTEGER REFERENCES runs(id) ON DELETE SET NULL,
    question    TEXT NOT NULL,
    happened    INTEGER NOT NULL DEFAULT 0,
    explanation TEXT NOT NULL DEFAULT '',
    iterations  INTEGER NOT NULL DEFAULT 0,
    entropy     REAL NOT NULL DEFAULT 0,
    source      TEXT NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at_idx ON runs (created_at DESC);
CREATE TABLE IF NOT EXISTS run_outcomes (
    run_id        INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    rank          INTEGER NOT NULL,
    name          TEXT NOT NULL,
    short_name    TEXT NOT NULL DEFAULT '',
    detail        TEXT NOT NULL DEFAULT '',
    emoji         TEXT NOT NULL DEFAULT '',
    base_strength REAL NOT NULL,
    volatility    REAL NOT NULL,
    sim_count     INTEGER,
    sim_prob      TEXT,
    PRIMARY KEY (run_id, rank)
);
`

// SQLite is the single-file history backend used when no Postgres is set up.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) SaveRun(ctx context.Context, r Run) (Run, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, err
	}
	defer tx.Rollback()

	r.CreatedAt = s.now().UTC()
	res, err := tx.ExecContext(ctx, `
        INSERT INTO runs(parent_id, question, happened, explanation, iterations, entropy, source, created_at)
        VALUES (?,?,?,?,?,?,?,?)
    `, r.ParentID, r.Question, r.Happened, r.Explanation, r.Iterations, r.Entropy, r.Source, r.CreatedAt.UnixNano())
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return Run{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO run_outcomes(run_id, rank, name, short_name, detail, emoji,
                                 base_strength, volatility, sim_count, sim_prob)
        VALUES (?,?,?,?,?,?,?,?,?,?)
    `)
	if err != nil {
		return Run{}, err
	}
	defer stmt.Close()
	for i, o := range r.Outcomes {
		if _, err := stmt.ExecContext(ctx, r.ID, i, o.Name, o.ShortName, o.Detail, o.Emoji, o.BaseStrength, o.Volatility, o.SimCount, o.SimProb); err != nil {
			return Run{}, fmt.Errorf("insert outcome %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Run{}, err
	}
	return r, nil
}

const sqliteRunCols = `id, parent_id, question, happened, explanation, iterations, entropy, source, created_at`

func scanSQLiteRun(sc interface{ Scan(...any) error }) (Run, error) {
	var r Run
	var created int64
	if err := sc.Scan(&r.ID, &r.ParentID, &r.Question, &r.Happened, &r.Explanation, &r.Iterations, &r.Entropy, &r.Source, &created); err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	return r, nil
}

func (s *SQLite) GetRun(ctx context.Context, id int64) (Run, error) {
	r, err := scanSQLiteRun(s.db.QueryRowContext(ctx, `SELECT `+sqliteRunCols+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	byRun, err := s.outcomes(ctx, []int64{id})
	if err != nil {
		return Run{}, err
	}
	r.Outcomes = byRun[id]
	return r, nil
}

func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteRunCols+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	runs := []Run{}
	ids := []int64{}
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		runs = append(runs, r)
		ids = append(ids, r.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	byRun, err := s.outcomes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].Outcomes = byRun[runs[i].ID]
	}
	return runs, nil
}

func (s *SQLite) outcomes(ctx context.Context, ids []int64) (map[int64][]sim.Outcome, error) {
	out := make(map[int64][]sim.Outcome, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx, `
        SELECT run_id, name, short_name, detail, emoji, base_strength, volatility, sim_count, sim_prob
          FROM run_outcomes
         WHERE run_id IN (`+placeholders+`)
         ORDER BY run_id, rank
    `, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var runID int64
		var o sim.Outcome
		if err := rows.Scan(&runID, &o.Name, &o.ShortName, &o.Detail, &o.Emoji, &o.BaseStrength, &o.Volatility, &o.SimCount, &o.SimProb); err != nil {
			return nil, err
		}
		out[runID] = append(out[runID], o)
	}
	return out, rows.Err()
}
