package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ai-oracle/server/sim"
)

//go:embed schema.sql
var pgSchema string

// DB is the Postgres history backend.
type DB struct{ *pgxpool.Pool }

func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &DB{p}, nil
}

func (db *DB) Close() error                   { db.Pool.Close(); return nil }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	_, err := db.Exec(ctx, pgSchema)
	return err
}

func (db *DB) SaveRun(ctx context.Context, r Run) (Run, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return Run{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
        INSERT INTO runs(parent_id, question, happened, explanation, iterations, entropy, source)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at
    `, r.ParentID, r.Question, r.Happened, r.Explanation, r.Iterations, r.Entropy, r.Source).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for i, o := range r.Outcomes {
		batch.Queue(`
            INSERT INTO run_outcomes(run_id, rank, name, short_name, detail, emoji,
                                     base_strength, volatility, sim_count, sim_prob)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        `, r.ID, i, o.Name, o.ShortName, o.Detail, o.Emoji, o.BaseStrength, o.Volatility, o.SimCount, o.SimProb)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return Run{}, fmt.Errorf("insert outcomes: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Run{}, err
	}
	return r, nil
}

func (db *DB) GetRun(ctx context.Context, id int64) (Run, error) {
	var r Run
	err := db.QueryRow(ctx, `
        SELECT id, parent_id, question, happened, explanation, iterations, entropy, source, created_at
          FROM runs
         WHERE id = $1
    `, id).Scan(&r.ID, &r.ParentID, &r.Question, &r.Happened, &r.Explanation, &r.Iterations, &r.Entropy, &r.Source, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	byRun, err := db.outcomes(ctx, []int64{id})
	if err != nil {
		return Run{}, err
	}
	r.Outcomes = byRun[id]
	return r, nil
}

func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := db.Query(ctx, `
        SELECT id, parent_id, question, happened, explanation, iterations, entropy, source, created_at
          FROM runs
         ORDER BY created_at DESC, id DESC
         LIMIT $1
    `, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	ids := []int64{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Question, &r.Happened, &r.Explanation, &r.Iterations, &r.Entropy, &r.Source, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	byRun, err := db.outcomes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		runs[i].Outcomes = byRun[runs[i].ID]
	}
	return runs, nil
}

func (db *DB) outcomes(ctx context.Context, ids []int64) (map[int64][]sim.Outcome, error) {
	out := make(map[int64][]sim.Outcome, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := db.Query(ctx, `
        SELECT run_id, name, short_name, detail, emoji, base_strength, volatility, sim_count, sim_prob
          FROM run_outcomes
         WHERE run_id = ANY($1)
         ORDER BY run_id, rank
    `, ids)
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
