package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-oracle/server/config"
	"ai-oracle/server/sim"
)

// ErrNotFound is returned when a run id does not exist.
var ErrNotFound = errors.New("run not found")

// Run is one stored prediction. Outcomes are kept in rank order.
type Run struct {
	ID          int64         `json:"id" msgpack:"id"`
	ParentID    *int64        `json:"parentId,omitempty" msgpack:"parent_id,omitempty"`
	Question    string        `json:"question" msgpack:"question"`
	Happened    bool          `json:"happened" msgpack:"happened"`
	Explanation string        `json:"explanation" msgpack:"explanation"`
	Iterations  int           `json:"iterations" msgpack:"iterations"`
	Entropy     float64       `json:"entropy" msgpack:"entropy"`
	Source      string        `json:"source" msgpack:"source"` // resolver that produced the outcomes
	Outcomes    []sim.Outcome `json:"outcomes" msgpack:"outcomes"`
	CreatedAt   time.Time     `json:"createdAt" msgpack:"created_at"`
}

// History persists prediction runs.
type History interface {
	// SaveRun stores r and returns it with ID and CreatedAt set.
	SaveRun(ctx context.Context, r Run) (Run, error)
	GetRun(ctx context.Context, id int64) (Run, error)
	// ListRuns returns the newest runs first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// Open picks the backend named by cfg.HistoryBackend.
func Open(ctx context.Context, cfg config.Config) (History, error) {
	switch cfg.HistoryBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres history requires DATABASE_URL")
		}
		db, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := Migrate(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return db, nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
