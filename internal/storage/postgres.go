package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"dockeragent-core/internal/trajectory"
)

// DB wraps a PostgreSQL connection pool for the reference trajectory sink.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// RowFromRecord converts a finalized trajectory.Record into the row this
// sink persists, using trajectory.Summarize for the human-readable line.
func RowFromRecord(rec trajectory.Record) (*TrajectoryRow, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshaling trajectory record: %w", err)
	}

	var threadID string
	if rec.ThreadID != nil {
		threadID = *rec.ThreadID
	}
	var errMsg string
	if rec.Error != nil {
		errMsg = *rec.Error
	}

	return &TrajectoryRow{
		ID:           uuid.New().String(),
		ThreadID:     threadID,
		Task:         rec.Task,
		Summary:      trajectory.Summarize(rec),
		Success:      rec.Success,
		Error:        errMsg,
		ToolCalls:    rec.Metrics.TotalToolCalls,
		LLMCalls:     rec.Metrics.TotalLLMCalls,
		LoopDetected: rec.Metrics.LoopDetected,
		TotalLatency: rec.Metrics.TotalLatency,
		RawRecord:    raw,
		StartedAt:    rec.StartedAt,
		CompletedAt:  rec.CompletedAt,
	}, nil
}

// LogTrajectory inserts a finalized trajectory row.
func (db *DB) LogTrajectory(ctx context.Context, row *TrajectoryRow) error {
	query := `
		INSERT INTO trajectories (id, thread_id, task, summary, success, error,
			tool_calls, llm_calls, loop_detected, total_latency, raw_record,
			started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := db.pool.Exec(ctx, query,
		row.ID, row.ThreadID, row.Task, row.Summary, row.Success, row.Error,
		row.ToolCalls, row.LLMCalls, row.LoopDetected, row.TotalLatency, row.RawRecord,
		row.StartedAt, row.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting trajectory: %w", err)
	}
	return nil
}

// LogSecurityEvent inserts an advisory detector hit.
func (db *DB) LogSecurityEvent(ctx context.Context, event *SecurityEventRecord) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO security_events (id, trajectory_id, type, severity, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.pool.Exec(ctx, query,
		event.ID, event.TrajectoryID, event.Type, event.Severity,
		event.Detail, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}
	return nil
}

// GetTrajectory retrieves a single trajectory row by ID.
func (db *DB) GetTrajectory(ctx context.Context, id string) (*TrajectoryRow, error) {
	query := `
		SELECT id, thread_id, task, summary, success, error, tool_calls,
			llm_calls, loop_detected, total_latency, raw_record, started_at, completed_at
		FROM trajectories WHERE id = $1`

	var row TrajectoryRow
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&row.ID, &row.ThreadID, &row.Task, &row.Summary, &row.Success, &row.Error,
		&row.ToolCalls, &row.LLMCalls, &row.LoopDetected, &row.TotalLatency,
		&row.RawRecord, &row.StartedAt, &row.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("querying trajectory %s: %w", id, err)
	}
	return &row, nil
}

// ListTrajectories queries trajectory rows, newest first. Of the filter's
// fields it applies ThreadID, Limit and Offset; Success, Since and Until
// are not applied.
func (db *DB) ListTrajectories(ctx context.Context, filter TrajectoryFilter) ([]TrajectoryRow, error) {
	query := `
		SELECT id, thread_id, task, summary, success, tool_calls, llm_calls,
			loop_detected, total_latency, started_at, completed_at
		FROM trajectories
		WHERE ($1 = '' OR thread_id = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query, filter.ThreadID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("querying trajectories: %w", err)
	}
	defer rows.Close()

	var results []TrajectoryRow
	for rows.Next() {
		var row TrajectoryRow
		if err := rows.Scan(
			&row.ID, &row.ThreadID, &row.Task, &row.Summary, &row.Success,
			&row.ToolCalls, &row.LLMCalls, &row.LoopDetected, &row.TotalLatency,
			&row.StartedAt, &row.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning trajectory row: %w", err)
		}
		results = append(results, row)
	}

	return results, rows.Err()
}
