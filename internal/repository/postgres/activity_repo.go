package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const activityColumns = 9

// Schema — DDL таблицы архива, применяется при старте.
const Schema = `
CREATE TABLE IF NOT EXISTS agent_activity (
	id          TEXT PRIMARY KEY,
	trace_id    TEXT,
	agent_id    TEXT NOT NULL,
	action      TEXT NOT NULL,
	parameters  JSONB,
	result      JSONB,
	success     BOOLEAN NOT NULL,
	duration_ms BIGINT,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS agent_activity_agent_ts ON agent_activity (agent_id, timestamp DESC);`

// ActivityRepo пишет историю действий пачками.
type ActivityRepo struct {
	pool *pgxpool.Pool
}

func NewActivityRepo(ctx context.Context, url string, maxConns, minConns int32) (*ActivityRepo, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &ActivityRepo{pool: pool}, nil
}

// Migrate создает таблицу архива, если ее еще нет.
func (r *ActivityRepo) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate agent_activity: %w", err)
	}
	return nil
}

func (r *ActivityRepo) WriteBatch(ctx context.Context, records []domain.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}
	query, args, err := buildInsert(records)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, query, args...)
	return err
}

func (r *ActivityRepo) Close() {
	r.pool.Close()
}

// buildInsert строит один INSERT ... VALUES (...), (...) на всю пачку.
func buildInsert(records []domain.ActivityRecord) (string, []any, error) {
	var sb strings.Builder
	args := make([]any, 0, len(records)*activityColumns)

	for i, rec := range records {
		params, err := json.Marshal(rec.Parameters)
		if err != nil {
			return "", nil, fmt.Errorf("marshal parameters of %s: %w", rec.ID, err)
		}
		result, err := json.Marshal(rec.Result)
		if err != nil {
			return "", nil, fmt.Errorf("marshal result of %s: %w", rec.ID, err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		p := i * activityColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9)

		args = append(args,
			rec.ID, rec.TraceID, rec.AgentID, rec.Action,
			params, result, rec.Result.Success, rec.DurationMs, rec.Timestamp,
		)
	}

	query := "INSERT INTO agent_activity (id, trace_id, agent_id, action, parameters, result, success, duration_ms, timestamp) VALUES " +
		sb.String() + " ON CONFLICT (id) DO NOTHING"
	return query, args, nil
}
