package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Postgres driver registration for database/sql.
	_ "github.com/lib/pq"

	"github.com/exllm/exllm/pkg/pipeline"
)

// costAuditSchema is applied idempotently at startup.
const costAuditSchema = `
CREATE TABLE IF NOT EXISTS exllm_cost_audit (
    id          BIGSERIAL PRIMARY KEY,
    request_id  TEXT NOT NULL,
    provider    TEXT NOT NULL,
    model       TEXT NOT NULL DEFAULT '',
    outcome     TEXT NOT NULL,
    input_tokens  INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost_usd    DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS exllm_cost_audit_provider_created
    ON exllm_cost_audit (provider, created_at);
`

// PostgresCostSink writes one audit row per finished request, giving
// deployments a queryable spend ledger.
type PostgresCostSink struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPostgresCostSink connects with the given DSN and ensures the audit
// table exists.
func NewPostgresCostSink(ctx context.Context, dsn string, log *slog.Logger) (*PostgresCostSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, costAuditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure cost audit schema: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresCostSink{db: db, log: log}, nil
}

// OnRequestEnd implements Sink.
func (p *PostgresCostSink) OnRequestEnd(ctx context.Context, req *pipeline.Request) {
	input, output, _ := usageOf(req)
	model := ""
	if req.Result != nil {
		model = req.Result.Model
	}
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := p.db.ExecContext(insertCtx,
		`INSERT INTO exllm_cost_audit
		 (request_id, provider, model, outcome, input_tokens, output_tokens, cost_usd, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.Provider, model, outcomeOf(req),
		input, output, costOf(req), durationMsOf(req))
	if err != nil {
		p.log.Warn("cost audit insert failed", "request_id", req.ID, "error", err)
	}
}

// Close closes the connection pool.
func (p *PostgresCostSink) Close() error {
	return p.db.Close()
}
