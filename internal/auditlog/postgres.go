package auditlog

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const writeTimeout = 5 * time.Second

// PostgresLog persists entries to a dispatch_audit_log table, grounded in
// the teacher's pgxpool connection setup (control_plane/store/postgres.go).
// It is opt-in (spec.md section 6, --audit-dsn) and additive: it does not
// replace MemoryLog, which stays first in the Tee and answers Recent.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog connects to connString and ensures the audit table exists.
func NewPostgresLog(ctx context.Context, connString string) (*PostgresLog, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("auditlog: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("auditlog: ping: %w", err)
	}

	createCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err = pool.Exec(createCtx, `
		CREATE TABLE IF NOT EXISTS dispatch_audit_log (
			id SERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			user_id TEXT NOT NULL,
			decision TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("auditlog: create table: %w", err)
	}

	return &PostgresLog{pool: pool}, nil
}

// Record writes e asynchronously. A failed write is logged and otherwise
// ignored, matching the teacher's publishEventAsync policy: audit
// persistence is observability, never control flow.
func (l *PostgresLog) Record(e Entry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_, err := l.pool.Exec(ctx,
			`INSERT INTO dispatch_audit_log (occurred_at, user_id, decision, reason) VALUES ($1, $2, $3, $4)`,
			e.Time, e.User, e.Decision, e.Reason,
		)
		if err != nil {
			log.Printf("auditlog: failed to persist entry: %v", err)
		}
	}()
}

// Recent queries the most recent limit entries, newest first.
func (l *PostgresLog) Recent(limit int) []Entry {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	rows, err := l.pool.Query(ctx,
		`SELECT occurred_at, user_id, decision, reason FROM dispatch_audit_log ORDER BY occurred_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		log.Printf("auditlog: failed to query recent entries: %v", err)
		return nil
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Time, &e.User, &e.Decision, &e.Reason); err != nil {
			log.Printf("auditlog: failed to scan entry: %v", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

// Close releases the connection pool.
func (l *PostgresLog) Close() {
	l.pool.Close()
}
