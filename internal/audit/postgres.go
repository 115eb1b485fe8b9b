package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink menyimpan entri audit ke tabel audit_logs.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink membuat sink Postgres.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Write mencatat satu entri.
func (s *PostgresSink) Write(ctx context.Context, entry Entry) error {
	meta := entry.Meta
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("audit: insert log: %w", err)
	}
	return nil
}

// TimelineWindow mengambil satu halaman audit_logs terbaru lebih dulu.
func (s *PostgresSink) TimelineWindow(ctx context.Context, query WindowQuery) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !query.From.IsZero() {
		add("occurred_at >= $%d", query.From)
	}
	if !query.To.IsZero() {
		add("occurred_at < $%d", query.To)
	}
	if query.ActorID > 0 {
		add("actor_id = $%d", query.ActorID)
	}
	if query.Entity != "" {
		add("entity = $%d", query.Entity)
	}
	if query.Action != "" {
		add("action = $%d", query.Action)
	}
	sql := `SELECT id, occurred_at, actor_id, action, entity, entity_id, meta FROM audit_logs`
	if len(clauses) > 0 {
		sql += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, query.Limit, query.Offset)
	sql += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.ID, &e.OccurredAt, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Meta)
		return e, err
	})
}
