package auditlog

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxExecutor is the slice of *pgxpool.Pool the store uses.
type pgxExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore appends events to a Postgres table through pgx.
type PostgresStore struct {
	db pgxExecutor
}

var _ authcore.AuditLog = (*PostgresStore)(nil)

func NewPostgresStore(db pgxExecutor) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres creates a pool for url and installs the schema.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts, err := schemaStatements("postgres")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply postgres audit schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, ev authcore.SecurityEvent) error {
	if err := validate(ev); err != nil {
		return err
	}
	md, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	var metadata any
	if md != "" {
		metadata = md
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO security_events (
			id, user_id, action, occurred_at, ip, user_agent,
			session_id, family_id, success, reason, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb)`,
		ev.ID, ev.UserID, string(ev.Action), ev.Timestamp.UTC(), ev.IP, ev.UserAgent,
		ev.SessionID, ev.FamilyID, ev.Success, ev.Reason, metadata,
	)
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// ForUser returns up to limit events for userID, newest first.
func (s *PostgresStore) ForUser(ctx context.Context, userID string, limit int) ([]authcore.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, action, occurred_at, ip, user_agent,
		       session_id, family_id, success, reason, COALESCE(metadata::text, '')
		  FROM security_events
		 WHERE user_id = $1
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, unavailable("query", err)
	}
	defer rows.Close()

	var out []authcore.SecurityEvent
	for rows.Next() {
		var (
			ev     authcore.SecurityEvent
			action string
			md     string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &action, &ev.Timestamp, &ev.IP, &ev.UserAgent,
			&ev.SessionID, &ev.FamilyID, &ev.Success, &ev.Reason, &md); err != nil {
			return nil, unavailable("scan", err)
		}
		ev.Action = authcore.Action(action)
		ev.Timestamp = ev.Timestamp.UTC()
		ev.Metadata = decodeMetadata(md)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows", err)
	}
	return out, nil
}
