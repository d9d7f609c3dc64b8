package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

// SQLStore appends events to a database/sql table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ authcore.AuditLog = (*SQLStore)(nil)

// OpenSQLite opens (creating if needed) a SQLite audit database at path in
// WAL mode and installs the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite audit path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit db: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the request path.
	db.SetMaxOpenConns(1)
	return openSQL(ctx, db, DialectSQLite)
}

// OpenMySQL connects with dsn and installs the schema. parseTime and UTC
// are forced regardless of the DSN.
func OpenMySQL(ctx context.Context, dsn string) (*SQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)
	return openSQL(ctx, db, DialectMySQL)
}

func openSQL(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s audit db: %w", dialect, err)
	}
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open handle. Call Migrate before the first Record.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate installs the table, index and append-only triggers. It is
// idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts, err := schemaStatements(string(s.dialect))
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s audit schema: %w", s.dialect, err)
		}
	}
	return nil
}

func (s *SQLStore) Record(ctx context.Context, ev authcore.SecurityEvent) error {
	if err := validate(ev); err != nil {
		return err
	}
	md, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO security_events (
		   id, user_id, action, occurred_at, ip, user_agent,
		   session_id, family_id, success, reason, metadata
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, string(ev.Action), toMillis(ev.Timestamp), ev.IP, ev.UserAgent,
		ev.SessionID, ev.FamilyID, ev.Success, ev.Reason, md,
	)
	if err != nil {
		return unavailable("insert", err)
	}
	return nil
}

// ForUser returns up to limit events for userID, newest first.
func (s *SQLStore) ForUser(ctx context.Context, userID string, limit int) ([]authcore.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, action, occurred_at, ip, user_agent,
		        session_id, family_id, success, reason, metadata
		   FROM security_events
		  WHERE user_id = ?
		  ORDER BY occurred_at DESC, id DESC
		  LIMIT ?`,
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
			at     int64
			md     string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &action, &at, &ev.IP, &ev.UserAgent,
			&ev.SessionID, &ev.FamilyID, &ev.Success, &ev.Reason, &md); err != nil {
			return nil, unavailable("scan", err)
		}
		ev.Action = authcore.Action(action)
		ev.Timestamp = fromMillis(at)
		ev.Metadata = decodeMetadata(md)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows", err)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
