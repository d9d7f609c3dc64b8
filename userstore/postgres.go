package userstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authcore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres reads users from a users table:
//
//	id TEXT PRIMARY KEY, email TEXT UNIQUE, password_hash TEXT,
//	roles TEXT[], org_id TEXT, disabled BOOLEAN,
//	mfa_method TEXT, totp_secret BYTEA
type Postgres struct {
	db pgxQuerier
}

var _ authcore.UserProvider = (*Postgres)(nil)

func NewPostgres(db pgxQuerier) *Postgres {
	return &Postgres{db: db}
}

// NewPool creates a pgx pool for url with conservative limits.
func NewPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

const selectUser = `
	SELECT id, email, password_hash, COALESCE(roles, '{}'), COALESCE(org_id, ''),
	       disabled, COALESCE(mfa_method, ''), totp_secret
	  FROM users`

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	return p.scanOne(p.db.QueryRow(ctx, selectUser+` WHERE lower(email) = lower($1) LIMIT 1`, email))
}

func (p *Postgres) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	return p.scanOne(p.db.QueryRow(ctx, selectUser+` WHERE id = $1`, userID))
}

func (p *Postgres) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	tag, err := p.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, newHash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (p *Postgres) scanOne(row pgx.Row) (authcore.UserRecord, error) {
	var (
		u        authcore.UserRecord
		disabled bool
	)
	err := row.Scan(&u.UserID, &u.Email, &u.PasswordHash, &u.Roles, &u.OrgID, &disabled, &u.MFAMethod, &u.TOTPSecret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authcore.UserRecord{}, authcore.ErrUserNotFound
		}
		return authcore.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	if disabled {
		u.Status = authcore.AccountDisabled
	}
	return u, nil
}
