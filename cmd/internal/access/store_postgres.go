package access

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore persists users, admins, and invitation links in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "muse").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "muse"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// EnsureSchema creates the schema and tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + s.ident("invitation_links") + ` (
		     id         TEXT PRIMARY KEY,
		     link       TEXT UNIQUE NOT NULL,
		     is_used    BOOLEAN NOT NULL DEFAULT FALSE,
		     created_at TIMESTAMPTZ NOT NULL
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + s.ident("users") + ` (
		     user_id        BIGINT PRIMARY KEY,
		     unique_link    TEXT UNIQUE NOT NULL REFERENCES ` + s.ident("invitation_links") + ` (link),
		     access_granted BOOLEAN NOT NULL,
		     created_at     TIMESTAMPTZ NOT NULL
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + s.ident("admins") + ` (
		     user_id BIGINT PRIMARY KEY
		 )`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// CreateLink inserts a new unused invitation link.
func (s *PostgresStore) CreateLink(ctx context.Context, link Link) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(link.ID) == "" || strings.TrimSpace(link.Token) == "" {
		return ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("invitation_links")+` (id, link, is_used, created_at)
		 VALUES ($1, $2, $3, $4)`,
		link.ID, link.Token, link.IsUsed, link.CreatedAt,
	)
	return err
}

// ListUnusedLinks returns all unredeemed links ordered by creation time.
func (s *PostgresStore) ListUnusedLinks(ctx context.Context) ([]Link, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, link, is_used, created_at
		   FROM `+s.ident("invitation_links")+`
		  WHERE is_used = FALSE
		  ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.Token, &l.IsUsed, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetUser loads a user row by id.
func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, unique_link, access_granted, created_at
		   FROM `+s.ident("users")+`
		  WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.RedeemedLink, &u.AccessGranted, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

// RedeemLink marks the link used and creates the user row in one
// transaction. A crash between the two statements leaves neither applied.
func (s *PostgresStore) RedeemLink(ctx context.Context, in RedeemRecord) (User, error) {
	if s == nil || s.pool == nil {
		return User{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if in.UserID == 0 || strings.TrimSpace(in.Token) == "" {
		return User{}, ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return User{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.ident("users")+` WHERE user_id = $1)`,
		in.UserID,
	).Scan(&exists)
	if err != nil {
		return User{}, err
	}
	if exists {
		return User{}, ErrAlreadyClaimed
	}

	ct, err := tx.Exec(ctx,
		`UPDATE `+s.ident("invitation_links")+`
		    SET is_used = TRUE
		  WHERE link = $1
		    AND is_used = FALSE`,
		in.Token,
	)
	if err != nil {
		return User{}, err
	}
	if ct.RowsAffected() == 0 {
		return User{}, ErrInvalidOrUsedLink
	}

	u := User{
		UserID:        in.UserID,
		RedeemedLink:  in.Token,
		AccessGranted: true,
		CreatedAt:     in.Now,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.ident("users")+` (user_id, unique_link, access_granted, created_at)
		 VALUES ($1, $2, $3, $4)`,
		u.UserID, u.RedeemedLink, u.AccessGranted, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrAlreadyClaimed
		}
		return User{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

// SetAccessGranted updates the access flag for an existing user.
func (s *PostgresStore) SetAccessGranted(ctx context.Context, userID int64, granted bool) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("users")+` SET access_granted = $1 WHERE user_id = $2`,
		granted, userID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IsAdmin reports whether the user id is in the admin set.
func (s *PostgresStore) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.ident("admins")+` WHERE user_id = $1)`,
		userID,
	).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// AddAdmin inserts a user id into the admin set.
func (s *PostgresStore) AddAdmin(ctx context.Context, userID int64) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.ident("admins")+` (user_id) VALUES ($1)`,
		userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyAdmin
		}
		return err
	}
	return nil
}

// RemoveAdmin deletes a user id from the admin set. The whole set is row
// locked inside one transaction so a concurrent removal cannot empty it.
func (s *PostgresStore) RemoveAdmin(ctx context.Context, userID int64) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`SELECT user_id FROM `+s.ident("admins")+` FOR UPDATE`,
	)
	if err != nil {
		return err
	}
	var total int
	var present bool
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		total++
		if id == userID {
			present = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if !present {
		return ErrNotAdmin
	}
	if total == 1 {
		return ErrLastAdmin
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM `+s.ident("admins")+` WHERE user_id = $1`,
		userID,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ident(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
