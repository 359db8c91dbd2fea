// Package store is the relational store behind the local identity provider
// and the SQL local-state backend.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"quotegate/internal/db"
	"quotegate/internal/models"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")

type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

func New(sqlDB *sql.DB, driver string) *Store {
	return &Store{db: sqlDB, dialect: db.Dialect{Driver: driver}}
}

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

func (s *Store) CreateAccount(ctx context.Context, email, displayName, passwordHash string) (models.Account, error) {
	a := models.Account{
		ID:           uuid.NewString(),
		Email:        normalizeEmail(email),
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.GetAccountByEmail(ctx, a.Email); err == nil {
		return models.Account{}, ErrConflict
	} else if err != ErrNotFound {
		return models.Account{}, err
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO accounts(id,email,display_name,password_hash,disabled,created_at) VALUES(?,?,?,?,?,?)`),
		a.ID, a.Email, a.DisplayName, a.PasswordHash, boolToInt(false), a.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return models.Account{}, ErrConflict
	}
	return a, err
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	return s.getAccount(ctx, `SELECT id,email,display_name,password_hash,disabled,created_at,last_login_at FROM accounts WHERE email=?`, normalizeEmail(email))
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (models.Account, error) {
	return s.getAccount(ctx, `SELECT id,email,display_name,password_hash,disabled,created_at,last_login_at FROM accounts WHERE id=?`, id)
}

func (s *Store) getAccount(ctx context.Context, query string, arg any) (models.Account, error) {
	var a models.Account
	var disabled int
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx, s.q(query), arg).
		Scan(&a.ID, &a.Email, &a.DisplayName, &a.PasswordHash, &disabled, &a.CreatedAt, &lastLogin)
	if err == sql.ErrNoRows {
		return models.Account{}, ErrNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	a.Disabled = disabled != 0
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLoginAt = &t
	}
	return a, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE accounts SET password_hash=? WHERE id=?`), passwordHash, accountID)
	return err
}

func (s *Store) SetAccountDisabled(ctx context.Context, accountID string, disabled bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE accounts SET disabled=? WHERE id=?`), boolToInt(disabled), accountID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE accounts SET last_login_at=? WHERE id=?`), at, accountID)
	return err
}

func (s *Store) CreateSession(ctx context.Context, sess models.AuthSession) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO auth_sessions(id,account_id,token_hash,expires_at,idle_expires_at,created_at,last_seen_at) VALUES(?,?,?,?,?,?,?)`),
		sess.ID, sess.AccountID, sess.TokenHash, sess.ExpiresAt, sess.IdleExpiresAt, sess.CreatedAt, sess.LastSeenAt,
	)
	return err
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (models.AuthSession, error) {
	var sess models.AuthSession
	var revoked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id,account_id,token_hash,expires_at,idle_expires_at,created_at,last_seen_at,revoked_at FROM auth_sessions WHERE token_hash=?`),
		tokenHash,
	).Scan(&sess.ID, &sess.AccountID, &sess.TokenHash, &sess.ExpiresAt, &sess.IdleExpiresAt, &sess.CreatedAt, &sess.LastSeenAt, &revoked)
	if err == sql.ErrNoRows {
		return models.AuthSession{}, ErrNotFound
	}
	if err != nil {
		return models.AuthSession{}, err
	}
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, idleExpiry time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE auth_sessions SET last_seen_at=?, idle_expires_at=? WHERE id=?`), time.Now().UTC(), idleExpiry, id)
	return err
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE auth_sessions SET revoked_at=? WHERE id=? AND revoked_at IS NULL`), time.Now().UTC(), id)
	return err
}

func (s *Store) RevokeAccountSessions(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE auth_sessions SET revoked_at=? WHERE account_id=? AND revoked_at IS NULL`), time.Now().UTC(), accountID)
	return err
}

func (s *Store) CreatePasswordResetToken(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (models.PasswordResetToken, error) {
	t := models.PasswordResetToken{ID: uuid.NewString(), AccountID: accountID, TokenHash: tokenHash, ExpiresAt: expiresAt, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO password_reset_tokens(id,account_id,token_hash,expires_at,created_at) VALUES(?,?,?,?,?)`),
		t.ID, t.AccountID, t.TokenHash, t.ExpiresAt, t.CreatedAt,
	)
	return t, err
}

// ConsumePasswordResetToken marks the token used. Unknown, expired and
// already used tokens all report ErrNotFound.
func (s *Store) ConsumePasswordResetToken(ctx context.Context, tokenHash string) (models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	var used sql.NullTime
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id,account_id,token_hash,expires_at,used_at,created_at FROM password_reset_tokens WHERE token_hash=?`), tokenHash,
	).Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.ExpiresAt, &used, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return models.PasswordResetToken{}, ErrNotFound
	}
	if err != nil {
		return models.PasswordResetToken{}, err
	}
	if used.Valid || time.Now().UTC().After(t.ExpiresAt) {
		return models.PasswordResetToken{}, ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE password_reset_tokens SET used_at=? WHERE id=? AND used_at IS NULL`), time.Now().UTC(), t.ID)
	if err != nil {
		return models.PasswordResetToken{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.PasswordResetToken{}, ErrNotFound
	}
	return t, nil
}

// IncrementLoginFailure bumps the failure counter for key in the window
// starting at windowStart and returns the new count.
func (s *Store) IncrementLoginFailure(ctx context.Context, key string, windowStart time.Time) (int, error) {
	now := time.Now().UTC()
	upsert := s.dialect.UpsertSet("login_failures",
		[]string{"failure_key", "window_start", "count", "updated_at"},
		[]string{"failure_key", "window_start"},
		[]string{"count=login_failures.count+1", "updated_at=" + s.dialect.Excluded("updated_at")},
	)
	if _, err := s.db.ExecContext(ctx, upsert, key, windowStart, 1, now); err != nil {
		return 0, err
	}
	return s.LoginFailures(ctx, key, windowStart)
}

func (s *Store) LoginFailures(ctx context.Context, key string, windowStart time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT count FROM login_failures WHERE failure_key=? AND window_start=?`), key, windowStart,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

func (s *Store) ClearLoginFailures(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM login_failures WHERE failure_key=?`), key)
	return err
}

func (s *Store) CleanupLoginFailuresBefore(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM login_failures WHERE window_start < ?`), before)
	return err
}

func (s *Store) GetLocalState(ctx context.Context, namespace, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT value FROM local_state WHERE namespace=? AND state_key=?`), namespace, key,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) UpsertLocalState(ctx context.Context, namespace, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		s.dialect.Upsert("local_state",
			[]string{"namespace", "state_key", "value", "updated_at"},
			[]string{"namespace", "state_key"},
			[]string{"value", "updated_at"}),
		namespace, key, value, time.Now().UTC(),
	)
	return err
}

func (s *Store) DeleteLocalState(ctx context.Context, namespace, key string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM local_state WHERE namespace=? AND state_key=?`), namespace, key)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
