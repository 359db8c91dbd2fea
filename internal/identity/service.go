package identity

import (
	"context"
	"errors"
	"log"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"quotegate/internal/models"
	"quotegate/internal/notify"
	"quotegate/internal/store"
)

type Options struct {
	PasswordMinLength int
	PasswordMaxLength int
	SessionIdle       time.Duration
	SessionAbsolute   time.Duration
	MaxLoginFailures  int
	FailureWindow     time.Duration
	ResetTokenTTL     time.Duration
	DisableSignup     bool
	Argon2            Argon2Params
}

func (o Options) withDefaults() Options {
	if o.PasswordMinLength <= 0 {
		o.PasswordMinLength = 6
	}
	if o.PasswordMaxLength <= 0 {
		o.PasswordMaxLength = 128
	}
	if o.SessionIdle <= 0 {
		o.SessionIdle = 30 * time.Minute
	}
	if o.SessionAbsolute <= 0 {
		o.SessionAbsolute = 24 * time.Hour
	}
	if o.MaxLoginFailures <= 0 {
		o.MaxLoginFailures = 5
	}
	if o.FailureWindow <= 0 {
		o.FailureWindow = 15 * time.Minute
	}
	if o.ResetTokenTTL <= 0 {
		o.ResetTokenTTL = 30 * time.Minute
	}
	if o.Argon2.KeyLen == 0 {
		o.Argon2 = DefaultArgon2
	}
	return o
}

// Service is the local identity provider: accounts, bearer sessions and
// password resets kept in SQL.
type Service struct {
	st     *store.Store
	sender notify.Sender
	opts   Options
	now    func() time.Time
}

func NewService(st *store.Store, sender notify.Sender, opts Options) *Service {
	if sender == nil {
		sender = notify.LogSender{}
	}
	return &Service{st: st, sender: sender, opts: opts.withDefaults(), now: time.Now}
}

func (s *Service) ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return newError(CodeInvalidEmail, err)
	}
	return nil
}

func (s *Service) ValidatePassword(pw string) error {
	if len(pw) < s.opts.PasswordMinLength || len(pw) > s.opts.PasswordMaxLength {
		return newError(CodeWeakPassword, nil)
	}
	return nil
}

// Register creates an account. It does not open a session.
func (s *Service) Register(ctx context.Context, email, password, displayName string) (models.Account, error) {
	if s.opts.DisableSignup {
		return models.Account{}, newError(CodeOperationNotAllowed, nil)
	}
	return s.createAccount(ctx, email, password, displayName)
}

func (s *Service) createAccount(ctx context.Context, email, password, displayName string) (models.Account, error) {
	if err := s.ValidateEmail(email); err != nil {
		return models.Account{}, err
	}
	if err := s.ValidatePassword(password); err != nil {
		return models.Account{}, err
	}
	hash, err := s.opts.Argon2.HashPassword(password)
	if err != nil {
		return models.Account{}, newError(CodeInternalError, err)
	}
	a, err := s.st.CreateAccount(ctx, email, displayName, hash)
	if errors.Is(err, store.ErrConflict) {
		return models.Account{}, newError(CodeEmailAlreadyInUse, err)
	}
	if err != nil {
		return models.Account{}, newError(CodeInternalError, err)
	}
	log.Printf("identity_account_created id=%s email=%s", a.ID, a.Email)
	return a, nil
}

// EnsureAccount creates the account or resets its password and re-enables
// it. Used for the bootstrap admin.
func (s *Service) EnsureAccount(ctx context.Context, email, password, displayName string) (models.Account, error) {
	a, err := s.st.GetAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return s.createAccount(ctx, email, password, displayName)
	}
	if err != nil {
		return models.Account{}, err
	}
	if err := s.ValidatePassword(password); err != nil {
		return models.Account{}, err
	}
	hash, err := s.opts.Argon2.HashPassword(password)
	if err != nil {
		return models.Account{}, err
	}
	if err := s.st.UpdatePasswordHash(ctx, a.ID, hash); err != nil {
		return models.Account{}, err
	}
	if a.Disabled {
		if err := s.st.SetAccountDisabled(ctx, a.ID, false); err != nil {
			return models.Account{}, err
		}
		a.Disabled = false
	}
	return a, nil
}

// Authenticate verifies credentials and opens a session, returning its
// bearer token.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, models.Account, error) {
	if err := s.ValidateEmail(email); err != nil {
		return "", models.Account{}, err
	}
	key := strings.ToLower(strings.TrimSpace(email))
	now := s.now().UTC()
	window := now.Truncate(s.opts.FailureWindow)

	failures, err := s.st.LoginFailures(ctx, key, window)
	if err != nil {
		return "", models.Account{}, newError(CodeInternalError, err)
	}
	if failures >= s.opts.MaxLoginFailures {
		log.Printf("identity_login_throttled email=%s failures=%d", key, failures)
		return "", models.Account{}, newError(CodeTooManyRequests, nil)
	}

	a, err := s.st.GetAccountByEmail(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", models.Account{}, newError(CodeUserNotFound, nil)
	}
	if err != nil {
		return "", models.Account{}, newError(CodeInternalError, err)
	}
	if a.Disabled {
		return "", models.Account{}, newError(CodeUserDisabled, nil)
	}
	if !VerifyPassword(a.PasswordHash, password) {
		if _, err := s.st.IncrementLoginFailure(ctx, key, window); err != nil {
			log.Printf("identity_failure_count_error email=%s err=%v", key, err)
		}
		return "", models.Account{}, newError(CodeWrongPassword, nil)
	}
	if err := s.st.ClearLoginFailures(ctx, key); err != nil {
		log.Printf("identity_failure_clear_error email=%s err=%v", key, err)
	}

	raw, hash, err := newToken()
	if err != nil {
		return "", models.Account{}, newError(CodeInternalError, err)
	}
	sess := models.AuthSession{
		ID:            uuid.NewString(),
		AccountID:     a.ID,
		TokenHash:     hash,
		ExpiresAt:     now.Add(s.opts.SessionAbsolute),
		IdleExpiresAt: now.Add(s.opts.SessionIdle),
		CreatedAt:     now,
		LastSeenAt:    now,
	}
	if err := s.st.CreateSession(ctx, sess); err != nil {
		return "", models.Account{}, newError(CodeInternalError, err)
	}
	_ = s.st.TouchLastLogin(ctx, a.ID, now)
	a.LastLoginAt = &now
	return raw, a, nil
}

// Resolve maps a bearer token to its identity, sliding the idle expiry.
func (s *Service) Resolve(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, newError(CodeInvalidCredential, nil)
	}
	sess, err := s.st.GetSessionByTokenHash(ctx, hashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return models.Identity{}, newError(CodeInvalidCredential, nil)
	}
	if err != nil {
		return models.Identity{}, newError(CodeInternalError, err)
	}
	now := s.now().UTC()
	if sess.RevokedAt != nil || now.After(sess.ExpiresAt) || now.After(sess.IdleExpiresAt) {
		return models.Identity{}, newError(CodeInvalidCredential, nil)
	}
	a, err := s.st.GetAccountByID(ctx, sess.AccountID)
	if err != nil {
		return models.Identity{}, newError(CodeInvalidCredential, err)
	}
	if a.Disabled {
		return models.Identity{}, newError(CodeUserDisabled, nil)
	}
	idle := now.Add(s.opts.SessionIdle)
	if idle.After(sess.ExpiresAt) {
		idle = sess.ExpiresAt
	}
	_ = s.st.TouchSession(ctx, sess.ID, idle)
	return a.Identity(), nil
}

func (s *Service) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	sess, err := s.st.GetSessionByTokenHash(ctx, hashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return newError(CodeInternalError, err)
	}
	if err := s.st.RevokeSession(ctx, sess.ID); err != nil {
		return newError(CodeInternalError, err)
	}
	return nil
}

// RequestPasswordReset sends a reset token. Unknown addresses succeed
// silently so the endpoint does not reveal which accounts exist.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	if err := s.ValidateEmail(email); err != nil {
		return err
	}
	a, err := s.st.GetAccountByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return newError(CodeInternalError, err)
	}
	raw, hash, err := newToken()
	if err != nil {
		return newError(CodeInternalError, err)
	}
	if _, err := s.st.CreatePasswordResetToken(ctx, a.ID, hash, s.now().UTC().Add(s.opts.ResetTokenTTL)); err != nil {
		return newError(CodeInternalError, err)
	}
	if err := s.sender.SendPasswordReset(ctx, a.Email, raw); err != nil {
		return newError(CodeNetworkRequestFailed, err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password and revokes every open session
// of the account.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := s.ValidatePassword(newPassword); err != nil {
		return err
	}
	t, err := s.st.ConsumePasswordResetToken(ctx, hashToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return newError(CodeInvalidActionCode, nil)
	}
	if err != nil {
		return newError(CodeInternalError, err)
	}
	hash, err := s.opts.Argon2.HashPassword(newPassword)
	if err != nil {
		return newError(CodeInternalError, err)
	}
	if err := s.st.UpdatePasswordHash(ctx, t.AccountID, hash); err != nil {
		return newError(CodeInternalError, err)
	}
	if err := s.st.RevokeAccountSessions(ctx, t.AccountID); err != nil {
		log.Printf("identity_revoke_sessions_error account=%s err=%v", t.AccountID, err)
	}
	return nil
}

// SetDisabled toggles sign-in for an account; disabling also ends its
// sessions.
func (s *Service) SetDisabled(ctx context.Context, accountID string, disabled bool) error {
	if err := s.st.SetAccountDisabled(ctx, accountID, disabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(CodeUserNotFound, err)
		}
		return newError(CodeInternalError, err)
	}
	if disabled {
		return s.st.RevokeAccountSessions(ctx, accountID)
	}
	return nil
}

// CleanupFailures drops throttling windows that can no longer apply.
func (s *Service) CleanupFailures(ctx context.Context) error {
	return s.st.CleanupLoginFailuresBefore(ctx, s.now().UTC().Add(-2*s.opts.FailureWindow))
}
