// Package app opens the backends a process needs from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"quotegate/internal/config"
	"quotegate/internal/db"
	"quotegate/internal/docstore"
	"quotegate/internal/identity"
	"quotegate/internal/localstate"
	"quotegate/internal/models"
	"quotegate/internal/notify"
	"quotegate/internal/store"
	"quotegate/internal/users"
)

type App struct {
	Config   config.Config
	SQL      *sql.DB
	Store    *store.Store
	Identity *identity.Service
	Docs     docstore.Store
	Local    localstate.Backend

	redis *redis.Client
}

// Open connects to SQL, applies migrations and selects the document store
// and local-state backends.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	driver, dsn := cfg.DocstoreTarget()
	sqdb, err := db.Open(driver, dsn, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	dialect := db.Dialect{Driver: driver}
	if err := db.ApplyMigrations(sqdb, dialect.MigrationDir(cfg.MigrationsDir)); err != nil {
		_ = sqdb.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	st := store.New(sqdb, driver)
	a := &App{
		Config: cfg,
		SQL:    sqdb,
		Store:  st,
		Identity: identity.NewService(st, notify.NewSender(cfg), identity.Options{
			PasswordMinLength: cfg.PasswordMinLength,
			PasswordMaxLength: cfg.PasswordMaxLength,
			SessionIdle:       cfg.SessionIdleDuration(),
			SessionAbsolute:   cfg.SessionAbsoluteDuration(),
			MaxLoginFailures:  cfg.LoginMaxFailures,
			FailureWindow:     cfg.LoginFailureWindow,
			DisableSignup:     cfg.SignupDisabled,
		}),
	}

	if cfg.DocstoreDriver == "memory" {
		log.Printf("docstore driver=memory; documents are not persisted")
		a.Docs = docstore.NewMemoryStore()
	} else {
		a.Docs = docstore.NewSQLStore(sqdb, driver)
	}

	switch cfg.LocalStateBackend {
	case "memory":
		a.Local = localstate.NewMemory()
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Local = localstate.NewRedis(a.redis, cfg.LocalStateTTL)
	default:
		a.Local = localstate.NewSQL(st)
	}
	log.Printf("app_open driver=%s docstore=%s local_state=%s", driver, cfg.DocstoreDriver, cfg.LocalStateBackend)
	return a, nil
}

// BootstrapAdmin makes sure the configured admin can sign in and holds an
// approved admin record.
func (a *App) BootstrapAdmin(ctx context.Context) error {
	if a.Config.BootstrapAdminEmail == "" || a.Config.BootstrapAdminPassword == "" {
		return nil
	}
	acct, err := a.Identity.EnsureAccount(ctx, a.Config.BootstrapAdminEmail, a.Config.BootstrapAdminPassword, "Administrator")
	if err != nil {
		return fmt.Errorf("bootstrap admin account: %w", err)
	}
	dir := users.NewDirectory(a.Docs)
	rec, err := dir.Get(ctx, acct.ID)
	switch {
	case err == nil && rec.Role == models.RoleAdmin && rec.Active():
		return nil
	case err == nil:
		return dir.Approve(ctx, "bootstrap", acct.ID, models.RoleAdmin)
	default:
		if _, err := dir.Create(ctx, "bootstrap", acct.Identity(), models.RoleAdmin); err != nil {
			return fmt.Errorf("bootstrap admin record: %w", err)
		}
	}
	log.Printf("bootstrap_admin_ready email=%s uid=%s", acct.Email, acct.ID)
	return nil
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.SQL != nil {
		_ = a.SQL.Close()
	}
}
