// Package identity authenticates people. Provider is what the rest of the
// application consumes; Service is the local credential store behind it and
// Client is one tab's view of a Service.
package identity

import (
	"context"

	"quotegate/internal/models"
)

// Provider is an identity provider as seen from one tab. Auth state
// callbacks receive nil when signed out.
type Provider interface {
	// SubscribeAuthState registers fn and immediately delivers the current
	// state to it.
	SubscribeAuthState(fn func(*models.Identity)) (unsubscribe func(), err error)
	SignIn(ctx context.Context, email, password string) (models.Identity, error)
	CreateAccount(ctx context.Context, email, password, displayName string) (models.Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
}
