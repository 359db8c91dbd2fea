package middleware

import (
	"context"
	"net/http"

	"quotegate/internal/models"
)

type ctxKey string

const (
	ctxRequestID ctxKey = "request_id"
	ctxUser      ctxKey = "user"
	ctxToken     ctxKey = "token"
	ctxDevice    ctxKey = "device"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func WithUser(ctx context.Context, u models.Identity) context.Context {
	return context.WithValue(ctx, ctxUser, u)
}

func User(ctx context.Context) (models.Identity, bool) {
	u, ok := ctx.Value(ctxUser).(models.Identity)
	return u, ok
}

// WithToken stores the bearer token the user was resolved from.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxToken, token)
}

func Token(ctx context.Context) string {
	v, _ := ctx.Value(ctxToken).(string)
	return v
}

func WithDevice(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxDevice, id)
}

// Device returns the browser id that scopes persisted local state.
func Device(ctx context.Context) string {
	v, _ := ctx.Value(ctxDevice).(string)
	return v
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "same-origin")
		w.Header().Set(
			"Content-Security-Policy",
			"default-src 'self'; "+
				"img-src 'self' data:; "+
				"style-src 'self'; "+
				"connect-src 'self'; "+
				"script-src 'self'; frame-ancestors 'none'; base-uri 'self'",
		)
		next.ServeHTTP(w, r)
	})
}
