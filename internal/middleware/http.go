package middleware

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"quotegate/internal/models"
	"quotegate/internal/rate"
	"quotegate/internal/util"
)

// Resolver maps a session token to the signed-in identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (models.Identity, error)
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		r = r.WithContext(WithRequestID(r.Context(), rid))
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

// Authn rejects requests without a valid session cookie.
func Authn(res Resolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(cookieName)
			if err != nil || c.Value == "" {
				util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", RequestID(r.Context()))
				return
			}
			u, err := res.Resolve(r.Context(), c.Value)
			if err != nil {
				util.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid session", RequestID(r.Context()))
				return
			}
			ctx := WithToken(WithUser(r.Context(), u), c.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuthn attaches the identity when the cookie resolves and passes
// the request through either way.
func OptionalAuthn(res Resolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
				if u, err := res.Resolve(r.Context(), c.Value); err == nil {
					r = r.WithContext(WithToken(WithUser(r.Context(), u), c.Value))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DeviceID issues a long-lived browser id cookie and exposes it on the
// request context.
func DeviceID(cookieName string, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(cookieName); err == nil {
				if _, perr := uuid.Parse(c.Value); perr == nil {
					id = c.Value
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
					MaxAge:   int((365 * 24 * time.Hour).Seconds()),
				})
			}
			next.ServeHTTP(w, r.WithContext(WithDevice(r.Context(), id)))
		})
	}
}

func CSRFFromCookie(cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			h := r.Header.Get("X-CSRF-Token")
			c, err := r.Cookie(cookieName)
			if err != nil || c.Value == "" || h == "" {
				util.WriteError(w, http.StatusForbidden, "csrf_failed", "missing csrf token", RequestID(r.Context()))
				return
			}
			if subtle.ConstantTimeCompare([]byte(h), []byte(c.Value)) != 1 {
				util.WriteError(w, http.StatusForbidden, "csrf_failed", "invalid csrf token", RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func RateLimit(l *rate.Limiter, route string, limit int, window time.Duration, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + ":" + ClientIP(r, trustProxy)
			if !l.Allow(key, limit, window) {
				util.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes the realtime websocket upgrade through to the server.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func RequestLogger(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			log.Printf("request method=%s path=%s status=%d duration_ms=%d request_id=%s remote_ip=%s",
				r.Method, r.URL.Path, sr.status, time.Since(start).Milliseconds(), RequestID(r.Context()), ClientIP(r, trustProxy))
		})
	}
}
