package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/igm/sockjs-go/sockjs"

	"quotegate/internal/client"
	"quotegate/internal/config"
	"quotegate/internal/docstore"
	"quotegate/internal/gate"
	"quotegate/internal/identity"
	"quotegate/internal/localstate"
	"quotegate/internal/middleware"
	"quotegate/internal/rate"
	"quotegate/internal/session"
	"quotegate/internal/util"
	"quotegate/internal/version"
	"quotegate/internal/web"
)

// Deps are the long-lived services the router builds tabs from.
type Deps struct {
	Identity *identity.Service
	Docs     docstore.Store
	Local    localstate.Backend
	Renderer *web.Renderer
	// SQL is pinged by the readiness probe when set.
	SQL pinger
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	cfg      config.Config
	deps     Deps
	limiter  *rate.Limiter
	tabOpts  client.Options
	deviceCk string
}

const deviceCookieName = "quotegate_device"

func NewRouter(cfg config.Config, deps Deps) http.Handler {
	if cfg.GateRecheckInterval <= 0 {
		cfg.GateRecheckInterval = 5 * time.Second
	}
	h := &Handlers{
		cfg:     cfg,
		deps:    deps,
		limiter: rate.NewLimiter(),
		tabOpts: client.Options{
			LoginPages: gate.NewLoginPages(cfg.LoginPages),
			Interval:   cfg.GateRecheckInterval,
		},
		deviceCk: deviceCookieName,
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.DeviceID(h.deviceCk, cfg.CookieSecure))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]any{"status": "ok", "version": version.Current()})
	})
	r.Get("/health/ready", h.Ready)

	authn := middleware.Authn(deps.Identity, cfg.SessionCookieName)
	csrf := middleware.CSRFFromCookie(cfg.CSRFCookieName)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(h.limiter, "register", 10, time.Minute, cfg.TrustProxy)).Post("/register", h.Register)
		r.With(middleware.RateLimit(h.limiter, "login", 20, time.Minute, cfg.TrustProxy)).Post("/login", h.Login)
		r.With(middleware.OptionalAuthn(deps.Identity, cfg.SessionCookieName)).Post("/logout", h.Logout)
		r.With(middleware.RateLimit(h.limiter, "reset_request", 10, time.Minute, cfg.TrustProxy)).Post("/password/reset/request", h.PasswordResetRequest)
		r.Post("/password/reset/confirm", h.PasswordResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Use(csrf)
			r.Get("/me", h.Me)
			r.Get("/permissions", h.Permissions)
			r.Get("/gate/status", h.GateStatus)
			r.Post("/gate/check", h.GateCheck)

			r.Get("/quotes", h.ListQuotes)
			r.Post("/quotes", h.CreateQuote)
			r.Patch("/quotes/{id}", h.UpdateQuote)
			r.Delete("/quotes/{id}", h.DeleteQuote)

			r.Get("/profiles", h.ListProfiles)
			r.Put("/profiles", h.ReplaceProfiles)
			r.Patch("/profiles/{id}", h.UpdateProfile)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/users", h.AdminListUsers)
				r.Post("/users", h.AdminCreateUser)
				r.Get("/users/{id}", h.AdminGetUser)
				r.Patch("/users/{id}", h.AdminUpdateUser)
				r.Post("/users/{id}/approve", h.AdminApproveUser)
				r.Post("/users/{id}/deactivate", h.AdminDeactivateUser)
				r.Get("/audit-log", h.AdminAuditLog)
			})
		})
	})

	r.With(longLived).Handle("/realtime/*", sockjs.NewHandler("/realtime", sockjs.DefaultOptions, h.Realtime))
	r.Handle("/static/*", http.StripPrefix("/static/", web.Static()))

	pages := middleware.OptionalAuthn(deps.Identity, cfg.SessionCookieName)
	r.With(pages).Get("/", h.LoginPage)
	r.With(pages).Get("/"+web.LoginPage, h.LoginPage)
	r.With(pages).Get("/"+web.ResetPage, h.ResetPage)
	r.With(pages).Get("/{page}", h.Page)

	return r
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	}
	comps := map[string]any{}
	ok := true
	check := func(name string, p pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			ok = false
			comps[name] = map[string]any{"ok": false, "error": err.Error()}
			return
		}
		comps[name] = map[string]any{"ok": true}
	}
	check("docstore", h.deps.Docs)
	check("sql", h.deps.SQL)
	if p, isPinger := h.deps.Local.(pinger); isPinger {
		check("local_state", p)
	}
	ready["components"] = comps
	if ok {
		ready["status"] = "ready"
		util.WriteJSON(w, 200, ready)
		return
	}
	ready["status"] = "degraded"
	util.WriteJSON(w, 503, ready)
}

// tab assembles a browser tab for r. The caller starts it, either directly
// or through client.Open.
func (h *Handlers) tab(r *http.Request) *client.Client {
	idc := identity.NewClient(h.deps.Identity)
	if u, ok := middleware.User(r.Context()); ok {
		idc.Adopt(middleware.Token(r.Context()), u)
	}
	ns := middleware.Device(r.Context())
	if ns == "" {
		ns = "anonymous"
	}
	return client.New(idc, h.deps.Docs, localstate.Scope(h.deps.Local, ns), h.tabOpts)
}

func (h *Handlers) startedTab(r *http.Request) *client.Client {
	t := h.tab(r)
	t.Start(r.Context())
	return t
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	t := h.startedTab(r)
	defer t.Close()
	res := t.Tracker.CreateAccount(r.Context(), req.Email, req.Password, req.DisplayName)
	if !res.Success {
		status, code := authFailureStatus(res.Code)
		util.WriteError(w, status, code, res.Error, middleware.RequestID(r.Context()))
		return
	}
	h.signedIn(w, r, t, res, http.StatusCreated)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	t := h.startedTab(r)
	defer t.Close()
	res := t.Tracker.SignInWithEmail(r.Context(), req.Email, req.Password)
	if !res.Success {
		status, code := authFailureStatus(res.Code)
		util.WriteError(w, status, code, res.Error, middleware.RequestID(r.Context()))
		return
	}
	h.limiter.Reset("login:" + middleware.ClientIP(r, h.cfg.TrustProxy))
	h.signedIn(w, r, t, res, http.StatusOK)
}

func (h *Handlers) signedIn(w http.ResponseWriter, r *http.Request, t *client.Client, res session.Result, status int) {
	csrfToken := util.RandomToken()
	h.setAuthCookies(w, t.Identity.Token(), csrfToken)
	out := map[string]any{"user": res.User, "csrf_token": csrfToken}
	if rec, err := t.Directory.Get(r.Context(), res.User.ID); err == nil {
		out["role"] = rec.Role
		out["status"] = rec.Status
	}
	util.WriteJSON(w, status, out)
}

// authFailureStatus maps a provider code to an HTTP status and error code.
func authFailureStatus(code string) (int, string) {
	switch code {
	case identity.CodeInvalidEmail, identity.CodeWeakPassword:
		return http.StatusBadRequest, "invalid_input"
	case identity.CodeEmailAlreadyInUse:
		return http.StatusConflict, "email_in_use"
	case identity.CodeTooManyRequests:
		return http.StatusTooManyRequests, "rate_limited"
	case identity.CodeUserDisabled:
		return http.StatusForbidden, "user_disabled"
	case identity.CodeOperationNotAllowed:
		return http.StatusForbidden, "not_allowed"
	case identity.CodeNetworkRequestFailed, identity.CodeInternalError:
		return http.StatusBadGateway, "provider_unavailable"
	default:
		return http.StatusUnauthorized, "invalid_credentials"
	}
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	t := h.startedTab(r)
	defer t.Close()
	res := t.Tracker.Logout(r.Context())
	h.clearAuthCookies(w)
	if !res.Success {
		util.WriteError(w, 502, "logout_failed", res.Error, middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

func (h *Handlers) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	t := h.startedTab(r)
	defer t.Close()
	if res := t.Tracker.ResetPassword(r.Context(), req.Email); !res.Success {
		status, code := authFailureStatus(res.Code)
		util.WriteError(w, status, code, res.Error, middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "accepted"})
}

func (h *Handlers) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := util.DecodeJSON(r, &req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	if err := h.deps.Identity.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		msg := session.MessageFor(err)
		if identity.Code(err) == identity.CodeInvalidActionCode {
			msg = "This reset link is invalid or has expired."
		}
		util.WriteError(w, 400, "reset_failed", msg, middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	t := h.startedTab(r)
	defer t.Close()
	out := map[string]any{"id": u.ID, "email": u.Email, "display_name": u.DisplayName}
	if rec, err := t.Directory.Get(r.Context(), u.ID); err == nil {
		out["role"] = rec.Role
		out["status"] = rec.Status
		out["is_active"] = rec.Active()
	} else if !errors.Is(err, docstore.ErrNotFound) {
		util.WriteError(w, 500, "internal_error", "could not load user record", middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, out)
}

func (h *Handlers) setAuthCookies(w http.ResponseWriter, sessionToken, csrfToken string) {
	maxAge := int(h.cfg.SessionAbsoluteDuration().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *Handlers) clearAuthCookies(w http.ResponseWriter) {
	expiredAt := time.Unix(1, 0).UTC()
	for _, c := range []struct {
		name     string
		httpOnly bool
	}{{h.cfg.SessionCookieName, true}, {h.cfg.CSRFCookieName, false}} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     "/",
			HttpOnly: c.httpOnly,
			Secure:   h.cfg.CookieSecure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
			Expires:  expiredAt,
		})
	}
}
