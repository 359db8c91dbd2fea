package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"quotegate/internal/client"
	"quotegate/internal/gate"
	"quotegate/internal/localstate"
	"quotegate/internal/middleware"
	"quotegate/internal/util"
	"quotegate/internal/web"
)

var pageTitles = map[string]string{
	web.LoginPage:        "Sign in",
	web.ResetPage:        "Reset password",
	web.InterstitialPage: "Pending approval",
	"dashboard.html":     "Dashboard",
	"quotes.html":        "Quotes",
	"profiles.html":      "Profiles",
	"admin.html":         "Users",
}

func (h *Handlers) pageData(ctx context.Context, t *client.Client, name string) web.PageData {
	d := web.PageData{
		Title:         pageTitles[name],
		Path:          name,
		RecheckMillis: h.cfg.GateRecheckInterval.Milliseconds(),
	}
	if u, ok := t.Tracker.CurrentUser(); ok {
		d.Email = u.Email
		d.DisplayName = u.DisplayName
		if role, ok, err := t.Tracker.Local().Get(ctx, localstate.KeyRole); err == nil && ok {
			d.Role = role
		}
	}
	return d
}

func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, name string, data web.PageData) {
	if c, err := r.Cookie(h.cfg.CSRFCookieName); err == nil {
		data.CSRFToken = c.Value
	}
	if err := h.deps.Renderer.Render(w, status, name, data); err != nil {
		log.Printf("render_failed page=%s request_id=%s err=%v", name, middleware.RequestID(r.Context()), err)
		util.WriteError(w, 500, "internal_error", "could not render page", middleware.RequestID(r.Context()))
	}
}

// LoginPage is never gated.
func (h *Handlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	t := h.tab(r)
	defer t.Close()
	t.Open(r.Context(), web.LoginPage, &web.Page{})
	h.render(w, r, http.StatusOK, web.LoginPage, h.pageData(r.Context(), t, web.LoginPage))
}

func (h *Handlers) ResetPage(w http.ResponseWriter, r *http.Request) {
	t := h.tab(r)
	defer t.Close()
	h.render(w, r, http.StatusOK, web.ResetPage, h.pageData(r.Context(), t, web.ResetPage))
}

// Page serves a protected page through the approval gate. Signed-out
// visitors go to the login page; unapproved users get the interstitial.
func (h *Handlers) Page(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "page")
	if !h.deps.Renderer.Has(name) || name == web.InterstitialPage {
		http.NotFound(w, r)
		return
	}
	if _, ok := middleware.User(r.Context()); !ok {
		http.Redirect(w, r, "/"+web.LoginPage, http.StatusFound)
		return
	}

	ctx, span := otel.Tracer("quotegate/api").Start(r.Context(), "gate.page")
	defer span.End()
	t := h.tab(r)
	defer t.Close()
	page := &web.Page{}
	_, state := t.Open(ctx, name, page)
	span.SetAttributes(attribute.String("gate.path", name), attribute.String("gate.state", state.String()))

	if page.InterstitialShown() {
		data := h.pageData(ctx, t, web.InterstitialPage)
		data.Path = name
		data.RecheckMillis = 0
		h.render(w, r, http.StatusForbidden, web.InterstitialPage, data)
		return
	}
	data := h.pageData(ctx, t, name)
	data.Hidden = page.Hidden()
	h.render(w, r, http.StatusOK, name, data)
}

func gatePath(r *http.Request) string {
	p := strings.TrimPrefix(r.URL.Query().Get("path"), "/")
	if p == "" {
		return "dashboard.html"
	}
	return p
}

// GateStatus is the page's periodic check; it behaves like a timer tick on
// a freshly loaded page.
func (h *Handlers) GateStatus(w http.ResponseWriter, r *http.Request) {
	h.gateEnter(w, r, gate.SourceTimer)
}

// GateCheck is the interstitial's check-status action.
func (h *Handlers) GateCheck(w http.ResponseWriter, r *http.Request) {
	h.gateEnter(w, r, gate.SourceRecheck)
}

func (h *Handlers) gateEnter(w http.ResponseWriter, r *http.Request, src gate.Source) {
	t := h.startedTab(r)
	defer t.Close()
	page := &web.Page{}
	g := t.Gate(gatePath(r), page)
	state := g.Enter(r.Context(), src)
	util.WriteJSON(w, 200, map[string]any{
		"path":       g.Path(),
		"state":      state.String(),
		"login_page": g.IsLoginPage(),
		"blocked":    page.InterstitialShown(),
	})
}
