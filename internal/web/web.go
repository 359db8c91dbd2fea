// Package web renders the application pages and the pending-approval
// interstitial. Page implements gate.Presenter for a single response.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sort"
	"strings"
	"sync"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const (
	LoginPage        = "index.html"
	ResetPage        = "reset.html"
	InterstitialPage = "pending.html"
)

// PageData is what every template receives.
type PageData struct {
	Title       string
	Path        string
	Email       string
	DisplayName string
	Role        string
	CSRFToken   string
	Hidden      bool
	// RecheckMillis drives the in-page status poll.
	RecheckMillis int64
	Flash         string
}

type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses every page against the shared layout.
func NewRenderer() (*Renderer, error) {
	entries, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	r := &Renderer{pages: map[string]*template.Template{}}
	for _, e := range entries {
		name := strings.TrimPrefix(e, "templates/")
		if name == "layout.html" {
			continue
		}
		t, err := template.ParseFS(templateFS, "templates/layout.html", e)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

// Has reports whether name is a page this renderer knows.
func (r *Renderer) Has(name string) bool {
	_, ok := r.pages[name]
	return ok
}

// Pages lists the page names, sorted.
func (r *Renderer) Pages() []string {
	out := make([]string, 0, len(r.pages))
	for n := range r.pages {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data PageData) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// Static serves the embedded scripts and styles.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

// Page records gate decisions for one rendered response. The interstitial
// replaces the page and stays until Reload.
type Page struct {
	mu           sync.Mutex
	hidden       bool
	interstitial bool
}

func (p *Page) HideContent() {
	p.mu.Lock()
	p.hidden = true
	p.mu.Unlock()
}

func (p *Page) ShowPendingApproval() {
	p.mu.Lock()
	p.interstitial = true
	p.hidden = true
	p.mu.Unlock()
}

func (p *Page) RevealContent() {
	p.mu.Lock()
	if !p.interstitial {
		p.hidden = false
	}
	p.mu.Unlock()
}

func (p *Page) InterstitialShown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interstitial
}

func (p *Page) Reload() {
	p.mu.Lock()
	p.interstitial = false
	p.hidden = false
	p.mu.Unlock()
}

// Hidden reports whether the page content is still hidden.
func (p *Page) Hidden() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hidden
}
