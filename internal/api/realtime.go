package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/igm/sockjs-go/sockjs"

	"quotegate/internal/broker"
	"quotegate/internal/client"
	"quotegate/internal/gate"
	"quotegate/internal/middleware"
	"quotegate/internal/models"
	"quotegate/internal/web"
)

type feedMessage struct {
	Type    string            `json:"type"`
	Items   []models.Document `json:"items,omitempty"`
	Message string            `json:"message,omitempty"`
}

func sendFeed(session sockjs.Session, msg feedMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return session.Send(string(b))
}

// sessionTab rebuilds the tab behind a realtime session from its opening
// request's cookies.
func (h *Handlers) sessionTab(ctx context.Context, req *http.Request) (*client.Client, bool) {
	c, err := req.Cookie(h.cfg.SessionCookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	u, err := h.deps.Identity.Resolve(ctx, c.Value)
	if err != nil {
		return nil, false
	}
	rctx := middleware.WithToken(middleware.WithUser(ctx, u), c.Value)
	if dc, err := req.Cookie(h.deviceCk); err == nil {
		rctx = middleware.WithDevice(rctx, dc.Value)
	}
	return h.tab(req.WithContext(rctx)), true
}

// Realtime streams the caller's quote list. The gate runs on connect and on
// every recheck interval; a blocked user loses the feed.
func (h *Handlers) Realtime(session sockjs.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t, ok := h.sessionTab(ctx, session.Request())
	if !ok {
		_ = session.Close(4001, "unauthorized")
		return
	}
	defer t.Close()

	g, state := t.Open(ctx, "quotes.html", &web.Page{})
	if state == gate.StateBlocked {
		_ = sendFeed(session, feedMessage{Type: "blocked"})
		_ = session.Close(4003, "pending approval")
		return
	}

	unsubscribe, err := t.Broker.WatchQuotes(ctx, func(items []models.Document) {
		if err := sendFeed(session, feedMessage{Type: "quotes", Items: items}); err != nil {
			cancel()
		}
	})
	if err != nil {
		msg := "feed unavailable"
		var perr *broker.PermissionError
		if errors.As(err, &perr) {
			msg = perr.Error()
		}
		_ = sendFeed(session, feedMessage{Type: "error", Message: msg})
		_ = session.Close(4003, "access denied")
		return
	}
	defer unsubscribe()

	go g.Run(ctx, func(state gate.State) {
		if state != gate.StateBlocked {
			return
		}
		log.Printf("realtime_blocked path=%s", g.Path())
		_ = sendFeed(session, feedMessage{Type: "blocked"})
		_ = session.Close(4003, "pending approval")
		cancel()
	})

	for {
		if _, err := session.Recv(); err != nil {
			return
		}
	}
}

// longLived lifts the server read and write deadlines for streaming
// connections.
func longLived(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		_ = rc.SetReadDeadline(time.Time{})
		_ = rc.SetWriteDeadline(time.Time{})
		next.ServeHTTP(w, r)
	})
}
