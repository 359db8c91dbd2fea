// Package client assembles one browser tab: an identity client, the session
// tracker persisting into that tab's local state, the user-record hook, the
// permission broker, and approval gates for the pages the tab opens.
package client

import (
	"context"
	"log"
	"time"

	"quotegate/internal/broker"
	"quotegate/internal/docstore"
	"quotegate/internal/gate"
	"quotegate/internal/identity"
	"quotegate/internal/localstate"
	"quotegate/internal/models"
	"quotegate/internal/session"
	"quotegate/internal/users"
)

type Options struct {
	LoginPages gate.LoginPages
	Interval   time.Duration
}

type Client struct {
	Identity  *identity.Client
	Tracker   *session.Tracker
	Directory *users.Directory
	Broker    *broker.Broker

	store docstore.Store
	opts  Options
}

// New wires a tab. The user-record hook is the first auth listener, so a
// record exists before any gate evaluates the sign-in.
func New(idc *identity.Client, store docstore.Store, local *localstate.Store, opts Options) *Client {
	tracker := session.New(idc, local)
	dir := users.NewDirectory(store)
	c := &Client{
		Identity:  idc,
		Tracker:   tracker,
		Directory: dir,
		Broker:    broker.New(tracker, store, dir),
		store:     store,
		opts:      opts,
	}
	tracker.AddListener(c.ensureRecord)
	return c
}

func (c *Client) ensureRecord(ctx context.Context, user *models.Identity) {
	if user == nil {
		return
	}
	if _, created, err := c.Directory.EnsureRecord(ctx, *user); err != nil {
		log.Printf("user_record_ensure_failed uid=%s err=%v", user.ID, err)
	} else if created {
		log.Printf("user_record_created uid=%s email=%s", user.ID, user.Email)
	}
}

// Gate builds the approval gate for path. The gate follows auth changes
// from then on; call Start to attach the tracker and run the first checks.
func (c *Client) Gate(path string, presenter gate.Presenter) *gate.Gate {
	g := gate.New(c.Tracker, c.store, presenter, gate.Options{
		Path:       path,
		LoginPages: c.opts.LoginPages,
		Interval:   c.opts.Interval,
		Local:      c.Tracker.Local(),
	})
	c.Tracker.AddListener(g.OnAuthState)
	return g
}

// Open loads path the way a page load does: hide, attach to the provider,
// then check on script load. It returns the gate's settled state.
func (c *Client) Open(ctx context.Context, path string, presenter gate.Presenter) (*gate.Gate, gate.State) {
	g := c.Gate(path, presenter)
	g.PreHide()
	c.Start(ctx)
	return g, g.Enter(ctx, gate.SourceScript)
}

// Start attaches the tracker to the identity client. The current auth state
// is delivered to every listener before Start returns.
func (c *Client) Start(ctx context.Context) bool {
	return c.Tracker.Initialize(ctx)
}

func (c *Client) Close() {
	c.Tracker.Cleanup()
}
