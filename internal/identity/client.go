package identity

import (
	"context"
	"sync"

	"quotegate/internal/models"
)

// Client is one tab's Provider over a Service. It tracks a single bearer
// token and notifies subscribers synchronously whenever the signed-in
// identity changes.
type Client struct {
	svc *Service

	mu      sync.Mutex
	token   string
	current *models.Identity
	nextID  int
	subs    map[int]func(*models.Identity)
}

func NewClient(svc *Service) *Client {
	return &Client{svc: svc, subs: map[int]func(*models.Identity){}}
}

// Restore resumes the session behind token, as a page load does with a
// stored credential. Invalid tokens leave the client signed out.
func (c *Client) Restore(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	id, err := c.svc.Resolve(ctx, token)
	if err != nil {
		return false
	}
	c.mu.Lock()
	c.token = token
	c.current = &id
	c.mu.Unlock()
	return true
}

// Adopt installs a session that was already resolved by the caller.
func (c *Client) Adopt(token string, id models.Identity) {
	c.mu.Lock()
	c.token = token
	c.current = &id
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) SubscribeAuthState(fn func(*models.Identity)) (func(), error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	cur := copyIdentity(c.current)
	c.mu.Unlock()

	fn(cur)
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (models.Identity, error) {
	token, acct, err := c.svc.Authenticate(ctx, email, password)
	if err != nil {
		return models.Identity{}, err
	}
	id := acct.Identity()
	c.set(token, &id)
	return id, nil
}

// CreateAccount registers and signs in, matching hosted providers where a
// new account starts signed in.
func (c *Client) CreateAccount(ctx context.Context, email, password, displayName string) (models.Identity, error) {
	if _, err := c.svc.Register(ctx, email, password, displayName); err != nil {
		return models.Identity{}, err
	}
	return c.SignIn(ctx, email, password)
}

func (c *Client) SignOut(ctx context.Context) error {
	if err := c.svc.Revoke(ctx, c.Token()); err != nil {
		return err
	}
	c.set("", nil)
	return nil
}

func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.svc.RequestPasswordReset(ctx, email)
}

func (c *Client) set(token string, id *models.Identity) {
	c.mu.Lock()
	c.token = token
	c.current = id
	fns := make([]func(*models.Identity), 0, len(c.subs))
	for i := 0; i < c.nextID; i++ {
		if fn, ok := c.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

func copyIdentity(id *models.Identity) *models.Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
