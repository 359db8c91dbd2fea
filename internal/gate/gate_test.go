package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quotegate/internal/docstore"
	"quotegate/internal/localstate"
	"quotegate/internal/models"
)

type fakeSession struct {
	mu   sync.Mutex
	user *models.Identity
}

func (s *fakeSession) CurrentUser() (models.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return models.Identity{}, false
	}
	return *s.user, true
}

func (s *fakeSession) IsAuthenticated() bool {
	_, ok := s.CurrentUser()
	return ok
}

// fakePresenter models the document: the interstitial is a single node
// that only Reload removes.
type fakePresenter struct {
	mu           sync.Mutex
	hidden       bool
	interstitial int
	shows        int
	reveals      int
	reloads      int
}

func (p *fakePresenter) HideContent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hidden = true
}

func (p *fakePresenter) ShowPendingApproval() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shows++
	p.interstitial = 1
}

func (p *fakePresenter) RevealContent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reveals++
	p.hidden = false
}

func (p *fakePresenter) InterstitialShown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interstitial > 0
}

func (p *fakePresenter) Reload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	p.interstitial = 0
}

// countingStore counts reads and can fail them.
type countingStore struct {
	docstore.Store
	reads   atomic.Int32
	failGet error
}

func (c *countingStore) Get(ctx context.Context, collection, id string) (docstore.Record, error) {
	c.reads.Add(1)
	if c.failGet != nil {
		return docstore.Record{}, c.failGet
	}
	return c.Store.Get(ctx, collection, id)
}

func setup(t *testing.T, path string, user *models.Identity, record models.Document) (*Gate, *fakePresenter, *countingStore) {
	t.Helper()
	mem := docstore.NewMemoryStore()
	if user != nil && record != nil {
		if err := mem.Set(context.Background(), docstore.CollectionUsers, user.ID, record); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	st := &countingStore{Store: mem}
	p := &fakePresenter{}
	g := New(&fakeSession{user: user}, st, p, Options{Path: path})
	return g, p, st
}

var ann = &models.Identity{ID: "u1", Email: "ann@example.com"}

func TestIsUserApprovedGrid(t *testing.T) {
	cases := []struct {
		name   string
		record models.Document
		want   bool
	}{
		{"missing record", nil, false},
		{"pending active", models.Document{"role": "pending", "isActive": true}, false},
		{"pending no flag", models.Document{"role": "pending"}, false},
		{"user active", models.Document{"role": "user", "isActive": true}, true},
		{"user inactive", models.Document{"role": "user", "isActive": false}, false},
		{"user flag absent", models.Document{"role": "user"}, true},
		{"admin inactive", models.Document{"role": "admin", "isActive": false}, false},
		{"no role flag absent", models.Document{"email": "x"}, true},
	}
	for _, tc := range cases {
		g, _, st := setup(t, "/quotes.html", ann, tc.record)
		got, err := g.IsUserApproved(context.Background(), ann.ID)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: approved=%v want=%v", tc.name, got, tc.want)
		}
		if n := st.reads.Load(); n != 1 {
			t.Fatalf("%s: expected exactly one read, got %d", tc.name, n)
		}
	}
}

func TestCheckAndBlockPendingUser(t *testing.T) {
	ctx := context.Background()

	g, p, st := setup(t, "/quotes.html", nil, nil)
	if d := g.CheckAndBlockPendingUser(ctx); d != NotBlocked || st.reads.Load() != 0 {
		t.Fatalf("no user: decision=%s reads=%d", d, st.reads.Load())
	}

	g, p, _ = setup(t, "/quotes.html", ann, models.Document{"role": "pending", "isActive": false})
	if d := g.CheckAndBlockPendingUser(ctx); d != Blocked || !p.InterstitialShown() {
		t.Fatalf("pending user should be blocked, decision=%s", d)
	}

	g, p, _ = setup(t, "/quotes.html", ann, models.Document{"role": "user", "isActive": true})
	if d := g.CheckAndBlockPendingUser(ctx); d != NotBlocked || p.InterstitialShown() {
		t.Fatalf("approved user should pass, decision=%s", d)
	}
}

func TestFetchFailureFailsOpen(t *testing.T) {
	g, p, st := setup(t, "/quotes.html", ann, models.Document{"role": "pending"})
	st.failGet = errors.New("store unavailable")
	if d := g.CheckAndBlockPendingUser(context.Background()); d != NotBlocked {
		t.Fatalf("fetch failure must not block, got %s", d)
	}
	if state := g.Enter(context.Background(), SourceLoad); state != StateRevealed || p.InterstitialShown() {
		t.Fatalf("fetch failure should reveal, state=%s", state)
	}
}

func TestLoginPageExemptForEveryEntryPoint(t *testing.T) {
	for _, path := range []string{"", "/", "/app/", "/index.html", "/app/index.html?x=1"} {
		g, p, st := setup(t, path, ann, models.Document{"role": "pending"})
		ctx := context.Background()
		g.PreHide()
		for _, src := range []Source{SourceScript, SourceAuth, SourceLoad, SourceDOMReady, SourceTimer, SourceRecheck} {
			g.Enter(ctx, src)
		}
		g.OnAuthState(ctx, ann)
		if st.reads.Load() != 0 {
			t.Fatalf("path %q: login page must not read the store", path)
		}
		if p.hidden || p.InterstitialShown() || g.State() == StateBlocked {
			t.Fatalf("path %q: login page must never be hidden or blocked", path)
		}
	}
}

func TestCustomLoginPages(t *testing.T) {
	pages := NewLoginPages([]string{"signin.html"})
	if !pages.IsLoginPage("/signin.html") || pages.IsLoginPage("/index.html") {
		t.Fatalf("custom login pages not honoured")
	}
	if !pages.IsLoginPage("/") || !pages.IsLoginPage("") {
		t.Fatalf("root and empty paths are always login pages")
	}
}

func TestUnauthenticatedEntryIsNoop(t *testing.T) {
	g, p, st := setup(t, "/quotes.html", nil, nil)
	for _, src := range []Source{SourceScript, SourceLoad, SourceDOMReady, SourceTimer} {
		if state := g.Enter(context.Background(), src); state != StateUnknown {
			t.Fatalf("%s: expected unknown, got %s", src, state)
		}
	}
	if st.reads.Load() != 0 || p.reveals != 0 {
		t.Fatalf("unauthenticated entry must not read or reveal")
	}
}

func TestInterstitialIdempotentAndRevealNoop(t *testing.T) {
	g, p, _ := setup(t, "/quotes.html", ann, models.Document{"role": "pending"})
	ctx := context.Background()
	g.Enter(ctx, SourceScript)
	g.Enter(ctx, SourceLoad)
	g.CheckAndBlockPendingUser(ctx)
	if p.interstitial != 1 {
		t.Fatalf("expected exactly one interstitial, got %d", p.interstitial)
	}

	g2, p2, _ := setup(t, "/quotes.html", ann, models.Document{"role": "user"})
	g2.Enter(ctx, SourceLoad)
	g2.Enter(ctx, SourceDOMReady)
	if g2.State() != StateRevealed || p2.InterstitialShown() || p2.hidden {
		t.Fatalf("approved page should be revealed once without side effects")
	}
}

func TestTimerSkipsWhileInterstitialShown(t *testing.T) {
	g, _, st := setup(t, "/quotes.html", ann, models.Document{"role": "pending"})
	ctx := context.Background()
	g.Enter(ctx, SourceLoad)
	before := st.reads.Load()
	g.Enter(ctx, SourceTimer)
	if st.reads.Load() != before {
		t.Fatalf("timer must not read while blocked")
	}
}

func TestBlockedStaysBlockedUntilExplicitRecheck(t *testing.T) {
	mem := docstore.NewMemoryStore()
	ctx := context.Background()
	_ = mem.Set(ctx, docstore.CollectionUsers, ann.ID, models.Document{"role": "pending"})
	p := &fakePresenter{}
	g := New(&fakeSession{user: ann}, mem, p, Options{Path: "/quotes.html"})

	if g.Enter(ctx, SourceLoad) != StateBlocked {
		t.Fatalf("expected blocked")
	}
	_ = mem.Update(ctx, docstore.CollectionUsers, ann.ID, models.Document{"role": "user", "isActive": true})
	for _, src := range []Source{SourceAuth, SourceLoad, SourceDOMReady, SourceTimer} {
		if state := g.Enter(ctx, src); state != StateBlocked {
			t.Fatalf("%s must not silently reveal, got %s", src, state)
		}
	}
	if state := g.Recheck(ctx); state != StateRevealed {
		t.Fatalf("explicit recheck should reveal an approved user, got %s", state)
	}
	if p.InterstitialShown() || p.reloads != 1 {
		t.Fatalf("recheck should reload the page")
	}
}

func TestRecheckKeepsBlockOnFetchFailure(t *testing.T) {
	g, _, st := setup(t, "/quotes.html", ann, models.Document{"role": "pending"})
	ctx := context.Background()
	g.Enter(ctx, SourceLoad)
	st.failGet = errors.New("offline")
	if state := g.Recheck(ctx); state != StateBlocked {
		t.Fatalf("failed recheck should stay blocked, got %s", state)
	}
}

func TestRevokedApprovalBlocksOnTimer(t *testing.T) {
	mem := docstore.NewMemoryStore()
	ctx := context.Background()
	_ = mem.Set(ctx, docstore.CollectionUsers, ann.ID, models.Document{"role": "user", "isActive": true})
	p := &fakePresenter{}
	g := New(&fakeSession{user: ann}, mem, p, Options{Path: "/quotes.html"})
	if g.Enter(ctx, SourceLoad) != StateRevealed {
		t.Fatalf("expected revealed")
	}
	_ = mem.Update(ctx, docstore.CollectionUsers, ann.ID, models.Document{"isActive": false})
	if state := g.Enter(ctx, SourceTimer); state != StateBlocked || !p.InterstitialShown() {
		t.Fatalf("revoked user should be blocked on recheck, got %s", state)
	}
}

func TestConcurrentEntriesBlockWins(t *testing.T) {
	g, p, _ := setup(t, "/quotes.html", ann, models.Document{"role": "pending"})
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, src := range []Source{SourceScript, SourceAuth, SourceLoad, SourceDOMReady} {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			g.Enter(ctx, src)
		}(src)
	}
	wg.Wait()
	if g.State() != StateBlocked || p.interstitial != 1 {
		t.Fatalf("expected a single blocked interstitial, state=%s", g.State())
	}
}

func TestRunStopsWithContext(t *testing.T) {
	mem := docstore.NewMemoryStore()
	st := &countingStore{Store: mem}
	_ = mem.Set(context.Background(), docstore.CollectionUsers, ann.ID, models.Document{"role": "user"})
	g := New(&fakeSession{user: ann}, st, &fakePresenter{}, Options{Path: "/quotes.html", Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.Run(ctx, nil)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for st.reads.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timer did not recheck")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestRoleCachedAsHintOnly(t *testing.T) {
	mem := docstore.NewMemoryStore()
	ctx := context.Background()
	_ = mem.Set(ctx, docstore.CollectionUsers, ann.ID, models.Document{"role": "pending"})
	local := localstate.Scope(localstate.NewMemory(), "tab")
	_ = local.Set(ctx, localstate.KeyRole, "admin")
	g := New(&fakeSession{user: ann}, mem, &fakePresenter{}, Options{Path: "/quotes.html", Local: local})

	if g.Enter(ctx, SourceLoad) != StateBlocked {
		t.Fatalf("persisted role must not influence the decision")
	}
	if role, _, _ := local.Get(ctx, localstate.KeyRole); role != "pending" {
		t.Fatalf("expected cached role to be refreshed, got %q", role)
	}
}

// scriptedStore answers user reads in order from roles. The read at index
// hold waits for release after signalling held.
type scriptedStore struct {
	docstore.Store
	mu      sync.Mutex
	roles   []string
	n       int
	hold    int
	held    chan struct{}
	release chan struct{}
}

func (s *scriptedStore) Get(ctx context.Context, collection, id string) (docstore.Record, error) {
	s.mu.Lock()
	i := s.n
	s.n++
	s.mu.Unlock()
	if i == s.hold {
		close(s.held)
		<-s.release
	}
	role := s.roles[len(s.roles)-1]
	if i < len(s.roles) {
		role = s.roles[i]
	}
	return docstore.Record{ID: id, Data: models.Document{"role": role}}, nil
}

func TestRecheckDoesNotUndoConcurrentBlock(t *testing.T) {
	ctx := context.Background()
	st := &scriptedStore{
		roles:   []string{"pending", "user", "pending"},
		hold:    1,
		held:    make(chan struct{}),
		release: make(chan struct{}),
	}
	p := &fakePresenter{}
	g := New(&fakeSession{user: ann}, st, p, Options{Path: "/quotes.html"})
	if g.Enter(ctx, SourceLoad) != StateBlocked {
		t.Fatalf("expected initial block")
	}

	done := make(chan State)
	go func() { done <- g.Recheck(ctx) }()
	<-st.held
	if state := g.Enter(ctx, SourceDOMReady); state != StateBlocked {
		t.Fatalf("overlapping check should block, got %s", state)
	}
	close(st.release)
	state := <-done

	if state != StateBlocked || g.State() != StateBlocked {
		t.Fatalf("block must win the race, recheck=%s state=%s", state, g.State())
	}
	if !p.InterstitialShown() || p.reloads != 0 {
		t.Fatalf("interstitial removed while blocked: shown=%t reloads=%d", p.InterstitialShown(), p.reloads)
	}
}

func TestCheckAndBlockPendingUserSkipsLoginPages(t *testing.T) {
	g, p, st := setup(t, "/index.html", ann, models.Document{"role": "pending"})
	if d := g.CheckAndBlockPendingUser(context.Background()); d != NotBlocked {
		t.Fatalf("login page must not block, got %s", d)
	}
	if st.reads.Load() != 0 || p.InterstitialShown() {
		t.Fatalf("login page check touched the store or the page: reads=%d", st.reads.Load())
	}
	if g.State() != StateUnknown {
		t.Fatalf("unexpected state %s", g.State())
	}
}

func TestRunReportsStateChanges(t *testing.T) {
	mem := docstore.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = mem.Set(ctx, docstore.CollectionUsers, ann.ID, models.Document{"role": "user"})
	g := New(&fakeSession{user: ann}, mem, &fakePresenter{}, Options{Path: "/quotes.html", Interval: 10 * time.Millisecond})
	if g.Enter(ctx, SourceLoad) != StateRevealed {
		t.Fatalf("expected revealed")
	}

	changes := make(chan State, 4)
	go g.Run(ctx, func(s State) { changes <- s })
	_ = mem.Update(ctx, docstore.CollectionUsers, ann.ID, models.Document{"isActive": false})

	select {
	case s := <-changes:
		if s != StateBlocked {
			t.Fatalf("expected blocked, got %s", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no state change reported")
	}
	select {
	case s := <-changes:
		t.Fatalf("unchanged ticks should not be reported, got %s", s)
	case <-time.After(50 * time.Millisecond):
	}
}
