package session

import (
	"context"
	"errors"
	"testing"

	"quotegate/internal/identity"
	"quotegate/internal/localstate"
	"quotegate/internal/models"
)

type fakeProvider struct {
	current      *models.Identity
	subs         []func(*models.Identity)
	signInErr    error
	signOutErr   error
	subscribeErr error
	unsubscribed int
}

func (f *fakeProvider) SubscribeAuthState(fn func(*models.Identity)) (func(), error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.subs = append(f.subs, fn)
	fn(f.current)
	return func() { f.unsubscribed++ }, nil
}

func (f *fakeProvider) emit(id *models.Identity) {
	f.current = id
	for _, fn := range f.subs {
		fn(id)
	}
}

func (f *fakeProvider) SignIn(_ context.Context, email, _ string) (models.Identity, error) {
	if f.signInErr != nil {
		return models.Identity{}, f.signInErr
	}
	id := models.Identity{ID: "u-" + email, Email: email}
	f.emit(&id)
	return id, nil
}

func (f *fakeProvider) CreateAccount(ctx context.Context, email, password, _ string) (models.Identity, error) {
	return f.SignIn(ctx, email, password)
}

func (f *fakeProvider) SignOut(context.Context) error {
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.emit(nil)
	return nil
}

func (f *fakeProvider) SendPasswordReset(context.Context, string) error { return f.signInErr }

func newTracker(p identity.Provider) (*Tracker, *localstate.Store) {
	local := localstate.Scope(localstate.NewMemory(), "tab")
	return New(p, local), local
}

func TestErrorMessageTableIsTotal(t *testing.T) {
	cases := map[string]string{
		"auth/user-not-found":         "No account found with this email address.",
		"auth/wrong-password":         "Incorrect password. Please try again.",
		"auth/invalid-email":          "Please enter a valid email address.",
		"auth/weak-password":          "Password should be at least 6 characters long.",
		"auth/email-already-in-use":   "An account with this email already exists.",
		"auth/too-many-requests":      "Too many failed attempts. Please try again later.",
		"auth/network-request-failed": "Network error. Please check your connection.",
		"auth/user-disabled":          "This account has been disabled.",
		"auth/operation-not-allowed":  "This operation is not allowed.",
		"auth/invalid-credential":     "Invalid credentials. Please check your email and password.",
		"auth/quota-exceeded":         "An error occurred. Please try again.",
		"":                            "An error occurred. Please try again.",
	}
	for code, want := range cases {
		if got := ErrorMessage(code); got != want {
			t.Fatalf("ErrorMessage(%q)=%q want=%q", code, got, want)
		}
	}
	if got := MessageFor(errors.New("auth/user-not-found")); got != genericErrorMessage {
		t.Fatalf("untyped errors must not leak codes, got %q", got)
	}
}

func TestSignInUnknownUserReturnsFriendlyMessage(t *testing.T) {
	p := &fakeProvider{signInErr: &identity.Error{Code: identity.CodeUserNotFound}}
	tr, _ := newTracker(p)
	res := tr.SignInWithEmail(context.Background(), "ghost@example.com", "secret1")
	if res.Success || res.Error != "No account found with this email address." {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.User != nil {
		t.Fatalf("failed sign-in must not carry a user")
	}
}

func TestAuthEventsPersistSnapshotAndRunBindingsBeforeListeners(t *testing.T) {
	p := &fakeProvider{}
	tr, local := newTracker(p)
	ctx := context.Background()

	var order []string
	tr.OnAuthStateChange(func(authed bool) {
		if authed != tr.IsAuthenticated() {
			t.Fatalf("binding saw stale auth state")
		}
		order = append(order, "binding")
	})
	tr.AddListener(func(_ context.Context, u *models.Identity) { order = append(order, "first") })
	tr.AddListener(func(_ context.Context, u *models.Identity) { order = append(order, "second") })

	if !tr.Initialize(ctx) {
		t.Fatalf("initialize failed")
	}
	if tr.IsAuthenticated() {
		t.Fatalf("should start signed out")
	}
	order = nil

	res := tr.SignInWithEmail(ctx, "ann@example.com", "secret1")
	if !res.Success || res.User == nil || res.User.Email != "ann@example.com" {
		t.Fatalf("unexpected sign-in result %+v", res)
	}
	if want := []string{"binding", "first", "second"}; len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("callback order=%v want=%v", order, want)
	}
	u, ok := tr.CurrentUser()
	if !ok || u.Email != "ann@example.com" {
		t.Fatalf("current user not updated: %+v", u)
	}
	snap, ok, err := local.Snapshot(ctx)
	if err != nil || !ok || snap.Email != "ann@example.com" || snap.LastLogin.IsZero() {
		t.Fatalf("snapshot not persisted: %+v ok=%v err=%v", snap, ok, err)
	}
	if !local.LoggedIn(ctx) {
		t.Fatalf("loggedIn marker not persisted")
	}

	if res := tr.SignOut(ctx); !res.Success {
		t.Fatalf("sign out failed: %+v", res)
	}
	if tr.IsAuthenticated() {
		t.Fatalf("should be signed out")
	}
	if _, ok, _ := local.Snapshot(ctx); ok {
		t.Fatalf("snapshot should be removed on sign out")
	}
}

func TestLogoutClearsMarkersEvenWhenSignOutFails(t *testing.T) {
	p := &fakeProvider{current: &models.Identity{ID: "u1", Email: "ann@example.com"}}
	tr, local := newTracker(p)
	ctx := context.Background()
	tr.Initialize(ctx)

	p.signOutErr = &identity.Error{Code: identity.CodeNetworkRequestFailed}
	res := tr.Logout(ctx)
	if res.Success || res.Error != "Network error. Please check your connection." {
		t.Fatalf("unexpected logout result %+v", res)
	}
	for _, k := range []string{localstate.KeyLoggedIn, localstate.KeyLoginTime, localstate.KeyCurrentUser} {
		if _, ok, _ := local.Get(ctx, k); ok {
			t.Fatalf("%s should be cleared by logout", k)
		}
	}
}

func TestInitializeFailureAndCleanupIdempotent(t *testing.T) {
	bad := &fakeProvider{subscribeErr: errors.New("offline")}
	tr, _ := newTracker(bad)
	if tr.Initialize(context.Background()) {
		t.Fatalf("expected initialize to report failure")
	}

	p := &fakeProvider{}
	tr, _ = newTracker(p)
	if !tr.Initialize(context.Background()) || !tr.Initialize(context.Background()) {
		t.Fatalf("initialize should succeed")
	}
	if len(p.subs) != 1 {
		t.Fatalf("second initialize must not resubscribe, got %d subs", len(p.subs))
	}
	tr.Cleanup()
	tr.Cleanup()
	if p.unsubscribed != 1 {
		t.Fatalf("expected exactly one unsubscribe, got %d", p.unsubscribed)
	}
}
