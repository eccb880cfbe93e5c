package backend

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/pylearner/internal/auth"
	"github.com/felixgeelhaar/pylearner/internal/domain"
	"github.com/felixgeelhaar/pylearner/internal/storage"
	"github.com/felixgeelhaar/pylearner/internal/storage/memory"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() Config {
	return Config{FailureThreshold: 3, OpenTimeout: time.Minute, ReadAttempts: 3, ReadDelay: time.Millisecond}
}

func newTestBackend(t *testing.T, store storage.DocumentStore) *Service {
	t.Helper()
	authSvc, err := auth.NewService(auth.NewDocumentRepository(memory.NewStore()), auth.Config{
		Secret:     []byte("secret"),
		SessionTTL: time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewService(authSvc, store, nil, testConfig())
}

func signUpRequest(email, name string) auth.SignUpRequest {
	return auth.SignUpRequest{Email: email, Password: "secret1", ConfirmPassword: "secret1", DisplayName: name}
}

func TestSignUpWritesProfile(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestBackend(t, store)

	acct, err := svc.SignUp(ctx, signUpRequest("ada@example.com", " Ada "))
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	var stored domain.User
	if err := svc.GetDocument(ctx, domain.CollectionUsers, acct.User.UID, &stored); err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if stored.Email != "ada@example.com" || stored.DisplayName != "Ada" || stored.Role != domain.RoleUser {
		t.Errorf("stored profile = %+v", stored)
	}
	if stored.CreatedAt.IsZero() {
		t.Error("createdAt not set")
	}

	user, err := svc.CurrentUser(ctx, acct.Token)
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if user.UID != acct.User.UID {
		t.Errorf("CurrentUser() uid = %s, want %s", user.UID, acct.User.UID)
	}
}

func TestSignInFallsBackToEmailName(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestBackend(t, store)

	acct, err := svc.SignUp(ctx, signUpRequest("grace.hopper@example.com", "Grace"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, domain.CollectionUsers, acct.User.UID); err != nil {
		t.Fatal(err)
	}

	acct2, err := svc.SignIn(ctx, "grace.hopper@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if acct2.User.DisplayName != "grace.hopper" {
		t.Errorf("displayName = %q, want grace.hopper", acct2.User.DisplayName)
	}
	if acct2.User.Role != domain.RoleUser {
		t.Errorf("role = %q, want user", acct2.User.Role)
	}
}

func TestCurrentUserUnauthorized(t *testing.T) {
	ctx := context.Background()
	svc := newTestBackend(t, memory.NewStore())

	for _, token := range []string{"", "not-a-token"} {
		if _, err := svc.CurrentUser(ctx, token); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("CurrentUser(%q) error = %v, want ErrUnauthorized", token, err)
		}
	}

	acct, err := svc.SignUp(ctx, signUpRequest("a@example.com", "A"))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SignOut(ctx, acct.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CurrentUser(ctx, acct.Token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("CurrentUser() after sign-out error = %v, want ErrUnauthorized", err)
	}
	if err := svc.SignOut(ctx, "garbage"); err != nil {
		t.Errorf("SignOut(garbage) error = %v", err)
	}
}

func TestOnAuthStateChanged(t *testing.T) {
	ctx := context.Background()
	svc := newTestBackend(t, memory.NewStore())

	type change struct {
		uid      string
		signedIn bool
	}
	var (
		mu      sync.Mutex
		changes []change
	)
	unsubscribe := svc.OnAuthStateChanged(func(uid string, user *domain.User) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change{uid: uid, signedIn: user != nil})
	})

	acct, err := svc.SignUp(ctx, signUpRequest("b@example.com", "B"))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SignOut(ctx, acct.Token); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	if _, err := svc.SignIn(ctx, "b@example.com", "secret1"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []change{{acct.User.UID, true}, {acct.User.UID, false}}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %v, want %v", i, changes[i], want[i])
		}
	}
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	svc := newTestBackend(t, memory.NewStore())

	var dst map[string]any
	if err := svc.GetDocument(ctx, "things", "missing", &dst); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDocument(missing) error = %v, want ErrNotFound", err)
	}

	if err := svc.SetDocument(ctx, "things", "a", map[string]int{"x": 1, "y": 2}, false); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetDocument(ctx, "things", "a", map[string]int{"y": 3}, true); err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := svc.GetDocument(ctx, "things", "a", &got); err != nil {
		t.Fatal(err)
	}
	if got["x"] != 1 || got["y"] != 3 {
		t.Errorf("merged document = %v", got)
	}

	docs, err := svc.ListDocuments(ctx, "things")
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocuments() = %v, %v", docs, err)
	}
	if err := svc.DeleteDocument(ctx, "things", "a"); err != nil {
		t.Fatal(err)
	}
	if err := svc.GetDocument(ctx, "things", "a", &got); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument() after delete error = %v", err)
	}
}

// flakyStore fails a configurable number of calls before delegating.
type flakyStore struct {
	storage.DocumentStore
	mu        sync.Mutex
	getFails  int
	setFails  int
	getCalls  int
	setCalls  int
	failError error
}

func (f *flakyStore) Get(ctx context.Context, c, id string) (json.RawMessage, error) {
	f.mu.Lock()
	f.getCalls++
	fail := f.getFails > 0
	if fail {
		f.getFails--
	}
	f.mu.Unlock()
	if fail {
		return nil, f.failError
	}
	return f.DocumentStore.Get(ctx, c, id)
}

func (f *flakyStore) Set(ctx context.Context, c, id string, data json.RawMessage, merge bool) error {
	f.mu.Lock()
	f.setCalls++
	fail := f.setFails > 0
	if fail {
		f.setFails--
	}
	f.mu.Unlock()
	if fail {
		return f.failError
	}
	return f.DocumentStore.Set(ctx, c, id, data, merge)
}

func TestGetDocumentRetries(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{DocumentStore: memory.NewStore(), failError: errors.New("connection reset")}
	svc := newTestBackend(t, store)

	if err := svc.SetDocument(ctx, "things", "a", map[string]int{"x": 1}, false); err != nil {
		t.Fatal(err)
	}
	store.getFails = 2

	var got map[string]int
	if err := svc.GetDocument(ctx, "things", "a", &got); err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if store.getCalls != 3 {
		t.Errorf("get calls = %d, want 3", store.getCalls)
	}
}

func TestGetDocumentDoesNotRetryNotFound(t *testing.T) {
	store := &flakyStore{DocumentStore: memory.NewStore()}
	svc := newTestBackend(t, store)

	var got map[string]int
	if err := svc.GetDocument(context.Background(), "things", "missing", &got); !errors.Is(err, ErrNotFound) {
		t.Fatal(err)
	}
	if store.getCalls != 1 {
		t.Errorf("get calls = %d, want 1", store.getCalls)
	}
}

func TestSetDocumentCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{DocumentStore: memory.NewStore(), setFails: 100, failError: errors.New("disk full")}
	svc := newTestBackend(t, store)

	for i := 0; i < 3; i++ {
		if err := svc.SetDocument(ctx, "things", "a", map[string]int{"x": i}, false); err == nil {
			t.Fatalf("write %d should fail", i)
		}
	}
	if err := svc.SetDocument(ctx, "things", "a", map[string]int{"x": 9}, false); err == nil {
		t.Fatal("write with open breaker should fail")
	}
	if store.setCalls != 3 {
		t.Errorf("store saw %d writes, want 3 before the breaker opened", store.setCalls)
	}
}
