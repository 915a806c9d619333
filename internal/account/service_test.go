package account

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/source/email"
	"github.com/nhle/mailwatch/internal/store"
	mailsync "github.com/nhle/mailwatch/internal/sync"
	"github.com/nhle/mailwatch/tests/testutil"
)

type fakeTester struct {
	result email.Result
	got    model.ConnectionConfig
}

func (f *fakeTester) Test(ctx context.Context, cfg model.ConnectionConfig) email.Result {
	f.got = cfg
	return f.result
}

type fakeScheduler struct {
	mu           sync.Mutex
	registered   map[string]bool
	triggered    []string
	unregistered []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{registered: make(map[string]bool)}
}

func (f *fakeScheduler) Register(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[id] = true
	return nil
}

func (f *fakeScheduler) Unregister(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, id)
	f.unregistered = append(f.unregistered, id)
}

func (f *fakeScheduler) Trigger(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, id)
}

type fakeSyncer struct {
	calls []string
}

func (f *fakeSyncer) Sync(ctx context.Context, accountID string) (*mailsync.Result, error) {
	f.calls = append(f.calls, accountID)
	return &mailsync.Result{AccountID: accountID}, nil
}

type fixture struct {
	store     *store.SQLStore
	tester    *fakeTester
	creds     *credential.Store
	scheduler *fakeScheduler
	syncer    *fakeSyncer
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     testutil.NewTestStore(t),
		tester:    &fakeTester{result: email.Result{OK: true}},
		creds:     credential.NewMemory(),
		scheduler: newFakeScheduler(),
		syncer:    &fakeSyncer{},
	}
	f.svc = NewService(f.store, f.tester, f.creds, f.scheduler, f.syncer, nil)
	return f
}

func TestAddAppliesPresetAndStoresPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Add(ctx, "u1", NewAccount{Email: "alice@gmail.com", Password: "app-pass"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if f.tester.got.Host != "imap.gmail.com" || f.tester.got.Port != 993 || !f.tester.got.Secure {
		t.Errorf("Expected gmail preset, got %+v", f.tester.got)
	}
	if f.tester.got.Password != "app-pass" {
		t.Error("Expected the password to reach the connection test")
	}
	if account.Provider != "gmail" || account.Name != "alice@gmail.com" {
		t.Errorf("Unexpected account %+v", account)
	}
	if account.Connection.Password != "" {
		t.Error("Expected password stripped from the account")
	}

	stored, err := f.creds.Get(account.CredentialKey())
	if err != nil {
		t.Fatalf("Expected stored credential: %v", err)
	}
	if stored != "app-pass" {
		t.Errorf("Expected app-pass, got %q", stored)
	}

	got, err := f.store.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Status != model.AccountIdle {
		t.Errorf("Expected idle status, got %s", got.Status)
	}

	if !f.scheduler.registered[account.ID] {
		t.Error("Expected account to be scheduled")
	}
	if len(f.scheduler.triggered) != 1 || f.scheduler.triggered[0] != account.ID {
		t.Errorf("Expected one initial trigger, got %v", f.scheduler.triggered)
	}
}

func TestAddRejectsFailedConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tester.result = email.Result{
		Kind: source.KindAuthenticationRejected,
		Err:  &source.ConnectionError{Kind: source.KindAuthenticationRejected, Err: errors.New("NO")},
	}

	_, err := f.svc.Add(ctx, "u1", NewAccount{Email: "alice@gmail.com", Password: "bad"})
	if source.ConnectionErrorKindOf(err) != source.KindAuthenticationRejected {
		t.Fatalf("Expected authentication rejected, got %v", err)
	}

	accounts, _ := f.store.ListAccountsByUser(ctx, "u1")
	if len(accounts) != 0 {
		t.Errorf("Expected no account persisted, got %d", len(accounts))
	}
	if len(f.scheduler.registered) != 0 {
		t.Error("Expected nothing scheduled")
	}
}

func TestAddRequiresEmail(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Add(context.Background(), "u1", NewAccount{Password: "x"})
	if !source.IsValidationError(err) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestDeleteRemovesAccountCredentialAndSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Add(ctx, "u1", NewAccount{Email: "bob@qq.com", Password: "p"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := f.svc.Delete(ctx, "u2", account.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another user, got %v", err)
	}

	if err := f.svc.Delete(ctx, "u1", account.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if f.scheduler.registered[account.ID] {
		t.Error("Expected account unscheduled")
	}
	if _, err := f.creds.Get(account.CredentialKey()); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("Expected credential removed, got %v", err)
	}
	if _, err := f.store.GetAccount(ctx, account.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected account removed, got %v", err)
	}
}

func TestUnreadCountAndSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, f.store, "u1")

	for uid, unread := range map[uint32]bool{1: true, 2: false, 3: true} {
		msg := &model.Message{AccountID: account.ID, UID: uid, Unread: unread}
		if err := f.store.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	n, err := f.svc.UnreadCount(ctx, "u1", account.ID)
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 unread, got %d", n)
	}

	if _, err := f.svc.Sync(ctx, "u2", account.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another user, got %v", err)
	}
	if _, err := f.svc.Sync(ctx, "u1", account.ID); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(f.syncer.calls) != 1 {
		t.Errorf("Expected 1 sync call, got %d", len(f.syncer.calls))
	}
}
