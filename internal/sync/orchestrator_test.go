package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	gosync "sync"
	"testing"
	"time"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/tests/testutil"
)

// fakeMailbox serves a mailbox of total messages where sequence number n
// has UID n*10.
type fakeMailbox struct {
	mu         gosync.Mutex
	total      uint32
	failAfter  int // yield an error after this many envelopes; 0 disables
	connectErr error
	block      chan struct{}
	connected  chan struct{}
	ranges     [][2]uint32
	password   string
}

func (f *fakeMailbox) Connect(ctx context.Context, cfg model.ConnectionConfig) (source.Connection, error) {
	f.mu.Lock()
	f.password = cfg.Password
	f.mu.Unlock()

	if f.connected != nil {
		f.connected <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeMailboxConn{box: f}, nil
}

func (f *fakeMailbox) lastRange() [2]uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ranges) == 0 {
		return [2]uint32{}
	}
	return f.ranges[len(f.ranges)-1]
}

type fakeMailboxConn struct {
	box *fakeMailbox
}

func (c *fakeMailboxConn) OpenMailbox(_ context.Context, name string, _ bool) (*source.MailboxStatus, error) {
	return &source.MailboxStatus{Name: name, TotalMessages: c.box.total}, nil
}

func (c *fakeMailboxConn) FetchRange(
	_ context.Context, from, to uint32, _ source.FetchParts,
) iter.Seq2[source.Envelope, error] {
	c.box.mu.Lock()
	c.box.ranges = append(c.box.ranges, [2]uint32{from, to})
	c.box.mu.Unlock()

	return func(yield func(source.Envelope, error) bool) {
		n := 0
		for seq := from; seq <= to; seq++ {
			if c.box.failAfter > 0 && n == c.box.failAfter {
				yield(source.Envelope{}, errors.New("connection reset"))
				return
			}
			var flags []string
			if seq%2 == 0 {
				flags = []string{`\Seen`}
			}
			env := source.Envelope{
				UID:   seq * 10,
				Flags: flags,
				Date:  time.Date(2026, 3, 1, 0, 0, int(seq), 0, time.UTC),
				Header: []byte(fmt.Sprintf(
					"From: sender%d@example.com\r\nTo: me@example.com\r\nSubject: Message %d\r\n\r\n", seq, seq)),
			}
			if !yield(env, nil) {
				return
			}
			n++
		}
	}
}

func (c *fakeMailboxConn) Close() error { return nil }

// fakeEnricher rates every message high except those whose UID is in fail.
type fakeEnricher struct {
	fail map[uint32]bool
}

func (e *fakeEnricher) Enrich(_ context.Context, msg *model.Message) bool {
	if e.fail[msg.UID] {
		return false
	}
	msg.Enrichment = &model.Enrichment{Summary: "summary", Priority: model.PriorityHigh}
	return true
}

type recordingNotifier struct {
	mu        gosync.Mutex
	newMail   []uint32
	important []uint32
}

func (n *recordingNotifier) NotifyNewMail(_ context.Context, _ string, msg model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.newMail = append(n.newMail, msg.UID)
}

func (n *recordingNotifier) NotifyImportantMail(_ context.Context, _ string, msg model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.important = append(n.important, msg.UID)
}

type staticCredentials map[string]string

func (c staticCredentials) Get(key string) (string, error) {
	v, ok := c[key]
	if !ok {
		return "", errors.New("no such credential")
	}
	return v, nil
}

func TestWindow(t *testing.T) {
	tests := []struct {
		total    uint32
		n        int
		from, to uint32
	}{
		{0, 100, 0, 0},
		{1, 100, 1, 1},
		{100, 100, 1, 100},
		{101, 100, 2, 101},
		{150, 100, 51, 150},
	}

	for _, tt := range tests {
		from, to := Window(tt.total, tt.n)
		if from != tt.from || to != tt.to {
			t.Errorf("Window(%d, %d): expected %d..%d, got %d..%d",
				tt.total, tt.n, tt.from, tt.to, from, to)
		}
	}
}

func TestSyncFetchesNewestWindow(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.CreateTestAccount(t, s, "u1")
	box := &fakeMailbox{total: 150}
	o := NewOrchestrator(s, box, nil, nil, nil, Options{Window: 100}, nil)

	before := time.Now()
	result, err := o.Sync(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if r := box.lastRange(); r != [2]uint32{51, 150} {
		t.Errorf("Expected range 51..150, got %d..%d", r[0], r[1])
	}
	if len(result.Created) != 100 {
		t.Errorf("Expected 100 new messages, got %d", len(result.Created))
	}

	got, _ := s.GetAccount(context.Background(), account.ID)
	if got.Status != model.AccountConnected {
		t.Errorf("Expected connected, got %s", got.Status)
	}
	if got.LastSyncAt == nil || got.LastSyncAt.Before(before.Add(-time.Second)) {
		t.Errorf("Expected LastSyncAt to be updated, got %v", got.LastSyncAt)
	}

	msg, err := s.FindMessage(context.Background(), account.ID, 510)
	if err != nil {
		t.Fatalf("FindMessage failed: %v", err)
	}
	if msg.Subject != "Message 51" || msg.Sender != "sender51@example.com" {
		t.Errorf("Unexpected header fields: %+v", msg)
	}
	if !msg.Unread {
		t.Error("Expected message without \\Seen to be unread")
	}
	if msg.Folder != model.DefaultMailbox {
		t.Errorf("Expected folder INBOX, got %s", msg.Folder)
	}
}

func TestSyncIsIdempotentAcrossOverlappingWindows(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.CreateTestAccount(t, s, "u1")
	box := &fakeMailbox{total: 150}
	notifier := &recordingNotifier{}
	o := NewOrchestrator(s, box, nil, notifier, nil, Options{Window: 100}, nil)
	ctx := context.Background()

	if _, err := o.Sync(ctx, account.ID); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}
	second, err := o.Sync(ctx, account.ID)
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if len(second.Created) != 0 {
		t.Errorf("Expected no new messages on re-sync, got %d", len(second.Created))
	}

	box.total = 160
	third, err := o.Sync(ctx, account.ID)
	if err != nil {
		t.Fatalf("third Sync failed: %v", err)
	}
	if len(third.Created) != 10 {
		t.Errorf("Expected 10 new messages, got %d", len(third.Created))
	}

	n, _ := s.CountMessages(ctx, account.ID)
	if n != 110 {
		t.Errorf("Expected 110 stored messages, got %d", n)
	}
	if len(notifier.newMail) != 110 {
		t.Errorf("Expected one new-mail event per created message, got %d", len(notifier.newMail))
	}
}

func TestSyncRejectsConcurrentTrigger(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.CreateTestAccount(t, s, "u1")
	box := &fakeMailbox{
		total:     5,
		block:     make(chan struct{}),
		connected: make(chan struct{}, 1),
	}
	o := NewOrchestrator(s, box, nil, nil, nil, Options{}, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := o.Sync(ctx, account.ID)
		done <- err
	}()
	<-box.connected

	got, _ := s.GetAccount(ctx, account.ID)
	if got.Status != model.AccountSyncing {
		t.Errorf("Expected syncing to be committed before I/O, got %s", got.Status)
	}

	if _, err := o.Sync(ctx, account.ID); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress, got %v", err)
	}

	close(box.block)
	if err := <-done; err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}
}

func TestSyncHonorsSyncingMarkFromAnotherProcess(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.CreateTestAccount(t, s, "u1")
	box := &fakeMailbox{total: 5}
	o := NewOrchestrator(s, box, nil, nil, nil, Options{StaleAfter: time.Hour}, nil)
	ctx := context.Background()

	now := time.Now()
	if ok, err := s.BeginSync(ctx, account.ID, now, now.Add(-time.Hour)); err != nil || !ok {
		t.Fatalf("BeginSync failed: %v, %v", ok, err)
	}

	if _, err := o.Sync(ctx, account.ID); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Expected ErrSyncInProgress, got %v", err)
	}
	if len(box.ranges) != 0 {
		t.Error("Expected no fetch while another run holds the account")
	}
}

func TestSyncConnectionFailureSetsError(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.CreateTestAccount(t, s, "u1")
	box := &fakeMailbox{connectErr: &source.ConnectionError{Kind: source.KindAuthenticationRejected}}
	o := NewOrchestrator(s, box, nil, nil, nil, Options{}, nil)

	_, err := o.Sync(context.Background(), account.ID)
	if !source.IsConnectionError(err) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}

	got, _ := s.GetAccount(context.Background(), account.ID)
	if got.Status != model.AccountError {
		t.Errorf("Expected error status, got %s", got.Status)
	}
	if got.LastError == "" {
		t.Error("Expected last error to be recorded")
	}
	if got.LastSyncAt != nil {
		t.Errorf("Expected LastSyncAt untouched, got %v", got.LastSyncAt)
	}
}

func TestSyncFetchFailureKeepsIngestedMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.CreateTestAccount(t, s, "u1")
	box := &fakeMailbox{total: 10, failAfter: 4}
	notifier := &recordingNotifier{}
	o := NewOrchestrator(s, box, nil, notifier, nil, Options{}, nil)

	result, err := o.Sync(context.Background(), account.ID)
	if err == nil {
		t.Fatal("Expected fetch error")
	}
	if len(result.Created) != 4 {
		t.Errorf("Expected 4 messages before the failure, got %d", len(result.Created))
	}
	if len(notifier.newMail) != 4 {
		t.Errorf("Expected 4 new-mail events, got %d", len(notifier.newMail))
	}

	got, _ := s.GetAccount(context.Background(), account.ID)
	if got.Status != model.AccountError {
		t.Errorf("Expected error status, got %s", got.Status)
	}
}

func TestEnrichmentFailureIsNonFatal(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.CreateTestAccount(t, s, "u1")
	box := &fakeMailbox{total: 3}
	enricher := &fakeEnricher{fail: map[uint32]bool{20: true}}
	notifier := &recordingNotifier{}
	o := NewOrchestrator(s, box, enricher, notifier, nil, Options{}, nil)

	result, err := o.Sync(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(result.Created) != 3 || result.Enriched != 2 {
		t.Errorf("Expected 3 created / 2 enriched, got %d / %d", len(result.Created), result.Enriched)
	}
	if len(notifier.newMail) != 3 {
		t.Errorf("Expected new-mail for every message, got %v", notifier.newMail)
	}
	if len(notifier.important) != 2 {
		t.Errorf("Expected important-mail only for enriched high messages, got %v", notifier.important)
	}
	for _, uid := range notifier.important {
		if uid == 20 {
			t.Error("Expected no important-mail event for the failed message")
		}
	}
}

func TestSyncResolvesStoredPassword(t *testing.T) {
	s := testutil.NewTestStore(t)
	account := testutil.CreateTestAccount(t, s, "u1")
	box := &fakeMailbox{total: 1}
	creds := staticCredentials{account.CredentialKey(): "app-password"}
	o := NewOrchestrator(s, box, nil, nil, creds, Options{}, nil)

	if _, err := o.Sync(context.Background(), account.ID); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if box.password != "app-password" {
		t.Errorf("Expected stored password to be used, got %q", box.password)
	}
}

func TestParseHeaderDecodesEncodedWords(t *testing.T) {
	raw := []byte("Subject: =?UTF-8?B?5rWL6K+V?=\r\nFrom: Alice <alice@example.com>\r\n\r\n")
	fields, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if fields.Subject != "测试" {
		t.Errorf("Expected decoded subject, got %q", fields.Subject)
	}
	if fields.From != "Alice <alice@example.com>" {
		t.Errorf("Unexpected sender: %q", fields.From)
	}
	if fields.To != "" {
		t.Errorf("Expected missing To to be empty, got %q", fields.To)
	}
}
