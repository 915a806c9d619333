package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/store"
	"github.com/nhle/mailwatch/tests/testutil"
)

func TestAccountRoundTrip(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	account := testutil.CreateTestAccount(t, s, "u1")
	if account.ID == "" {
		t.Fatal("Expected generated account ID")
	}
	if account.Status != model.AccountIdle {
		t.Errorf("Expected status idle, got %s", account.Status)
	}

	got, err := s.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.Connection.Host != "imap.example.com" || got.Connection.Port != 993 {
		t.Errorf("Unexpected connection: %+v", got.Connection)
	}
	if got.LastSyncAt != nil {
		t.Errorf("Expected nil LastSyncAt, got %v", got.LastSyncAt)
	}

	_, err = s.GetAccount(ctx, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	testutil.CreateTestAccount(t, s, "u2")
	mine, err := s.ListAccountsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListAccountsByUser failed: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("Expected 1 account for u1, got %d", len(mine))
	}
	all, err := s.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 accounts, got %d", len(all))
	}
}

func TestBeginSyncIsExclusive(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, s, "u1")

	now := time.Now()
	ok, err := s.BeginSync(ctx, account.ID, now, now.Add(-time.Minute))
	if err != nil || !ok {
		t.Fatalf("Expected first claim to succeed, got %v, %v", ok, err)
	}

	ok, err = s.BeginSync(ctx, account.ID, now.Add(time.Second), now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("BeginSync failed: %v", err)
	}
	if ok {
		t.Error("Expected second claim to be rejected while syncing")
	}

	// A mark older than the stale cutoff can be taken over.
	later := now.Add(time.Hour)
	ok, err = s.BeginSync(ctx, account.ID, later, later.Add(-time.Minute))
	if err != nil || !ok {
		t.Errorf("Expected stale claim to succeed, got %v, %v", ok, err)
	}

	synced := later.Add(time.Second)
	if err := s.FinishSync(ctx, account.ID, model.AccountConnected, &synced, ""); err != nil {
		t.Fatalf("FinishSync failed: %v", err)
	}
	got, _ := s.GetAccount(ctx, account.ID)
	if got.Status != model.AccountConnected {
		t.Errorf("Expected connected, got %s", got.Status)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(synced.UTC()) {
		t.Errorf("Expected LastSyncAt %v, got %v", synced, got.LastSyncAt)
	}

	ok, err = s.BeginSync(ctx, account.ID, synced, synced.Add(-time.Minute))
	if err != nil || !ok {
		t.Errorf("Expected claim after finish to succeed, got %v, %v", ok, err)
	}

	_, err = s.BeginSync(ctx, "missing", now, now)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFinishSyncKeepsLastSyncOnError(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, s, "u1")

	synced := time.Now()
	if err := s.FinishSync(ctx, account.ID, model.AccountConnected, &synced, ""); err != nil {
		t.Fatalf("FinishSync failed: %v", err)
	}
	if err := s.FinishSync(ctx, account.ID, model.AccountError, nil, "boom"); err != nil {
		t.Fatalf("FinishSync failed: %v", err)
	}

	got, _ := s.GetAccount(ctx, account.ID)
	if got.Status != model.AccountError || got.LastError != "boom" {
		t.Errorf("Expected error/boom, got %s/%s", got.Status, got.LastError)
	}
	if got.LastSyncAt == nil {
		t.Error("Expected LastSyncAt to survive a failed run")
	}
}

func TestCreateMessageRejectsDuplicateUID(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, s, "u1")

	msg := &model.Message{
		AccountID: account.ID,
		UID:       42,
		Sender:    "alice@example.com",
		Subject:   "Hello",
		Date:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Unread:    true,
		Flags:     []string{`\Recent`},
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	dup := &model.Message{AccountID: account.ID, UID: 42, Date: time.Now()}
	err := s.CreateMessage(ctx, dup)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}

	got, err := s.FindMessage(ctx, account.ID, 42)
	if err != nil {
		t.Fatalf("FindMessage failed: %v", err)
	}
	if got.Subject != "Hello" || got.Folder != model.DefaultMailbox {
		t.Errorf("Unexpected message: %+v", got)
	}
	if len(got.Flags) != 1 || got.Flags[0] != `\Recent` {
		t.Errorf("Expected flags [\\Recent], got %v", got.Flags)
	}
	if got.Enrichment != nil {
		t.Errorf("Expected no enrichment, got %+v", got.Enrichment)
	}

	_, err = s.FindMessage(ctx, account.ID, 43)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateEnrichmentOnlyTouchesEnrichment(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, s, "u1")

	msg := &model.Message{AccountID: account.ID, UID: 1, Subject: "Invoice", Date: time.Now(), Unread: true}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	e := model.Enrichment{
		Summary:        "Pay the invoice",
		Priority:       model.PriorityHigh,
		Sentiment:      model.SentimentNeutral,
		Tags:           []string{"finance"},
		KeyPoints:      []string{"due friday"},
		ActionRequired: true,
		Confidence:     0.9,
	}
	if err := s.UpdateEnrichment(ctx, msg.ID, e); err != nil {
		t.Fatalf("UpdateEnrichment failed: %v", err)
	}

	got, _ := s.FindMessage(ctx, account.ID, 1)
	if got.Enrichment == nil {
		t.Fatal("Expected enrichment to be set")
	}
	if got.Enrichment.Priority != model.PriorityHigh || !got.Enrichment.ActionRequired {
		t.Errorf("Unexpected enrichment: %+v", got.Enrichment)
	}
	if len(got.Enrichment.Tags) != 1 || got.Enrichment.Tags[0] != "finance" {
		t.Errorf("Expected tags [finance], got %v", got.Enrichment.Tags)
	}
	if got.Subject != "Invoice" || !got.Unread {
		t.Errorf("Expected ingest fields untouched, got %+v", got)
	}

	if err := s.UpdateEnrichment(ctx, "missing", e); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAccountRemovesMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, s, "u1")

	for uid := uint32(1); uid <= 3; uid++ {
		m := &model.Message{AccountID: account.ID, UID: uid, Date: time.Now(), Unread: uid != 2}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	unread, _ := s.CountUnread(ctx, account.ID)
	if unread != 2 {
		t.Errorf("Expected 2 unread, got %d", unread)
	}

	if err := s.DeleteAccount(ctx, account.ID); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	n, _ := s.CountMessages(ctx, account.ID)
	if n != 0 {
		t.Errorf("Expected 0 messages after delete, got %d", n)
	}
	if err := s.DeleteAccount(ctx, account.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDigestStats(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	account := testutil.CreateTestAccount(t, s, "u1")
	other := testutil.CreateTestAccount(t, s, "u2")

	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	msgs := []*model.Message{
		{AccountID: account.ID, UID: 1, Date: day.Add(time.Hour), Unread: true},
		{AccountID: account.ID, UID: 2, Date: day.Add(2 * time.Hour), Unread: false},
		{AccountID: account.ID, UID: 3, Date: day.Add(-time.Hour), Unread: true},
		{AccountID: other.ID, UID: 1, Date: day.Add(time.Hour), Unread: true},
	}
	for _, m := range msgs {
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}
	err := s.UpdateEnrichment(ctx, msgs[1].ID, model.Enrichment{
		Summary: "Quarterly report", Priority: model.PriorityHigh, Sentiment: model.SentimentNeutral,
	})
	if err != nil {
		t.Fatalf("UpdateEnrichment failed: %v", err)
	}

	stats, err := s.DigestStats(ctx, "u1", day, 5)
	if err != nil {
		t.Fatalf("DigestStats failed: %v", err)
	}
	if stats.Total != 2 || stats.Unread != 1 || stats.High != 1 {
		t.Errorf("Expected 2/1/1, got %d/%d/%d", stats.Total, stats.Unread, stats.High)
	}
	if len(stats.Summaries) != 1 || stats.Summaries[0] != "Quarterly report" {
		t.Errorf("Unexpected summaries: %v", stats.Summaries)
	}
}

func TestNotificationConfigLifecycle(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	cfg := &model.NotificationConfig{
		UserID:   "u1",
		Platform: model.PlatformFeishu,
		Webhook:  "https://open.feishu.cn/open-apis/bot/v2/hook/x",
		Enabled:  true,
		Types:    []model.EventType{model.EventNewMail},
		Filters: model.NotificationFilters{
			Keywords:  []string{"invoice"},
			TimeRange: &model.TimeRange{Start: "09:00", End: "18:00"},
		},
	}
	if err := s.CreateNotificationConfig(ctx, cfg); err != nil {
		t.Fatalf("CreateNotificationConfig failed: %v", err)
	}

	if _, err := s.GetNotificationConfig(ctx, "u2", cfg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected other users to get ErrNotFound, got %v", err)
	}

	got, err := s.GetNotificationConfig(ctx, "u1", cfg.ID)
	if err != nil {
		t.Fatalf("GetNotificationConfig failed: %v", err)
	}
	if got.Filters.TimeRange == nil || got.Filters.TimeRange.Start != "09:00" {
		t.Errorf("Expected time range to round-trip, got %+v", got.Filters)
	}

	got.Enabled = false
	if err := s.UpdateNotificationConfig(ctx, got); err != nil {
		t.Fatalf("UpdateNotificationConfig failed: %v", err)
	}
	enabled, _ := s.ListEnabledNotificationConfigs(ctx, "u1")
	if len(enabled) != 0 {
		t.Errorf("Expected no enabled configs, got %d", len(enabled))
	}

	if err := s.DeleteNotificationConfig(ctx, "u1", cfg.ID); err != nil {
		t.Fatalf("DeleteNotificationConfig failed: %v", err)
	}
	if err := s.DeleteNotificationConfig(ctx, "u1", cfg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeliveryStats(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	cfg := &model.NotificationConfig{
		UserID: "u1", Platform: model.PlatformDingTalk, Webhook: "https://x", Enabled: true,
		Types: []model.EventType{model.EventNewMail},
	}
	if err := s.CreateNotificationConfig(ctx, cfg); err != nil {
		t.Fatalf("CreateNotificationConfig failed: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []model.DeliveryRecord{
		{EventID: "e1", UserID: "u1", ConfigID: cfg.ID, Platform: model.PlatformDingTalk, Type: model.EventNewMail, Success: true, SentAt: base},
		{EventID: "e2", UserID: "u1", ConfigID: cfg.ID, Platform: model.PlatformDingTalk, Type: model.EventNewMail, Success: false, Error: "timeout", SentAt: base.Add(time.Minute)},
		{EventID: "e2", UserID: "u1", ConfigID: "c2", Platform: model.PlatformFeishu, Type: model.EventNewMail, Success: true, SentAt: base.Add(2 * time.Minute)},
		{EventID: "e3", UserID: "u2", ConfigID: "c3", Platform: model.PlatformFeishu, Type: model.EventNewMail, Success: true, SentAt: base},
	}
	for i := range recs {
		if err := s.CreateDeliveryRecord(ctx, &recs[i]); err != nil {
			t.Fatalf("CreateDeliveryRecord failed: %v", err)
		}
	}

	stats, err := s.DeliveryStats(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("DeliveryStats failed: %v", err)
	}
	if stats.Total != 3 || stats.Successful != 2 {
		t.Errorf("Expected 3 total / 2 successful, got %d / %d", stats.Total, stats.Successful)
	}
	if stats.ActiveConfigs != 1 {
		t.Errorf("Expected 1 active config, got %d", stats.ActiveConfigs)
	}
	if len(stats.ByPlatform) != 2 || stats.ByPlatform[0].Platform != model.PlatformDingTalk {
		t.Errorf("Unexpected platform breakdown: %+v", stats.ByPlatform)
	}
	if len(stats.Recent) != 2 || stats.Recent[0].Platform != model.PlatformFeishu {
		t.Errorf("Expected newest record first, got %+v", stats.Recent)
	}
	if stats.Recent[1].Error != "timeout" {
		t.Errorf("Expected error text to round-trip, got %q", stats.Recent[1].Error)
	}
}
