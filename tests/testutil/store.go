package testutil

import (
	"context"
	"testing"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/store"
)

// NewTestStore creates an in-memory SQLStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// CreateTestAccount inserts an idle account owned by userID.
func CreateTestAccount(t *testing.T, s store.AccountStore, userID string) *model.MailAccount {
	t.Helper()

	account := &model.MailAccount{
		UserID:   userID,
		Name:     "Test",
		Email:    userID + "@example.com",
		Provider: "custom",
		Connection: model.ConnectionConfig{
			Host:     "imap.example.com",
			Port:     993,
			Secure:   true,
			Username: userID + "@example.com",
		},
	}
	if err := s.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("creating test account: %v", err)
	}
	return account
}
