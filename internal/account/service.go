package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/source/email"
	"github.com/nhle/mailwatch/internal/store"
	mailsync "github.com/nhle/mailwatch/internal/sync"
)

// ConnectionTester checks a connection config without keeping the
// connection.
type ConnectionTester interface {
	Test(ctx context.Context, cfg model.ConnectionConfig) email.Result
}

// Scheduler owns the background sync schedule of accounts.
type Scheduler interface {
	Register(accountID string) error
	Unregister(accountID string)
	Trigger(accountID string)
}

// Credentials stores mailbox passwords.
type Credentials interface {
	Set(key, value string) error
	Delete(key string) error
}

// NewAccount is the user-supplied part of a mail account. Unset host,
// port and username are filled from the provider preset of Email.
type NewAccount struct {
	Name       string                 `json:"name"`
	Email      string                 `json:"email"`
	Password   string                 `json:"password"`
	Connection model.ConnectionConfig `json:"connection"`
}

// Service manages the mail accounts of users.
type Service struct {
	store     store.Store
	tester    ConnectionTester
	creds     Credentials
	scheduler Scheduler
	syncer    mailsync.Syncer
	logger    *zap.Logger
}

// NewService creates a Service.
func NewService(
	s store.Store,
	tester ConnectionTester,
	creds Credentials,
	scheduler Scheduler,
	syncer mailsync.Syncer,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     s,
		tester:    tester,
		creds:     creds,
		scheduler: scheduler,
		syncer:    syncer,
		logger:    logger,
	}
}

// resolve applies the provider preset and returns the config to dial.
func resolve(in NewAccount) (model.ConnectionConfig, string, error) {
	addr := strings.TrimSpace(in.Email)
	if addr == "" {
		return model.ConnectionConfig{}, "", &source.ValidationError{Field: "email", Message: "is required"}
	}

	cfg := in.Connection
	provider := email.ApplyPreset(&cfg, addr)
	if in.Password != "" {
		cfg.Password = in.Password
	}
	return cfg, provider, nil
}

// Test checks the connection settings of a prospective account.
func (s *Service) Test(ctx context.Context, in NewAccount) email.Result {
	cfg, _, err := resolve(in)
	if err != nil {
		return email.Result{Err: err}
	}
	return s.tester.Test(ctx, cfg)
}

// Add tests the connection, stores the password in the credential store,
// persists the account as idle and schedules it. The first sync starts
// in the background.
func (s *Service) Add(ctx context.Context, userID string, in NewAccount) (*model.MailAccount, error) {
	cfg, provider, err := resolve(in)
	if err != nil {
		return nil, err
	}

	if res := s.tester.Test(ctx, cfg); !res.OK {
		return nil, fmt.Errorf("testing connection: %w", res.Err)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = in.Email
	}
	password := cfg.Password
	cfg.Password = ""

	account := &model.MailAccount{
		ID:         uuid.New().String(),
		UserID:     userID,
		Name:       name,
		Email:      strings.TrimSpace(in.Email),
		Provider:   provider,
		Connection: cfg,
	}

	if err := s.creds.Set(account.CredentialKey(), password); err != nil {
		return nil, err
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if delErr := s.creds.Delete(account.CredentialKey()); delErr != nil {
			s.logger.Warn("removing orphaned credential", zap.String("account_id", account.ID), zap.Error(delErr))
		}
		return nil, err
	}

	if err := s.scheduler.Register(account.ID); err != nil {
		s.logger.Error("scheduling account", zap.String("account_id", account.ID), zap.Error(err))
	}
	s.scheduler.Trigger(account.ID)

	s.logger.Info("account added",
		zap.String("account_id", account.ID),
		zap.String("user_id", userID),
		zap.String("provider", provider),
	)
	return account, nil
}

// Get returns an account owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*model.MailAccount, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.UserID != userID {
		return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	return account, nil
}

// List returns the accounts of userID.
func (s *Service) List(ctx context.Context, userID string) ([]model.MailAccount, error) {
	return s.store.ListAccountsByUser(ctx, userID)
}

// Delete unschedules the account and removes it with its messages and
// stored password.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	account, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	s.scheduler.Unregister(account.ID)
	if err := s.store.DeleteAccount(ctx, account.ID); err != nil {
		return err
	}
	if err := s.creds.Delete(account.CredentialKey()); err != nil {
		s.logger.Warn("removing credential", zap.String("account_id", account.ID), zap.Error(err))
	}
	return nil
}

// Sync runs one sync of an account owned by userID and waits for it.
func (s *Service) Sync(ctx context.Context, userID, id string) (*mailsync.Result, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.syncer.Sync(ctx, id)
}

// UnreadCount returns the number of unread messages of an account.
func (s *Service) UnreadCount(ctx context.Context, userID, id string) (int, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return 0, err
	}
	return s.store.CountUnread(ctx, id)
}
