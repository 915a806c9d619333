package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailwatch/internal/model"
)

// ErrNotFound is returned when a referenced account, message or config
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint, most notably (account_id, uid) on messages.
var ErrDuplicate = errors.New("duplicate")

// AccountStore persists mail accounts and their sync state.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *model.MailAccount) error
	GetAccount(ctx context.Context, id string) (*model.MailAccount, error)
	ListAccounts(ctx context.Context) ([]model.MailAccount, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]model.MailAccount, error)
	DeleteAccount(ctx context.Context, id string) error

	// BeginSync atomically moves an account to syncing. It reports false
	// when another run holds a syncing mark newer than staleBefore.
	BeginSync(ctx context.Context, id string, now, staleBefore time.Time) (bool, error)

	// FinishSync records the outcome of a sync run. lastSyncAt is only
	// written when non-nil.
	FinishSync(
		ctx context.Context,
		id string,
		status model.AccountStatus,
		lastSyncAt *time.Time,
		lastError string,
	) error
}

// MessageStore persists ingested messages.
type MessageStore interface {
	// FindMessage looks a message up by its dedupe key.
	FindMessage(ctx context.Context, accountID string, uid uint32) (*model.Message, error)

	// CreateMessage inserts a new message. It returns ErrDuplicate when
	// (AccountID, UID) already exists.
	CreateMessage(ctx context.Context, msg *model.Message) error

	// UpdateEnrichment writes the enrichment columns of a message and
	// nothing else.
	UpdateEnrichment(ctx context.Context, messageID string, e model.Enrichment) error

	CountMessages(ctx context.Context, accountID string) (int, error)
	CountUnread(ctx context.Context, accountID string) (int, error)

	// DigestStats summarizes the messages of all of a user's accounts
	// dated at or after since.
	DigestStats(
		ctx context.Context, userID string, since time.Time, maxSummaries int,
	) (*model.DigestStats, error)
}

// NotificationStore persists notification configs and delivery history.
type NotificationStore interface {
	CreateNotificationConfig(ctx context.Context, cfg *model.NotificationConfig) error
	GetNotificationConfig(ctx context.Context, userID, id string) (*model.NotificationConfig, error)
	UpdateNotificationConfig(ctx context.Context, cfg *model.NotificationConfig) error
	DeleteNotificationConfig(ctx context.Context, userID, id string) error
	ListEnabledNotificationConfigs(ctx context.Context, userID string) ([]model.NotificationConfig, error)

	// CreateDeliveryRecord appends one delivery outcome. Records are
	// never updated.
	CreateDeliveryRecord(ctx context.Context, rec *model.DeliveryRecord) error
	DeliveryStats(ctx context.Context, userID string, recent int) (*model.DeliveryStats, error)
}

// Store is the full persistence interface.
type Store interface {
	AccountStore
	MessageStore
	NotificationStore
	Close() error
}
