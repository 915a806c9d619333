package model

import "time"

// AccountStatus is the sync state of a mail account.
type AccountStatus string

const (
	AccountIdle      AccountStatus = "idle"
	AccountSyncing   AccountStatus = "syncing"
	AccountConnected AccountStatus = "connected"
	AccountError     AccountStatus = "error"
)

// DefaultMailbox is the folder every sync run opens.
const DefaultMailbox = "INBOX"

// ConnectionConfig holds the IMAP connection parameters of an account.
type ConnectionConfig struct {
	// Host is the IMAP server host name.
	Host string `json:"host"`

	// Port is the IMAP server port (993 for implicit TLS, 143 otherwise).
	Port int `json:"port"`

	// Secure selects implicit TLS on connect.
	Secure bool `json:"secure"`

	// StartTLS upgrades a plain connection when Secure is false.
	StartTLS bool `json:"start_tls"`

	// InsecureSkipVerify disables certificate verification. Only for
	// self-hosted servers with private certificates.
	InsecureSkipVerify bool `json:"insecure_skip_verify"`

	// Username is the IMAP login name, usually the email address.
	Username string `json:"username"`

	// Password is the IMAP password or app password. It is never
	// persisted in the database; see internal/credential.
	Password string `json:"-"`
}

// MailAccount is a remote mailbox owned by a single user.
type MailAccount struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Provider string `json:"provider"`

	Connection ConnectionConfig `json:"connection"`

	// Status is only written by the sync orchestrator after creation.
	Status AccountStatus `json:"status"`

	// LastSyncAt is when the last successful sync completed.
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	// SyncStartedAt is when the current (or last) sync run was claimed.
	SyncStartedAt *time.Time `json:"sync_started_at,omitempty"`

	// LastError is the message of the last failed sync, cleared on success.
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CredentialKey returns the keyring key holding this account's password.
func (a MailAccount) CredentialKey() string {
	return "imap-" + a.ID
}
