package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailwatch/internal/model"
)

const accountColumns = `
	id, user_id, name, email, provider,
	imap_host, imap_port, imap_secure, imap_starttls, imap_insecure, imap_username,
	status, last_sync_at, sync_started_at, last_error, created_at, updated_at`

type accountRow struct {
	ID            string       `db:"id"`
	UserID        string       `db:"user_id"`
	Name          string       `db:"name"`
	Email         string       `db:"email"`
	Provider      string       `db:"provider"`
	Host          string       `db:"imap_host"`
	Port          int          `db:"imap_port"`
	Secure        bool         `db:"imap_secure"`
	StartTLS      bool         `db:"imap_starttls"`
	Insecure      bool         `db:"imap_insecure"`
	Username      string       `db:"imap_username"`
	Status        string       `db:"status"`
	LastSyncAt    sql.NullTime `db:"last_sync_at"`
	SyncStartedAt sql.NullTime `db:"sync_started_at"`
	LastError     string       `db:"last_error"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r accountRow) toModel() model.MailAccount {
	a := model.MailAccount{
		ID:       r.ID,
		UserID:   r.UserID,
		Name:     r.Name,
		Email:    r.Email,
		Provider: r.Provider,
		Connection: model.ConnectionConfig{
			Host:               r.Host,
			Port:               r.Port,
			Secure:             r.Secure,
			StartTLS:           r.StartTLS,
			InsecureSkipVerify: r.Insecure,
			Username:           r.Username,
		},
		Status:    model.AccountStatus(r.Status),
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.LastSyncAt.Valid {
		t := r.LastSyncAt.Time
		a.LastSyncAt = &t
	}
	if r.SyncStartedAt.Valid {
		t := r.SyncStartedAt.Time
		a.SyncStartedAt = &t
	}
	return a
}

// CreateAccount inserts a new account. ID, status and timestamps are
// filled in when empty. The password is never written.
func (s *SQLStore) CreateAccount(ctx context.Context, account *model.MailAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.Status == "" {
		account.Status = model.AccountIdle
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	c := account.Connection
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		account.ID, account.UserID, account.Name, account.Email, account.Provider,
		c.Host, c.Port, c.Secure, c.StartTLS, c.InsecureSkipVerify, c.Username,
		string(account.Status), nullTime(account.LastSyncAt), nullTime(account.SyncStartedAt),
		account.LastError, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating account %s: %w", account.ID, ErrDuplicate)
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *SQLStore) GetAccount(ctx context.Context, id string) (*model.MailAccount, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row,
		s.rebind("SELECT "+accountColumns+" FROM accounts WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting account %s: %w", id, err)
	}
	a := row.toModel()
	return &a, nil
}

// ListAccounts returns every account ordered by creation time.
func (s *SQLStore) ListAccounts(ctx context.Context) ([]model.MailAccount, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+accountColumns+" FROM accounts ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accountsFromRows(rows), nil
}

// ListAccountsByUser returns the accounts owned by userID.
func (s *SQLStore) ListAccountsByUser(ctx context.Context, userID string) ([]model.MailAccount, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = ? ORDER BY created_at, id"), userID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts for user %s: %w", userID, err)
	}
	return accountsFromRows(rows), nil
}

func accountsFromRows(rows []accountRow) []model.MailAccount {
	accounts := make([]model.MailAccount, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toModel())
	}
	return accounts
}

// DeleteAccount removes an account and its messages.
func (s *SQLStore) DeleteAccount(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete of account %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM messages WHERE account_id = ?"), id); err != nil {
		return fmt.Errorf("deleting messages of account %s: %w", id, err)
	}
	result, err := tx.ExecContext(ctx, s.rebind("DELETE FROM accounts WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting account %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// BeginSync claims the account for a sync run with a single conditional
// update, so two processes sharing the database cannot both succeed.
func (s *SQLStore) BeginSync(ctx context.Context, id string, now, staleBefore time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE accounts
		SET status = ?, sync_started_at = ?, updated_at = ?
		WHERE id = ?
		  AND (status <> ? OR sync_started_at IS NULL OR sync_started_at < ?)`),
		string(model.AccountSyncing), now.UTC(), now.UTC(),
		id, string(model.AccountSyncing), staleBefore.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claiming account %s for sync: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 1 {
		return true, nil
	}

	// Distinguish "held by another run" from "no such account".
	var exists int
	err = s.db.GetContext(ctx, &exists, s.rebind("SELECT COUNT(*) FROM accounts WHERE id = ?"), id)
	if err != nil {
		return false, fmt.Errorf("checking account %s: %w", id, err)
	}
	if exists == 0 {
		return false, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return false, nil
}

// FinishSync records the terminal status of a sync run.
func (s *SQLStore) FinishSync(
	ctx context.Context,
	id string,
	status model.AccountStatus,
	lastSyncAt *time.Time,
	lastError string,
) error {
	now := time.Now().UTC()
	var (
		result sql.Result
		err    error
	)
	if lastSyncAt != nil {
		result, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE accounts
			SET status = ?, last_sync_at = ?, last_error = ?, updated_at = ?
			WHERE id = ?`),
			string(status), lastSyncAt.UTC(), lastError, now, id,
		)
	} else {
		result, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE accounts
			SET status = ?, last_error = ?, updated_at = ?
			WHERE id = ?`),
			string(status), lastError, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("finishing sync of account %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
