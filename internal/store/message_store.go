package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailwatch/internal/model"
)

const messageColumns = `
	id, account_id, uid, sender, recipient, subject, date, unread, flags, folder, body,
	summary, priority, sentiment, tags, key_points, action_required, confidence, created_at`

type messageRow struct {
	ID             string          `db:"id"`
	AccountID      string          `db:"account_id"`
	UID            int64           `db:"uid"`
	Sender         string          `db:"sender"`
	Recipient      string          `db:"recipient"`
	Subject        string          `db:"subject"`
	Date           time.Time       `db:"date"`
	Unread         bool            `db:"unread"`
	Flags          string          `db:"flags"`
	Folder         string          `db:"folder"`
	Body           string          `db:"body"`
	Summary        sql.NullString  `db:"summary"`
	Priority       sql.NullString  `db:"priority"`
	Sentiment      sql.NullString  `db:"sentiment"`
	Tags           sql.NullString  `db:"tags"`
	KeyPoints      sql.NullString  `db:"key_points"`
	ActionRequired sql.NullBool    `db:"action_required"`
	Confidence     sql.NullFloat64 `db:"confidence"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (r messageRow) toModel() (model.Message, error) {
	m := model.Message{
		ID:        r.ID,
		AccountID: r.AccountID,
		UID:       uint32(r.UID),
		Sender:    r.Sender,
		Recipient: r.Recipient,
		Subject:   r.Subject,
		Date:      r.Date,
		Unread:    r.Unread,
		Folder:    r.Folder,
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
	}
	if err := unmarshalJSONColumn(r.Flags, &m.Flags); err != nil {
		return m, fmt.Errorf("decoding flags of message %s: %w", r.ID, err)
	}

	// Enrichment is all-or-nothing; priority is always set when present.
	if !r.Priority.Valid {
		return m, nil
	}
	e := &model.Enrichment{
		Summary:        r.Summary.String,
		Priority:       model.Priority(r.Priority.String),
		Sentiment:      model.Sentiment(r.Sentiment.String),
		ActionRequired: r.ActionRequired.Bool,
		Confidence:     r.Confidence.Float64,
	}
	if err := unmarshalJSONColumn(r.Tags.String, &e.Tags); err != nil {
		return m, fmt.Errorf("decoding tags of message %s: %w", r.ID, err)
	}
	if err := unmarshalJSONColumn(r.KeyPoints.String, &e.KeyPoints); err != nil {
		return m, fmt.Errorf("decoding key points of message %s: %w", r.ID, err)
	}
	m.Enrichment = e
	return m, nil
}

// FindMessage returns the message with the given dedupe key, or
// ErrNotFound.
func (s *SQLStore) FindMessage(ctx context.Context, accountID string, uid uint32) (*model.Message, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, s.rebind(
		"SELECT "+messageColumns+" FROM messages WHERE account_id = ? AND uid = ?"),
		accountID, int64(uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s/%d: %w", accountID, uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding message %s/%d: %w", accountID, uid, err)
	}
	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMessage inserts a newly ingested message without enrichment.
func (s *SQLStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Folder == "" {
		msg.Folder = model.DefaultMailbox
	}
	if msg.Flags == nil {
		msg.Flags = []string{}
	}
	msg.CreatedAt = time.Now().UTC()

	flags, err := json.Marshal(msg.Flags)
	if err != nil {
		return fmt.Errorf("encoding flags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (
			id, account_id, uid, sender, recipient, subject, date, unread,
			flags, folder, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.AccountID, int64(msg.UID), msg.Sender, msg.Recipient, msg.Subject,
		msg.Date.UTC(), msg.Unread, string(flags), msg.Folder, msg.Body, msg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s/%d: %w", msg.AccountID, msg.UID, ErrDuplicate)
		}
		return fmt.Errorf("creating message: %w", err)
	}
	return nil
}

// UpdateEnrichment writes the enrichment columns of one message.
func (s *SQLStore) UpdateEnrichment(ctx context.Context, messageID string, e model.Enrichment) error {
	tags, err := json.Marshal(nonNil(e.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	keyPoints, err := json.Marshal(nonNil(e.KeyPoints))
	if err != nil {
		return fmt.Errorf("encoding key points: %w", err)
	}

	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE messages
		SET summary = ?, priority = ?, sentiment = ?, tags = ?, key_points = ?,
		    action_required = ?, confidence = ?, enriched_at = ?
		WHERE id = ?`),
		e.Summary, string(e.Priority), string(e.Sentiment), string(tags), string(keyPoints),
		e.ActionRequired, e.Confidence, time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("updating enrichment of message %s: %w", messageID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

// CountMessages returns the number of stored messages of an account.
func (s *SQLStore) CountMessages(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.rebind("SELECT COUNT(*) FROM messages WHERE account_id = ?"), accountID)
	if err != nil {
		return 0, fmt.Errorf("counting messages of account %s: %w", accountID, err)
	}
	return n, nil
}

// CountUnread returns the number of unread messages of an account.
func (s *SQLStore) CountUnread(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.rebind(
		"SELECT COUNT(*) FROM messages WHERE account_id = ? AND unread = ?"), accountID, true)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages of account %s: %w", accountID, err)
	}
	return n, nil
}

// DigestStats aggregates a user's messages dated at or after since. Up to
// maxSummaries enrichment summaries are returned, newest first.
func (s *SQLStore) DigestStats(
	ctx context.Context, userID string, since time.Time, maxSummaries int,
) (*model.DigestStats, error) {
	var counts struct {
		Total  int `db:"total"`
		Unread int `db:"unread"`
		High   int `db:"high"`
	}
	err := s.db.GetContext(ctx, &counts, s.rebind(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN m.unread = ? THEN 1 ELSE 0 END), 0) AS unread,
			COALESCE(SUM(CASE WHEN m.priority = ? THEN 1 ELSE 0 END), 0) AS high
		FROM messages m
		JOIN accounts a ON a.id = m.account_id
		WHERE a.user_id = ? AND m.date >= ?`),
		true, string(model.PriorityHigh), userID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("computing digest counts for user %s: %w", userID, err)
	}

	stats := &model.DigestStats{
		Total:     counts.Total,
		Unread:    counts.Unread,
		High:      counts.High,
		Summaries: []string{},
	}
	if maxSummaries <= 0 {
		return stats, nil
	}

	err = s.db.SelectContext(ctx, &stats.Summaries, s.rebind(`
		SELECT m.summary
		FROM messages m
		JOIN accounts a ON a.id = m.account_id
		WHERE a.user_id = ? AND m.date >= ? AND m.summary IS NOT NULL AND m.summary <> ''
		ORDER BY m.date DESC
		LIMIT ?`),
		userID, since.UTC(), maxSummaries,
	)
	if err != nil {
		return nil, fmt.Errorf("listing digest summaries for user %s: %w", userID, err)
	}
	return stats, nil
}

func unmarshalJSONColumn(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
