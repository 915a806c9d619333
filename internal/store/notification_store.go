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

const notificationConfigColumns = `
	id, user_id, platform, webhook, enabled, types, filters, created_at, updated_at`

type notificationConfigRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Platform  string    `db:"platform"`
	Webhook   string    `db:"webhook"`
	Enabled   bool      `db:"enabled"`
	Types     string    `db:"types"`
	Filters   string    `db:"filters"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r notificationConfigRow) toModel() (model.NotificationConfig, error) {
	cfg := model.NotificationConfig{
		ID:        r.ID,
		UserID:    r.UserID,
		Platform:  model.Platform(r.Platform),
		Webhook:   r.Webhook,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := unmarshalJSONColumn(r.Types, &cfg.Types); err != nil {
		return cfg, fmt.Errorf("decoding types of config %s: %w", r.ID, err)
	}
	if err := unmarshalJSONColumn(r.Filters, &cfg.Filters); err != nil {
		return cfg, fmt.Errorf("decoding filters of config %s: %w", r.ID, err)
	}
	return cfg, nil
}

func encodeConfig(cfg *model.NotificationConfig) (types, filters string, err error) {
	t := cfg.Types
	if t == nil {
		t = []model.EventType{}
	}
	tb, err := json.Marshal(t)
	if err != nil {
		return "", "", fmt.Errorf("encoding types: %w", err)
	}
	fb, err := json.Marshal(cfg.Filters)
	if err != nil {
		return "", "", fmt.Errorf("encoding filters: %w", err)
	}
	return string(tb), string(fb), nil
}

// CreateNotificationConfig inserts a new config.
func (s *SQLStore) CreateNotificationConfig(ctx context.Context, cfg *model.NotificationConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	types, filters, err := encodeConfig(cfg)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO notification_configs (`+notificationConfigColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cfg.ID, cfg.UserID, string(cfg.Platform), cfg.Webhook, cfg.Enabled,
		types, filters, cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating notification config: %w", err)
	}
	return nil
}

// GetNotificationConfig retrieves a config owned by userID.
func (s *SQLStore) GetNotificationConfig(ctx context.Context, userID, id string) (*model.NotificationConfig, error) {
	var row notificationConfigRow
	err := s.db.GetContext(ctx, &row, s.rebind(
		"SELECT "+notificationConfigColumns+" FROM notification_configs WHERE id = ? AND user_id = ?"),
		id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification config %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification config %s: %w", id, err)
	}
	cfg, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateNotificationConfig overwrites the mutable fields of a config.
func (s *SQLStore) UpdateNotificationConfig(ctx context.Context, cfg *model.NotificationConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	types, filters, err := encodeConfig(cfg)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE notification_configs
		SET platform = ?, webhook = ?, enabled = ?, types = ?, filters = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`),
		string(cfg.Platform), cfg.Webhook, cfg.Enabled, types, filters, cfg.UpdatedAt,
		cfg.ID, cfg.UserID,
	)
	if err != nil {
		return fmt.Errorf("updating notification config %s: %w", cfg.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification config %s: %w", cfg.ID, ErrNotFound)
	}
	return nil
}

// DeleteNotificationConfig removes a config. Its delivery records are kept.
func (s *SQLStore) DeleteNotificationConfig(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM notification_configs WHERE id = ? AND user_id = ?"), id, userID)
	if err != nil {
		return fmt.Errorf("deleting notification config %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification config %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListEnabledNotificationConfigs returns the enabled configs of userID.
func (s *SQLStore) ListEnabledNotificationConfigs(ctx context.Context, userID string) ([]model.NotificationConfig, error) {
	var rows []notificationConfigRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(`
		SELECT `+notificationConfigColumns+`
		FROM notification_configs
		WHERE user_id = ? AND enabled = ?
		ORDER BY created_at, id`), userID, true)
	if err != nil {
		return nil, fmt.Errorf("listing notification configs for user %s: %w", userID, err)
	}

	configs := make([]model.NotificationConfig, 0, len(rows))
	for _, r := range rows {
		cfg, err := r.toModel()
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

type deliveryRecordRow struct {
	ID       string    `db:"id"`
	EventID  string    `db:"event_id"`
	UserID   string    `db:"user_id"`
	ConfigID string    `db:"config_id"`
	Platform string    `db:"platform"`
	Type     string    `db:"type"`
	Title    string    `db:"title"`
	Content  string    `db:"content"`
	Success  bool      `db:"success"`
	Error    string    `db:"error"`
	Metadata string    `db:"metadata"`
	SentAt   time.Time `db:"sent_at"`
}

// CreateDeliveryRecord appends one delivery outcome.
func (s *SQLStore) CreateDeliveryRecord(ctx context.Context, rec *model.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encoding delivery metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO delivery_records (
			id, event_id, user_id, config_id, platform, type,
			title, content, success, error, metadata, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.EventID, rec.UserID, rec.ConfigID, string(rec.Platform), string(rec.Type),
		rec.Title, rec.Content, rec.Success, rec.Error, string(meta), rec.SentAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating delivery record: %w", err)
	}
	return nil
}

// DeliveryStats summarizes the delivery history of userID along with the
// most recent records.
func (s *SQLStore) DeliveryStats(ctx context.Context, userID string, recent int) (*model.DeliveryStats, error) {
	stats := &model.DeliveryStats{
		ByPlatform: []model.PlatformDeliveryStats{},
		Recent:     []model.DeliveryRecord{},
	}

	var totals struct {
		Total      int `db:"total"`
		Successful int `db:"successful"`
	}
	err := s.db.GetContext(ctx, &totals, s.rebind(`
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN success = ? THEN 1 ELSE 0 END), 0) AS successful
		FROM delivery_records
		WHERE user_id = ?`), true, userID)
	if err != nil {
		return nil, fmt.Errorf("counting deliveries for user %s: %w", userID, err)
	}
	stats.Total = totals.Total
	stats.Successful = totals.Successful

	err = s.db.GetContext(ctx, &stats.ActiveConfigs, s.rebind(
		"SELECT COUNT(*) FROM notification_configs WHERE user_id = ? AND enabled = ?"),
		userID, true)
	if err != nil {
		return nil, fmt.Errorf("counting active configs for user %s: %w", userID, err)
	}

	err = s.db.SelectContext(ctx, &stats.ByPlatform, s.rebind(`
		SELECT
			platform,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN success = ? THEN 1 ELSE 0 END), 0) AS successful
		FROM delivery_records
		WHERE user_id = ?
		GROUP BY platform
		ORDER BY platform`), true, userID)
	if err != nil {
		return nil, fmt.Errorf("grouping deliveries for user %s: %w", userID, err)
	}

	if recent <= 0 {
		return stats, nil
	}

	var rows []deliveryRecordRow
	err = s.db.SelectContext(ctx, &rows, s.rebind(`
		SELECT id, event_id, user_id, config_id, platform, type,
		       title, content, success, error, metadata, sent_at
		FROM delivery_records
		WHERE user_id = ?
		ORDER BY sent_at DESC, id
		LIMIT ?`), userID, recent)
	if err != nil {
		return nil, fmt.Errorf("listing recent deliveries for user %s: %w", userID, err)
	}
	for _, r := range rows {
		rec := model.DeliveryRecord{
			ID:       r.ID,
			EventID:  r.EventID,
			UserID:   r.UserID,
			ConfigID: r.ConfigID,
			Platform: model.Platform(r.Platform),
			Type:     model.EventType(r.Type),
			Title:    r.Title,
			Content:  r.Content,
			Success:  r.Success,
			Error:    r.Error,
			SentAt:   r.SentAt,
		}
		if err := unmarshalJSONColumn(r.Metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of delivery %s: %w", r.ID, err)
		}
		stats.Recent = append(stats.Recent, rec)
	}
	return stats, nil
}
