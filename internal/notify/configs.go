package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/store"
)

// recentDeliveries is how many records Stats returns.
const recentDeliveries = 10

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidationError is a malformed notification config.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError checks whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigInput is the user-supplied part of a new notification config.
type ConfigInput struct {
	Platform model.Platform            `json:"platform"`
	Webhook  string                    `json:"webhook"`
	Types    []model.EventType         `json:"types"`
	Filters  model.NotificationFilters `json:"filters"`
}

// ConfigPatch changes selected fields of a config. Nil fields are kept.
type ConfigPatch struct {
	Webhook *string                    `json:"webhook,omitempty"`
	Enabled *bool                      `json:"enabled,omitempty"`
	Types   []model.EventType          `json:"types,omitempty"`
	Filters *model.NotificationFilters `json:"filters,omitempty"`
}

// Option is a selectable value with a display label.
type Option struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Options lists the supported platforms and event types.
type Options struct {
	Platforms []Option `json:"platforms"`
	Types     []Option `json:"types"`
}

// ConfigService manages notification configs. Every change that can
// alter a webhook evicts the cached senders of that user and platform
// before it returns.
type ConfigService struct {
	store       store.NotificationStore
	dispatcher  *Dispatcher
	senders     *SenderCache
	factory     SenderFactory
	sendTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewConfigService creates a ConfigService. factory builds the uncached
// senders used for live tests.
func NewConfigService(
	s store.NotificationStore,
	dispatcher *Dispatcher,
	senders *SenderCache,
	factory SenderFactory,
	sendTimeout time.Duration,
	logger *zap.Logger,
) *ConfigService {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigService{
		store:       s,
		dispatcher:  dispatcher,
		senders:     senders,
		factory:     factory,
		sendTimeout: sendTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Add validates the input, sends one live test event to the webhook and
// persists the config as enabled. A failed test send returns a
// DeliveryError and nothing is stored.
func (cs *ConfigService) Add(ctx context.Context, userID string, in ConfigInput) (*model.NotificationConfig, error) {
	cfg := &model.NotificationConfig{
		UserID:   userID,
		Platform: in.Platform,
		Webhook:  strings.TrimSpace(in.Webhook),
		Enabled:  true,
		Types:    in.Types,
		Filters:  in.Filters,
	}
	if err := ValidateConfig(*cfg); err != nil {
		return nil, err
	}

	if err := cs.Test(ctx, cfg.Platform, cfg.Webhook); err != nil {
		return nil, err
	}

	if err := cs.store.CreateNotificationConfig(ctx, cfg); err != nil {
		return nil, err
	}
	cs.senders.Invalidate(userID, cfg.Platform)

	cs.logger.Info("notification config added",
		zap.String("user_id", userID),
		zap.String("config_id", cfg.ID),
		zap.String("platform", string(cfg.Platform)),
	)
	return cfg, nil
}

// Update applies patch to a config of userID.
func (cs *ConfigService) Update(ctx context.Context, userID, id string, patch ConfigPatch) (*model.NotificationConfig, error) {
	cfg, err := cs.store.GetNotificationConfig(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Webhook != nil {
		cfg.Webhook = strings.TrimSpace(*patch.Webhook)
	}
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.Types != nil {
		cfg.Types = patch.Types
	}
	if patch.Filters != nil {
		cfg.Filters = *patch.Filters
	}
	if err := ValidateConfig(*cfg); err != nil {
		return nil, err
	}

	if err := cs.store.UpdateNotificationConfig(ctx, cfg); err != nil {
		return nil, err
	}
	cs.senders.Invalidate(userID, cfg.Platform)
	return cfg, nil
}

// Delete removes a config of userID.
func (cs *ConfigService) Delete(ctx context.Context, userID, id string) error {
	cfg, err := cs.store.GetNotificationConfig(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := cs.store.DeleteNotificationConfig(ctx, userID, id); err != nil {
		return err
	}
	cs.senders.Invalidate(userID, cfg.Platform)
	return nil
}

// Test sends one test event to a webhook without persisting anything.
func (cs *ConfigService) Test(ctx context.Context, platform model.Platform, webhook string) error {
	sender, err := cs.factory(platform, webhook)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cs.sendTimeout)
	defer cancel()
	if err := sender.Send(ctx, TestEvent(cs.now())); err != nil {
		if IsDeliveryError(err) {
			return fmt.Errorf("webhook connection test failed: %w", err)
		}
		return fmt.Errorf("webhook connection test failed: %w", &DeliveryError{Platform: platform, Err: err})
	}
	return nil
}

// SendTest dispatches a caller-defined event to the user's configs and
// waits for every attempt.
func (cs *ConfigService) SendTest(ctx context.Context, userID string, t model.EventType, title, content string) ([]model.DeliveryRecord, error) {
	if t != "" && !t.Valid() {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("unknown event type %q", t)}
	}
	if title == "" {
		title = "Test notification"
	}
	if content == "" {
		content = "This is a test notification."
	}
	return cs.dispatcher.Dispatch(ctx, userID, CustomEvent(t, title, content, cs.now()))
}

// Stats summarizes the user's delivery history.
func (cs *ConfigService) Stats(ctx context.Context, userID string) (*model.DeliveryStats, error) {
	stats, err := cs.store.DeliveryStats(ctx, userID, recentDeliveries)
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.FailureRate = float64(stats.Total-stats.Successful) / float64(stats.Total)
	}
	return stats, nil
}

// SupportedOptions lists the platforms and event types a config can use.
func SupportedOptions() Options {
	return Options{
		Platforms: []Option{
			{Value: string(model.PlatformDingTalk), Label: "DingTalk", Description: "DingTalk group custom robot"},
			{Value: string(model.PlatformFeishu), Label: "Feishu", Description: "Feishu/Lark group custom bot"},
			{Value: string(model.PlatformWeCom), Label: "WeCom", Description: "WeCom (WeChat Work) group robot"},
		},
		Types: []Option{
			{Value: string(model.EventNewMail), Label: "New mail", Description: "Every newly synced message"},
			{Value: string(model.EventImportantMail), Label: "Important mail", Description: "Messages rated high priority"},
			{Value: string(model.EventSummary), Label: "Mail summary", Description: "Summaries of recent mail"},
			{Value: string(model.EventDigest), Label: "Daily digest", Description: "Daily mail statistics"},
			{Value: string(model.EventCustom), Label: "Custom", Description: "Manual and test notifications"},
		},
	}
}

// ValidateConfig checks a config before it is stored.
func ValidateConfig(cfg model.NotificationConfig) error {
	if !cfg.Platform.Valid() {
		return &ValidationError{Field: "platform", Message: fmt.Sprintf("unsupported platform %q", cfg.Platform)}
	}
	if err := validateWebhook(cfg.Webhook); err != nil {
		return err
	}
	if cfg.Enabled && len(cfg.Types) == 0 {
		return &ValidationError{Field: "types", Message: "at least one event type is required"}
	}
	for _, t := range cfg.Types {
		if !t.Valid() {
			return &ValidationError{Field: "types", Message: fmt.Sprintf("unknown event type %q", t)}
		}
	}

	f := cfg.Filters
	for _, kw := range f.Keywords {
		if strings.TrimSpace(kw) == "" {
			return &ValidationError{Field: "filters.keywords", Message: "keywords must not be blank"}
		}
	}
	for _, s := range f.Senders {
		if strings.TrimSpace(s) == "" {
			return &ValidationError{Field: "filters.senders", Message: "senders must not be blank"}
		}
	}
	if f.MinPriority != "" && !f.MinPriority.Valid() {
		return &ValidationError{Field: "filters.min_priority", Message: fmt.Sprintf("unknown priority %q", f.MinPriority)}
	}
	if tr := f.TimeRange; tr != nil {
		if !clockPattern.MatchString(tr.Start) || !clockPattern.MatchString(tr.End) {
			return &ValidationError{Field: "filters.time_range", Message: "start and end must be HH:mm"}
		}
	}
	return nil
}
