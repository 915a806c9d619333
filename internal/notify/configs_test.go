package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/store"
)

func newTestConfigService(t *testing.T) (*store.SQLStore, *fakeFactory, *SenderCache, *ConfigService) {
	t.Helper()
	s, factory, cache, d := newTestDispatcher(t)
	cs := NewConfigService(s, d, cache, factory.build, time.Second, nil)
	return s, factory, cache, cs
}

func TestConfigServiceAdd(t *testing.T) {
	_, factory, _, cs := newTestConfigService(t)
	ctx := context.Background()

	cfg, err := cs.Add(ctx, "u1", ConfigInput{
		Platform: model.PlatformDingTalk,
		Webhook:  " https://a.example.com/hook ",
		Types:    []model.EventType{model.EventNewMail},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !cfg.Enabled || cfg.ID == "" {
		t.Errorf("Expected enabled stored config, got %+v", cfg)
	}
	if cfg.Webhook != "https://a.example.com/hook" {
		t.Errorf("Expected trimmed webhook, got %q", cfg.Webhook)
	}

	sender := factory.sender("https://a.example.com/hook")
	if sender == nil || sender.sent() != 1 {
		t.Fatal("Expected one live test send")
	}
	if sender.events[0].Type != model.EventCustom {
		t.Errorf("Expected custom test event, got %s", sender.events[0].Type)
	}
}

func TestConfigServiceAddFailsOnTestSend(t *testing.T) {
	s, factory, _, cs := newTestConfigService(t)
	ctx := context.Background()
	factory.errs["https://bad.example.com"] = errors.New("errcode 300001")

	_, err := cs.Add(ctx, "u1", ConfigInput{
		Platform: model.PlatformWeCom,
		Webhook:  "https://bad.example.com",
		Types:    []model.EventType{model.EventNewMail},
	})
	if !IsDeliveryError(err) {
		t.Fatalf("Expected DeliveryError, got %v", err)
	}

	configs, err := s.ListEnabledNotificationConfigs(ctx, "u1")
	if err != nil {
		t.Fatalf("ListEnabledNotificationConfigs failed: %v", err)
	}
	if len(configs) != 0 {
		t.Errorf("Expected nothing persisted, got %d configs", len(configs))
	}
}

func TestValidateConfig(t *testing.T) {
	base := model.NotificationConfig{
		Platform: model.PlatformFeishu,
		Webhook:  "https://a.example.com/hook",
		Enabled:  true,
		Types:    []model.EventType{model.EventNewMail},
	}

	tests := []struct {
		name   string
		mutate func(*model.NotificationConfig)
		field  string
	}{
		{"unknown platform", func(c *model.NotificationConfig) { c.Platform = "slack" }, "platform"},
		{"relative webhook", func(c *model.NotificationConfig) { c.Webhook = "/hook" }, "webhook"},
		{"no types", func(c *model.NotificationConfig) { c.Types = nil }, "types"},
		{"unknown type", func(c *model.NotificationConfig) { c.Types = []model.EventType{"weekly"} }, "types"},
		{"blank keyword", func(c *model.NotificationConfig) { c.Filters.Keywords = []string{" "} }, "filters.keywords"},
		{"bad priority", func(c *model.NotificationConfig) { c.Filters.MinPriority = "urgent" }, "filters.min_priority"},
		{"unpadded time", func(c *model.NotificationConfig) {
			c.Filters.TimeRange = &model.TimeRange{Start: "9:00", End: "18:00"}
		}, "filters.time_range"},
	}

	if err := ValidateConfig(base); err != nil {
		t.Fatalf("Expected base config to be valid, got %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Filters = model.NotificationFilters{}
			tt.mutate(&cfg)

			err := ValidateConfig(cfg)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}
}

func TestConfigServiceUpdateEvictsSender(t *testing.T) {
	s, factory, cache, cs := newTestConfigService(t)
	ctx := context.Background()

	cfg := addConfig(t, s, "u1", model.PlatformDingTalk, "https://old.example.com", model.EventCustom)
	if _, err := cs.dispatcher.Dispatch(ctx, "u1", CustomEvent("", "t", "c", time.Now())); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if cache.Len() != 1 {
		t.Fatalf("Expected 1 cached sender, got %d", cache.Len())
	}

	webhook := "https://new.example.com"
	updated, err := cs.Update(ctx, "u1", cfg.ID, ConfigPatch{Webhook: &webhook})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Webhook != webhook {
		t.Errorf("Expected webhook %s, got %s", webhook, updated.Webhook)
	}
	if cache.Len() != 0 {
		t.Errorf("Expected cache evicted on update, got %d entries", cache.Len())
	}

	if _, err := cs.dispatcher.Dispatch(ctx, "u1", CustomEvent("", "t", "c", time.Now())); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if n := factory.sender("https://old.example.com").sent(); n != 1 {
		t.Errorf("Expected old webhook to stay at 1 send, got %d", n)
	}
	if n := factory.sender(webhook).sent(); n != 1 {
		t.Errorf("Expected new webhook to get 1 send, got %d", n)
	}
}

func TestConfigServiceDelete(t *testing.T) {
	s, _, cache, cs := newTestConfigService(t)
	ctx := context.Background()

	cfg := addConfig(t, s, "u1", model.PlatformWeCom, "https://a.example.com", model.EventCustom)
	cs.dispatcher.Dispatch(ctx, "u1", CustomEvent("", "t", "c", time.Now()))

	if err := cs.Delete(ctx, "u2", cfg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for another user, got %v", err)
	}
	if err := cs.Delete(ctx, "u1", cfg.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("Expected cache evicted on delete, got %d entries", cache.Len())
	}

	records, err := cs.SendTest(ctx, "u1", "", "", "")
	if err != nil {
		t.Fatalf("SendTest failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no deliveries after delete, got %d", len(records))
	}
}

func TestConfigServiceStats(t *testing.T) {
	s, factory, _, cs := newTestConfigService(t)
	ctx := context.Background()
	factory.errs["https://bad.example.com"] = errors.New("down")

	addConfig(t, s, "u1", model.PlatformWeCom, "https://bad.example.com", model.EventCustom)
	addConfig(t, s, "u1", model.PlatformFeishu, "https://good.example.com", model.EventCustom)

	records, err := cs.SendTest(ctx, "u1", model.EventCustom, "Hi", "there")
	if err != nil {
		t.Fatalf("SendTest failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	stats, err := cs.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Successful != 1 {
		t.Errorf("Expected 2 total and 1 successful, got %d and %d", stats.Total, stats.Successful)
	}
	if stats.FailureRate != 0.5 {
		t.Errorf("Expected failure rate 0.5, got %v", stats.FailureRate)
	}
	if stats.ActiveConfigs != 2 {
		t.Errorf("Expected 2 active configs, got %d", stats.ActiveConfigs)
	}
}

func TestSupportedOptions(t *testing.T) {
	opts := SupportedOptions()
	if len(opts.Platforms) != len(model.Platforms) {
		t.Errorf("Expected %d platforms, got %d", len(model.Platforms), len(opts.Platforms))
	}
	if len(opts.Types) != len(model.EventTypes) {
		t.Errorf("Expected %d types, got %d", len(model.EventTypes), len(opts.Types))
	}
}
