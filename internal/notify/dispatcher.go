package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailwatch/internal/metrics"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/store"
)

// DefaultMaxParallel caps concurrent sends of one dispatch.
const DefaultMaxParallel = 8

// recordTimeout bounds the delivery record write, which runs even when
// the dispatch context has ended.
const recordTimeout = 5 * time.Second

// DispatcherOptions tunes a Dispatcher.
type DispatcherOptions struct {
	SendTimeout time.Duration
	MaxParallel int

	// Location is the zone of time-window filters. Nil means local time.
	Location *time.Location
}

// Dispatcher fans an event out to a user's enabled notification configs.
// Every config that passes the rule engine gets one send attempt and
// exactly one delivery record, whatever the outcome.
type Dispatcher struct {
	store   store.NotificationStore
	senders *SenderCache
	opts    DispatcherOptions
	logger  *zap.Logger
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(s store.NotificationStore, senders *SenderCache, opts DispatcherOptions, logger *zap.Logger) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:   s,
		senders: senders,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Dispatch sends ev to every enabled config of userID whose rules accept
// it and waits for all attempts. Records are returned in config order.
// Only listing the configs can fail; send failures live in the records.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, ev model.NotificationEvent) ([]model.DeliveryRecord, error) {
	configs, err := d.store.ListEnabledNotificationConfigs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing notification configs: %w", err)
	}

	now := d.now().In(d.opts.Location)
	var matched []model.NotificationConfig
	for _, cfg := range configs {
		if ShouldNotify(ev, cfg, now) {
			matched = append(matched, cfg)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	records := make([]model.DeliveryRecord, len(matched))
	var g errgroup.Group
	g.SetLimit(d.opts.MaxParallel)
	for i, cfg := range matched {
		g.Go(func() error {
			records[i] = d.deliver(ctx, cfg, ev)
			return nil
		})
	}
	_ = g.Wait()

	return records, nil
}

// deliver performs one send and records its outcome.
func (d *Dispatcher) deliver(ctx context.Context, cfg model.NotificationConfig, ev model.NotificationEvent) model.DeliveryRecord {
	log := d.logger.With(
		zap.String("user_id", cfg.UserID),
		zap.String("config_id", cfg.ID),
		zap.String("platform", string(cfg.Platform)),
		zap.String("event_id", ev.ID),
	)

	err := d.send(ctx, cfg, ev)

	rec := model.DeliveryRecord{
		ID:       uuid.New().String(),
		EventID:  ev.ID,
		UserID:   cfg.UserID,
		ConfigID: cfg.ID,
		Platform: cfg.Platform,
		Type:     ev.Type,
		Title:    ev.Title,
		Content:  ev.Content,
		Success:  err == nil,
		Metadata: ev.Metadata,
		SentAt:   d.now(),
	}
	if err != nil {
		rec.Error = err.Error()
		log.Warn("notification delivery failed", zap.Error(err))
	}
	metrics.Deliveries.WithLabelValues(string(cfg.Platform), metrics.Result(rec.Success)).Inc()

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := d.store.CreateDeliveryRecord(recCtx, &rec); err != nil {
		log.Error("recording delivery", zap.Error(err))
	}
	return rec
}

// send resolves the sender and calls it under the send timeout. A panic
// in the sender becomes a DeliveryError.
func (d *Dispatcher) send(ctx context.Context, cfg model.NotificationConfig, ev model.NotificationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &DeliveryError{Platform: cfg.Platform, Err: fmt.Errorf("sender panicked: %v", r)}
		}
	}()

	sender, err := d.senders.Get(cfg.UserID, cfg.Platform, cfg.Webhook)
	if err != nil {
		return &DeliveryError{Platform: cfg.Platform, Err: err}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()
	return sender.Send(sendCtx, ev)
}

// NotifyNewMail raises a new-mail event for msg.
func (d *Dispatcher) NotifyNewMail(ctx context.Context, userID string, msg model.Message) {
	d.notify(ctx, userID, NewMailEvent(msg, d.now()))
}

// NotifyImportantMail raises an important-mail event for msg.
func (d *Dispatcher) NotifyImportantMail(ctx context.Context, userID string, msg model.Message) {
	d.notify(ctx, userID, ImportantMailEvent(msg, d.now()))
}

func (d *Dispatcher) notify(ctx context.Context, userID string, ev model.NotificationEvent) {
	if _, err := d.Dispatch(ctx, userID, ev); err != nil {
		d.logger.Warn("dispatching notification",
			zap.String("user_id", userID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}
