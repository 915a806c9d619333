package enrich

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/metrics"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/store"
)

// Dispatcher runs the analyzer over newly ingested messages and writes
// successful results back. It never fails the caller: any error leaves
// the message without enrichment.
type Dispatcher struct {
	analyzer Analyzer
	store    store.MessageStore
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher. A nil analyzer disables enrichment.
func NewDispatcher(analyzer Analyzer, s store.MessageStore, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{analyzer: analyzer, store: s, logger: logger}
}

// Enabled reports whether an analyzer is configured.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.analyzer != nil
}

// Enrich analyzes msg and, on success, stores the result and sets
// msg.Enrichment. It reports whether the message was enriched.
func (d *Dispatcher) Enrich(ctx context.Context, msg *model.Message) bool {
	if !d.Enabled() {
		metrics.Enrichments.WithLabelValues("disabled").Inc()
		return false
	}

	log := d.logger.With(zap.String("account_id", msg.AccountID), zap.Uint32("uid", msg.UID))

	e, err := d.analyze(ctx, msg)
	if err != nil {
		log.Warn("enrichment failed", zap.Error(err))
		metrics.Enrichments.WithLabelValues("failed").Inc()
		return false
	}

	if err := d.store.UpdateEnrichment(ctx, msg.ID, *e); err != nil {
		log.Warn("storing enrichment", zap.Error(err))
		metrics.Enrichments.WithLabelValues("failed").Inc()
		return false
	}

	msg.Enrichment = e
	metrics.Enrichments.WithLabelValues("ok").Inc()
	return true
}

// analyze calls the analyzer, converting a panic into an AnalysisError.
func (d *Dispatcher) analyze(ctx context.Context, msg *model.Message) (e *model.Enrichment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &AnalysisError{Provider: "unknown", Err: fmt.Errorf("analyzer panicked: %v", r)}
		}
	}()

	e, err = d.analyzer.Analyze(ctx, Request{
		MessageID: msg.ID,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Sender:    msg.Sender,
	})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &AnalysisError{Provider: "unknown", Err: fmt.Errorf("empty result")}
	}
	if err := Validate(*e); err != nil {
		return nil, &AnalysisError{Provider: "unknown", Err: err}
	}
	return e, nil
}

// New builds the analyzer selected by cfg, or nil when enrichment is
// disabled.
func New(cfg model.EnrichmentConfig) (Analyzer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	timeout := cfg.Timeout()
	switch cfg.Provider {
	case "openai":
		return NewOpenAIAnalyzer(cfg.APIKey, cfg.BaseURL, cfg.Model, timeout), nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("enrichment.base_url is required for the http provider")
		}
		return NewHTTPAnalyzer(cfg.BaseURL, cfg.APIKey, timeout), nil
	default:
		return nil, fmt.Errorf("unknown enrichment provider %q", cfg.Provider)
	}
}
