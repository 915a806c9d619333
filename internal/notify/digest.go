package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/store"
)

const (
	digestPeriod       = 24 * time.Hour
	digestMaxSummaries = 5
)

// DigestJob sends each user with accounts a daily digest of their mail,
// plus a summary event when enriched messages exist.
type DigestJob struct {
	accounts   store.AccountStore
	messages   store.MessageStore
	dispatcher *Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewDigestJob creates a DigestJob.
func NewDigestJob(accounts store.AccountStore, messages store.MessageStore, dispatcher *Dispatcher, logger *zap.Logger) *DigestJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DigestJob{
		accounts:   accounts,
		messages:   messages,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Run sends one digest per user. Users without mail in the period are
// skipped. A failure for one user does not stop the others.
func (j *DigestJob) Run(ctx context.Context) error {
	accounts, err := j.accounts.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}

	seen := make(map[string]bool)
	now := j.now()
	for _, a := range accounts {
		if seen[a.UserID] {
			continue
		}
		seen[a.UserID] = true

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := j.runUser(ctx, a.UserID, now); err != nil {
			j.logger.Warn("sending digest", zap.String("user_id", a.UserID), zap.Error(err))
		}
	}
	return nil
}

func (j *DigestJob) runUser(ctx context.Context, userID string, now time.Time) error {
	stats, err := j.messages.DigestStats(ctx, userID, now.Add(-digestPeriod), digestMaxSummaries)
	if err != nil {
		return err
	}
	if stats.Total == 0 {
		return nil
	}

	if _, err := j.dispatcher.Dispatch(ctx, userID, DigestEvent(*stats, digestPeriod, now)); err != nil {
		return err
	}
	if len(stats.Summaries) > 0 {
		if _, err := j.dispatcher.Dispatch(ctx, userID, SummaryEvent(strings.Join(stats.Summaries, "\n"), now)); err != nil {
			return err
		}
	}
	return nil
}
