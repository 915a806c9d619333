package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/metrics"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
	"github.com/nhle/mailwatch/internal/store"
)

// ErrSyncInProgress is returned when a sync is triggered for an account
// that already has one running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Defaults used when Options leave a field unset.
const (
	DefaultWindow       = 100
	DefaultFetchTimeout = 60 * time.Second
	DefaultStaleAfter   = 15 * time.Minute
)

// finishTimeout bounds the final status write, which runs even when the
// run's context has already ended.
const finishTimeout = 10 * time.Second

// Enricher attaches semantic analysis to a newly created message. It
// reports whether msg.Enrichment was set; failures are absorbed.
type Enricher interface {
	Enrich(ctx context.Context, msg *model.Message) bool
}

// Notifier raises mail events for the owner of an account. It returns
// once every delivery attempt has been recorded.
type Notifier interface {
	NotifyNewMail(ctx context.Context, userID string, msg model.Message)
	NotifyImportantMail(ctx context.Context, userID string, msg model.Message)
}

// Credentials resolves a stored mailbox password by key.
type Credentials interface {
	Get(key string) (string, error)
}

// Options tunes an Orchestrator.
type Options struct {
	// Window is how many of the most recent messages a run fetches.
	Window int

	// FetchTimeout bounds connect, open and fetch of one run.
	FetchTimeout time.Duration

	// StaleAfter is how long another process' syncing mark is honored.
	StaleAfter time.Duration

	// FetchBody fetches the plain-text body of each message.
	FetchBody bool
}

// Result describes one completed sync run.
type Result struct {
	AccountID string
	Total     uint32
	From, To  uint32
	Created   []model.Message
	Enriched  int
}

// Orchestrator drives sync runs: it moves the account through
// Idle/Connected -> Syncing -> Connected|Error, fetches the most recent
// window of the mailbox, ingests it, then enriches and announces the
// messages that were new.
type Orchestrator struct {
	store    store.Store
	client   source.MailboxClient
	ingester *Ingester
	enricher Enricher
	notifier Notifier
	creds    Credentials
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	mu      gosync.Mutex
	running map[string]struct{}
}

// NewOrchestrator creates an Orchestrator. enricher, notifier and creds
// may be nil.
func NewOrchestrator(
	s store.Store,
	client source.MailboxClient,
	enricher Enricher,
	notifier Notifier,
	creds Credentials,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    s,
		client:   client,
		ingester: NewIngester(s, logger),
		enricher: enricher,
		notifier: notifier,
		creds:    creds,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		running:  make(map[string]struct{}),
	}
}

// Window returns the sequence range holding the newest n of total
// messages: [max(1, total-n+1), total]. An empty mailbox yields 0, 0.
func Window(total uint32, n int) (from, to uint32) {
	if total == 0 || n <= 0 {
		return 0, 0
	}
	if uint64(total) <= uint64(n) {
		return 1, total
	}
	return total - uint32(n) + 1, total
}

// Sync runs one sync of the account. It returns ErrSyncInProgress when
// another run holds the account. The Syncing status is committed before
// any network I/O. A connection or fetch failure leaves the account in
// Error and is returned; messages ingested before the failure are still
// enriched and announced.
func (o *Orchestrator) Sync(ctx context.Context, accountID string) (*Result, error) {
	if !o.acquire(accountID) {
		metrics.SyncRuns.WithLabelValues("rejected").Inc()
		return nil, ErrSyncInProgress
	}
	defer o.release(accountID)

	account, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	started := o.now()
	ok, err := o.store.BeginSync(ctx, accountID, started, started.Add(-o.opts.StaleAfter))
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.SyncRuns.WithLabelValues("rejected").Inc()
		return nil, ErrSyncInProgress
	}

	log := o.logger.With(zap.String("account_id", accountID), zap.String("user_id", account.UserID))
	log.Info("sync started")

	result, runErr := o.fetch(ctx, account)
	metrics.SyncDuration.Observe(time.Since(started).Seconds())

	if finishErr := o.finish(ctx, accountID, runErr); finishErr != nil {
		log.Error("recording sync outcome", zap.Error(finishErr))
		if runErr == nil {
			runErr = finishErr
		}
	}

	if runErr != nil {
		metrics.SyncRuns.WithLabelValues(string(model.AccountError)).Inc()
		log.Error("sync failed",
			zap.Int("created", len(result.Created)),
			zap.Error(runErr),
		)
	} else {
		metrics.SyncRuns.WithLabelValues(string(model.AccountConnected)).Inc()
		log.Info("sync completed",
			zap.Uint32("total", result.Total),
			zap.Uint32("from", result.From),
			zap.Uint32("to", result.To),
			zap.Int("created", len(result.Created)),
		)
	}

	o.announce(ctx, account.UserID, result)
	return result, runErr
}

// fetch connects, opens the mailbox and ingests the newest window. The
// returned Result is never nil.
func (o *Orchestrator) fetch(ctx context.Context, account *model.MailAccount) (*Result, error) {
	result := &Result{AccountID: account.ID}

	cfg, err := o.connectionConfig(account)
	if err != nil {
		return result, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	defer cancel()

	conn, err := o.client.Connect(fetchCtx, cfg)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			o.logger.Debug("closing mailbox connection",
				zap.String("account_id", account.ID), zap.Error(err))
		}
	}()

	status, err := conn.OpenMailbox(fetchCtx, model.DefaultMailbox, true)
	if err != nil {
		return result, fmt.Errorf("opening %s: %w", model.DefaultMailbox, err)
	}

	result.Total = status.TotalMessages
	result.From, result.To = Window(status.TotalMessages, o.opts.Window)
	if result.To == 0 {
		return result, nil
	}

	envelopes := conn.FetchRange(fetchCtx, result.From, result.To, source.FetchParts{Body: o.opts.FetchBody})
	result.Created, err = o.ingester.Ingest(fetchCtx, account.ID, model.DefaultMailbox, envelopes)
	return result, err
}

// connectionConfig fills the password from the credential store when the
// account row carries none.
func (o *Orchestrator) connectionConfig(account *model.MailAccount) (model.ConnectionConfig, error) {
	cfg := account.Connection
	if cfg.Password != "" || o.creds == nil {
		return cfg, nil
	}
	password, err := o.creds.Get(account.CredentialKey())
	if err != nil {
		return cfg, fmt.Errorf("loading credentials for account %s: %w", account.ID, err)
	}
	cfg.Password = password
	return cfg, nil
}

func (o *Orchestrator) finish(ctx context.Context, accountID string, runErr error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	if runErr != nil {
		return o.store.FinishSync(ctx, accountID, model.AccountError, nil, runErr.Error())
	}
	completed := o.now()
	return o.store.FinishSync(ctx, accountID, model.AccountConnected, &completed, "")
}

// announce enriches each new message and raises its events: one new-mail
// event always, plus an important-mail event when enrichment rated it high.
func (o *Orchestrator) announce(ctx context.Context, userID string, result *Result) {
	for i := range result.Created {
		msg := &result.Created[i]

		if o.enricher != nil && o.enricher.Enrich(ctx, msg) {
			result.Enriched++
		}

		if o.notifier == nil {
			continue
		}
		o.notifier.NotifyNewMail(ctx, userID, *msg)
		if msg.Enrichment != nil && msg.Enrichment.Priority == model.PriorityHigh {
			o.notifier.NotifyImportantMail(ctx, userID, *msg)
		}
	}
}

func (o *Orchestrator) acquire(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.running[accountID]; busy {
		return false
	}
	o.running[accountID] = struct{}{}
	return true
}

func (o *Orchestrator) release(accountID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, accountID)
}
