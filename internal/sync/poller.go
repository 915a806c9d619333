package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/logging"
)

// Syncer runs one sync of an account.
type Syncer interface {
	Sync(ctx context.Context, accountID string) (*Result, error)
}

// defaultInterval is used when the poller is given a non-positive interval.
const defaultInterval = 5 * time.Minute

// Poller schedules background sync runs: one cron entry per registered
// account, plus on-demand triggers. Overlapping runs for one account are
// rejected by the Syncer.
type Poller struct {
	syncer   Syncer
	interval time.Duration
	cron     *cron.Cron
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup

	mu      gosync.Mutex
	entries map[string]cron.EntryID
	running bool
	stopped bool
}

// NewPoller creates a Poller. loc is the zone for cron specs added with
// AddJob; nil means local time.
func NewPoller(syncer Syncer, interval time.Duration, loc *time.Location, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cronLogger := logging.CronLogger{Logger: logger}
	return &Poller{
		syncer:   syncer,
		interval: interval,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Register schedules periodic syncs of an account. Registering an
// account twice is a no-op.
func (p *Poller) Register(accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[accountID]; ok {
		return nil
	}

	id, err := p.cron.AddFunc("@every "+p.interval.String(), func() {
		p.run(accountID)
	})
	if err != nil {
		return fmt.Errorf("scheduling account %s: %w", accountID, err)
	}
	p.entries[accountID] = id
	return nil
}

// Unregister removes the schedule of an account. Runs already in flight
// are not interrupted.
func (p *Poller) Unregister(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.entries[accountID]; ok {
		p.cron.Remove(id)
		delete(p.entries, accountID)
	}
}

// Registered reports whether accountID has a schedule.
func (p *Poller) Registered(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[accountID]
	return ok
}

// AddJob schedules an arbitrary job on a standard cron spec. The job
// receives the poller's context, which ends on Stop.
func (p *Poller) AddJob(spec string, job func(ctx context.Context)) error {
	if _, err := p.cron.AddFunc(spec, func() { job(p.ctx) }); err != nil {
		return fmt.Errorf("scheduling job %q: %w", spec, err)
	}
	return nil
}

// Trigger starts an immediate sync of an account in the background. It
// does nothing once Stop has been called.
func (p *Poller) Trigger(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(accountID)
	}()
}

// Start begins running scheduled entries.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.cron.Start()
}

// Stop halts scheduling, cancels in-flight runs and waits for them to
// return.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	if !p.running {
		p.mu.Unlock()
		p.cancel()
		p.wg.Wait()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	<-p.cron.Stop().Done()
	p.wg.Wait()
}

// run performs a single sync and logs its outcome.
func (p *Poller) run(accountID string) {
	if p.ctx.Err() != nil {
		return
	}

	_, err := p.syncer.Sync(p.ctx, accountID)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		p.logger.Debug("sync skipped, already running", zap.String("account_id", accountID))
	default:
		p.logger.Warn("background sync failed", zap.String("account_id", accountID), zap.Error(err))
	}
}
