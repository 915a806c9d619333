package email

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/source"
)

// DefaultTestTimeout bounds a connection test.
const DefaultTestTimeout = 10 * time.Second

// Result is the outcome of a connection test. Kind is empty when the test
// passed or the config was rejected before dialing.
type Result struct {
	OK   bool
	Kind source.ConnectionErrorKind
	Err  error
}

// Reason returns a human-readable failure reason, or "" on success.
func (r Result) Reason() string {
	if r.OK || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Tester checks that a connection config can reach and log into its
// server. It never mutates state and never returns a hung or panicking
// call to its caller.
type Tester struct {
	client  source.MailboxClient
	timeout time.Duration
	logger  *zap.Logger
}

// NewTester creates a Tester. A non-positive timeout selects
// DefaultTestTimeout.
func NewTester(client source.MailboxClient, timeout time.Duration, logger *zap.Logger) *Tester {
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tester{client: client, timeout: timeout, logger: logger}
}

type connectOutcome struct {
	conn source.Connection
	err  error
}

// Test connects and logs in with cfg, then closes the connection.
func (t *Tester) Test(ctx context.Context, cfg model.ConnectionConfig) Result {
	if err := source.ValidateConnection(cfg); err != nil {
		return Result{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan connectOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- connectOutcome{err: fmt.Errorf("connect panicked: %v", r)}
			}
		}()
		conn, err := t.client.Connect(ctx, cfg)
		done <- connectOutcome{conn: conn, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return t.failure(cfg, out.err)
		}
		if err := out.conn.Close(); err != nil {
			t.logger.Debug("closing test connection", zap.String("host", cfg.Host), zap.Error(err))
		}
		return Result{OK: true}

	case <-ctx.Done():
		// The client ignored ctx; release whatever it eventually returns.
		go func() {
			if out := <-done; out.conn != nil {
				_ = out.conn.Close()
			}
		}()
		err := &source.ConnectionError{
			Kind: source.KindTimeout,
			Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Err:  ctx.Err(),
		}
		return t.failure(cfg, err)
	}
}

func (t *Tester) failure(cfg model.ConnectionConfig, err error) Result {
	kind := source.ConnectionErrorKindOf(err)
	if kind == "" && !source.IsValidationError(err) {
		kind = source.KindNetworkUnreachable
	}
	t.logger.Info("connection test failed",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return Result{Kind: kind, Err: err}
}
