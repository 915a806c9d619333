package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nhle/mailwatch/internal/account"
	"github.com/nhle/mailwatch/internal/api"
	"github.com/nhle/mailwatch/internal/credential"
	"github.com/nhle/mailwatch/internal/enrich"
	"github.com/nhle/mailwatch/internal/logging"
	"github.com/nhle/mailwatch/internal/model"
	"github.com/nhle/mailwatch/internal/notify"
	"github.com/nhle/mailwatch/internal/source/email"
	"github.com/nhle/mailwatch/internal/store"
	mailsync "github.com/nhle/mailwatch/internal/sync"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("mailwatch stopped", zap.Error(err))
	}
}

func run(cfg *model.AppConfig, logger *zap.Logger) error {
	s, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	creds, err := credential.Open(cfg.Credentials)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	analyzer, err := enrich.New(cfg.Enrichment)
	if err != nil {
		return fmt.Errorf("configuring enrichment: %w", err)
	}
	enricher := enrich.NewDispatcher(analyzer, s, logger.Named("enrich"))

	loc := cfg.Notify.Location()
	factory := notify.HTTPSenderFactory(&http.Client{Timeout: cfg.Notify.SendTimeout()})
	senders := notify.NewSenderCache(factory)
	dispatcher := notify.NewDispatcher(s, senders, notify.DispatcherOptions{
		SendTimeout: cfg.Notify.SendTimeout(),
		MaxParallel: cfg.Notify.MaxParallel,
		Location:    loc,
	}, logger.Named("notify"))
	configs := notify.NewConfigService(s, dispatcher, senders, factory, cfg.Notify.SendTimeout(), logger.Named("notify"))

	dialer := email.NewDialer(cfg.Sync.ConnectTimeout(), logger.Named("imap"))
	tester := email.NewTester(dialer, cfg.Sync.ConnectTimeout(), logger.Named("imap"))

	orchestrator := mailsync.NewOrchestrator(s, dialer, enricher, dispatcher, creds, mailsync.Options{
		Window:       cfg.Sync.Window,
		FetchTimeout: cfg.Sync.FetchTimeout(),
		StaleAfter:   cfg.Sync.StaleAfter(),
		FetchBody:    cfg.Sync.FetchBody,
	}, logger.Named("sync"))

	poller := mailsync.NewPoller(orchestrator, cfg.Sync.SyncInterval(), loc, logger.Named("poller"))

	accounts, err := s.ListAccounts(context.Background())
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	for _, a := range accounts {
		if err := poller.Register(a.ID); err != nil {
			return err
		}
	}

	if cfg.Notify.DigestSchedule != "" {
		digest := notify.NewDigestJob(s, s, dispatcher, logger.Named("digest"))
		err := poller.AddJob(cfg.Notify.DigestSchedule, func(ctx context.Context) {
			if err := digest.Run(ctx); err != nil {
				logger.Warn("digest run failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	poller.Start()
	defer poller.Stop()

	svc := account.NewService(s, tester, creds, poller, orchestrator, logger.Named("account"))
	handler := api.NewHandler(svc, configs, logger.Named("api"))
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(handler, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.Int("accounts", len(accounts)),
			zap.Bool("enrichment", enricher.Enabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return nil
}
