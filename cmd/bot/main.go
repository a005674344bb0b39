package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/teadesk-bot/internal/assistant"
	"github.com/xaenox/teadesk-bot/internal/blob"
	"github.com/xaenox/teadesk-bot/internal/bot"
	"github.com/xaenox/teadesk-bot/internal/classifier"
	"github.com/xaenox/teadesk-bot/internal/conversation"
	"github.com/xaenox/teadesk-bot/internal/dedup"
	"github.com/xaenox/teadesk-bot/internal/directory"
	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/pipeline"
	"github.com/xaenox/teadesk-bot/internal/queries"
	"github.com/xaenox/teadesk-bot/internal/ratelimit"
	"github.com/xaenox/teadesk-bot/internal/router"
	"github.com/xaenox/teadesk-bot/internal/scheduler"
	"github.com/xaenox/teadesk-bot/internal/sheets"
	"github.com/xaenox/teadesk-bot/internal/status"
	"github.com/xaenox/teadesk-bot/internal/storage"
	"github.com/xaenox/teadesk-bot/internal/telemetry"
	"github.com/xaenox/teadesk-bot/pkg/config"
)

// persisted is state saved to one storage table.
type persisted interface {
	Load(ctx context.Context, store storage.Storage) error
	Save(ctx context.Context, store storage.Storage) error
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}
	if cfg.Telegram.Token == "" {
		logger.Fatal("Telegram token is not configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
	}
	defer store.Close()

	sheetsClient, err := sheets.NewClient(ctx, cfg.Sheets.CredentialsFile, logger)
	if err != nil {
		logger.Fatal("Failed to initialize sheets client", zap.Error(err))
	}

	reports, err := blob.NewGCSStore(ctx, cfg.Blob.Bucket, cfg.Blob.Prefix, cfg.Blob.CredentialsFile, logger)
	if err != nil {
		logger.Fatal("Failed to initialize report store", zap.Error(err))
	}
	defer reports.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	tg, err := bot.New(cfg.Telegram.Token, cfg.Telegram.SendRate, cfg.Telegram.SendBurst, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	staff := directory.New(sheetsClient, cfg.Sheets.SpreadsheetID, cfg.Sheets.StaffRange, cfg.Directory.TTL, logger)
	if err := staff.Refresh(ctx); err != nil {
		logger.Warn("Initial staff directory load failed", zap.Error(err))
	}

	var responder pipeline.Responder = assistant.Static{}
	if cfg.OpenAI.APIKey != "" {
		responder = assistant.NewGPTResponder(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature, logger)
	} else {
		logger.Info("OpenAI key not set, using canned casual replies")
	}

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Quota)
	seen := dedup.New(cfg.Dedup.TTL)
	state := conversation.New(cfg.Conversation.WelcomeInterval, cfg.Conversation.GeneralInterval)
	rt := router.New(staff, tg, cfg.Router.TicketTTL, cfg.Router.PrefixLen, logger)
	stats := telemetry.New(store, metrics, cfg.Telemetry.SampleCap, cfg.Telemetry.FlushEvery, logger)

	tables := map[string]persisted{
		storage.TableDedup:     seen,
		storage.TableUsers:     state,
		storage.TableTickets:   rt,
		storage.TableAnalytics: stats,
	}
	for name, t := range tables {
		if err := t.Load(ctx, store); err != nil {
			logger.Warn("Starting with empty state", zap.String("table", name), zap.Error(err))
		}
	}

	handler := pipeline.New(pipeline.Deps{
		Limiter:     limiter,
		Dedup:       seen,
		State:       state,
		Classifier:  classifier.New(),
		Router:      rt,
		Directory:   staff,
		Queries:     queries.NewService(sheetsClient, reports, cfg.Sheets.SpreadsheetID, cfg.Sheets.MarketRange, logger),
		Responder:   responder,
		Telemetry:   stats,
		Metrics:     metrics,
		Transport:   tg,
		ContactInfo: cfg.ContactInfo,
		Logger:      logger,
	})
	dispatcher := pipeline.NewDispatcher(handler.Handle)

	sched := scheduler.New(logger)
	sched.Add("directory", cfg.Schedule.Directory, staff.Refresh)
	sched.Add("dedup_sweep", cfg.Schedule.Dedup, sweep(seen.Sweep, "dedup", logger))
	sched.Add("ratelimit_sweep", cfg.Schedule.RateLimit, sweep(limiter.Sweep, "ratelimit", logger))
	sched.Add("ticket_sweep", cfg.Schedule.Tickets, sweep(rt.Sweep, "tickets", logger))
	sched.Add("telemetry_flush", cfg.Schedule.Telemetry, stats.Flush)
	sched.Add("state_flush", cfg.Schedule.StateFlush, func(ctx context.Context) error {
		return saveAll(ctx, store, tables)
	})

	srv := status.New(cfg.Status.Addr, stats, reg, logger)

	g, gctx := errgroup.WithContext(ctx)
	// Queued messages finish after shutdown starts.
	handleCtx := context.WithoutCancel(ctx)
	g.Go(func() error {
		return tg.Start(gctx, func(_ context.Context, msg models.InboundMessage) {
			dispatcher.Dispatch(handleCtx, msg)
		})
	})
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	logger.Info("Tea desk bot started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Bot stopped with error", zap.Error(err))
	}

	dispatcher.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := saveAll(flushCtx, store, tables); err != nil {
		logger.Error("Failed to persist state on shutdown", zap.Error(err))
	}
	logger.Info("Tea desk bot stopped")
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Info("Using in-memory storage")
		return storage.NewMemoryStorage(), nil
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		return storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
	default:
		logger.Info("Using file storage", zap.String("dir", cfg.Storage.Dir))
		return storage.NewFileStorage(cfg.Storage.Dir)
	}
}

func sweep(fn func() int, name string, logger *zap.Logger) func(context.Context) error {
	return func(context.Context) error {
		if n := fn(); n > 0 {
			logger.Debug("Swept expired entries", zap.String("cache", name), zap.Int("removed", n))
		}
		return nil
	}
}

func saveAll(ctx context.Context, store storage.Storage, tables map[string]persisted) error {
	var errs []error
	for _, t := range tables {
		if err := t.Save(ctx, store); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
