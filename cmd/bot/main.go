package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/coreos/go-systemd/v22/daemon"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/hray3182/remindbot/internal/ai"
	"github.com/hray3182/remindbot/internal/bot"
	"github.com/hray3182/remindbot/internal/bot/handlers"
	"github.com/hray3182/remindbot/internal/clock"
	"github.com/hray3182/remindbot/internal/config"
	"github.com/hray3182/remindbot/internal/database"
	"github.com/hray3182/remindbot/internal/logx"
	"github.com/hray3182/remindbot/internal/metrics"
	"github.com/hray3182/remindbot/internal/reminders"
	"github.com/hray3182/remindbot/internal/repository"
	"github.com/hray3182/remindbot/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "remindbot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	log, err := logx.New(logx.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURI)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Info("connected to database", logx.String("dialect", string(db.Dialect)))

	// Run migrations
	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed", logx.Any("applied", applied))

	repo := repository.NewReminderRepository(db, loc)
	if err := repo.Load(ctx); err != nil {
		return fmt.Errorf("failed to load reminders: %w", err)
	}

	tgAPI, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("failed to create Telegram API: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(reg)
	metrics.MustRegisterStored(reg, func() int { return len(repo.Cached()) })

	sched := scheduler.New(log.With(logx.String("comp", "scheduler")))
	sender := bot.NewSender(tgAPI, cfg.SendRate, log)
	service := reminders.New(reminders.Options{
		Store:     repo,
		Scheduler: sched,
		Sender:    sender,
		Clock:     clock.New(loc),
		Logger:    log,
		Metrics:   m,
	})
	if _, err := service.Restore(ctx); err != nil {
		return err
	}

	// AI client is optional
	var asker handlers.Asker
	if cfg.AIAPIKey != "" {
		asker = ai.New(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel)
		log.Info("AI client initialized", logx.String("model", cfg.AIModel))
	} else {
		log.Info("AI client not configured, /gpt disabled")
	}

	b := bot.New(tgAPI, handlers.New(sender, service, asker, log), log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(ctx)
	})
	g.Go(func() error {
		if err := b.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("bot: %w", err)
		}
		return nil
	})
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics server listening", logx.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		log.Debug("notified systemd")
	}
	log.Info("bot started", logx.String("timezone", loc.String()))

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")
	return err
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
