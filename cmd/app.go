package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/studiodesk/notifier/internal/config"
	"github.com/studiodesk/notifier/internal/dispatch"
	"github.com/studiodesk/notifier/internal/eventbus"
	"github.com/studiodesk/notifier/internal/logger"
	"github.com/studiodesk/notifier/internal/notification"
	"github.com/studiodesk/notifier/internal/ratelimit"
	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/service"
	"github.com/studiodesk/notifier/internal/storage"
)

// app is the assembled notifier: stores, channels, services and dispatcher.
type app struct {
	cfg        *config.AppConfig
	logger     *slog.Logger
	db         *sql.DB
	clock      clockwork.Clock
	registry   *prometheus.Registry
	bus        eventbus.EventBus
	channels   notification.Registry
	dispatcher *dispatch.Dispatcher

	notificationSvc service.NotificationService
	templateSvc     service.TemplateService

	closers []io.Closer
}

// newApp wires every component from cfg. The caller must Close the app.
func newApp(cfg *config.AppConfig, console io.Writer) (*app, error) {
	sysLogger, logCloser, err := logger.NewSystemLogger(logger.Options{
		Dir:        cfg.LogDir(),
		Level:      cfg.SlogLevel(),
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Console:    console,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a := &app{
		cfg:     cfg,
		logger:  sysLogger,
		clock:   clockwork.NewRealClock(),
		closers: []io.Closer{logCloser},
	}

	db, fresh, err := storage.NewSQLiteDB(cfg.DatabasePath())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)
	if fresh {
		sysLogger.Info("created new database", "path", cfg.DatabasePath())
	}

	notifications := storage.NewSQLiteNotificationStore(db)
	templates := storage.NewSQLiteTemplateStore(db)
	recipients := storage.NewSQLiteRecipientStore(db)
	sendLog := storage.NewSQLiteSendLogStore(db)

	a.channels, err = buildChannels(cfg, sendLog, sysLogger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if len(a.channels) == 0 {
		sysLogger.Warn("no delivery channel configured; set TELEGRAM_BOT_TOKEN or SMTP_HOST")
	}

	limiter := ratelimit.New(a.clock, a.channels.Limits())
	renderer := render.New(render.WithLocation(cfg.Location()))

	a.bus = eventbus.New(0, eventbus.WithLogger(sysLogger), eventbus.WithClock(a.clock))
	a.bus.Subscribe(service.TemplateCacheListener(renderer))

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a.dispatcher = dispatch.New(dispatch.Config{
		Store:       notifications,
		Templates:   templates,
		Renderer:    renderer,
		Limiter:     limiter,
		Channels:    a.channels,
		Clock:       a.clock,
		Logger:      sysLogger.With("component", "dispatcher"),
		Metrics:     dispatch.NewMetrics(a.registry),
		BatchSize:   cfg.BatchSize,
		Workers:     cfg.Workers,
		SendTimeout: cfg.SendTimeout,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		StaleAfter:  cfg.StaleAfter,
	})

	a.notificationSvc = service.NewNotificationService(service.NotificationServiceConfig{
		Store:             notifications,
		Templates:         templates,
		Recipients:        recipients,
		SendLog:           sendLog,
		Channels:          a.channels,
		Limiter:           limiter,
		Renderer:          renderer,
		Publisher:         a.bus,
		Clock:             a.clock,
		Logger:            sysLogger,
		MaxAttempts:       cfg.MaxAttempts,
		MassSendTestLimit: cfg.MassSendTestLimit,
		SendTimeout:       cfg.SendTimeout,
	})
	a.templateSvc = service.NewTemplateService(templates, renderer, a.bus, a.clock, sysLogger)
	return a, nil
}

// buildChannels registers a channel for every configured transport.
func buildChannels(cfg *config.AppConfig, sendLog storage.SendLogStore, logger *slog.Logger) (notification.Registry, error) {
	var channels []notification.Channel
	if cfg.TelegramEnabled() {
		tg, err := notification.NewTelegramChannel(cfg.TelegramConfig())
		if err != nil {
			return nil, fmt.Errorf("configuring telegram channel: %w", err)
		}
		channels = append(channels, tg)
	}
	if cfg.EmailEnabled() {
		email, err := notification.NewEmailChannel(cfg.SMTPConfig(), logger.With("component", "email"),
			notification.WithSendLog(sendLog))
		if err != nil {
			return nil, fmt.Errorf("configuring email channel: %w", err)
		}
		channels = append(channels, email)
	}
	return notification.NewRegistry(channels...), nil
}

// verifier is implemented by channels that can check their credentials.
type verifier interface {
	Verify(ctx context.Context) (string, error)
}

// verifyChannels checks transport credentials. Failures are logged only:
// items stay queued and retry once the transport recovers.
func (a *app) verifyChannels(ctx context.Context) {
	for kind, ch := range a.channels {
		v, ok := ch.(verifier)
		if !ok {
			continue
		}
		name, err := v.Verify(ctx)
		if err != nil {
			a.logger.Warn("channel verification failed", "channel", kind, "error", err)
			continue
		}
		a.logger.Info("channel verified", "channel", kind, "account", name)
	}
}

// importSeeds upserts the templates file when one is configured.
func (a *app) importSeeds(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	seeds, err := storage.LoadTemplateSeeds(path)
	if err != nil {
		return 0, err
	}
	return a.templateSvc.ImportTemplates(ctx, seeds)
}

// Close drains the event bus and releases the database and log file.
func (a *app) Close() error {
	if a.bus != nil {
		a.bus.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
