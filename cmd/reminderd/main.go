package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carenest/reminderd/internal/models"
	"github.com/carenest/reminderd/pkg/alarm"
	"github.com/carenest/reminderd/pkg/api"
	"github.com/carenest/reminderd/pkg/calimport"
	"github.com/carenest/reminderd/pkg/config"
	"github.com/carenest/reminderd/pkg/delivery"
	"github.com/carenest/reminderd/pkg/delivery/tts"
	"github.com/carenest/reminderd/pkg/events"
	"github.com/carenest/reminderd/pkg/metrics"
	"github.com/carenest/reminderd/pkg/retry"
	"github.com/carenest/reminderd/pkg/scheduler"
	"github.com/carenest/reminderd/pkg/store"
)

const (
	defaultConfigPath = "config.yaml"
	gracefulTimeout   = 30 * time.Second
)

var (
	configPath = flag.String("config", defaultConfigPath, "Path to configuration file")
	version    = flag.Bool("version", false, "Print version information")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	dryRun     = flag.Bool("dry-run", false, "Log alarms instead of delivering them")
)

// Version information - can be set at build time
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	flag.Parse()

	if *version {
		printVersion()
		os.Exit(0)
	}

	// Best-effort .env load so the speech-synthesis API key can live
	// outside the config file
	_ = godotenv.Load()

	app, err := NewApp(*configPath, *debug, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		app.logger.Error("Failed to start application", "error", err)
		os.Exit(1)
	}

	app.logger.Info("Reminder daemon started successfully")

	sig := <-sigChan
	app.logger.Info("Received shutdown signal", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulTimeout)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		app.logger.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	app.logger.Info("Reminder daemon stopped gracefully")
}

// App holds the main application components
type App struct {
	config     *config.Config
	logger     *slog.Logger
	store      *store.Store
	publisher  *events.Publisher
	notifier   *delivery.Notifier
	sounder    alarm.Sounder
	controller *alarm.Controller
	scheduler  *scheduler.ReminderScheduler
	importer   *calimport.Importer
	apiSrv     *api.Server
	metricsSrv *http.Server
	dryRun     bool
}

// NewApp creates a new application instance
func NewApp(configPath string, debugMode, dryRun bool) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Logging, debugMode)
	logger.Info("Starting reminder daemon",
		"version", Version,
		"commit", GitCommit,
		"build_time", BuildTime,
		"config_path", configPath,
		"dry_run", dryRun)

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Event publishing is optional; a reminder daemon without NATS
	// still rings alarms
	var publisher *events.Publisher
	if cfg.NATS.URL != "" && !dryRun {
		natsConfig := events.DefaultConfig()
		natsConfig.URL = cfg.NATS.URL
		natsConfig.Subject = cfg.NATS.Subject
		publisher, err = events.NewPublisher(natsConfig, logger)
		if err != nil {
			logger.Warn("Alarm events disabled, NATS unavailable", "error", err)
			publisher = nil
		}
	}

	var notifier *delivery.Notifier
	var sounder alarm.Sounder
	if dryRun {
		sounder = &DryRunSounder{logger: logger}
		logger.Info("Running in dry-run mode - alarms will be logged, not delivered")
	} else {
		notifier, err = delivery.NewNotifier(logger)
		if err != nil {
			logger.Warn("Desktop notifications disabled", "error", err)
			notifier = nil
		}
		sounder = buildDeliveryChain(cfg, notifier, m, logger)
	}

	holder := alarm.NewHolder(sounder, logger)

	var controllerPublisher alarm.Publisher
	if publisher != nil {
		controllerPublisher = publisher
	}
	controller := alarm.NewController(holder, st, controllerPublisher, m, cfg.Scheduler.SnoozeMinutes, logger)

	schedulerConfig := &scheduler.Config{
		RefreshInterval: cfg.Scheduler.RefreshInterval,
		ArmWindow:       cfg.Scheduler.ArmWindow,
	}
	reminderScheduler := scheduler.NewReminderScheduler(schedulerConfig, st, controller, logger)

	// Any row change re-derives the timer registry
	st.Subscribe(reminderScheduler.Kick)

	var importer *calimport.Importer
	if cfg.Calendar.URL != "" {
		importer = calimport.NewImporter(&calimport.Config{
			URL:             cfg.Calendar.URL,
			ReminderMinutes: cfg.Calendar.ReminderMinutes,
		}, st, logger)
	}

	apiSrv := api.NewServer(cfg.API.ListenAddr, st, controller, logger)

	var metricsSrv *http.Server
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:    cfg.Metrics.ListenAddr,
			Handler: mux,
		}
	}

	return &App{
		config:     cfg,
		logger:     logger,
		store:      st,
		publisher:  publisher,
		notifier:   notifier,
		sounder:    sounder,
		controller: controller,
		scheduler:  reminderScheduler,
		importer:   importer,
		apiSrv:     apiSrv,
		metricsSrv: metricsSrv,
		dryRun:     dryRun,
	}, nil
}

// buildDeliveryChain assembles the tiered delivery fallback: remote
// speech synthesis, then a local speech command, then the alarm tone.
func buildDeliveryChain(cfg *config.Config, notifier *delivery.Notifier, m *metrics.Metrics, logger *slog.Logger) *delivery.Chain {
	var tiers []delivery.Tier

	ttsClient := tts.NewClient(&tts.Config{
		URL:     cfg.TTS.URL,
		VoiceID: cfg.TTS.VoiceID,
		APIKey:  cfg.TTS.APIKey,
		Timeout: cfg.TTS.Timeout,
	}, logger)
	if ttsClient.Configured() {
		breaker := retry.NewCircuitBreaker(retry.DefaultCircuitBreakerConfig(), logger)
		tiers = append(tiers, delivery.NewRemoteSpeechTier(ttsClient, breaker, cfg.Delivery.RepeatPause, logger))
	} else {
		logger.Info("Remote speech synthesis not configured, skipping tier")
	}

	tiers = append(tiers,
		delivery.NewLocalSpeechTier(cfg.Delivery.SpeechCommand, cfg.Delivery.RepeatPause, logger),
		delivery.NewToneTier(cfg.Delivery.ToneInterval, logger),
	)

	var chainNotifier delivery.DesktopNotifier
	if notifier != nil {
		chainNotifier = notifier
	}
	return delivery.NewChain(tiers, chainNotifier, &delivery.Config{MaxRing: cfg.Delivery.MaxRing}, m, logger)
}

// Start starts the application services
func (a *App) Start(ctx context.Context) error {
	if a.importer != nil {
		go func() {
			created, err := a.importer.ImportURL(ctx)
			if err != nil {
				a.logger.Error("Calendar feed import failed", "error", err)
				return
			}
			a.logger.Info("Calendar feed imported", "created", created)
		}()
	}

	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		if err := a.apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Control API server failed", "error", err)
		}
	}()

	if a.metricsSrv != nil {
		go func() {
			a.logger.Info("Serving metrics", "addr", a.metricsSrv.Addr)
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	return nil
}

// Stop gracefully stops the application services
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info("Shutting down application")

	if err := a.scheduler.Stop(); err != nil {
		a.logger.Error("Error stopping scheduler", "error", err)
	}

	// Cancels pending snoozes and silences any live alarm
	a.controller.Shutdown()

	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Error("Error closing notifier", "error", err)
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("Error closing event publisher", "error", err)
		}
	}

	if err := a.apiSrv.Shutdown(ctx); err != nil {
		a.logger.Error("Error stopping control API server", "error", err)
	}

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Error("Error stopping metrics server", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("Error closing store", "error", err)
	}

	return nil
}

// setupLogger configures the application logger
func setupLogger(cfg config.LoggingConfig, debugMode bool) *slog.Logger {
	var level slog.Level

	// Override config level if debug mode is enabled
	if debugMode {
		level = slog.LevelDebug
	} else {
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("reminderd %s\n", Version)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Build Time: %s\n", BuildTime)
}

// DryRunSounder logs alarms instead of delivering them
type DryRunSounder struct {
	logger *slog.Logger
}

func (s *DryRunSounder) Start(ctx context.Context, a *models.ActiveAlarm) {
	s.logger.Info("[DRY RUN] Would deliver alarm",
		"alarm_id", a.ID,
		"kind", a.Kind,
		"title", a.Title,
		"message", a.Message)
}

func (s *DryRunSounder) Pause() {}

func (s *DryRunSounder) Resume(ctx context.Context) {}

func (s *DryRunSounder) StopAll() {}
