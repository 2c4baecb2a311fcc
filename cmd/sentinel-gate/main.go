// Package main is the entry point for the sentinel-gate server.
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

	"sentinel-gate/internal/api"
	"sentinel-gate/internal/blocklist"
	"sentinel-gate/internal/config"
	"sentinel-gate/internal/csp"
	apperrors "sentinel-gate/internal/errors"
	"sentinel-gate/internal/middleware"
	"sentinel-gate/internal/monitor"
	"sentinel-gate/internal/notify"
	"sentinel-gate/internal/rules"
	"sentinel-gate/internal/store"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		hashToken   string
	)
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&hashToken, "hash-token", "", "Print the bcrypt hash for an admin token and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("sentinel-gate %s\n", version)
		os.Exit(0)
	}

	if hashToken != "" {
		hash, err := middleware.HashToken(hashToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		os.Exit(0)
	}

	// Load configuration before logging so the handler honors the
	// configured level and format.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"rules_dir", cfg.Rules.Dir,
		"csp_preset", cfg.CSP.Preset,
		"admin_enabled", cfg.Admin.Enabled,
		"ratelimit_enabled", cfg.RateLimit.Enabled,
	)

	timeouts, err := cfg.Server.Timeouts()
	if err != nil {
		slog.Error("invalid server timeouts", "error", err)
		os.Exit(1)
	}

	// Build the engine bottom-up: blocklist, rules, store, CSP,
	// notifications, then the monitor that owns them.
	blocklistCfg, err := cfg.Blocklist.Component()
	if err != nil {
		slog.Error("invalid blocklist config", "error", err)
		os.Exit(1)
	}
	registry := blocklist.NewRegistry(blocklistCfg, logger)

	engine := rules.NewEngine(registry, logger)
	events := store.NewWithConfig(cfg.Store.Component(), logger)

	cspCfg, err := cfg.CSP.Component()
	if err != nil {
		slog.Error("invalid csp config", "error", err)
		os.Exit(1)
	}
	var sink csp.ReportSink
	if cfg.CSP.ReportCollector != "" {
		sink = notify.NewReportForwarder(cfg.CSP.ReportCollector)
		slog.Info("csp report forwarding enabled", "collector", cfg.CSP.ReportCollector)
	}
	cspManager := csp.NewManager(cspCfg, sink, logger)

	notifier, kafkaChannel, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		slog.Error("invalid notify config", "error", err)
		os.Exit(1)
	}

	mon := monitor.New(monitor.Deps{
		Store:     events,
		Engine:    engine,
		Blocklist: registry,
		CSP:       cspManager,
		Notifier:  notifier,
	}, logger)

	if err := mon.LoadRules(cfg.Rules.Dir); err != nil {
		slog.Error("failed to load rules", "error", err, "dir", cfg.Rules.Dir)
		os.Exit(1)
	}
	mon.Start()

	// HTTP surface.
	sanitizer := apperrors.NewSanitizer(os.Getenv("SENTINEL_ENV") == "production")
	admin := middleware.NewAdminAuth(cfg.Admin.Enabled, cfg.Admin.TokenHash, logger)
	handler := api.NewHandler(mon, admin, sanitizer, logger)

	rateCfg, err := cfg.RateLimit.Component()
	if err != nil {
		slog.Error("invalid rate limit config", "error", err)
		os.Exit(1)
	}
	limiter := middleware.NewRateLimiter(rateCfg, mon, logger)
	limiter.Start()

	chained := middleware.Chain(handler.Routes(),
		middleware.RequestLogger(logger, rateCfg.TrustProxy),
		middleware.SecurityHeaders(middleware.DefaultHeadersConfig(), mon),
		limiter.Middleware,
		middleware.BlockEnforcement(mon, rateCfg.TrustProxy, logger),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      chained,
		ReadTimeout:  timeouts.Read,
		WriteTimeout: timeouts.Write,
	}

	go func() {
		slog.Info("starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	limiter.Stop()
	mon.Stop()

	if kafkaChannel != nil {
		if err := kafkaChannel.Close(); err != nil {
			slog.Error("kafka channel close error", "error", err)
		}
	}

	slog.Info("shutdown complete", "stats", mon.Stats())
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// buildNotifier assembles the notifier with every enabled channel. The
// Kafka channel is returned separately so main can close its writer on
// shutdown.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) (*notify.Notifier, *notify.KafkaChannel, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	notifyCfg, err := cfg.Component()
	if err != nil {
		return nil, nil, err
	}

	notifier := notify.New(notifyCfg, logger)
	notifier.AddChannel(notify.NewLogChannel(logger))

	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		notifier.AddChannel(notify.NewWebhookChannel("webhook", cfg.Webhook.URL, cfg.Webhook.Headers))
		slog.Info("webhook notifications enabled")
	}

	var kafkaChannel *notify.KafkaChannel
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		kafkaChannel = notify.NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		notifier.AddChannel(kafkaChannel)
		slog.Info("kafka notifications enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	return notifier, kafkaChannel, nil
}
