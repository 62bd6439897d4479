// Command buzzwatch is the main entrypoint for the upload watcher, chat bot,
// and API server. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts background workers: the daily API key pool reset, the Telegram
//     bot long-poll loop, and (optionally) an auto-started watch session for
//     the configured channel.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"buzzwatch/chat"
	"buzzwatch/config"
	"buzzwatch/db"
	"buzzwatch/market"
	"buzzwatch/server"
	"buzzwatch/telemetry"
	"buzzwatch/transcript"
	"buzzwatch/watch"
	"buzzwatch/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("buzzwatch", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// YouTube metadata access behind the rotating key pool
	rotator := youtubeapi.NewKeyRotator(cfg.YTAPIKeys)
	source := youtubeapi.NewClient(rotator)
	prober := &youtubeapi.ShortsProber{}
	youtubeapi.StartKeyResetJob(ctx, rotator, cfg.KeyResetHourUTC, database)

	transcripts := &transcript.Client{Token: cfg.TranscriptAPIToken, BaseURL: cfg.TranscriptAPIURL}

	// Auto-trade engine; the placer stays dry-run unless explicitly disabled.
	engine := &market.Engine{
		Gamma:         &market.GammaClient{BaseURL: cfg.GammaAPIURL},
		Clob:          &market.ClobClient{BaseURL: cfg.ClobAPIURL},
		Placer:        &market.HTTPPlacer{BaseURL: cfg.ClobAPIURL},
		EventSlug:     cfg.EventSlug,
		USDCPerMarket: cfg.AutoBuyUSDC,
		MaxYesPrice:   cfg.AutoMaxYesPrice,
		DryRun:        cfg.DryRun,
		DB:            database,
	}

	// Default notifier: Twitch IRC if configured, else the log.
	var notifier watch.Notifier = watch.LogNotifier{}
	if err := cfg.ValidateTwitchNotifyReady(); err == nil {
		notifier = chat.StartTwitchNotifier(ctx, cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannel)
	}

	manager := watch.NewManager(watch.Config{
		PollInterval:            cfg.PollInterval,
		ClassifyRetryDelay:      cfg.ClassifyRetryDelay,
		QuotaPause:              cfg.QuotaPause,
		TranscriptRetryInterval: cfg.TranscriptRetryInterval,
		TranscriptRetryFor:      cfg.TranscriptRetryFor,
		MaxCandidates:           cfg.MaxCandidates,
	}, watch.ManagerDeps{
		Source:      source,
		Prober:      prober,
		Transcripts: transcripts,
		Notifier:    notifier,
		DB:          database,
	})

	// Telegram bot
	if err := cfg.ValidateChatReady(); err == nil {
		// Long polls hold the connection open; the client timeout must exceed
		// the poll timeout.
		bot := &chat.Bot{
			Client: &chat.TelegramClient{
				Token:      cfg.TelegramBotToken,
				BaseURL:    cfg.TelegramAPIURL,
				HTTPClient: &http.Client{Timeout: 40 * time.Second},
			},
			Manager:        manager,
			Transcripts:    transcripts,
			Engine:         engine,
			Keys:           rotator,
			DB:             database,
			DefaultChannel: cfg.YTChannelID,
		}
		// Detected videos flow into the bot's counts/trade pipeline.
		manager.SetOnTranscript(bot.HandleDetectedVideo)
		go bot.Start(ctx)
	} else {
		slog.Info("telegram bot disabled", slog.Any("reason", err))
	}

	// Optionally start watching the configured channel at boot.
	if os.Getenv("WATCH_AUTOSTART") == "1" {
		if err := cfg.ValidateWatchReady(); err != nil {
			slog.Error("WATCH_AUTOSTART set but watch config incomplete", slog.Any("err", err))
			os.Exit(1)
		}
		if id, err := manager.Start(ctx, cfg.YTChannelID, nil); err != nil {
			slog.Error("autostart watch failed", slog.Any("err", err))
		} else {
			slog.Info("watch session autostarted", slog.String("session_id", id), slog.String("channel_id", cfg.YTChannelID))
		}
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		err := server.Start(ctx, server.Deps{
			DB:             database,
			Manager:        manager,
			Keys:           rotator,
			DefaultChannel: cfg.YTChannelID,
		}, addr)
		if err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	manager.StopAll()
}
