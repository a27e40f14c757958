// Command server runs the notification delivery service: the HTTP/websocket
// API, the pub/sub bus with its persistent feed, the Postgres change-capture
// bridge, and the push fallback poller.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/lessonlink/go-notify-backend/internal/bus"
	"github.com/lessonlink/go-notify-backend/internal/capture"
	"github.com/lessonlink/go-notify-backend/internal/config"
	httpapi "github.com/lessonlink/go-notify-backend/internal/http"
	"github.com/lessonlink/go-notify-backend/internal/observability"
	"github.com/lessonlink/go-notify-backend/internal/poller"
	"github.com/lessonlink/go-notify-backend/internal/push"
	"github.com/lessonlink/go-notify-backend/internal/relay"
	"github.com/lessonlink/go-notify-backend/internal/repo"
	"github.com/lessonlink/go-notify-backend/internal/services"
	"github.com/lessonlink/go-notify-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database failed")
	}
	// Metrics stay on Prometheus; the plugin only contributes spans.
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		log.Fatal().Err(err).Msg("database tracing setup failed")
	}

	feed := repo.NewFeedStore(db, cfg.FeedCapacity)
	nbus := bus.New(feed, log.Logger)
	ns := services.NewNotificationService(nbus)
	hub := relay.NewHub(relay.GormMessageStore{DB: db}, log.Logger)

	// Change capture: LISTEN on the business database and republish row
	// events onto the bus. Optional; off by default.
	if cfg.Capture.Enabled {
		bridge := capture.New(cfg.Capture, nbus, log.Logger)
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("capture bridge stopped")
			}
		}()
	}

	// Fallback poller: sweep pending unnotified requests and push directly.
	if cfg.Poller.Enabled {
		sender := push.NewService(cfg.Push, log.Logger)
		p := poller.New(poller.GormStore{DB: db}, sender, cfg.Poller.Interval, cfg.Push.SendTimeout, log.Logger)
		go func() {
			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("fallback poller stopped")
			}
		}()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, ns, hub, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
