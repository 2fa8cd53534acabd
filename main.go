package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"doodle-match-system/config"
	"doodle-match-system/handlers"
	"doodle-match-system/logger"
	"doodle-match-system/middleware"
	"doodle-match-system/realtime"
	"doodle-match-system/services"
	"doodle-match-system/store"
	"doodle-match-system/utils"
	"doodle-match-system/words"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		log.Fatal("failed to build logger:", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabaseURL, zl)
	if err != nil {
		return err
	}

	var notifier realtime.Notifier
	if cfg.RedisURL != "" {
		hub, err := realtime.NewRedisHub(ctx, cfg.RedisURL, zl)
		if err != nil {
			return err
		}
		notifier = hub
		zl.Info("realtime fan-out via redis")
	} else {
		notifier = realtime.NewMemoryHub(zl)
		zl.Warn("REDIS_URL not set, realtime events stay in this process")
	}
	defer func() { _ = notifier.Close() }()

	var drawings services.DrawingStore
	if cfg.R2.Enabled() {
		uploader, err := utils.NewR2Uploader(ctx, cfg.R2)
		if err != nil {
			return err
		}
		drawings = uploader
	} else {
		zl.Warn("R2 not configured, SVG drawings will not be stored")
	}

	var scorer services.Scorer
	if cfg.ScoringBaseURL != "" {
		scorer = services.NewScoringClient(cfg.ScoringBaseURL, cfg.ScoringAPIKey, cfg.ScoringTimeout, zl)
	} else {
		zl.Warn("SCORING_BASE_URL not set, only client-scored submissions are accepted")
	}

	bank, err := words.Default()
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	deps := services.Deps{DB: db, Notifier: notifier, Clock: clock, Rules: cfg.Rules, Log: zl}
	progression := services.NewProgressionService(db, clock, zl)
	results := services.NewResultService(deps, progression)
	svc := handlers.Services{
		Matchmaking: services.NewMatchmakingService(deps, bank),
		Turns:       services.NewTurnService(deps, results, scorer, drawings),
		Duels:       services.NewDuelService(deps, results, scorer, drawings),
		Status:      services.NewStatusService(deps),
		Progression: progression,
	}

	sched, err := services.StartMaintenanceScheduler(ctx,
		services.NewMaintenanceJobs(svc.Turns, svc.Duels, svc.Matchmaking),
		clock, cfg.Rules.SweepInterval, zl)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             4 * 1024 * 1024,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-User-ID, X-Request-ID, Cache-Control",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
		MaxAge:        86400,
	}))
	app.Use(middleware.RequestLogger(zl))

	auth := middleware.NewAuthenticator(cfg.GatewayToken, cfg.JWTSecret, zl)
	handlers.Setup(app, db, svc, notifier, auth, zl)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("server listening", zap.String("port", cfg.Port), zap.Strings("cors_origins", cfg.AllowedOrigins))
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(
			app.ShutdownWithContext(shutdownCtx),
			sched.Shutdown(),
		)
	})
	return g.Wait()
}
