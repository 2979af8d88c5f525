package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"autotrader/internal/config"
	cronrunner "autotrader/internal/cron"
	"autotrader/internal/db"
	"autotrader/internal/handler"
	"autotrader/internal/logger"
	"autotrader/internal/models"
	"autotrader/internal/notification"
	gormrepository "autotrader/internal/repository/gorm"
	"autotrader/internal/service"
)

type app struct {
	cfg        config.Config
	logger     *zap.Logger
	dbConn     *db.DB
	store      *gormrepository.Store
	sink       notification.Sink
	factory    service.BrokerFactory
	syncSvc    *service.SyncService
	catalogSvc *service.CatalogSyncService
	tokenSvc   *service.TokenRefreshService
	stratSvc   *service.StrategyService
	autoSvc    *service.AutomationService
}

func main() {
	cfgPath := os.Getenv("AT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("AT_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Fatal("auto-migrate failed", zap.Error(err))
	}

	a := build(cfg, log, dbConn)

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "refresh-tokens":
			os.Exit(a.refreshTokensJob(os.Args[2:]))
		case "run-cycle":
			os.Exit(a.runCycleJob(os.Args[2:]))
		}
	}
	a.serve()
}

func build(cfg config.Config, log *zap.Logger, dbConn *db.DB) *app {
	store := gormrepository.New(dbConn.Gorm)
	factory := service.NewBrokerFactory(cfg.Broker, cfg.Automation, log)

	var sink notification.Sink = notification.LogSink{Logger: log}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		sink = &notification.TelegramSink{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			Logger:   log,
		}
	}

	syncSvc := &service.SyncService{
		Repo:           store,
		Logger:         log,
		Factory:        factory,
		PrefixMatching: cfg.Portfolio.PrefixMatching,
		TradeLimit:     cfg.Automation.TradeLimit,
	}
	catalogSvc := &service.CatalogSyncService{
		Repo:      store,
		Logger:    log,
		Factory:   factory,
		PageLimit: cfg.CatalogSync.PageLimit,
	}
	tokenSvc := &service.TokenRefreshService{
		Repo:          store,
		Logger:        log,
		Factory:       factory,
		Sink:          sink,
		MaxRetries:    cfg.TokenRefresh.MaxRetries,
		RetryDelay:    cfg.TokenRefresh.RetryDelay,
		RetentionDays: cfg.TokenRefresh.HistoryRetentionDays,
	}
	stratSvc := &service.StrategyService{
		Repo:    store,
		Logger:  log,
		Factory: factory,
		Sync:    syncSvc,
	}
	autoSvc := &service.AutomationService{
		Repo:     store,
		Logger:   log,
		Sync:     syncSvc,
		Tokens:   tokenSvc,
		Strategy: stratSvc,
		Sink:     sink,
	}
	return &app{
		cfg:        cfg,
		logger:     log,
		dbConn:     dbConn,
		store:      store,
		sink:       sink,
		factory:    factory,
		syncSvc:    syncSvc,
		catalogSvc: catalogSvc,
		tokenSvc:   tokenSvc,
		stratSvc:   stratSvc,
		autoSvc:    autoSvc,
	}
}

// refreshTokensJob runs one refresh pass and exits.
func (a *app) refreshTokensJob(args []string) int {
	fs := flag.NewFlagSet("refresh-tokens", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report what would refresh without calling brokers")
	force := fs.Bool("force", false, "refresh regardless of expiry")
	credentialID := fs.Uint64("credential", 0, "refresh a single credential by id")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := a.tokenSvc.Run(ctx, service.RefreshOptions{
		DryRun:       *dryRun,
		Force:        *force,
		CredentialID: *credentialID,
	})
	if err != nil {
		a.logger.Error("token refresh run failed", zap.Error(err))
		return 1
	}
	a.logger.Info("token refresh run finished",
		zap.Int("checked", summary.Checked),
		zap.Int("refreshed", summary.Refreshed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	if summary.Failed > 0 {
		return 1
	}
	return 0
}

// runCycleJob runs automation cycles once and exits. With --user the
// cycle runs for that user alone, otherwise for every due config.
func (a *app) runCycleJob(args []string) int {
	fs := flag.NewFlagSet("run-cycle", flag.ExitOnError)
	username := fs.String("user", "", "run the cycle for one user")
	force := fs.Bool("force", false, "ignore schedule and paused state")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *username != "" {
		report, err := a.autoSvc.RunCycleForUser(ctx, *username, *force)
		if err != nil {
			a.logger.Error("cycle failed", zap.String("user", *username), zap.Error(err))
			return 1
		}
		if report == nil {
			fmt.Println("cycle skipped (inactive or paused)")
			return 0
		}
		a.logger.Info("cycle finished",
			zap.String("user", *username),
			zap.String("status", report.Status),
			zap.Int("errors", len(report.Errors)))
		if report.Status == models.CycleFailed {
			return 1
		}
		return 0
	}

	if err := a.autoSvc.RunDue(ctx); err != nil {
		a.logger.Error("cycle scheduling failed", zap.Error(err))
		return 1
	}
	a.autoSvc.Wait()
	return 0
}

// serve runs the HTTP API, cron jobs, and the quote stream until a
// termination signal arrives.
func (a *app) serve() {
	cfg := a.cfg
	log := a.logger

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: a.dbConn.Gorm}
	healthHandler.Register(engine)
	catalogHandler := &handler.CatalogHandler{Repo: a.store, Service: a.catalogSvc, Logger: log}
	catalogHandler.Register(engine)
	strategyHandler := &handler.StrategyHandler{Repo: a.store, Executor: a.stratSvc, Logger: log}
	strategyHandler.Register(engine)
	automationHandler := &handler.AutomationHandler{Repo: a.store, Service: a.autoSvc, Logger: log}
	automationHandler.Register(engine)
	credentialHandler := &handler.CredentialHandler{Repo: a.store, Tokens: a.tokenSvc, Broker: cfg.Broker, Logger: log}
	credentialHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(log, ctx)
	if cfg.Cron.Enabled {
		if cfg.CatalogSync.Enabled {
			if _, err := cronRunner.Add(cfg.Cron.CatalogSync, func(ctx context.Context) {
				if err := a.catalogSvc.Sync(ctx); err != nil {
					log.Warn("cron catalog sync failed", zap.Error(err))
				}
			}); err != nil {
				log.Warn("cron register catalog sync failed", zap.Error(err))
			}
		}
		if cfg.TokenRefresh.Enabled {
			if _, err := cronRunner.Add(cfg.Cron.TokenRefresh, func(ctx context.Context) {
				if _, err := a.tokenSvc.Run(ctx, service.RefreshOptions{}); err != nil {
					log.Warn("cron token refresh failed", zap.Error(err))
				}
			}); err != nil {
				log.Warn("cron register token refresh failed", zap.Error(err))
			}
			if _, err := cronRunner.Add(cfg.Cron.HistoryPrune, func(ctx context.Context) {
				if _, err := a.tokenSvc.PruneHistory(ctx); err != nil {
					log.Warn("cron history prune failed", zap.Error(err))
				}
			}); err != nil {
				log.Warn("cron register history prune failed", zap.Error(err))
			}
		}
		if cfg.Automation.Enabled {
			if _, err := cronRunner.Add(cfg.Cron.Automation, func(ctx context.Context) {
				if err := a.autoSvc.RunDue(ctx); err != nil {
					log.Warn("cron automation failed", zap.Error(err))
				}
			}); err != nil {
				log.Warn("cron register automation failed", zap.Error(err))
			}
		}
		if _, err := cronRunner.Add(cfg.Cron.QuoteRefresh, func(ctx context.Context) {
			creds, err := a.store.ListActiveCredentials(ctx, "")
			if err != nil {
				log.Warn("quote refresh list credentials failed", zap.Error(err))
				return
			}
			for i := range creds {
				if err := a.syncSvc.RefreshOpenPositionQuotes(ctx, &creds[i]); err != nil {
					log.Warn("quote refresh failed",
						zap.String("credential", creds[i].Name), zap.Error(err))
				}
			}
		}); err != nil {
			log.Warn("cron register quote refresh failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	if cfg.QuoteStream.Enabled {
		stream := &service.QuoteStreamService{
			Repo:           a.store,
			Logger:         log,
			URL:            cfg.QuoteStream.URL,
			Symbols:        cfg.QuoteStream.Symbols,
			ReconnectDelay: cfg.QuoteStream.ReconnectDelay,
		}
		go stream.Run(ctx)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.autoSvc.Wait()
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
