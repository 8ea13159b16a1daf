package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/stargate/pkg/api"
	"github.com/platinummonkey/stargate/pkg/chat"
	"github.com/platinummonkey/stargate/pkg/config"
	"github.com/platinummonkey/stargate/pkg/github"
	"github.com/platinummonkey/stargate/pkg/httputil"
	"github.com/platinummonkey/stargate/pkg/ledger"
	"github.com/platinummonkey/stargate/pkg/router"
	"github.com/platinummonkey/stargate/pkg/verification"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := sql.Open(cfg.Ledger.Driver, cfg.Ledger.DSN)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if cfg.Ledger.Driver == "sqlite3" {
		// sqlite allows one writer; serialize through a single connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}
	if err := ledger.RunMigrations(context.Background(), db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	store := ledger.NewStore(db, cfg.Routing.RepoOrder)
	client := github.NewClient(github.Options{
		Token:        cfg.GitHub.Token,
		BaseURL:      cfg.GitHub.BaseURL,
		PageSize:     cfg.GitHub.PageSize,
		MaxRetries:   cfg.GitHub.MaxRetries,
		RetryBackoff: cfg.GitHub.RetryBackoff,
		PageThrottle: cfg.GitHub.PageThrottle,
		ProbePageCap: cfg.GitHub.ProbePageCap,
		HTTPTimeout:  cfg.GitHub.HTTPTimeout,
	}, logger)

	routes := router.New(cfg.Routing.GroupRepos, cfg.Routing.RepoOrder, cfg.Routing.DefaultRepo)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	bot := chat.NewBot(chat.BotOptions{
		APIURL:      cfg.OneBot.APIEndpoint,
		AccessToken: cfg.OneBot.AccessToken,
		SelfID:      cfg.OneBot.SelfID,
		Logger:      logger,
	})

	coordinator := verification.NewCoordinator(verification.Options{
		Source:      client,
		Ledger:      store,
		Transport:   bot,
		Router:      routes,
		Templates:   cfg.Templates,
		SelfID:      cfg.OneBot.SelfID,
		Window:      cfg.Verify.Window,
		GracePeriod: cfg.Verify.GracePeriod,
		Logger:      logger,
		Metrics:     verification.NewMetrics(registry),
	})
	defer coordinator.Close()

	hintEmptyLedger(store, routes, logger)

	// Event callback server.
	eventsCtx, cancelEvents := context.WithCancel(context.Background())
	defer cancelEvents()
	events := chat.NewEventServer(eventsCtx, coordinator, cfg.OneBot.AccessToken, logger)
	eventsRouter := mux.NewRouter()
	events.RegisterRoutes(eventsRouter)

	eventsServer := &http.Server{
		Addr: cfg.OneBot.ListenAddr,
		Handler: httputil.Chain(
			httputil.RecoveryMiddleware(logger),
			httputil.MaxBytesMiddleware(1<<20),
		)(eventsRouter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Admin API server.
	adminRouter := mux.NewRouter()
	api.NewHandlers(coordinator, registry, logger).RegisterRoutes(adminRouter)

	adminServer := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httputil.Chain(
			httputil.RequestIDMiddleware,
			httputil.LoggingMiddleware(logger),
			httputil.RecoveryMiddleware(logger),
		)(adminRouter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	scheduler := cron.New()
	if cfg.SyncSchedule != "" {
		_, err := scheduler.AddFunc(cfg.SyncSchedule, func() {
			logger.Info("Starting scheduled stargazer sync")
			results := coordinator.SyncAll(context.Background())
			for repo, err := range results {
				if err != nil {
					logger.Errorf("Scheduled sync of %s failed: %v", repo, err)
				}
			}
		})
		if err != nil {
			logger.Fatalf("Invalid sync schedule %q: %v", cfg.SyncSchedule, err)
		}
		scheduler.Start()
		logger.Infof("Stargazer sync scheduled: %s", cfg.SyncSchedule)
	}

	go func() {
		logger.Infof("Event server listening on %s", cfg.OneBot.ListenAddr)
		if err := eventsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Event server failed: %v", err)
		}
	}()
	go func() {
		logger.Infof("Admin API listening on %s", cfg.Server.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Admin API failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := eventsServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Event server shutdown: %v", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Admin API shutdown: %v", err)
	}
	if cfg.SyncSchedule != "" {
		<-scheduler.Stop().Done()
	}
	cancelEvents()
	events.Wait()

	logger.Info("Stargate stopped")
}

// hintEmptyLedger warns when the default repository has no stargazer rows,
// which usually means the first sync has not run yet.
func hintEmptyLedger(store *ledger.Store, routes *router.Router, logger *logrus.Logger) {
	repo := routes.DefaultRepo()
	if repo == "" {
		repos := routes.ConfiguredRepos()
		if len(repos) == 0 {
			return
		}
		repo = repos[0]
	}

	count, err := store.StargazerCount(context.Background(), repo)
	if err != nil {
		logger.Warnf("Could not check ledger state for %s: %v", repo, err)
		return
	}
	if count == 0 {
		logger.Warnf("Ledger is empty for %s; every verification will hit the GitHub API. "+
			"Run stargate-sync or POST /api/v1/sync to preload it.", repo)
	}
}
