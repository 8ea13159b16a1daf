package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/stargate/pkg/config"
	"github.com/platinummonkey/stargate/pkg/github"
	"github.com/platinummonkey/stargate/pkg/ledger"
	"github.com/platinummonkey/stargate/pkg/router"
	"github.com/platinummonkey/stargate/pkg/verification"
)

var (
	runOnce  = flag.Bool("run-once", false, "Run a sync once and exit")
	onlyRepo = flag.String("repo", "", "Sync a single owner/repo instead of every configured repository. Only used with --run-once")
	schedule = flag.String("schedule", "", "Cron schedule override; defaults to STARGATE_SYNC_SCHEDULE")
)

func main() {
	flag.Parse()

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

	// The sync binary needs no chat transport; the coordinator is used only
	// for its sync surface.
	coordinator := verification.NewCoordinator(verification.Options{
		Source: client,
		Ledger: store,
		Router: routes,
		Logger: logger,
	})
	defer coordinator.Close()

	if *runOnce {
		if failed := runSync(coordinator, *onlyRepo, logger); failed {
			os.Exit(1)
		}
		return
	}

	spec := cfg.SyncSchedule
	if *schedule != "" {
		spec = *schedule
	}
	if spec == "" {
		logger.Fatal("No sync schedule configured; set STARGATE_SYNC_SCHEDULE or use --run-once")
	}

	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		runSync(coordinator, "", logger)
	})
	if err != nil {
		logger.Fatalf("Invalid sync schedule %q: %v", spec, err)
	}

	c.Start()
	logger.Infof("Stargazer sync scheduled: %s", spec)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	<-c.Stop().Done()
	logger.Info("Sync worker stopped")
}

// runSync runs one sync round and reports whether any repository failed.
func runSync(coordinator *verification.Coordinator, repo string, logger *logrus.Logger) bool {
	ctx := context.Background()

	if repo != "" {
		logger.Infof("Syncing %s", repo)
		if err := coordinator.SyncRepo(ctx, repo); err != nil {
			logger.Errorf("Sync of %s failed: %v", repo, err)
			return true
		}
		return false
	}

	logger.Info("Syncing all configured repositories")
	failed := false
	for repo, err := range coordinator.SyncAll(ctx) {
		if err != nil {
			logger.Errorf("Sync of %s failed: %v", repo, err)
			failed = true
		}
	}
	return failed
}
