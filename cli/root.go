// Package cli provides the main command-line interface and HTTP server for
// the ingestion and workflow execution platform. It orchestrates the
// complete application lifecycle: configuration, persistence, domain
// collaborators, HTTP routes, background pollers, and graceful shutdown.
//
// Architecture Overview:
//
//	CLI → platformconfig → domain stores/orchestrators → echo HTTP server
//	                                                    → platformworker pollers
package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowcore.dev/asset"
	eve "flowcore.dev/common"
	"flowcore.dev/crawl"
	"flowcore.dev/db"
	"flowcore.dev/eventbus"
	"flowcore.dev/extraction"
	"flowcore.dev/extractqueue"
	"flowcore.dev/platformapi"
	"flowcore.dev/platformconfig"
	"flowcore.dev/platformworker"
	"flowcore.dev/procedure"
	"flowcore.dev/queueregistry"
	"flowcore.dev/rungroups"
	"flowcore.dev/runs"
	"flowcore.dev/sampull"
	"flowcore.dev/scheduler"
	"flowcore.dev/sharepoint"
	"flowcore.dev/storage"
)

var cfgFile string

// RootCmd is the platform's entry point: a single long-running HTTP server
// plus three background pollers (scheduled-task dispatch, extraction submit
// tick, run execution).
var RootCmd = &cobra.Command{
	Use:   "flowcore",
	Short: "ingestion and workflow execution platform",
	Long: `flowcore

A multi-tenant document ingestion and workflow execution platform:
- Document upload, versioning, and extraction
- Web crawling and SharePoint/SAM.gov sync sources
- Event-driven procedure and pipeline execution
- Cron-scheduled task dispatch

Configuration can be provided via command-line flags, environment variables,
or a YAML configuration file with automatic precedence handling.`,
	Run: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.flowcore.yaml)")
	RootCmd.PersistentFlags().String("port", "8080", "HTTP server port")
	RootCmd.PersistentFlags().String("database-url", "", "Postgres connection string")
	RootCmd.PersistentFlags().String("redis-url", "", "Redis connection string (SAM.gov daily pull budget)")

	viper.BindPFlag("port", RootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("database_url", RootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("redis_url", RootCmd.PersistentFlags().Lookup("redis-url"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".flowcore")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func runServer(cmd *cobra.Command, args []string) {
	logger := eve.NewLogger(eve.LoggerConfig{
		Level:   eve.LogLevelInfo,
		Format:  "json",
		Service: "flowcore",
	})

	registry := queueregistry.Defaults()

	cfg, err := platformconfig.Load(viper.GetViper())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	for _, o := range cfg.QueueOverrides {
		registry.ApplyOverrides(o.QueueType, queueregistry.Overrides{
			MaxConcurrent:      o.MaxConcurrent,
			TimeoutSeconds:     o.TimeoutSeconds,
			SubmissionInterval: o.SubmissionInterval,
		})
	}
	if err := cfg.Validate(registry); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	gdb, err := db.ConnectGorm(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.MigratePlatform(gdb); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	pgxCtx, pgxCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pgxPool, err := pgxpool.New(pgxCtx, cfg.DatabaseURL)
	pgxCancel()
	if err != nil {
		log.Fatalf("failed to open pgx pool: %v", err)
	}
	defer pgxPool.Close()

	blobs, err := storage.NewS3Blobs(context.Background(), storage.S3Config{
		Region:    eve.GetEnv("AWS_REGION", "us-east-1"),
		Endpoint:  eve.GetEnv("S3_ENDPOINT", ""),
		AccessKey: eve.GetEnv("AWS_ACCESS_KEY_ID", ""),
		SecretKey: eve.GetEnv("AWS_SECRET_ACCESS_KEY", ""),
		PathStyle: eve.GetEnvBool("S3_PATH_STYLE", false),
	})
	if err != nil {
		log.Fatalf("failed to configure blob storage: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis_url: %v", err)
		}
		redisClient = redis.NewClient(opts)
	}

	// Domain stores.
	runsStore := runs.NewStore(gdb)
	assetStore := asset.NewStore(gdb)
	tasksStore := scheduler.NewStore(gdb)
	dispatcherStore := scheduler.NewDispatcher(tasksStore, runsStore)
	queue := extractqueue.New(gdb, pgxPool, runsStore, assetStore, registry)
	runSpawner := &platformworker.RunSpawner{Runs: runsStore}
	groupEmitter := &platformworker.BusEmitter{}
	groups := rungroups.NewTracker(gdb, groupEmitter, runSpawner)
	notifier := eventbus.NewNotifier(pgxPool)

	enqueuer := extraction.NewQueueEnqueuer(runsStore)
	extractorRegistry := extraction.NewHTTPExtractorRegistry()
	for _, e := range cfg.ExtractionEngines {
		extractorRegistry.Register(extraction.NewHTTPExtractor(e.BaseURL, e.Name), e.Extensions)
	}
	extractionOrch := extraction.New(runsStore, assetStore, blobs, extractorRegistry, enqueuer, enqueuer, cfg.Storage.Processed)

	documentExtensions := []string{".pdf", ".docx", ".doc", ".xlsx", ".pptx"}
	renderer := crawl.NewHTTPRenderer(documentExtensions)
	crawler := crawl.New(gdb, runsStore, assetStore, blobs, queue, renderer, cfg.Storage.Uploads, cfg.Storage.Processed, cfg.Storage.Uploads)

	inventory := sharepoint.NewGraphInventory()
	syncer := sharepoint.NewSyncer(gdb, runsStore, assetStore, blobs, queue, inventory, cfg.Storage.Uploads)

	budget := sampull.NewBudgetTracker(redisClient, gdb)
	puller := sampull.New(gdb, runsStore, assetStore, blobs, queue, nil, budget, cfg.SAMGovBaseURL, cfg.Storage.Uploads)

	procedureRegistry := procedure.NewRegistry()
	procedureExecutor := procedure.NewExecutor(procedureRegistry, runsStore, nil)
	procedureCatalogue, loadWarnings, err := procedure.LoadFromDB(context.Background(), gdb)
	if err != nil {
		log.Fatalf("failed to load procedure definitions: %v", err)
	}
	for _, w := range loadWarnings {
		logger.Warn(w)
	}

	jobDispatcher := platformworker.New(gdb, runsStore, extractionOrch, crawler, syncer, puller, procedureCatalogue, procedureExecutor, groups, cfg.SAMGovAPIKey, cfg.SAMGovDailyLimit, logger)
	bus := eventbus.NewBus(gdb, runsStore, groups, procedureCatalogue, jobDispatcher, notifier)
	groupEmitter.Bus = bus
	puller.Events = bus

	bulk := platformapi.NewBulkReconciler(assetStore, queue, blobs, cfg.Storage.Uploads)

	handlers := &platformapi.Handlers{
		Runs:       runsStore,
		Assets:     assetStore,
		Queue:      queue,
		Tasks:      tasksStore,
		Dispatcher: dispatcherStore,
		Bulk:       bulk,
	}

	e := echo.New()
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	platformapi.SetupRoutes(e, handlers)

	ctx, cancelBg := context.WithCancel(context.Background())
	go jobDispatcher.Start(ctx, 3*time.Second)
	go runSchedulerBeat(ctx, dispatcherStore, logger)
	go runExtractionSubmitTick(ctx, queue, logger)

	port := viper.GetString("port")
	go func() {
		logger.Infof("server starting on port %s", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancelBg()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatal(err)
	}
}

// runSchedulerBeat drives the cron dispatcher's periodic tick.
func runSchedulerBeat(ctx context.Context, d *scheduler.Dispatcher, logger interface{ Warnf(string, ...interface{}) }) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, errs := d.Tick(ctx); len(errs) > 0 {
				for _, e := range errs {
					logger.Warnf("scheduler tick error: %v", e)
				}
			}
		}
	}
}

// runExtractionSubmitTick drives the extraction queue's submitter beat
// independently of the scheduler beat, mirroring queue_registry's
// per-queue-type submission_interval for the extraction queue specifically.
func runExtractionSubmitTick(ctx context.Context, q *extractqueue.Queue, logger interface{ Warnf(string, ...interface{}) }) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.SubmitDue(ctx); err != nil {
				logger.Warnf("extraction submit tick error: %v", err)
			}
		}
	}
}
