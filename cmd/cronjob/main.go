package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"library-circulation/internal/config"
	"library-circulation/internal/fines"
	"library-circulation/internal/jobs"
	"library-circulation/internal/logger"
	"library-circulation/internal/metrics"
	"library-circulation/internal/repository/postgres"
	"library-circulation/internal/scheduler"
	"library-circulation/internal/service"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (reconcile-defaulters, report-overdue-loans, audit-inventory, all)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting circulation cronjob service")

	if cfg.Database.Driver == config.DriverMemory {
		log.Fatalf("Cronjob needs a shared database, driver %q keeps state in process", cfg.Database.Driver)
	}

	store, err := postgres.Open(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()
	logger.Info("Database connection established")

	collector := metrics.NewGlobalCollector()
	circ := cfg.Circulation

	// Changes are announced to running servers by the database triggers,
	// so the classifier needs no local publisher.
	classifier := service.NewDefaulterClassifier(
		store.UserRepository,
		store.TransactionRepository,
		nil,
		collector,
		circ.LateReturnThreshold,
	)

	// Initialize Job Runner
	jobRunner := jobs.NewJobRunner(&jobs.Store{
		Transactions: store.TransactionRepository,
		Inventory:    store.InventoryReader,
		Defaulters:   classifier,
	}, fines.NewCalculator(circ.RatePerDay()), cfg, jobs.WithMetrics(collector))

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		if err := runJobOnce(jobRunner, *runOnce); err != nil {
			logger.Error("Job execution failed", "job", *runOnce, "error", err)
			os.Exit(1)
		}
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler, err := scheduler.NewScheduler(jobRunner)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) error {
	switch jobName {
	case "reconcile-defaulters":
		return jobRunner.ReconcileDefaulters()
	case "report-overdue-loans":
		return jobRunner.ReportOverdueLoans()
	case "audit-inventory":
		return jobRunner.AuditInventory()
	case "all":
		return jobRunner.RunAll()
	default:
		logger.Error("Unknown job name", "job", jobName)
		log.Fatalf("Unknown job: %s. Valid jobs: reconcile-defaulters, report-overdue-loans, audit-inventory, all", jobName)
	}
	return nil
}
