package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	api "library-circulation/internal/api/grpc"
	"library-circulation/internal/api/grpc/interceptor"
	httpapi "library-circulation/internal/api/http"
	"library-circulation/internal/config"
	"library-circulation/internal/fines"
	"library-circulation/internal/jobs"
	"library-circulation/internal/logger"
	"library-circulation/internal/metrics"
	"library-circulation/internal/notify"
	"library-circulation/internal/repository"
	"library-circulation/internal/repository/memory"
	"library-circulation/internal/repository/postgres"
	"library-circulation/internal/retry"
	"library-circulation/internal/scheduler"
	"library-circulation/internal/security"
	"library-circulation/internal/service"
)

// stores holds the repositories of whichever backend is configured.
type stores struct {
	books        repository.BookRepository
	users        repository.UserRepository
	transactions repository.TransactionRepository
	circulation  repository.CirculationRepository
	inventory    repository.InventoryReader
	close        func() error
}

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting circulation server", "driver", cfg.Database.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer st.close()

	collector := metrics.NewGlobalCollector()

	// Change hub feeding subscribers
	hub := notify.NewHub(notify.RepositorySource{
		Books:        st.books,
		Users:        st.users,
		Transactions: st.transactions,
	}, notify.WithMetrics(collector))
	defer hub.Close()

	if cfg.Database.Driver != config.DriverMemory {
		listener := postgres.NewListener(cfg.GetDatabaseConnectionString(), cfg.Database.NotifyChannel, hub)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Change listener stopped", "error", err)
			}
		}()
	}

	// Initialize Services
	circ := cfg.Circulation
	calculator := fines.NewCalculator(circ.RatePerDay())
	retryOpts := []retry.Option{
		retry.WithMaxAttempts(circ.MaxAttempts),
		retry.WithBaseDelay(circ.BaseDelay()),
	}

	bookSvc := service.NewBookService(st.books, hub, retryOpts...)
	userSvc := service.NewUserService(st.users, hub)
	circulationSvc := service.NewCirculationService(
		st.books,
		st.users,
		st.transactions,
		st.circulation,
		calculator,
		hub,
		collector,
		service.CirculationSettings{
			LoanPeriod:       circ.LoanPeriod(),
			OperationTimeout: circ.OperationTimeout(),
			MaxAttempts:      circ.MaxAttempts,
			BaseDelay:        circ.BaseDelay(),
		},
	)
	reportSvc := service.NewReportService(st.books, st.users, st.transactions, circ.LateReturnThreshold, circ.Location())
	classifier := service.NewDefaulterClassifier(st.users, st.transactions, hub, collector, circ.LateReturnThreshold)

	go func() {
		if err := classifier.Watch(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Defaulter watch stopped", "error", err)
		}
	}()

	// In-process maintenance jobs
	if cfg.Scheduler.Enabled {
		jobRunner := jobs.NewJobRunner(&jobs.Store{
			Transactions: st.transactions,
			Inventory:    st.inventory,
			Defaulters:   classifier,
		}, calculator, cfg, jobs.WithMetrics(collector))
		cronScheduler, err := scheduler.NewScheduler(jobRunner)
		if err != nil {
			log.Fatalf("Failed to create scheduler: %v", err)
		}
		cronScheduler.Start()
		defer cronScheduler.Stop()
	}

	// Authentication is on when a JWT secret is configured
	var tokenManager security.TokenManager
	var serverOpts []grpc.ServerOption
	handlerOpts := []api.HandlerOption{api.WithOpenLoans(st.transactions)}
	if cfg.AuthEnabled() {
		tokenManager = security.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessTokenExpiry)*time.Minute)
		authInterceptor := interceptor.NewAuthInterceptor(tokenManager)
		serverOpts = append(serverOpts,
			grpc.UnaryInterceptor(authInterceptor.Unary()),
			grpc.StreamInterceptor(authInterceptor.Stream()),
		)
		handlerOpts = append(handlerOpts, api.WithOwnershipChecks())
	} else {
		logger.Warn("JWT secret not configured, authentication disabled")
	}

	handler := api.NewCirculationHandler(bookSvc, userSvc, circulationSvc, reportSvc, hub, handlerOpts...)

	// Set up gRPC server
	lis, err := net.Listen("tcp", cfg.GetServerAddress())
	if err != nil {
		logger.Error("Failed to listen", "error", err, "address", cfg.GetServerAddress())
		log.Fatalf("Failed to listen: %v", err)
	}

	s := api.NewServer(handler, serverOpts...)

	// Register reflection service for grpcurl
	reflection.Register(s)

	// HTTP read endpoints and the SSE change feed
	router := mux.NewRouter()
	httpapi.RegisterRoutes(router, httpapi.NewHandler(bookSvc, reportSvc, hub), tokenManager)
	httpServer := &http.Server{
		Addr:              cfg.GetHTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", "error", err)
		}
		s.GracefulStop()
	}()

	logger.Info("gRPC server listening", "address", cfg.GetServerAddress())
	if err := s.Serve(lis); err != nil {
		logger.Error("Failed to serve gRPC", "error", err)
		log.Fatalf("Failed to serve: %v", err)
	}
	logger.Info("Server stopped")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Database.Driver == config.DriverMemory {
		m := memory.NewStore()
		return &stores{
			books:        m.BookRepository,
			users:        m.UserRepository,
			transactions: m.TransactionRepository,
			circulation:  m.CirculationRepository,
			inventory:    m.InventoryReader,
			close:        func() error { return nil },
		}, nil
	}
	pg, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &stores{
		books:        pg.BookRepository,
		users:        pg.UserRepository,
		transactions: pg.TransactionRepository,
		circulation:  pg.CirculationRepository,
		inventory:    pg.InventoryReader,
		close:        pg.Close,
	}, nil
}
