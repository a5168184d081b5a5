package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskcal-go/internal/auth"
	"taskcal-go/internal/calendar"
	"taskcal-go/internal/calsync"
	"taskcal-go/internal/config"
	"taskcal-go/internal/provider"
	"taskcal-go/internal/scheduler"
	"taskcal-go/internal/session"
	"taskcal-go/internal/storage"
	"taskcal-go/internal/worker"
)

const (
	stateTTL          = 10 * time.Minute
	httpClientTimeout = 15 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Options overrides remote endpoints. The zero value talks to the real
// provider APIs.
type Options struct {
	HTTPClient        *http.Client
	GoogleAPIEndpoint string
	GraphBaseURL      string
	TokenURLs         map[provider.Provider]string
}

// Application holds all the major components of the service.
type Application struct {
	Config        *config.Config
	Logger        *zap.Logger
	Storage       *storage.SQLiteStorage
	Scheduler     *scheduler.Scheduler
	WorkerPool    *worker.WorkerPool
	Auth          *auth.OAuthManager
	Tokens        *auth.TokenStore
	Refresher     *auth.Refresher
	Sync          *calsync.Orchestrator
	SessionStore  session.Store
	HttpServer    *http.Server
	MetricsServer *http.Server

	providers auth.Providers
	validate  *validator.Validate
	now       func() time.Time
	serveErrs chan error
	httpAddr  net.Addr
}

// New creates and initializes a new Application instance.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Application, error) {
	// Setup: Database
	dbCfg := storage.DefaultConfig()
	dbCfg.Path = cfg.DBPath
	db, err := storage.OpenDatabase(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	app, err := build(ctx, cfg, logger, opts, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options, db *storage.SQLiteStorage) (*Application, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: httpClientTimeout}
	}

	// Setup: Credentials
	creds, err := storage.NewCredentialStore(db, []byte(cfg.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}
	tokens := auth.NewTokenStore(creds, logger)

	providers := auth.NewProviders(cfg)
	for p, tokenURL := range opts.TokenURLs {
		if pc, ok := providers[p]; ok {
			pc.Endpoint.TokenURL = tokenURL
		}
	}

	// Setup: Auth
	refresher := auth.NewRefresher(providers, tokens, client, logger)
	oauthManager := auth.NewOAuthManager(providers, tokens,
		auth.NewInMemoryFlowStore(stateTTL), client, logger)

	// Setup: Calendar sync
	adapters := []calendar.Adapter{
		calendar.NewGoogleAdapter(opts.GoogleAPIEndpoint, client, cfg.TimeZone, logger),
		calendar.NewOutlookAdapter(opts.GraphBaseURL, client, cfg.TimeZone, logger),
	}
	orchestrator := calsync.New(db, tokens, refresher, adapters, logger)

	// Setup: WorkerPool
	pool := worker.NewWorkerPool(worker.DefaultConfig(cfg.NumWorkers), logger)

	// Setup: Session Store
	var sessionStore session.Store = session.NewSQLStore(db.DB())
	if cfg.SessionStore == "memory" {
		sessionStore = session.NewInMemoryStore()
	}

	// Setup: Scheduler
	sched, err := scheduler.NewScheduler(ctx, db, pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	refreshService := auth.NewTokenRefreshService(creds, refresher, cfg.Scheduler.RefreshWindow.Duration, logger)
	if _, err := sched.Register(scheduler.JobTokenRefresh, cfg.Scheduler.TokenRefreshSchedule,
		scheduler.TokenRefreshJob(refreshService)); err != nil {
		return nil, fmt.Errorf("failed to register token refresh job: %w", err)
	}
	if _, err := sched.Register(scheduler.JobCleanup, cfg.Scheduler.CleanupSchedule,
		scheduler.CleanupJob(db, sessionStore, cfg.Scheduler.CredentialRetention.Duration, logger)); err != nil {
		return nil, fmt.Errorf("failed to register cleanup job: %w", err)
	}

	app := &Application{
		Config:       cfg,
		Logger:       logger,
		Storage:      db,
		Scheduler:    sched,
		WorkerPool:   pool,
		Auth:         oauthManager,
		Tokens:       tokens,
		Refresher:    refresher,
		Sync:         orchestrator,
		SessionStore: sessionStore,
		providers:    providers,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		now:          time.Now,
		serveErrs:    make(chan error, 2),
	}

	// Setup: HTTP Server for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	app.MetricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Setup: Main HTTP Server
	app.HttpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return app, nil
}

// Start begins the application's services. Listener failures after startup
// are reported on Errors.
func (a *Application) Start(ctx context.Context) error {
	a.Logger.Info("starting application services")

	httpLn, err := net.Listen("tcp", a.HttpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.HttpServer.Addr, err)
	}
	metricsLn, err := net.Listen("tcp", a.MetricsServer.Addr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("failed to listen on %s: %w", a.MetricsServer.Addr, err)
	}
	a.httpAddr = httpLn.Addr()

	a.WorkerPool.Start()
	a.Logger.Info("worker pool started", zap.Int("workers", a.WorkerPool.Workers()))

	a.Scheduler.Start()
	a.Logger.Info("scheduler started")

	go a.serve(a.MetricsServer, metricsLn, "metrics")
	go a.serve(a.HttpServer, httpLn, "http")

	return nil
}

func (a *Application) serve(srv *http.Server, ln net.Listener, name string) {
	a.Logger.Info("starting server", zap.String("server", name), zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		a.Logger.Error("server stopped unexpectedly", zap.String("server", name), zap.Error(err))
		a.serveErrs <- fmt.Errorf("%s server: %w", name, err)
	}
}

// Errors reports servers that stopped without Stop being called.
func (a *Application) Errors() <-chan error {
	return a.serveErrs
}

// HTTPAddr is the address the main server listens on once started.
func (a *Application) HTTPAddr() net.Addr {
	return a.httpAddr
}

// Stop gracefully shuts down the application's services.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.Info("stopping application services")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.HttpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
	}

	a.Scheduler.Stop()
	a.Logger.Info("scheduler stopped")

	a.WorkerPool.Stop(shutdownCtx)
	a.Logger.Info("worker pool stopped", zap.Int("dead_letters", a.WorkerPool.DeadLetterCount()))

	if err := a.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		a.Logger.Error("application stopped with errors", zap.Error(err))
		return err
	}
	a.Logger.Info("application stopped gracefully")
	return nil
}

// calendarID returns the configured target calendar of p.
func (a *Application) calendarID(p provider.Provider) string {
	if pc, err := a.providers.Get(p); err == nil {
		return pc.CalendarID
	}
	return ""
}
