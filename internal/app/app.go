// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/push-garden/internal/broadcast"
	broadcastpostgres "github.com/bissquit/push-garden/internal/broadcast/postgres"
	"github.com/bissquit/push-garden/internal/config"
	"github.com/bissquit/push-garden/internal/delivery"
	"github.com/bissquit/push-garden/internal/delivery/pushapi"
	directorypostgres "github.com/bissquit/push-garden/internal/directory/postgres"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/identity/jwt"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/pkg/httputil"
	"github.com/bissquit/push-garden/internal/pkg/metrics"
	"github.com/bissquit/push-garden/internal/pkg/postgres"
	"github.com/bissquit/push-garden/internal/queue"
	queuepostgres "github.com/bissquit/push-garden/internal/queue/postgres"
	"github.com/bissquit/push-garden/internal/routercfg"
	routercfgpostgres "github.com/bissquit/push-garden/internal/routercfg/postgres"
	"github.com/bissquit/push-garden/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc

	cfgStore routercfg.Store
	queueSvc *queue.Service
	cycle    *Cycle
	cron     *cron.Cron
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MinIdleConns:    cfg.Database.MinIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(ctxlog.WithLogger(context.Background(), logger))

	app := &App{
		config:   cfg,
		logger:   logger,
		db:       db,
		bgCancel: bgCancel,
	}

	router := app.setupRouter()

	go app.collectDBMetrics(bgCtx)
	go app.queueSvc.CollectStats(bgCtx, cfg.Queue.StatsInterval)

	if cfg.Cron.Schedule != "" {
		if err := app.startCron(bgCtx); err != nil {
			db.Close()
			bgCancel()
			return nil, fmt.Errorf("start cron runner: %w", err)
		}
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.bgCancel()

	if a.cron != nil {
		// Wait for an in-flight cycle to finish.
		<-a.cron.Stop().Done()
	}

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

// Cycle returns the run-cycle orchestrator. Used by the one-shot run
// command.
func (a *App) Cycle() *Cycle {
	return a.cycle
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	reg := prometheus.DefaultRegisterer

	a.cfgStore = routercfgpostgres.NewStore(a.db)
	directoryRepo := directorypostgres.NewRepository(a.db)
	queueRepo := queuepostgres.NewRepository(a.db)
	broadcastRepo := broadcastpostgres.NewRepository(a.db)

	a.queueSvc = queue.NewService(queueRepo, a.cfgStore, queue.NewMetrics(reg), nil)
	broadcastMetrics := broadcast.NewMetrics(reg)
	broadcastSvc := broadcast.NewService(broadcastRepo, queueRepo, broadcastMetrics)

	sender := pushapi.NewSender(pushapi.Config{
		BaseURL:           a.config.Push.BaseURL,
		APIKey:            a.config.Push.APIKey,
		Timeout:           a.config.Push.Timeout,
		RequestsPerSecond: a.config.Push.RequestsPerSecond,
		Burst:             a.config.Push.Burst,
	})

	expander := broadcast.NewExpander(broadcastRepo, directoryRepo, queueRepo, broadcastMetrics, nil)
	processor := delivery.NewProcessor(queueRepo, directoryRepo, a.cfgStore, sender, delivery.NewMetrics(reg), nil)

	a.cycle = NewCycle(expander, processor, a.queueSvc, a.config.Queue.ProcessBatchLimit, a.config.Queue.Retention)

	queueHandler := queue.NewHandler(a.queueSvc)
	broadcastHandler := broadcast.NewHandler(broadcastSvc)
	deliveryHandler := delivery.NewHandler(processor)
	configHandler := routercfg.NewHandler(a.cfgStore)

	validator := jwt.NewValidator(jwt.Config{SecretKey: a.config.JWT.SecretKey})

	// External cron trigger, authorized by shared secret.
	r.Post("/cron/run", a.cronRunHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(validator))

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleOperator))
			queueHandler.RegisterRoutes(r)
			broadcastHandler.RegisterRoutes(r)
			deliveryHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleAdmin))
			configHandler.RegisterRoutes(r)
			r.Post("/run", a.manualRunHandler)
		})
	})

	return r
}

// manualRunHandler handles POST /api/v1/run?scope=all|broadcasts|process.
func (a *App) manualRunHandler(w http.ResponseWriter, r *http.Request) {
	a.runCycle(w, r, delivery.TriggerManual)
}

// cronRunHandler handles POST /cron/run for external schedulers. The
// caller presents the shared secret; it is compared against the
// configured bcrypt hash.
func (a *App) cronRunHandler(w http.ResponseWriter, r *http.Request) {
	if a.config.Cron.SecretHash == "" {
		httputil.Error(w, http.StatusNotFound, "cron trigger is not configured")
		return
	}

	secret := r.Header.Get("X-Cron-Secret")
	if err := bcrypt.CompareHashAndPassword([]byte(a.config.Cron.SecretHash), []byte(secret)); err != nil {
		httputil.Error(w, http.StatusUnauthorized, "invalid cron secret")
		return
	}

	a.runCycle(w, r, delivery.TriggerCron)
}

func (a *App) runCycle(w http.ResponseWriter, r *http.Request, trigger delivery.Trigger) {
	scope, err := ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.cycle.Run(r.Context(), scope, trigger)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}

// startCron schedules the automatic in-process run cycle. The auto-cron
// kill switch is consulted at every tick so flipping it takes effect
// without a restart.
func (a *App) startCron(ctx context.Context) error {
	c := cron.New()

	_, err := c.AddFunc(a.config.Cron.Schedule, func() {
		cfg, err := a.cfgStore.Load(ctx)
		if err != nil {
			a.logger.Error("cron tick: load router config failed", "error", err)
			return
		}
		if !cfg.AutoCronEnabled {
			return
		}

		if _, err := a.cycle.Run(ctx, ScopeAll, delivery.TriggerCron); err != nil {
			a.logger.Error("cron tick: run cycle failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	c.Start()
	a.cron = c
	a.logger.Info("cron runner started", "schedule", a.config.Cron.Schedule)

	return nil
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}
