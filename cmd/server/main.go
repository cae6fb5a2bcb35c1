package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/erp/procurement/internal/application/access"
	"github.com/erp/procurement/internal/application/ledger"
	"github.com/erp/procurement/internal/application/loader"
	"github.com/erp/procurement/internal/infrastructure/auth"
	"github.com/erp/procurement/internal/infrastructure/cache"
	"github.com/erp/procurement/internal/infrastructure/config"
	"github.com/erp/procurement/internal/infrastructure/logger"
	"github.com/erp/procurement/internal/infrastructure/persistence"
	"github.com/erp/procurement/internal/infrastructure/scheduler"
	"github.com/erp/procurement/internal/infrastructure/telemetry"
	"github.com/erp/procurement/internal/interfaces/http/handler"
	"github.com/erp/procurement/internal/interfaces/http/middleware"
	"github.com/erp/procurement/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

//	@title			Procurement Core API
//	@version		1.0
//	@description	Business access, cached collections and budget postings
//	@BasePath		/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(logger.FromAppConfig(cfg.Log, cfg.App.Env))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting procurement core",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry providers are no-ops when disabled
	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	metrics, err := telemetry.NewConsistencyMetrics(meterProvider.Meter(cfg.Telemetry.ServiceName))
	if err != nil {
		log.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Create GORM logger backed by zap
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))

	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithGormLogger(gormLog))
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	dbTracing := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfigFrom(cfg.Telemetry, cfg.Database), log)
	if err := dbTracing.Register(db.DB); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	// Repositories over the document store
	store := persistence.NewGormStore(db.DB)
	relations := persistence.NewStoreRelationRepository(store)
	budgets := persistence.NewStoreBudgetRepository(store)
	invoiceRepo := persistence.NewStoreInvoiceRepository(store)

	// Collection cache, shared across instances through Redis when enabled
	collectionCache := cache.NewCollectionCache[[]persistence.Snapshot](
		cache.WithTTL(cfg.Cache.CollectionTTL),
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithLogger(log),
	)
	loaderOpts := []loader.Option{loader.WithLogger(log), loader.WithMetrics(metrics)}
	var invalidator *cache.RedisInvalidator
	if cfg.Redis.Enabled {
		invalidator, err = cache.NewRedisInvalidator(ctx, cfg.Redis,
			cache.WithInvalidatorChannel(cfg.Cache.InvalidationChannel),
			cache.WithInvalidatorLogger(log),
		)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err), zap.String("addr", cfg.Redis.Addr()))
		}
		defer func() {
			if err := invalidator.Close(); err != nil {
				log.Error("Error closing cache invalidator", zap.Error(err))
			}
		}()
		loaderOpts = append(loaderOpts, loader.WithInvalidator(invalidator))
	}

	// Application services
	resolver := access.NewResolver(relations, access.WithLogger(log), access.WithMetrics(metrics))
	collections := loader.NewCollectionLoader(store, relations, collectionCache, loaderOpts...)
	aggregator := ledger.NewAggregator(budgets, collections,
		ledger.WithMode(ledger.Mode(cfg.Ledger.Mode)),
		ledger.WithMaxRetries(cfg.Ledger.MaxRetries),
		ledger.WithLogger(log),
		ledger.WithMetrics(metrics),
	)
	invoices := ledger.NewInvoicePaymentService(invoiceRepo, aggregator, collections, clock.WallClock, log)

	if invalidator != nil {
		go func() {
			if err := invalidator.Subscribe(ctx, collections.ApplyRemote); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Cache invalidation subscription ended", zap.Error(err))
			}
		}()
	}

	// Background maintenance: relation reconcile and summary recompute sweeps
	var jobs *scheduler.Scheduler
	var sweeper *scheduler.Sweeper
	if cfg.Maintenance.Enabled {
		jobs = scheduler.NewScheduler(scheduler.Config{
			Workers:       cfg.Maintenance.Workers,
			QueueSize:     cfg.Maintenance.QueueSize,
			JobTimeout:    cfg.Maintenance.JobTimeout,
			RetryAttempts: cfg.Maintenance.RetryAttempts,
			RetryDelay:    cfg.Maintenance.RetryDelay,
		}, scheduler.NewMaintenanceExecutor(resolver, aggregator, clock.WallClock), clock.WallClock, log)
		if err := jobs.Start(ctx); err != nil {
			log.Fatal("Failed to start maintenance scheduler", zap.Error(err))
		}
		sweeper = scheduler.NewSweeper(cfg.Maintenance.SweepInterval, jobs, relations, clock.WallClock, log)
		if err := sweeper.Start(ctx); err != nil {
			log.Fatal("Failed to start maintenance sweeper", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT, clock.WallClock)

	// Handlers
	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, clock.WallClock)
	systemHandler.AddCheck("database", func(context.Context) error {
		return db.Ping()
	})

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Tracing - Start the server span (if enabled)
	// 3. Recovery - Catch panics
	// 4. Logger - Log requests
	// 5. Security - Add security headers
	// 6. CORS - Handle cross-origin requests
	// 7. BodyLimit - Limit request body size
	engine.Use(middleware.RequestID())
	if tracerProvider.IsEnabled() {
		engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     true,
		}))
		engine.Use(middleware.SpanErrorMarker())
	}
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Health check endpoint (outside API versioning)
	engine.GET("/health", systemHandler.Health)

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.SkipPaths = append(jwtConfig.SkipPaths, "/api/v1/system/health")
	jwtConfig.Logger = log
	r.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig))
	if tracerProvider.IsEnabled() {
		r.Use(middleware.TracingAttributeInjector())
	}

	routes := r.RegisterProcurement(router.Handlers{
		Access:      handler.NewAccessHandler(resolver),
		Collections: handler.NewCollectionHandler(collections),
		Ledger:      handler.NewLedgerHandler(aggregator, invoices),
		System:      systemHandler,
		Verifier:    resolver,
	})
	r.Setup()
	log.Debug("Routes registered", zap.Strings("routes", routes))

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	stop()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if sweeper != nil {
		if err := sweeper.Stop(shutdownCtx); err != nil {
			log.Error("Maintenance sweeper shutdown failed", zap.Error(err))
		}
		if err := jobs.Stop(shutdownCtx); err != nil {
			log.Error("Maintenance scheduler shutdown failed", zap.Error(err))
		}
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracer provider shutdown failed", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Meter provider shutdown failed", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
