package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/accesscore/internal/app"
	"github.com/odyssey-erp/accesscore/internal/audit"
	audithttp "github.com/odyssey-erp/accesscore/internal/audit/http"
	"github.com/odyssey-erp/accesscore/internal/auth"
	"github.com/odyssey-erp/accesscore/internal/observability"
	"github.com/odyssey-erp/accesscore/internal/platform/cache"
	"github.com/odyssey-erp/accesscore/internal/platform/db"
	"github.com/odyssey-erp/accesscore/internal/rbac"
	"github.com/odyssey-erp/accesscore/internal/roles"
	"github.com/odyssey-erp/accesscore/internal/sessions"
	"github.com/odyssey-erp/accesscore/internal/shared"
	"github.com/odyssey-erp/accesscore/internal/sidebar"
	"github.com/odyssey-erp/accesscore/internal/users"
	"github.com/odyssey-erp/accesscore/jobs"
	"github.com/odyssey-erp/accesscore/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("accesscore", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	if cfg.AutoMigrate {
		if err := migrations.Apply(ctx, dbpool); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	metrics := observability.NewMetrics()

	var (
		store       cache.Store
		redisClient *redis.Client
	)
	switch cfg.CacheBackend {
	case app.CacheBackendMemory:
		maxTTL := max(cfg.PermissionCacheTTL, cfg.SidebarCacheTTL)
		store = cache.NewMemoryStore(cfg.MemoryCacheSize, maxTTL)
		logger.Warn("in-process cache selected, run a single replica only")
	default:
		redisClient, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		store = cache.NewRedisStore(redisClient, "accesscore:")
	}

	auditEmitter := audit.NewEmitter(shared.NewAuditLogger(dbpool), cfg.AuditBuffer, nil, logger, metrics)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := auditEmitter.Close(closeCtx); err != nil {
			logger.Warn("audit drain", slog.Any("error", err))
		}
	}()

	validate := validator.New()

	permissionCache := rbac.NewPermissionCache(store, cfg.PermissionCacheTTL, nil)
	permissionCache.SetObserver(metrics)
	rbacStore := rbac.NewPGStore(dbpool)
	rbacService := rbac.NewService(rbacStore, permissionCache, auditEmitter, logger)
	gates := rbac.NewMiddleware(rbacService, cfg.PolicyMode(), logger)

	menuCache := sidebar.NewCache(store, cfg.SidebarCacheTTL, nil)
	menuCache.SetObserver(metrics)
	permissionCache.Register(menuCache)
	sidebarService := sidebar.NewService(rbacService, rbacStore, menuCache, logger)

	sessionManager := sessions.NewManager(sessions.NewRepository(dbpool), auditEmitter, nil, sessions.Config{
		DefaultLimit: cfg.DefaultMaxSessions,
		SessionTTL:   cfg.SessionTTL,
		Retention:    cfg.SessionRetention,
	}, logger)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL, nil)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(tokens, sessionManager, nil, cfg.TouchInterval, logger)
	authService := auth.NewService(auth.NewRepository(dbpool), sessionManager, tokens, cfg.SessionTTL)

	auditService := audit.NewService(audit.NewRepository(dbpool), auditEmitter)
	rolesService := roles.NewService(roles.NewRepository(dbpool), auditEmitter)
	usersService := users.NewService(users.NewRepository(dbpool), sessionManager, rbacService, auditEmitter, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Authenticator:   authenticator,
		Metrics:         metrics,
		AuthHandler:     auth.NewHandler(logger, authService, authenticator, cfg.LocationHeader),
		SessionsHandler: sessions.NewHandler(logger, sessionManager, validate, gates),
		RBACHandler:     rbac.NewHandler(logger, rbacService, validate, gates),
		SidebarHandler:  sidebar.NewHandler(logger, sidebarService),
		AuditHandler:    audithttp.NewHandler(logger, auditService, gates),
		RolesHandler:    roles.NewHandler(logger, rolesService, validate, gates),
		UsersHandler:    users.NewHandler(logger, usersService, validate, gates),
		JobHandler:      jobs.NewHandler(inspector, jobClient, gates, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server",
			slog.String("addr", cfg.AppAddr),
			slog.String("cache", cfg.CacheBackend),
			slog.String("policy", gates.Mode().String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
