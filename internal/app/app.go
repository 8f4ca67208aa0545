// Package app wires configuration into the running filevault components.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/prn-tf/filevault/internal/auth"
	"github.com/prn-tf/filevault/internal/cache/memory"
	cacheredis "github.com/prn-tf/filevault/internal/cache/redis"
	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/handler"
	"github.com/prn-tf/filevault/internal/lock"
	"github.com/prn-tf/filevault/internal/ratelimit"
	"github.com/prn-tf/filevault/internal/repository"
	"github.com/prn-tf/filevault/internal/repository/postgres"
	"github.com/prn-tf/filevault/internal/repository/sqlite"
	"github.com/prn-tf/filevault/internal/service"
	"github.com/prn-tf/filevault/internal/storage"
	"github.com/prn-tf/filevault/internal/storage/local"
	"github.com/prn-tf/filevault/internal/storage/minio"
	"github.com/prn-tf/filevault/internal/storage/s3"
)

// App holds every component built from a Config.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Store   *repository.Store
	Gateway storage.Gateway
	Cache   repository.Cache
	Locker  lock.Locker
	Tokens  *auth.TokenIssuer

	Users      *service.UserService
	Files      *service.FileService
	Reconciler *service.Reconciler

	// objectHandler is set for the local backend only.
	objectHandler http.Handler
	closers       []func() error
}

// New builds the application. Close releases everything New opened,
// including on a partial failure.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (a *App, err error) {
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if a.Store, err = OpenStore(ctx, cfg.Database, logger); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.Store.Database.Close)

	if a.Gateway, a.objectHandler, err = OpenGateway(ctx, cfg.Storage, logger); err != nil {
		return a, err
	}

	if err = a.openCoordination(ctx); err != nil {
		return a, err
	}

	if a.Tokens, err = auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL); err != nil {
		return a, err
	}

	a.Users = service.NewUserService(a.Store.Repos.User, cfg.Auth.BcryptCost, logger)
	a.Files = service.NewFileService(a.Store.Repos.User, a.Store.Repos.File, a.Gateway, logger, service.FileServiceConfig{
		URLExpiration:   cfg.Storage.URLExpiration,
		SignConcurrency: service.DefaultSignConcurrency,
		MaxUploadSize:   cfg.Server.MaxUploadSize,
	})
	a.Reconciler = service.NewReconciler(a.Store.Repos.User, a.Store.Repos.File, a.Gateway, a.Locker, logger, service.ReconcilerConfig{
		Interval:    cfg.Reconcile.Interval,
		GracePeriod: cfg.Reconcile.GracePeriod,
		BatchSize:   cfg.Reconcile.BatchSize,
		DryRun:      cfg.Reconcile.DryRun,
	})

	return a, nil
}

// openCoordination selects Redis or in-process implementations for the
// rate limit cache and the reconciler lock.
func (a *App) openCoordination(ctx context.Context) error {
	if a.Config.Redis.Enabled {
		client, err := cacheredis.NewClient(ctx, a.Config.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.Cache = cacheredis.NewCache(client)
		a.Locker = lock.NewRedisLocker(cacheredis.NewDistributedLock(client))
		a.Logger.Info().Str("addr", a.Config.Redis.Addr()).Msg("using redis for rate limits and locks")
		return nil
	}

	cache := memory.NewCache()
	locker := lock.NewMemoryLocker()
	a.closers = append(a.closers,
		func() error { cache.Stop(); return nil },
		func() error { locker.Stop(); return nil },
	)
	a.Cache = cache
	a.Locker = locker
	return nil
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	var limiter func(http.Handler) http.Handler
	if a.Config.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(a.Cache, ratelimit.Config{
			Requests: a.Config.RateLimit.Requests,
			Window:   a.Config.RateLimit.Window,
		}, a.Logger).Middleware
	}

	router := handler.NewRouter(handler.RouterConfig{
		AuthHandler: handler.NewAuthHandler(handler.AuthHandlerConfig{
			UserService: a.Users,
			Tokens:      a.Tokens,
			Logger:      a.Logger,
		}),
		FileHandler: handler.NewFileHandler(handler.FileHandlerConfig{
			FileService:   a.Files,
			MaxUploadSize: a.Config.Server.MaxUploadSize,
			Logger:        a.Logger,
		}),
		HealthHandler: handler.NewHealthHandler(map[string]handler.HealthChecker{
			"database": a.Store.Database,
			"storage":  a.Gateway,
		}),
		AuthMiddleware: auth.Middleware(a.Tokens, a.Store.Repos.User, a.Logger),
		ObjectHandler:  a.objectHandler,
		RateLimiter:    limiter,
		CORSOrigins:    a.Config.Server.CORSOrigins,
		Logger:         a.Logger,
	})
	return router.Handler()
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenStore connects to the configured database driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*repository.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg, logger)
	case "sqlite":
		return sqlite.Open(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenGateway builds the configured object store gateway. The returned
// handler serves signed URLs and is nil unless the local backend is used.
func OpenGateway(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (storage.Gateway, http.Handler, error) {
	switch cfg.Backend {
	case "s3":
		gw, err := s3.New(ctx, cfg.S3, logger)
		if err != nil {
			return nil, nil, err
		}
		return gw, nil, nil
	case "minio":
		gw, err := minio.New(ctx, cfg.S3, logger)
		if err != nil {
			return nil, nil, err
		}
		return gw, nil, nil
	case "local":
		gw, err := local.New(cfg.Local, logger)
		if err != nil {
			return nil, nil, err
		}
		return gw, gw.Handler(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

