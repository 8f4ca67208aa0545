package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/filevault/internal/config"
	"github.com/prn-tf/filevault/internal/lock"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, MaxUploadSize: 1 << 20},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			Path:        filepath.Join(dir, "vault.db"),
			JournalMode: "WAL",
			BusyTimeout: 5000,
			AutoMigrate: true,
		},
		Storage: config.StorageConfig{
			Backend:       "local",
			URLExpiration: time.Hour,
			Local: config.LocalStorageConfig{
				DataDir:    filepath.Join(dir, "objects"),
				BaseURL:    "http://vault.test",
				SigningKey: "app-test-signing-key",
			},
		},
		Auth: config.AuthConfig{
			JWTSecret:  "0123456789abcdef0123456789abcdef",
			TokenTTL:   time.Hour,
			BcryptCost: 4,
		},
		RateLimit: config.RateLimitConfig{Enabled: true, Requests: 2, Window: time.Minute},
		Reconcile: config.ReconcileConfig{Interval: time.Hour, GracePeriod: time.Minute, BatchSize: 10},
	}
}

func TestNew_LocalStack(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	require.NotNil(t, a.Users)
	require.NotNil(t, a.Files)
	require.NotNil(t, a.Reconciler)
	require.IsType(t, &lock.MemoryLocker{}, a.Locker)

	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var codes []int
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil))
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)

	result := a.Reconciler.RunOnce(context.Background(), true)
	require.False(t, result.Skipped)
	require.Zero(t, result.Errors)
}

func TestNew_RejectsUnknownBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "ftp"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unsupported storage backend")

	cfg = testConfig(t)
	cfg.Database.Driver = "mysql"
	_, err = New(context.Background(), cfg, zerolog.Nop())
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestNewLogger(t *testing.T) {
	logger, closer, err := NewLogger(config.LoggingConfig{Level: "warn", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	require.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	path := filepath.Join(t.TempDir(), "vault.log")
	_, closer, err = NewLogger(config.LoggingConfig{Level: "debug", Format: "console", Output: path})
	require.NoError(t, err)
	require.FileExists(t, path)
	require.NoError(t, closer.Close())

	_, _, err = NewLogger(config.LoggingConfig{Level: "loud"})
	require.Error(t, err)
}
