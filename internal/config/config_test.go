package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDevDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.IsDev())
	require.Equal(t, ":8080", cfg.Address())
	require.Equal(t, devJWTSecret, cfg.JWTSecret)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, defaultReconcileSpec, cfg.ReconcileSchedule)
	require.True(t, cfg.MigrateOnStart)
}

func TestLoadProductionRequiresBackends(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REFRESH_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/wallet")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	_, err = Load()
	require.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "a")
	t.Setenv("REFRESH_SECRET", "b")
	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.IsDev())
}

func TestLoadDurationsAndDotenv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PAYOUT_QUEUE=payouts-critical\nRECONCILE_SCHEDULE=off\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("PAYOUT_QUEUE")
		os.Unsetenv("RECONCILE_SCHEDULE")
	})
	t.Setenv("APP_ENV", "local")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "90m")
	t.Setenv("PAYOUT_CONCURRENCY", "9")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, cfg.ShutdownPeriod)
	require.Equal(t, 90*time.Minute, cfg.IdempotencyTTL)
	require.Equal(t, 9, cfg.PayoutConcurrency)
	require.Equal(t, "payouts-critical", cfg.PayoutQueue)
	require.Equal(t, ScheduleOff, cfg.ReconcileSchedule)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "development")
	t.Setenv("RECONCILE_CONCURRENCY", "-1")

	_, err := Load()
	require.ErrorContains(t, err, "RECONCILE_CONCURRENCY")
}
