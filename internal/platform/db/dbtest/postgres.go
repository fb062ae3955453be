//go:build integration

// Package dbtest starts a disposable PostgreSQL with the schema applied.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odyssey-erp/accesscore/migrations"
)

// Start runs postgres in a container, applies migrations and returns a pool.
// The container is terminated when the test ends.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("docker not available, skipping integration test")
	}
	_ = provider.Close()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("accesscore_test"),
		postgres.WithUsername("accesscore"),
		postgres.WithPassword("accesscore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.Apply(ctx, pool))
	return pool
}

// SeedUser inserts an active user and returns its id.
func SeedUser(t *testing.T, pool *pgxpool.Pool, email string, roleID int64) int64 {
	t.Helper()
	var role any
	if roleID > 0 {
		role = roleID
	}
	var id int64
	err := pool.QueryRow(context.Background(),
		`INSERT INTO users (email, password_hash, role_id) VALUES ($1, 'x', $2) RETURNING id`, email, role).Scan(&id)
	require.NoError(t, err)
	return id
}
