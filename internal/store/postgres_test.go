package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestPostgresStore runs the store suite against a throwaway PostgreSQL
// container. It needs Docker, so it only runs with FLOWD_POSTGRES_TESTS=1.
func TestPostgresStore(t *testing.T) {
	if os.Getenv("FLOWD_POSTGRES_TESTS") != "1" {
		t.Skip("set FLOWD_POSTGRES_TESTS=1 to run against PostgreSQL")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("flowd"),
		postgres.WithUsername("flowd"),
		postgres.WithPassword("flowd"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewPostgresStore(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))

	runStoreSuite(t, s)
}
