package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/adapters/repository/storetest"
)

// setupTestDB starts a PostgreSQL container and returns its DSN.
func setupTestDB(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")
	return dsn
}

func TestStoreContract(t *testing.T) {
	dsn := setupTestDB(t)
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) repository.Store {
		s, err := NewStore(ctx, dsn)
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE predictions`)
		require.NoError(t, err)
		return s
	})
}

func TestStore_SchemaIsIdempotent(t *testing.T) {
	dsn := setupTestDB(t)
	ctx := context.Background()

	first, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	defer first.Close()

	second, err := NewStore(ctx, dsn)
	require.NoError(t, err, "schema must apply twice")
	defer second.Close()

	rec := storetest.Published(1, "c-1", "baseline-v1", time.Now().UTC())
	require.NoError(t, first.Insert(ctx, rec))

	got, err := second.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ContestID, got.ContestID)
	assert.Equal(t, rec.Contributions, got.Contributions)
}

func TestStore_UnscheduledRecordNeverAwaits(t *testing.T) {
	dsn := setupTestDB(t)
	ctx := context.Background()

	s, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	rec := storetest.Published(1, "c-1", "baseline-v1", time.Time{})
	require.NoError(t, s.Insert(ctx, rec))

	list, err := s.ListAwaitingOutcome(ctx, time.Now(), 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewStore_BadDSN(t *testing.T) {
	_, err := NewStore(context.Background(), "://not-a-dsn")
	assert.Error(t, err)
}
