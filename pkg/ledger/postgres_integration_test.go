//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgresTestDB starts a PostgreSQL container and applies the ledger
// migrations to it.
func setupPostgresTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("ledger_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, RunMigrations(ctx, db))

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	return db
}

func TestPostgresBindInvariants(t *testing.T) {
	db := setupPostgresTestDB(t)
	ctx := context.Background()
	store := NewStore(db, nil)

	_, err := store.SyncStargazers(ctx, []string{"alice", "bob"}, "octo/repo")
	require.NoError(t, err)

	ok, err := store.Bind(ctx, "alice", "U123", "octo/repo")
	require.NoError(t, err)
	require.True(t, ok)

	// Claimed by someone else.
	ok, err = store.Bind(ctx, "alice", "U456", "octo/repo")
	require.NoError(t, err)
	assert.False(t, ok)

	// Same user, second login: rejected by the partial unique index.
	ok, err = store.Bind(ctx, "bob", "U123", "octo/repo")
	require.NoError(t, err)
	assert.False(t, ok)

	// Idempotent re-bind.
	ok, err = store.Bind(ctx, "alice", "U123", "octo/repo")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresConcurrentBindsSingleWinner(t *testing.T) {
	db := setupPostgresTestDB(t)
	ctx := context.Background()
	store := NewStore(db, nil)

	_, err := store.SyncStargazers(ctx, []string{"alice"}, "octo/repo")
	require.NoError(t, err)

	const attempts = 16
	results := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		user := "U1"
		if i%2 == 1 {
			user = "U2"
		}
		go func(u string) {
			ok, err := store.Bind(ctx, "alice", u, "octo/repo")
			assert.NoError(t, err)
			results <- ok
		}(user)
	}

	// Exactly one chat user ends up owning the claim.
	for i := 0; i < attempts; i++ {
		<-results
	}
	owner, found, err := store.ClaimOwner(ctx, "alice", "octo/repo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, []string{"U1", "U2"}, owner)
}
