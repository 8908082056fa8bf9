package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entityrepo "github.com/pawmark/trapper/internal/repositories/entity"
	"github.com/pawmark/trapper/pkg/database"
	"github.com/pawmark/trapper/pkg/models"
)

// setupDB connects to the database named by TEST_DATABASE_URL and brings the
// schema up to date. Tests skip when no database is configured.
func setupDB(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Database not configured")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m, err := migrate.New("file://../../db/pg", dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("migrations failed: %v", err)
	}

	return database.NewDatabaseInstance(db, testLogger())
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// Concurrent creates for the same identity must converge on one entity: the
// advisory lock serializes creators, and everyone who loses the race gets
// the winner's row back from the re-check.
func TestCreateWithDedup_ConcurrentCreatesOneEntity(t *testing.T) {
	db := setupDB(t)
	repo := entityrepo.NewRepository(db, testLogger())

	email := fmt.Sprintf("dedup-%d@example.com", time.Now().UnixNano())

	const callers = 8
	var wg sync.WaitGroup
	ids := make([]string, callers)
	created := make([]bool, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entity, wasCreated, err := repo.CreateWithDedup(context.Background(), &models.CreateEntityRequest{
				Kind:         models.EntityKindPerson,
				DisplayName:  "Jane Doe",
				Email:        email,
				SourceSystem: "webform",
			})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = entity.ID
			created[i] = wasCreated
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "every caller must resolve to the same entity")
		if created[i] {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount, "exactly one caller creates the entity")

	owner, err := repo.ActiveIdentifierOwner(context.Background(), models.IdentifierTypeEmail, email)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, ids[0], owner.ID)
}

// A second create for an already-owned identifier short-circuits on the
// re-check and reports created=false.
func TestCreateWithDedup_SecondCreateReturnsExisting(t *testing.T) {
	db := setupDB(t)
	repo := entityrepo.NewRepository(db, testLogger())

	phone := fmt.Sprintf("7%09d", time.Now().UnixNano()%1000000000)

	first, wasCreated, err := repo.CreateWithDedup(context.Background(), &models.CreateEntityRequest{
		Kind:         models.EntityKindPerson,
		DisplayName:  "Maria Lopez",
		Phone:        phone,
		SourceSystem: "clinichq",
	})
	require.NoError(t, err)
	require.True(t, wasCreated)

	second, wasCreated, err := repo.CreateWithDedup(context.Background(), &models.CreateEntityRequest{
		Kind:         models.EntityKindPerson,
		DisplayName:  "Maria R. Lopez",
		Phone:        phone,
		SourceSystem: "webform",
	})
	require.NoError(t, err)
	assert.False(t, wasCreated)
	assert.Equal(t, first.ID, second.ID)
}
