// Package testhelpers starts a shared PostGIS database for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/austarch/austarch-db/internal/archive"
	"github.com/austarch/austarch-db/internal/config"
	"github.com/austarch/austarch-db/internal/db"
	"github.com/austarch/austarch-db/internal/seeds"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PostGISImage ships both postgis and pg_trgm.
const PostGISImage = "postgis/postgis:16-3.4"

// TestDB is a migrated and seeded archive database.
type TestDB struct {
	// Container is nil when DATABASE_URL pointed at an existing server.
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns the shared database for this test binary.
// DATABASE_URL wins over starting a container. Tests are skipped in short
// mode and when no database can be reached.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires PostGIS)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Skipf("PostGIS unavailable: %v", sharedTestDBErr)
	}
	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()
	log := zap.NewNop()

	tdb := &TestDB{DSN: os.Getenv("DATABASE_URL")}
	if tdb.DSN == "" {
		container, dsn, err := startContainer(ctx)
		if err != nil {
			return nil, err
		}
		tdb.Container, tdb.DSN = container, dsn
	}

	if err := db.Migrate(tdb.DSN, log); err != nil {
		return nil, err
	}

	gdb, err := db.Open(ctx, config.DatabaseConfig{
		URL:             tdb.DSN,
		MaxOpenConns:    5,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Minute,
		SlowThreshold:   time.Second,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := seeds.SeedAll(ctx, gdb, log); err != nil {
		return nil, err
	}
	tdb.DB = gdb
	return tdb, nil
}

func startContainer(ctx context.Context) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        PostGISImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "austarch_test",
			"POSTGRES_USER":     "austarch",
			"POSTGRES_PASSWORD": "test_password",
		},
		// the entrypoint restarts postgres once after running init scripts
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get container port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://austarch:test_password@%s:%s/austarch_test?sslmode=disable", host, port.Port())
	return container, dsn, nil
}

// Reset empties every archive table except the reference vocabularies.
func (d *TestDB) Reset(t *testing.T) {
	t.Helper()
	query := fmt.Sprintf(`TRUNCATE %[1]s.change_log, %[1]s.age_determination, %[1]s.sample,
		%[1]s.site, %[1]s.data_source, %[1]s.import_batch, %[1]s.bioregion RESTART IDENTITY CASCADE`, archive.Schema)
	if err := d.DB.Exec(query).Error; err != nil {
		t.Fatalf("reset archive tables: %v", err)
	}
}
