//go:build integration

// Package integration exercises the service against a real PostgreSQL
// instance. Set TRADECONF_TEST_DB_URL to reuse an existing database;
// otherwise a disposable postgres container is provisioned per run.
//
// Run with: go test -tags integration ./tests/integration/...
package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/clearlane/trade-confirmation-service/internal/config"
	"github.com/clearlane/trade-confirmation-service/internal/database"
)

const (
	testDBName     = "trade_confirmation_test"
	testDBUser     = "tradeconf_test"
	testDBPassword = "testpassword"
)

var (
	testDB   *database.DB
	testPool *pgxpool.Pool
)

func TestMain(m *testing.M) {
	// os.Exit skips deferred cleanup, so the work happens in a helper.
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbCfg, cleanup, err := provisionDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to provision test database: %v\n", err)
		return 1
	}
	defer cleanup()

	logger := zerolog.Nop()

	db, err := database.New(ctx, dbCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to test database: %v\n", err)
		return 1
	}
	defer db.Close()

	// Path is relative from tests/integration/ to migrations/.
	migrator, err := database.NewMigrator(db, "../../migrations", logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create migrator: %v\n", err)
		return 1
	}
	if err := migrator.Up(); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		return 1
	}
	if err := migrator.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close migrator: %v\n", err)
		return 1
	}

	testDB = db
	testPool = db.Pool()

	return m.Run()
}

// provisionDatabase yields connection settings for the integration run: the
// database named by TRADECONF_TEST_DB_URL when set, otherwise a throwaway
// postgres container.
func provisionDatabase(ctx context.Context) (*config.DatabaseConfig, func(), error) {
	if dbURL := os.Getenv("TRADECONF_TEST_DB_URL"); dbURL != "" {
		cfg, err := configFromURL(dbURL)
		if err != nil {
			return nil, nil, err
		}
		return cfg, func() {}, nil
	}

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase(testDBName),
		tcpostgres.WithUsername(testDBUser),
		tcpostgres.WithPassword(testDBPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start postgres container: %w", err)
	}
	cleanup := func() { terminate(ctr) }

	host, err := ctr.Host(ctx)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("resolve container host: %w", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("resolve container port: %w", err)
	}

	return testDatabaseConfig(host, port.Int(), testDBUser, testDBPassword, testDBName), cleanup, nil
}

func configFromURL(dbURL string) (*config.DatabaseConfig, error) {
	parsed, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse TRADECONF_TEST_DB_URL: %w", err)
	}
	cc := parsed.ConnConfig
	return testDatabaseConfig(cc.Host, int(cc.Port), cc.User, cc.Password, cc.Database), nil
}

func testDatabaseConfig(host string, port int, user, password, name string) *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Host:              host,
		Port:              port,
		User:              user,
		Password:          password,
		Name:              name,
		SSLMode:           "disable",
		MaxConns:          5,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
	}
}

// terminate stops a provisioned container. It runs on every exit path, so
// failures are reported rather than fatal.
func terminate(ctr testcontainers.Container) {
	if err := ctr.Terminate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate postgres container: %v\n", err)
	}
}

// cleanTables truncates the given tables between tests.
func cleanTables(t *testing.T, tables ...string) {
	t.Helper()
	ctx := context.Background()
	for _, table := range tables {
		if _, err := testPool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}
