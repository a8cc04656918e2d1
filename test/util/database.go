// Package util provides test utilities for integration tests that need a
// real Postgres instance (claim races, lease expiry, checkpoint persistence
// — none of which a mock can exercise honestly).
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx driver for database/sql
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deepresearch/researchd/pkg/database"
)

var (
	sharedHost    string
	sharedPort    int
	containerOnce sync.Once
	containerErr  error
)

// SetupTestDatabase starts (once per package run) a shared Postgres
// testcontainer, creates a fresh database for this test, applies the
// embedded migrations, and returns a ready *database.Client. The database
// is dropped when the test completes.
func SetupTestDatabase(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	host, port := getOrCreateSharedContainer(t)
	dbName := GenerateDatabaseName(t)

	admin, err := stdsql.Open("pgx", adminDSN(host, port))
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName))
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	t.Cleanup(func() {
		a, err := stdsql.Open("pgx", adminDSN(host, port))
		if err != nil {
			return
		}
		defer a.Close()
		_, _ = a.ExecContext(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName))
	})

	client, err := database.NewClient(ctx, database.Config{
		Host:            host,
		Port:            port,
		User:            "test",
		Password:        "test",
		Database:        dbName,
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func adminDSN(host string, port int) string {
	return fmt.Sprintf("host=%s port=%d user=test password=test dbname=test sslmode=disable", host, port)
}

// getOrCreateSharedContainer returns the host/port of a shared Postgres
// testcontainer, starting it on first call. CI_DATABASE_HOST/CI_DATABASE_PORT
// let CI point tests at an externally managed instance instead.
func getOrCreateSharedContainer(t *testing.T) (string, int) {
	if h := os.Getenv("CI_DATABASE_HOST"); h != "" {
		port, err := strconv.Atoi(os.Getenv("CI_DATABASE_PORT"))
		require.NoError(t, err)
		return h, port
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("starting shared postgres testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}

		host, err := pgContainer.Host(ctx)
		if err != nil {
			containerErr = fmt.Errorf("container host: %w", err)
			return
		}
		mapped, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			containerErr = fmt.Errorf("container port: %w", err)
			return
		}

		sharedHost = host
		sharedPort = mapped.Int()
	})

	require.NoError(t, containerErr, "failed to set up shared test container")
	return sharedHost, sharedPort
}

// GenerateDatabaseName creates a unique, Postgres-safe database name for the
// test, bounded by Postgres's 63-char identifier limit.
func GenerateDatabaseName(t *testing.T) string {
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}

	suffix := make([]byte, 4)
	_, err := rand.Read(suffix)
	require.NoError(t, err)

	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(suffix))
}
