//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

const (
	postgresPort     = "5432/tcp"
	postgresUser     = "agentcore"
	postgresPassword = "agentcore"
	postgresDB       = "agentcore_test"

	// StartupTimeout is how long to wait for Postgres to accept connections.
	StartupTimeout = 60 * time.Second
)

// PostgresContainer holds testcontainer state for a disposable Postgres
// instance used in integration tests.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgresContainer starts a Postgres container and returns its
// connection details. Callers are responsible for calling Stop.
func StartPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{postgresPort},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(postgresPort).WithStartupTimeout(StartupTimeout),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		postgresUser, postgresPassword, host, mappedPort.Port(), postgresDB)

	return &PostgresContainer{Container: container, DSN: dsn}, nil
}

// Stop terminates the container.
func (pc *PostgresContainer) Stop(ctx context.Context) error {
	if pc.Container != nil {
		return pc.Container.Terminate(ctx)
	}
	return nil
}

// Open opens a *sql.DB against the container, retrying briefly since the
// readiness probe above can still race the server's first connection accept.
func (pc *PostgresContainer) Open() (*sql.DB, error) {
	db, err := sql.Open("postgres", pc.DSN)
	if err != nil {
		return nil, err
	}

	var pingErr error
	for i := 0; i < 10; i++ {
		if pingErr = db.Ping(); pingErr == nil {
			return db, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	db.Close()
	return nil, fmt.Errorf("testutil: postgres container never became reachable: %w", pingErr)
}
