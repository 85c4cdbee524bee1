package common

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	postgresOnce      sync.Once
	postgresContainer *PostgresContainer
	postgresError     error
)

// PostgresContainer wraps a testcontainers Postgres instance.
type PostgresContainer struct {
	container testcontainers.Container
	host      string
	port      string
}

// StartPostgres starts a shared Postgres container for the test run.
// Uses sync.Once so only one container is created per process. Skips the
// test unless Docker tests are enabled.
func StartPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	RequireDocker(t)

	postgresOnce.Do(func() {
		ctx := context.Background()

		req := testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "postgres",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithDeadline(60 * time.Second),
		}

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			postgresError = fmt.Errorf("start Postgres container: %w", err)
			return
		}

		host, err := container.Host(ctx)
		if err != nil {
			container.Terminate(ctx)
			postgresError = fmt.Errorf("get Postgres host: %w", err)
			return
		}

		mappedPort, err := container.MappedPort(ctx, "5432/tcp")
		if err != nil {
			container.Terminate(ctx)
			postgresError = fmt.Errorf("get Postgres port: %w", err)
			return
		}

		postgresContainer = &PostgresContainer{
			container: container,
			host:      host,
			port:      mappedPort.Port(),
		}
	})

	if postgresError != nil {
		t.Fatalf("Postgres container failed: %v", postgresError)
	}

	return postgresContainer
}

// DSN returns a connection string for the given database.
func (c *PostgresContainer) DSN(database string) string {
	return fmt.Sprintf("postgres://postgres:password@%s:%s/%s?sslmode=disable", c.host, c.port, database)
}

// Cleanup terminates the container. Call from TestMain if needed.
func (c *PostgresContainer) Cleanup() {
	if c != nil && c.container != nil {
		c.container.Terminate(context.Background())
	}
}
