// Package common provides shared test infrastructure for container-backed
// storage tests.
package common

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// DockerEnvVar enables container-backed tests when set to "true".
const DockerEnvVar = "PAPERTRADE_TEST_DOCKER"

// RequireDocker skips the test unless container tests are enabled.
func RequireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv(DockerEnvVar) != "true" {
		t.Skipf("Docker tests disabled (set %s=true to enable)", DockerEnvVar)
	}
}

// UniqueName derives a per-test database or schema name. Subtest names
// contain "/" which neither SurrealDB nor Postgres accept in identifiers.
func UniqueName(t *testing.T, prefix string) string {
	sanitized := strings.NewReplacer("/", "_", " ", "_", "-", "_").Replace(t.Name())
	return strings.ToLower(fmt.Sprintf("%s_%s_%d", prefix, sanitized, time.Now().UnixNano()%100000))
}

// CleanupContainers terminates any shared containers started by this
// process. Call from TestMain after m.Run.
func CleanupContainers() {
	if postgresContainer != nil {
		postgresContainer.Cleanup()
	}
	if surrealContainer != nil {
		surrealContainer.Cleanup()
	}
}
