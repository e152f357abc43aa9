//go:build integration

// Guarded integration test against a real Postgres, following the
// //go:build e2e gating and testcontainers-go container lifecycle of
// marmos91-dittofs's test/e2e/postgres.go. Run with:
//
//	go test -tags integration ./pkg/rtps/durability/pgstore/...
package pgstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/odin-rtps/corewriter/pkg/rtps/change"
	"github.com/odin-rtps/corewriter/pkg/rtps/guid"
)

func startPostgres(t *testing.T) Config {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "corewriter_test",
			"POSTGRES_USER":     "corewriter",
			"POSTGRES_PASSWORD": "corewriter",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("5432/tcp"),
		),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "corewriter_test",
		User:        "corewriter",
		Password:    "corewriter",
		AutoMigrate: true,
	}
}

func TestPostgresStorePutGetRoundTrip(t *testing.T) {
	cfg := startPostgres(t)
	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	w := guid.GUID{Prefix: guid.Prefix{7}, Entity: guid.EntityID{1}}
	c := &change.CacheChange{WriterGUID: w, SN: 42, Payload: []byte("durable"), SourceTime: time.Now()}
	require.NoError(t, s.Put(ctx, c))

	got, err := s.Get(ctx, w, 42)
	require.NoError(t, err)
	assert.Equal(t, c.Payload, got.Payload)
}
