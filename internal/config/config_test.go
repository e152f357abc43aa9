package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "corewriter", cfg.Domain.ParticipantName)
	assert.Equal(t, 4, cfg.AsyncSend.WorkerCount)
	assert.Equal(t, 10*time.Second, cfg.WLP.AutomaticLeaseDuration)
	assert.Equal(t, DurabilityBackendNone, cfg.Durability.Backend)
}

func TestLoadReadsConfigFileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := []byte("domain:\n  domain_id: 7\n  participant_name: writer-a\nasync_send:\n  worker_count: 8\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corewriter.yaml"), content, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Domain.DomainID)
	assert.Equal(t, "writer-a", cfg.Domain.ParticipantName)
	assert.Equal(t, 8, cfg.AsyncSend.WorkerCount)
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	t.Setenv("ODIN_DOMAIN_PARTICIPANT_NAME", "from-env")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Domain.ParticipantName)
}

func TestLoadRejectsInvalidSecurityConfig(t *testing.T) {
	dir := t.TempDir()
	content := []byte("security:\n  enabled: true\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corewriter.yaml"), content, 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
