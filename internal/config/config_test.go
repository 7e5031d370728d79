package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().WakePhrases, cfg.WakePhrases)
	assert.FileExists(t, path)

	// Second load reads the written file, not the defaults path.
	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.QueueCapacity, again.QueueCapacity)
}

func TestPartialConfigHydrated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wake_phrases: [jarvis]\nqueue_capacity: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"jarvis"}, cfg.WakePhrases)
	assert.Equal(t, 3, cfg.QueueCapacity)
	assert.Equal(t, 5*time.Second, cfg.ShellTimeout)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.NotEmpty(t, cfg.AuditLog)
}

func TestMalformedConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wake_phrases: [unbalanced"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
