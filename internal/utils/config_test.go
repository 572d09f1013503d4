package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/pkg/file"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  base_url: https://updates.example.com/api/v2.6
  timeout: 10s
storage:
  downloads_dir: /sdcard/Download
services:
  update_check:
    enabled: true
    schedule: "*/30 * * * *"
    auto_download: true
  download:
    backoff_delay: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path, file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, "https://updates.example.com/api/v2.6", cfg.Server.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "/sdcard/Download", cfg.Storage.DownloadsDir)
	assert.True(t, cfg.Services.UpdateCheck.AutoDownload)
	assert.Equal(t, "*/30 * * * *", cfg.Services.UpdateCheck.Schedule)
	assert.Equal(t, 30*time.Second, cfg.Services.Download.BackoffDelay)

	// Defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, constants.DefaultMaxWorkAttempts, cfg.Services.Download.MaxAttempts)
	assert.Equal(t, "data/tmp", cfg.Storage.TempDir)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), file.NewFileService())
	assert.Error(t, err)
}
