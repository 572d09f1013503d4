package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/models"
	"github.com/oxygenupdater/ota-agent/internal/services"
	"github.com/oxygenupdater/ota-agent/internal/work"
	"github.com/oxygenupdater/ota-agent/pkg/file"
)

func fakeUpdateServer(t *testing.T) *httptest.Server {
	t.Helper()

	respond := func(v any) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(v)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/serverStatus", respond(models.ServerStatus{Status: constants.ServerStatusNormal, LatestAppVersion: "1.0.0"}))
	mux.HandleFunc("/devices", respond([]models.Device{
		{ID: 1, Name: "OnePlus 7 Pro", ProductNames: []string{"OnePlus7Pro"}, Enabled: true},
		{ID: 2, Name: "OnePlus 8", ProductNames: []string{"OnePlus8"}, Enabled: true},
	}))
	mux.HandleFunc("/updateMethods/1", respond([]models.UpdateMethod{
		{ID: 10, Name: "Stable incremental", Recommended: true},
		{ID: 11, Name: "Full update"},
	}))
	mux.HandleFunc("/serverMessages/1/10", respond([]models.ServerMessage{}))
	mux.HandleFunc("/updateData/1/10/190501", respond(models.UpdateData{
		ID:                         5,
		VersionNumber:              "OxygenOS 10.0.1",
		OTAVersionNumber:           "OnePlus7ProOxygen_21.O.10_GLO_010_1909101500",
		DownloadURL:                "http://example.invalid/update.zip",
		DownloadSize:               3 * 1024 * 1024,
		Filename:                   "update.zip",
		UpdateInformationAvailable: true,
	}))
	mux.HandleFunc("/news/1/10", respond([]models.NewsItem{
		{ID: 7, Title: "Android 10 rollout", Text: "Rolling out now.", DatePublished: time.Date(2019, 9, 12, 0, 0, 0, 0, time.UTC)},
	}))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeTestConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()

	deviceFile := filepath.Join(dir, "device.json")
	require.NoError(t, os.WriteFile(deviceFile, []byte(`{"product_name":"OnePlus7Pro","ota_version":"21.O.09","incremental_version":"190501"}`), 0644))

	config := fmt.Sprintf(`
logging:
  level: error
server:
  base_url: %s
  timeout: 5s
identity:
  device_file: %s
storage:
  preferences_file: %s
  work_state_file: %s
  database_file: %s
  temp_dir: %s
  downloads_dir: %s
`, baseURL, deviceFile,
		filepath.Join(dir, "preferences.json"),
		filepath.Join(dir, "work.json"),
		filepath.Join(dir, "agent.db"),
		filepath.Join(dir, "tmp"),
		filepath.Join(dir, "downloads"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0644))
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCmd("1.0.0")
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))

	err := cmd.Execute()
	return out.String(), err
}

// interruptingWriter cancels the command once marker has been printed.
type interruptingWriter struct {
	bytes.Buffer
	marker string
	cancel context.CancelFunc
}

func (w *interruptingWriter) Write(p []byte) (int, error) {
	n, err := w.Buffer.Write(p)
	if strings.Contains(w.Buffer.String(), w.marker) {
		w.cancel()
	}
	return n, err
}

func TestVersionNeedsNoConfig(t *testing.T) {
	out, err := runCLI(t, filepath.Join(t.TempDir(), "missing.yaml"), "version")
	require.NoError(t, err)
	assert.Equal(t, "ota-agent 1.0.0\n", out)
}

func TestMissingConfigFails(t *testing.T) {
	_, err := runCLI(t, filepath.Join(t.TempDir(), "missing.yaml"), "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestDevicesListAndSelect(t *testing.T) {
	config := writeTestConfig(t, fakeUpdateServer(t).URL)

	out, err := runCLI(t, config, "devices")
	require.NoError(t, err)
	assert.Contains(t, out, "+  1")
	assert.Contains(t, out, "OnePlus 8")

	_, err = runCLI(t, config, "devices", "select", "1", "99")
	require.Error(t, err)

	out, err = runCLI(t, config, "devices", "select", "1", "11")
	require.NoError(t, err)
	assert.Equal(t, "Selected OnePlus 7 Pro (Full update)\n", out)

	out, err = runCLI(t, config, "devices", "methods")
	require.NoError(t, err)
	assert.Contains(t, out, "*  11")

	out, err = runCLI(t, config, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "OnePlus 7 Pro")
	assert.Contains(t, out, "Full update")
}

func TestCheckThenNewsAndStatus(t *testing.T) {
	config := writeTestConfig(t, fakeUpdateServer(t).URL)

	out, err := runCLI(t, config, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "NORMAL")
	assert.Contains(t, out, "OxygenOS 10.0.1")
	assert.Contains(t, out, "3.0 MiB")
	assert.Contains(t, out, "1 articles")

	out, err = runCLI(t, config, "news")
	require.NoError(t, err)
	assert.Contains(t, out, "Android 10 rollout")
	assert.Contains(t, out, "*  7")

	out, err = runCLI(t, config, "news", "show", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Rolling out now.")

	_, err = runCLI(t, config, "news", "read", "8")
	require.Error(t, err)

	out, err = runCLI(t, config, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "OnePlus 7 Pro")
	assert.Contains(t, out, "Stable incremental")
	assert.Regexp(t, `Unread news:\s+0`, out)
	assert.Contains(t, out, "NOT_DOWNLOADING")
	assert.Contains(t, out, "Recent checks:")
	assert.Contains(t, out, "update available")

	out, err = runCLI(t, config, "ignore")
	require.NoError(t, err)
	assert.Equal(t, "Update ignored (1 times)\n", out)
}

func TestCheckUnreachableServer(t *testing.T) {
	server := fakeUpdateServer(t)
	config := writeTestConfig(t, server.URL)
	server.Close()

	out, err := runCLI(t, config, "check")
	require.Error(t, err)
	assert.Contains(t, out, "UNREACHABLE")
}

func TestPage(t *testing.T) {
	config := writeTestConfig(t, "http://127.0.0.1:1")

	out, err := runCLI(t, config, "page")
	require.NoError(t, err)
	assert.Equal(t, "update\n", out)

	_, err = runCLI(t, config, "page", "news")
	require.NoError(t, err)

	out, err = runCLI(t, config, "page")
	require.NoError(t, err)
	assert.Equal(t, "news\n", out)

	_, err = runCLI(t, config, "page", "gallery")
	require.Error(t, err)
}

func TestInterruptedDownloadIsPaused(t *testing.T) {
	config := writeTestConfig(t, fakeUpdateServer(t).URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &interruptingWriter{marker: "Downloading update.zip", cancel: cancel}

	cmd := NewRootCmd("1.0.0")
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--config", config, "download"})
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "Download paused")

	snapshot, err := work.Snapshot(filepath.Join(filepath.Dir(config), "work.json"), file.NewFileService())
	require.NoError(t, err)
	assert.Equal(t, work.StateCancelled, snapshot[constants.WorkUniqueDownload].State)

	status, _ := downloadStatusFromSnapshot(snapshot)
	assert.Equal(t, constants.DownloadStatusPaused, status)

	statusOut, err := runCLI(t, config, "status")
	require.NoError(t, err)
	assert.Contains(t, statusOut, "DOWNLOAD_PAUSED")
}

func TestDeleteDownloadedUpdate(t *testing.T) {
	config := writeTestConfig(t, fakeUpdateServer(t).URL)

	out, err := runCLI(t, config, "delete")
	require.NoError(t, err)
	assert.Equal(t, "No downloaded update\n", out)

	downloaded := filepath.Join(filepath.Dir(config), "downloads", "update.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(downloaded), 0755))
	require.NoError(t, os.WriteFile(downloaded, []byte("package"), 0644))

	out, err = runCLI(t, config, "delete")
	require.NoError(t, err)
	assert.Equal(t, "Deleted update.zip\n", out)
	assert.NoFileExists(t, downloaded)
}

func TestDownloadStatusFromSnapshot(t *testing.T) {
	now := time.Now()

	status, info := downloadStatusFromSnapshot(map[string]work.Info{})
	assert.Equal(t, constants.DownloadStatusNotDownloading, status)
	assert.Nil(t, info)

	snapshot := map[string]work.Info{
		constants.WorkUniqueDownload: {State: work.StateSucceeded, UpdatedAt: now},
		constants.WorkUniqueMD5Verification: {
			State:     work.StateFailed,
			Tags:      []string{constants.WorkTagVerification},
			Output:    work.Data{constants.WorkDataFailureReason: constants.FailureReasonChecksumMismatch},
			UpdatedAt: now.Add(time.Second),
		},
	}
	status, info = downloadStatusFromSnapshot(snapshot)
	assert.Equal(t, constants.DownloadStatusVerificationFailed, status)
	require.NotNil(t, info)
	assert.Equal(t, constants.FailureReasonChecksumMismatch, info.Output.String(constants.WorkDataFailureReason))

	snapshot[constants.WorkUniqueDownload] = work.Info{State: work.StateCancelled, UpdatedAt: now.Add(2 * time.Second)}
	status, _ = downloadStatusFromSnapshot(snapshot)
	assert.Equal(t, constants.DownloadStatusPaused, status)
}

func TestWaitForDownload(t *testing.T) {
	running := func(done int64) services.StatusUpdate {
		info := work.Info{State: work.StateRunning, Progress: work.Data{}.
			SetInt64(constants.WorkDataBytesDone, done).
			SetInt64(constants.WorkDataTotalBytes, 2048).
			SetInt64(constants.WorkDataPercent, done*100/2048)}
		return services.StatusUpdate{Status: constants.DownloadStatusDownloading, WorkInfo: &info}
	}

	t.Run("verified", func(t *testing.T) {
		updates := make(chan services.StatusUpdate, 5)
		updates <- services.StatusUpdate{Status: constants.DownloadStatusQueued}
		updates <- running(1024)
		updates <- services.StatusUpdate{Status: constants.DownloadStatusCompleted}
		updates <- services.StatusUpdate{Status: constants.DownloadStatusVerifying}
		updates <- services.StatusUpdate{Status: constants.DownloadStatusVerificationCompleted}

		var out bytes.Buffer
		require.NoError(t, waitForDownload(context.Background(), &out, updates))
		assert.Contains(t, out.String(), " 50%")
		assert.Contains(t, out.String(), "VERIFICATION_COMPLETED")
	})

	t.Run("failed", func(t *testing.T) {
		info := work.Info{State: work.StateFailed, Output: work.Data{constants.WorkDataFailureReason: constants.FailureReasonHTTP}}
		updates := make(chan services.StatusUpdate, 1)
		updates <- services.StatusUpdate{Status: constants.DownloadStatusFailed, WorkInfo: &info}

		err := waitForDownload(context.Background(), io.Discard, updates)
		require.Error(t, err)
		assert.Contains(t, err.Error(), constants.FailureReasonHTTP)
	})

	t.Run("interrupted", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		var out bytes.Buffer
		require.NoError(t, waitForDownload(ctx, &out, make(chan services.StatusUpdate)))
		assert.Contains(t, out.String(), "paused")
	})
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "2.0 GiB", formatBytes(2<<30))
	assert.Equal(t, "0 B", formatBytes(-1))
}
