package services

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/models"
	"github.com/oxygenupdater/ota-agent/internal/state_managers"
	"github.com/oxygenupdater/ota-agent/internal/work"
	"github.com/oxygenupdater/ota-agent/pkg/download"
	"github.com/oxygenupdater/ota-agent/pkg/file"
	"github.com/oxygenupdater/ota-agent/pkg/server"
)

type downloadFixture struct {
	manager      *work.Manager
	service      *DownloadService
	tracker      *DownloadStatusTracker
	prefs        *state_managers.PreferenceStateManager
	tempDir      string
	downloadsDir string
}

func newDownloadFixture(t *testing.T, repo server.Repository) *downloadFixture {
	t.Helper()

	dir := t.TempDir()
	f := &downloadFixture{
		tempDir:      filepath.Join(dir, "tmp"),
		downloadsDir: filepath.Join(dir, "downloads"),
	}
	fileClient := file.NewFileService()

	prefs, err := state_managers.NewPreferenceStateManager(filepath.Join(dir, "preferences.json"), fileClient, zerolog.Nop())
	require.NoError(t, err)
	f.prefs = prefs

	downloader := download.NewDownloader(nil, "ota-agent-test")
	downloader.ProgressInterval = 0

	downloadWorker := NewDownloadWorker(downloader, repo, prefs, fileClient, f.tempDir, f.downloadsDir, zerolog.Nop())
	downloadWorker.freeSpace = func(string) (uint64, error) { return math.MaxUint64, nil }

	f.manager = work.NewManager(filepath.Join(dir, "work.json"), fileClient, nil, 2, zerolog.Nop())
	f.manager.RegisterWorker(DownloadWorkerName, downloadWorker)
	f.manager.RegisterWorker(VerificationWorkerName, NewVerificationWorker(fileClient, f.downloadsDir, zerolog.Nop()))
	require.NoError(t, f.manager.Start())
	t.Cleanup(func() { _ = f.manager.Stop() })

	f.tracker = NewDownloadStatusTracker(zerolog.Nop())
	f.service = NewDownloadService(f.manager, f.tracker, prefs, fileClient, f.tempDir, f.downloadsDir, 10*time.Millisecond, 3, zerolog.Nop())
	require.NoError(t, f.service.Start())
	t.Cleanup(func() { _ = f.service.Stop() })

	return f
}

func (f *downloadFixture) statusIs(status constants.DownloadStatus) func() bool {
	return func() bool { return f.tracker.Current().Status == status }
}

func packageUpdate(url string, content []byte) *models.UpdateData {
	return &models.UpdateData{
		VersionNumber:    "OnePlus7Pro 11.0.4.1",
		OTAVersionNumber: "OnePlus7ProOxygen_21.O.25_GLO",
		DownloadURL:      url,
		DownloadSize:     int64(len(content)),
		Filename:         "update.zip",
		MD5Sum:           fmt.Sprintf("%X", md5.Sum(content)),
	}
}

func servePackage(content []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "update.zip", time.Time{}, bytes.NewReader(content))
	}
}

func TestDownloadService_DownloadsAndVerifies(t *testing.T) {
	content := []byte(strings.Repeat("firmware", 4096))
	srv := httptest.NewServer(servePackage(content))
	defer srv.Close()

	f := newDownloadFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := f.tracker.Subscribe(ctx)

	update := packageUpdate(srv.URL+"/update.zip", content)
	_, err := f.service.Enqueue(update)
	require.NoError(t, err)

	var statuses []constants.DownloadStatus
	for len(statuses) == 0 || statuses[len(statuses)-1] != constants.DownloadStatusVerificationCompleted {
		select {
		case u := <-updates:
			if len(statuses) == 0 || statuses[len(statuses)-1] != u.Status {
				statuses = append(statuses, u.Status)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("download did not complete, statuses so far: %v", statuses)
		}
	}

	assert.Equal(t, []constants.DownloadStatus{
		constants.DownloadStatusQueued,
		constants.DownloadStatusDownloading,
		constants.DownloadStatusCompleted,
		constants.DownloadStatusVerifying,
		constants.DownloadStatusVerificationCompleted,
	}, statuses)

	assert.True(t, f.service.IsDownloaded(update))
	got, err := os.ReadFile(filepath.Join(f.downloadsDir, "update.zip"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = os.Stat(filepath.Join(f.tempDir, "update.zip"))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, f.prefs.Contains(constants.PrefDownloadBytesDone))
}

func TestDownloadService_EnqueueTwiceKeepsOneDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newDownloadFixture(t, nil)
	update := &models.UpdateData{DownloadURL: srv.URL, DownloadSize: 100, Filename: "update.zip"}

	var mu sync.Mutex
	states := make(map[string][]work.State)
	unobserve := f.manager.Observe(constants.WorkUniqueDownload, func(info work.Info) {
		mu.Lock()
		defer mu.Unlock()
		states[info.ID] = append(states[info.ID], info.State)
	})
	defer unobserve()

	first, err := f.service.Enqueue(update)
	require.NoError(t, err)
	require.Eventually(t, f.statusIs(constants.DownloadStatusDownloading), 2*time.Second, 5*time.Millisecond)

	second, err := f.service.Enqueue(update)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.Eventually(t, func() bool {
		latest, _ := f.manager.Latest(constants.WorkUniqueDownload)
		return latest.ID == second && latest.State == work.StateRunning
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.manager.IsActive(constants.WorkUniqueDownload))

	mu.Lock()
	firstStates := states[first]
	mu.Unlock()
	require.NotEmpty(t, firstStates)
	assert.Equal(t, work.StateCancelled, firstStates[len(firstStates)-1], "the replaced download is cancelled")

	f.service.Pause()
}

func TestDownloadService_PauseThenResumeWithRange(t *testing.T) {
	content := []byte(strings.Repeat("0123456789", 1000))
	half := len(content) / 2

	var mu sync.Mutex
	var requests int
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		n := requests
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()

		if n == 1 {
			w.Header().Set("Content-Length", fmt.Sprint(len(content)))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(content[:half])
			w.(http.Flusher).Flush()
			<-r.Context().Done()
			return
		}
		servePackage(content)(w, r)
	}))
	defer srv.Close()

	f := newDownloadFixture(t, nil)
	update := packageUpdate(srv.URL, content)

	_, err := f.service.Enqueue(update)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.prefs.GetInt64(constants.PrefDownloadBytesDone, 0) == int64(half)
	}, 2*time.Second, 5*time.Millisecond)

	f.service.Pause()
	assert.Equal(t, constants.DownloadStatusPaused, f.tracker.Current().Status)

	info, err := os.Stat(filepath.Join(f.tempDir, "update.zip"))
	require.NoError(t, err)
	assert.Equal(t, int64(half), info.Size(), "partial file is kept")

	_, err = f.service.Enqueue(update)
	require.NoError(t, err)
	require.Eventually(t, f.statusIs(constants.DownloadStatusVerificationCompleted), 5*time.Second, 5*time.Millisecond)

	got, err := os.ReadFile(filepath.Join(f.downloadsDir, "update.zip"))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", fmt.Sprintf("bytes=%d-", half)}, ranges)
}

func TestDownloadService_CancelDeletesBothCopies(t *testing.T) {
	f := newDownloadFixture(t, nil)
	update := &models.UpdateData{DownloadURL: "http://localhost/update.zip", Filename: "update.zip"}

	require.NoError(t, os.MkdirAll(f.tempDir, 0755))
	require.NoError(t, os.MkdirAll(f.downloadsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.tempDir, "update.zip"), []byte("partial"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(f.downloadsDir, "update.zip"), []byte("final"), 0644))
	require.NoError(t, f.prefs.Set(constants.PrefDownloadBytesDone, int64(7)))
	f.tracker.Set(constants.DownloadStatusVerificationCompleted)

	assert.True(t, f.service.Cancel(update, false))

	assert.False(t, f.service.IsDownloaded(update))
	_, err := os.Stat(filepath.Join(f.tempDir, "update.zip"))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, f.prefs.Contains(constants.PrefDownloadBytesDone))
	assert.Equal(t, constants.DownloadStatusNotDownloading, f.tracker.Current().Status)
}

func TestDownloadService_CancelRunningDownloadResetsProgress(t *testing.T) {
	content := []byte(strings.Repeat("0123456789", 1000))
	half := len(content) / 2

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(content)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content[:half])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	f := newDownloadFixture(t, nil)
	update := packageUpdate(srv.URL, content)

	_, err := f.service.Enqueue(update)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.prefs.GetInt64(constants.PrefDownloadBytesDone, 0) == int64(half)
	}, 2*time.Second, 5*time.Millisecond)

	assert.True(t, f.service.Cancel(update, false))
	assert.False(t, f.manager.IsActive(constants.WorkUniqueDownload))

	// The stopped worker must not write its offset back.
	time.Sleep(20 * time.Millisecond)
	assert.False(t, f.prefs.Contains(constants.PrefDownloadBytesDone))
	_, err = os.Stat(filepath.Join(f.tempDir, "update.zip"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, constants.DownloadStatusNotDownloading, f.tracker.Current().Status)
}

func TestDownloadService_CancelMissingFileCountsAsDeleted(t *testing.T) {
	f := newDownloadFixture(t, nil)
	f.tracker.Set(constants.DownloadStatusFailed)

	assert.True(t, f.service.Cancel(&models.UpdateData{Filename: "never-downloaded.zip"}, false))
	assert.Equal(t, constants.DownloadStatusNotDownloading, f.tracker.Current().Status)
}

func TestDownloadService_CancelDeletionFailure(t *testing.T) {
	f := newDownloadFixture(t, nil)
	update := &models.UpdateData{Filename: "update.zip"}

	// A non-empty directory in place of the package cannot be removed.
	require.NoError(t, os.MkdirAll(filepath.Join(f.downloadsDir, "update.zip", "child"), 0755))
	f.tracker.Set(constants.DownloadStatusCompleted)

	assert.False(t, f.service.Cancel(update, false))
	assert.Equal(t, constants.DownloadStatusCompleted, f.tracker.Current().Status)

	assert.False(t, f.service.Cancel(update, true))
	assert.Equal(t, constants.DownloadStatusNotDownloading, f.tracker.Current().Status)
}

func TestDownloadService_DeleteDownloadedFile(t *testing.T) {
	f := newDownloadFixture(t, nil)
	update := &models.UpdateData{Filename: "update.zip"}

	require.NoError(t, os.MkdirAll(f.downloadsDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.downloadsDir, "update.zip"), []byte("final"), 0644))
	f.tracker.Set(constants.DownloadStatusVerificationCompleted)
	assert.True(t, f.service.IsDownloaded(update))

	assert.True(t, f.service.DeleteDownloadedFile(update))
	assert.False(t, f.service.IsDownloaded(update))
	assert.Equal(t, constants.DownloadStatusNotDownloading, f.service.Status().Status)
}

func TestDownloadService_EnqueueRejectsIncompleteUpdate(t *testing.T) {
	f := newDownloadFixture(t, nil)

	_, err := f.service.Enqueue(&models.UpdateData{Filename: "update.zip"})
	assert.ErrorIs(t, err, ErrUpdateNotDownloadable)
	_, err = f.service.Enqueue(nil)
	assert.ErrorIs(t, err, ErrUpdateNotDownloadable)
}

type fakeScheduler struct {
	latest map[string]work.Info
}

func (f *fakeScheduler) EnqueueUniqueWork(string, work.ExistingWorkPolicy, work.Request) (string, error) {
	return "", nil
}
func (f *fakeScheduler) CancelUniqueWork(string) {}
func (f *fakeScheduler) Latest(slot string) (work.Info, bool) {
	info, ok := f.latest[slot]
	return info, ok
}
func (f *fakeScheduler) IsActive(string) bool                 { return false }
func (f *fakeScheduler) Await(context.Context, string) error  { return nil }
func (f *fakeScheduler) Observe(string, work.Observer) func() { return func() {} }

func TestDownloadService_RestoresNewestSlotState(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		latest   map[string]work.Info
		expected constants.DownloadStatus
	}{
		{"nothing", map[string]work.Info{}, constants.DownloadStatusNotDownloading},
		{"paused download", map[string]work.Info{
			constants.WorkUniqueDownload: {State: work.StateCancelled, UpdatedAt: now},
		}, constants.DownloadStatusPaused},
		{"verified after download", map[string]work.Info{
			constants.WorkUniqueDownload:        {State: work.StateSucceeded, UpdatedAt: now.Add(-time.Minute)},
			constants.WorkUniqueMD5Verification: {State: work.StateSucceeded, Tags: []string{constants.WorkTagVerification}, UpdatedAt: now},
		}, constants.DownloadStatusVerificationCompleted},
		{"new download after verification", map[string]work.Info{
			constants.WorkUniqueDownload:        {State: work.StateEnqueued, UpdatedAt: now},
			constants.WorkUniqueMD5Verification: {State: work.StateFailed, Tags: []string{constants.WorkTagVerification}, UpdatedAt: now.Add(-time.Hour)},
		}, constants.DownloadStatusQueued},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracker := NewDownloadStatusTracker(zerolog.Nop())
			s := NewDownloadService(&fakeScheduler{latest: tc.latest}, tracker, nil, nil, "", "", time.Second, 1, zerolog.Nop())

			require.NoError(t, s.Start())
			assert.Equal(t, tc.expected, tracker.Current().Status)
			assert.Error(t, s.Start())
			require.NoError(t, s.Stop())
			assert.Error(t, s.Stop())
		})
	}
}
