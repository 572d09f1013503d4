package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/models"
	"github.com/oxygenupdater/ota-agent/internal/state_managers"
	"github.com/oxygenupdater/ota-agent/internal/work"
	"github.com/oxygenupdater/ota-agent/pkg/file"
)

// Registered worker names.
const (
	DownloadWorkerName     = "download"
	VerificationWorkerName = "verification"
)

// cancelWait bounds how long Cancel waits for a cancelled download to return.
const cancelWait = 10 * time.Second

// ErrUpdateNotDownloadable is returned when update data lacks a URL or filename.
var ErrUpdateNotDownloadable = errors.New("update has no downloadable package")

// WorkScheduler runs work in unique slots.
type WorkScheduler interface {
	EnqueueUniqueWork(slot string, policy work.ExistingWorkPolicy, req work.Request) (string, error)
	CancelUniqueWork(slot string)
	Latest(slot string) (work.Info, bool)
	IsActive(slot string) bool
	Await(ctx context.Context, slot string) error
	Observe(slot string, fn work.Observer) func()
}

// DownloadService enqueues, pauses and cancels update downloads and feeds their
// work notifications into the status tracker.
type DownloadService struct {
	Scheduler    WorkScheduler
	Tracker      *DownloadStatusTracker
	Preferences  state_managers.PreferenceStore
	FileClient   file.FileOperations
	TempDir      string
	DownloadsDir string
	BackoffDelay time.Duration
	MaxAttempts  int
	Logger       zerolog.Logger

	mu        sync.Mutex
	unobserve []func()
}

// NewDownloadService creates a DownloadService.
func NewDownloadService(scheduler WorkScheduler, tracker *DownloadStatusTracker, preferences state_managers.PreferenceStore,
	fileClient file.FileOperations, tempDir, downloadsDir string, backoffDelay time.Duration, maxAttempts int, logger zerolog.Logger) *DownloadService {

	return &DownloadService{
		Scheduler:    scheduler,
		Tracker:      tracker,
		Preferences:  preferences,
		FileClient:   fileClient,
		TempDir:      tempDir,
		DownloadsDir: downloadsDir,
		BackoffDelay: backoffDelay,
		MaxAttempts:  maxAttempts,
		Logger:       logger,
	}
}

// Start subscribes the tracker to both work slots and re-derives the current
// status from the scheduler's persisted state.
func (s *DownloadService) Start() error {
	if s.unobserve != nil {
		return errors.New("download service is already running")
	}

	for _, slot := range []string{constants.WorkUniqueDownload, constants.WorkUniqueMD5Verification} {
		s.unobserve = append(s.unobserve, s.Scheduler.Observe(slot, s.handleWorkInfo))
	}

	s.restore()

	s.Logger.Info().Str("status", string(s.Tracker.Current().Status)).Msg("DownloadService started successfully")
	return nil
}

// Stop detaches the tracker from the scheduler.
func (s *DownloadService) Stop() error {
	if s.unobserve == nil {
		return errors.New("download service is not running")
	}
	for _, fn := range s.unobserve {
		fn()
	}
	s.unobserve = nil

	s.Logger.Info().Msg("DownloadService stopped successfully")
	return nil
}

func (s *DownloadService) handleWorkInfo(info work.Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Tracker.HandleWorkInfo(info)
}

// restore replays the newest notification of each slot, oldest first, so the
// tracker ends on whichever happened last.
func (s *DownloadService) restore() {
	s.mu.Lock()
	defer s.mu.Unlock()

	download, hasDownload := s.Scheduler.Latest(constants.WorkUniqueDownload)
	verification, hasVerification := s.Scheduler.Latest(constants.WorkUniqueMD5Verification)

	switch {
	case hasDownload && hasVerification:
		if verification.UpdatedAt.Before(download.UpdatedAt) {
			s.Tracker.HandleWorkInfo(verification)
			s.Tracker.HandleWorkInfo(download)
		} else {
			s.Tracker.HandleWorkInfo(download)
			s.Tracker.HandleWorkInfo(verification)
		}
	case hasDownload:
		s.Tracker.HandleWorkInfo(download)
	case hasVerification:
		s.Tracker.HandleWorkInfo(verification)
	}
}

// Enqueue schedules the download of update, replacing any download in progress.
func (s *DownloadService) Enqueue(update *models.UpdateData) (string, error) {
	if !update.IsDownloadable() {
		return "", ErrUpdateNotDownloadable
	}

	input := work.Data{
		constants.WorkDataFilename:    update.Filename,
		constants.WorkDataVersion:     update.VersionNumber,
		constants.WorkDataOTAVersion:  update.OTAVersionNumber,
		constants.WorkDataDownloadURL: update.DownloadURL,
		constants.WorkDataMD5Sum:      update.MD5Sum,
	}.SetInt64(constants.WorkDataDownloadSize, update.DownloadSize)

	id, err := s.Scheduler.EnqueueUniqueWork(constants.WorkUniqueDownload, work.PolicyReplace, work.Request{
		WorkerName:     DownloadWorkerName,
		Input:          input,
		RequireNetwork: true,
		BackoffDelay:   s.BackoffDelay,
		MaxAttempts:    s.MaxAttempts,
	})
	if err != nil {
		return "", err
	}

	s.Logger.Info().Str("filename", update.Filename).Str("version", update.VersionNumber).Str("id", id).Msg("Download enqueued")
	return id, nil
}

// Pause stops the running download and keeps the partial file for a later resume.
func (s *DownloadService) Pause() {
	s.Scheduler.CancelUniqueWork(constants.WorkUniqueDownload)
	s.Logger.Info().Int64("bytes_done", s.Preferences.GetInt64(constants.PrefDownloadBytesDone, 0)).Msg("Download paused")
}

// Cancel stops the download and deletes both copies of the package. The status
// is reset to NOT_DOWNLOADING when the finalized copy is gone or force is set.
// It reports whether the finalized copy is gone.
func (s *DownloadService) Cancel(update *models.UpdateData, force bool) bool {
	s.Scheduler.CancelUniqueWork(constants.WorkUniqueDownload)
	if s.Scheduler.IsActive(constants.WorkUniqueMD5Verification) {
		s.Scheduler.CancelUniqueWork(constants.WorkUniqueMD5Verification)
	}

	// The worker persists its offset on the way out; let it finish before resetting.
	ctx, cancel := context.WithTimeout(context.Background(), cancelWait)
	if err := s.Scheduler.Await(ctx, constants.WorkUniqueDownload); err != nil {
		s.Logger.Warn().Err(err).Msg("Cancelled download did not stop in time")
	}
	cancel()

	deleted := true
	if update != nil && update.Filename != "" {
		if err := s.FileClient.RemoveFile(s.tempPath(update)); err != nil {
			s.Logger.Error().Err(err).Str("filename", update.Filename).Msg("Failed to delete partial download")
		}
		deleted = s.removeFinalized(update)
	}

	if err := s.Preferences.Remove(constants.PrefDownloadBytesDone); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to reset download progress")
	}

	if deleted || force {
		s.Tracker.Set(constants.DownloadStatusNotDownloading)
	}

	s.Logger.Info().Bool("deleted", deleted).Bool("force", force).Msg("Download cancelled")
	return deleted
}

// IsDownloaded reports whether the finalized package is present on disk.
func (s *DownloadService) IsDownloaded(update *models.UpdateData) bool {
	if update == nil || update.Filename == "" {
		return false
	}
	exists, err := s.FileClient.IsFileExists(s.finalPath(update))
	if err != nil {
		s.Logger.Error().Err(err).Str("filename", update.Filename).Msg("Failed to check downloaded file")
		return false
	}
	return exists
}

// DeleteDownloadedFile removes the finalized package and resets the status when it is gone.
func (s *DownloadService) DeleteDownloadedFile(update *models.UpdateData) bool {
	if update == nil || update.Filename == "" {
		return false
	}
	deleted := s.removeFinalized(update)
	if deleted {
		s.Tracker.Set(constants.DownloadStatusNotDownloading)
	}
	return deleted
}

// Status returns the last published download status.
func (s *DownloadService) Status() StatusUpdate {
	return s.Tracker.Current()
}

func (s *DownloadService) removeFinalized(update *models.UpdateData) bool {
	if err := s.FileClient.RemoveFile(s.finalPath(update)); err != nil {
		s.Logger.Error().Err(err).Str("filename", update.Filename).Msg("Failed to delete downloaded file")
		return false
	}
	return true
}

func (s *DownloadService) tempPath(update *models.UpdateData) string {
	return filepath.Join(s.TempDir, filepath.Base(update.Filename))
}

func (s *DownloadService) finalPath(update *models.UpdateData) string {
	return filepath.Join(s.DownloadsDir, filepath.Base(update.Filename))
}
