package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/disk"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/models"
	"github.com/oxygenupdater/ota-agent/internal/state_managers"
	"github.com/oxygenupdater/ota-agent/internal/work"
	"github.com/oxygenupdater/ota-agent/pkg/download"
	"github.com/oxygenupdater/ota-agent/pkg/file"
	"github.com/oxygenupdater/ota-agent/pkg/server"
)

// DownloadWorker downloads an update package into the temporary directory,
// moves it into the downloads directory and chains its verification.
type DownloadWorker struct {
	Downloader   *download.Downloader
	Repository   server.Repository
	Preferences  state_managers.PreferenceStore
	FileClient   file.FileOperations
	TempDir      string
	DownloadsDir string
	Logger       zerolog.Logger

	freeSpace func(path string) (uint64, error)
}

// NewDownloadWorker creates a DownloadWorker.
func NewDownloadWorker(downloader *download.Downloader, repository server.Repository, preferences state_managers.PreferenceStore,
	fileClient file.FileOperations, tempDir, downloadsDir string, logger zerolog.Logger) *DownloadWorker {

	return &DownloadWorker{
		Downloader:   downloader,
		Repository:   repository,
		Preferences:  preferences,
		FileClient:   fileClient,
		TempDir:      tempDir,
		DownloadsDir: downloadsDir,
		Logger:       logger,
		freeSpace:    diskFree,
	}
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// DoWork implements work.Worker.
func (w *DownloadWorker) DoWork(ctx context.Context, params *work.Params) work.Result {
	in := params.Input
	filename := filepath.Base(in.String(constants.WorkDataFilename))
	url := in.String(constants.WorkDataDownloadURL)
	size := in.Int64(constants.WorkDataDownloadSize, 0)

	logger := w.Logger.With().Str("filename", filename).Int("attempt", params.RunAttempt).Logger()

	if filename == "." || filename == string(filepath.Separator) || url == "" {
		logger.Error().Msg("Download work is missing its filename or URL")
		return work.Failure(failureData(constants.FailureReasonMissingInput))
	}

	if err := w.FileClient.EnsureDir(w.TempDir); err != nil {
		logger.Error().Err(err).Msg("Failed to prepare download directory")
		return work.Failure(failureData(constants.FailureReasonFileSystem))
	}

	offset := w.Preferences.GetInt64(constants.PrefDownloadBytesDone, 0)
	if size > 0 {
		free, err := w.freeSpace(w.TempDir)
		if err != nil {
			logger.Warn().Err(err).Msg("Unable to determine free disk space")
		} else if needed := size - offset; needed > 0 && free < uint64(needed) {
			logger.Error().Uint64("free", free).Int64("needed", needed).Msg("Not enough storage for update")
			return work.Failure(failureData(constants.FailureReasonNotEnoughStorage))
		}
	}

	tempPath := filepath.Join(w.TempDir, filename)
	logger.Info().Str("url", url).Int64("offset", offset).Int64("size", size).Msg("Downloading update")

	done, err := w.Downloader.Download(ctx, url, tempPath, offset, size, func(p download.Progress) {
		w.saveBytesDone(p.BytesDone)
		params.SetProgress(progressData(p))
	})
	w.saveBytesDone(done)

	var httpErr *download.HTTPError
	switch {
	case ctx.Err() != nil:
		logger.Info().Int64("bytes_done", done).Msg("Download interrupted")
		return work.Retry()
	case errors.As(err, &httpErr):
		return w.httpFailure(ctx, in, httpErr, logger)
	case errors.Is(err, download.ErrRangeNotSatisfiable):
		logger.Warn().Int64("offset", done).Msg("Server rejected resume offset, restarting download")
		w.resetPartial(tempPath)
		return work.Retry()
	case err != nil:
		logger.Warn().Err(err).Int64("bytes_done", done).Msg("Download failed, retrying")
		return work.Retry()
	case size > 0 && done < size:
		logger.Warn().Int64("bytes_done", done).Int64("size", size).Msg("Download ended early, retrying")
		return work.Retry()
	}

	if err := w.FileClient.MoveFile(tempPath, filepath.Join(w.DownloadsDir, filename)); err != nil {
		logger.Error().Err(err).Msg("Failed to move update into downloads directory")
		return work.Failure(failureData(constants.FailureReasonFileSystem))
	}
	if err := w.Preferences.Remove(constants.PrefDownloadBytesDone); err != nil {
		logger.Error().Err(err).Msg("Failed to reset download progress")
	}

	logger.Info().Int64("bytes", done).Msg("Download completed")

	return work.Success(nil).Then(constants.WorkUniqueMD5Verification, work.Request{
		WorkerName: VerificationWorkerName,
		Tags:       []string{constants.WorkTagVerification},
		Input: work.Data{
			constants.WorkDataFilename: filename,
			constants.WorkDataMD5Sum:   in.String(constants.WorkDataMD5Sum),
		},
	})
}

func (w *DownloadWorker) httpFailure(ctx context.Context, in work.Data, httpErr *download.HTTPError, logger zerolog.Logger) work.Result {
	report := models.DownloadErrorReport{
		URL:         httpErr.URL,
		Filename:    in.String(constants.WorkDataFilename),
		Version:     in.String(constants.WorkDataVersion),
		OTAVersion:  in.String(constants.WorkDataOTAVersion),
		HTTPCode:    httpErr.StatusCode,
		HTTPMessage: httpErr.Status,
	}
	logger.Error().Int("http_code", report.HTTPCode).Str("http_message", report.HTTPMessage).Msg("Update server rejected download")

	if w.Repository != nil {
		if err := w.Repository.LogDownloadError(ctx, report); err != nil {
			logger.Warn().Err(err).Msg("Failed to report download error")
		}
	}

	out := failureData(constants.FailureReasonHTTP)
	out[constants.WorkDataURL] = report.URL
	out[constants.WorkDataFilename] = report.Filename
	out[constants.WorkDataVersion] = report.Version
	out[constants.WorkDataOTAVersion] = report.OTAVersion
	out[constants.WorkDataHTTPMessage] = report.HTTPMessage
	return work.Failure(out.SetInt64(constants.WorkDataHTTPCode, int64(report.HTTPCode)))
}

func (w *DownloadWorker) saveBytesDone(n int64) {
	if err := w.Preferences.Set(constants.PrefDownloadBytesDone, n); err != nil {
		w.Logger.Error().Err(err).Msg("Failed to persist download progress")
	}
}

func (w *DownloadWorker) resetPartial(path string) {
	if err := w.FileClient.RemoveFile(path); err != nil {
		w.Logger.Error().Err(err).Str("path", path).Msg("Failed to delete partial download")
	}
	if err := w.Preferences.Remove(constants.PrefDownloadBytesDone); err != nil {
		w.Logger.Error().Err(err).Msg("Failed to reset download progress")
	}
}

func progressData(p download.Progress) work.Data {
	return work.Data{}.
		SetInt64(constants.WorkDataBytesDone, p.BytesDone).
		SetInt64(constants.WorkDataTotalBytes, p.TotalBytes).
		SetInt64(constants.WorkDataPercent, int64(p.Percent)).
		SetInt64(constants.WorkDataETA, int64(p.ETA.Seconds()))
}

func failureData(reason string) work.Data {
	return work.Data{constants.WorkDataFailureReason: reason}
}

// VerificationWorker checks the MD5 of a finalized download.
type VerificationWorker struct {
	FileClient   file.FileOperations
	DownloadsDir string
	Logger       zerolog.Logger
}

// NewVerificationWorker creates a VerificationWorker.
func NewVerificationWorker(fileClient file.FileOperations, downloadsDir string, logger zerolog.Logger) *VerificationWorker {
	return &VerificationWorker{FileClient: fileClient, DownloadsDir: downloadsDir, Logger: logger}
}

// DoWork implements work.Worker. A mismatching file is deleted.
func (v *VerificationWorker) DoWork(ctx context.Context, params *work.Params) work.Result {
	filename := filepath.Base(params.Input.String(constants.WorkDataFilename))
	expected := params.Input.String(constants.WorkDataMD5Sum)
	path := filepath.Join(v.DownloadsDir, filename)

	exists, err := v.FileClient.IsFileExists(path)
	if err != nil || !exists {
		v.Logger.Error().Err(err).Str("path", path).Msg("Downloaded update is missing")
		return work.Failure(failureData(constants.FailureReasonFileSystem))
	}

	if expected == "" {
		v.Logger.Warn().Str("filename", filename).Msg("No checksum available, skipping verification")
		return work.Success(nil)
	}

	sum, err := v.FileClient.GetFileMD5(path)
	if err != nil {
		v.Logger.Error().Err(err).Str("path", path).Msg("Failed to compute checksum")
		return work.Failure(failureData(constants.FailureReasonFileSystem))
	}
	if ctx.Err() != nil {
		return work.Retry()
	}

	if !strings.EqualFold(sum, expected) {
		v.Logger.Error().Str("expected", expected).Str("actual", sum).Str("filename", filename).Msg("Checksum mismatch, deleting download")
		if err := v.FileClient.RemoveFile(path); err != nil {
			v.Logger.Error().Err(err).Str("path", path).Msg("Failed to delete corrupt download")
		}
		return work.Failure(failureData(constants.FailureReasonChecksumMismatch))
	}

	v.Logger.Info().Str("filename", filename).Msg("Update verified")
	return work.Success(work.Data{constants.WorkDataMD5Sum: sum})
}
