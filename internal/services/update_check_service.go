package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/database"
	"github.com/oxygenupdater/ota-agent/internal/models"
	"github.com/oxygenupdater/ota-agent/internal/state_managers"
	"github.com/oxygenupdater/ota-agent/pkg/identity"
	"github.com/oxygenupdater/ota-agent/pkg/server"
)

// ErrInvalidSchedule is returned when the update check crontab cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid update check schedule")

// ErrNoDeviceSelected is returned when no device or update method is selected
// and none could be picked automatically.
var ErrNoDeviceSelected = errors.New("no device or update method selected")

// NewsCache stores fetched news articles.
type NewsCache interface {
	Replace(ctx context.Context, items []models.NewsItem) error
}

// CheckRecorder keeps the history of update checks.
type CheckRecorder interface {
	Record(ctx context.Context, check database.UpdateCheck) error
}

// UpdateDownloader is the part of the DownloadService used for automatic downloads.
type UpdateDownloader interface {
	Enqueue(update *models.UpdateData) (string, error)
	IsDownloaded(update *models.UpdateData) bool
	Status() StatusUpdate
}

// CheckResult is the outcome of a single update check.
type CheckResult struct {
	ServerStatus models.ServerStatus
	AppUpdate    models.AppUpdateInfo
	Update       *models.UpdateData
	NewsCount    int
	Enqueued     bool
}

// UpdateCheckService periodically asks the update server for new firmware,
// messages and news.
type UpdateCheckService struct {
	Repository   server.Repository
	DeviceInfo   identity.DeviceInfoInterface
	Preferences  state_managers.PreferenceStore
	Downloads    UpdateDownloader
	News         NewsCache
	History      CheckRecorder
	SelfUpdate   *SelfUpdateChecker
	Listener     CheckListener
	Schedule     string
	AutoDownload bool
	Logger       zerolog.Logger

	scheduler gocron.Scheduler

	mu     sync.Mutex
	update *models.UpdateData
}

// NewUpdateCheckService creates an UpdateCheckService running on the crontab schedule.
func NewUpdateCheckService(repository server.Repository, deviceInfo identity.DeviceInfoInterface, preferences state_managers.PreferenceStore,
	downloads UpdateDownloader, selfUpdate *SelfUpdateChecker, schedule string, autoDownload bool, logger zerolog.Logger) *UpdateCheckService {

	return &UpdateCheckService{
		Repository:   repository,
		DeviceInfo:   deviceInfo,
		Preferences:  preferences,
		Downloads:    downloads,
		SelfUpdate:   selfUpdate,
		Schedule:     schedule,
		AutoDownload: autoDownload,
		Logger:       logger,
	}
}

// Start schedules the periodic check and runs the first one immediately.
func (s *UpdateCheckService) Start() error {
	if s.scheduler != nil {
		return errors.New("update check service is already running")
	}

	if err := gocron.NewDefaultCron(false).IsValid(s.Schedule, time.Local, time.Now()); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, s.Schedule, err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.CronJob(s.Schedule, false),
		gocron.NewTask(s.runScheduledCheck),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return err
	}

	s.scheduler = scheduler
	s.scheduler.Start()

	s.Logger.Info().Str("schedule", s.Schedule).Msg("UpdateCheckService started successfully")
	return nil
}

// Stop shuts the scheduler down and waits for a running check.
func (s *UpdateCheckService) Stop() error {
	if s.scheduler == nil {
		return errors.New("update check service is not running")
	}
	err := s.scheduler.Shutdown()
	s.scheduler = nil

	s.Logger.Info().Msg("UpdateCheckService stopped successfully")
	return err
}

func (s *UpdateCheckService) runScheduledCheck(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	if _, err := s.Check(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("Update check failed")
	}
}

// LatestUpdate returns the update data of the last successful check.
func (s *UpdateCheckService) LatestUpdate() *models.UpdateData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update
}

// IgnoreUpdate records that the user dismissed the current update.
func (s *UpdateCheckService) IgnoreUpdate() (int64, error) {
	return s.Preferences.Increment(constants.PrefUpdateIgnoreCount)
}

// Check runs one update check.
func (s *UpdateCheckService) Check(ctx context.Context) (*CheckResult, error) {
	result := &CheckResult{}
	checkedAt := time.Now().UTC()

	err := s.check(ctx, result)
	s.record(ctx, checkedAt, result, err)
	if err != nil {
		return result, err
	}

	if err := s.Preferences.Set(constants.PrefLastCheckedDate, checkedAt.Format(time.RFC3339)); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to store last checked date")
	}
	return result, nil
}

func (s *UpdateCheckService) check(ctx context.Context, result *CheckResult) error {
	result.ServerStatus = s.Repository.FetchServerStatus(ctx)
	s.notify(func(l CheckListener) { l.OnServerStatus(result.ServerStatus) })

	if s.SelfUpdate != nil {
		result.AppUpdate = s.SelfUpdate.Check(result.ServerStatus)
		s.notify(func(l CheckListener) { l.OnAppUpdate(result.AppUpdate) })
	}

	if result.ServerStatus.Status == constants.ServerStatusUnreachable {
		return errors.New("update server is unreachable")
	}
	if !result.ServerStatus.Status.IsUserRecoverable() {
		return fmt.Errorf("update server status is %s", result.ServerStatus.Status)
	}

	devices, err := s.Repository.FetchDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch devices: %w", err)
	}
	s.notify(func(l CheckListener) { l.OnDevices(devices) })

	deviceID, methodID, err := s.selection(ctx, devices)
	if err != nil {
		return err
	}

	messages, err := s.Repository.FetchServerMessages(ctx, deviceID, methodID)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to fetch server messages")
	} else {
		s.notify(func(l CheckListener) { l.OnServerMessages(messages) })
	}

	update, err := s.Repository.FetchUpdateData(ctx, deviceID, methodID, s.DeviceInfo.GetIncrementalVersion())
	if err != nil {
		return fmt.Errorf("failed to fetch update data: %w", err)
	}
	result.Update = update
	s.storeUpdate(update)
	s.notify(func(l CheckListener) { l.OnUpdateData(update) })

	result.Enqueued = s.maybeDownload(update)

	news, err := s.Repository.FetchNews(ctx, deviceID, methodID)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to fetch news")
	} else {
		result.NewsCount = len(news)
		if s.News != nil {
			if err := s.News.Replace(ctx, news); err != nil {
				s.Logger.Error().Err(err).Msg("Failed to cache news")
			}
		}
	}

	return nil
}

// selection returns the selected device and update method, picking the device
// matching this phone and its recommended update method when none is stored.
func (s *UpdateCheckService) selection(ctx context.Context, devices []models.Device) (int64, int64, error) {
	deviceID := s.Preferences.GetInt64(constants.PrefDeviceID, constants.DefaultID)
	methodID := s.Preferences.GetInt64(constants.PrefUpdateMethodID, constants.DefaultID)

	if deviceID == constants.DefaultID {
		productName := s.DeviceInfo.GetProductName()
		for _, d := range devices {
			if d.Enabled && d.MatchesProduct(productName) {
				deviceID = d.ID
				s.setPreference(constants.PrefDeviceID, d.ID)
				s.setPreference(constants.PrefDeviceName, d.Name)
				s.Logger.Info().Str("device", d.Name).Msg("Selected device matching this phone")
				break
			}
		}
		if deviceID == constants.DefaultID {
			return 0, 0, ErrNoDeviceSelected
		}
	}

	if methodID == constants.DefaultID {
		methods, err := s.Repository.FetchUpdateMethods(ctx, deviceID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to fetch update methods: %w", err)
		}
		if len(methods) == 0 {
			return 0, 0, ErrNoDeviceSelected
		}

		chosen := methods[0]
		for _, m := range methods {
			if m.Recommended {
				chosen = m
				break
			}
		}
		methodID = chosen.ID
		s.setPreference(constants.PrefUpdateMethodID, chosen.ID)
		s.setPreference(constants.PrefUpdateMethodName, chosen.Name)
		s.Logger.Info().Str("update_method", chosen.Name).Msg("Selected update method")
	}

	return deviceID, methodID, nil
}

// storeUpdate keeps the latest update and resets the ignore counter when a new version appears.
func (s *UpdateCheckService) storeUpdate(update *models.UpdateData) {
	s.mu.Lock()
	s.update = update
	s.mu.Unlock()

	if update == nil || update.VersionNumber == "" {
		return
	}
	if s.Preferences.GetString(constants.PrefLastVersionSeen, "") != update.VersionNumber {
		s.setPreference(constants.PrefLastVersionSeen, update.VersionNumber)
		if err := s.Preferences.Remove(constants.PrefUpdateIgnoreCount); err != nil {
			s.Logger.Error().Err(err).Msg("Failed to reset update ignore counter")
		}
		s.Logger.Info().Str("version", update.VersionNumber).Msg("New update version seen")
	}
}

func (s *UpdateCheckService) maybeDownload(update *models.UpdateData) bool {
	autoDownload := s.Preferences.GetBool(constants.PrefAutoDownload, s.AutoDownload)
	if !autoDownload || s.Downloads == nil || !update.IsDownloadable() || update.SystemIsUpToDate {
		return false
	}

	status := s.Downloads.Status().Status
	if status.InProgress() || s.Downloads.IsDownloaded(update) {
		return false
	}

	if _, err := s.Downloads.Enqueue(update); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to start automatic download")
		return false
	}
	return true
}

func (s *UpdateCheckService) record(ctx context.Context, checkedAt time.Time, result *CheckResult, checkErr error) {
	if s.History == nil {
		return
	}

	entry := database.UpdateCheck{
		CheckedAt:    checkedAt,
		ServerStatus: string(result.ServerStatus.Status),
	}
	if result.Update != nil {
		entry.Version = result.Update.VersionNumber
		entry.UpToDate = result.Update.SystemIsUpToDate
	}
	if checkErr != nil {
		entry.Error = checkErr.Error()
	}

	if err := s.History.Record(ctx, entry); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to record update check")
	}
}

func (s *UpdateCheckService) notify(fn func(CheckListener)) {
	if s.Listener != nil {
		fn(s.Listener)
	}
}

func (s *UpdateCheckService) setPreference(key string, value any) {
	if err := s.Preferences.Set(key, value); err != nil {
		s.Logger.Error().Err(err).Str("key", key).Msg("Failed to store preference")
	}
}
