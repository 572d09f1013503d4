package services

import (
	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/models"
)

// SelfUpdateChecker compares the running agent version with the latest
// version announced by the update server.
type SelfUpdateChecker struct {
	CurrentVersion string
	Logger         zerolog.Logger
}

// NewSelfUpdateChecker creates a SelfUpdateChecker for currentVersion.
func NewSelfUpdateChecker(currentVersion string, logger zerolog.Logger) *SelfUpdateChecker {
	return &SelfUpdateChecker{CurrentVersion: currentVersion, Logger: logger}
}

// Check derives self-update availability from a server status. A new major
// version, or a server declaring this agent OUTDATED, requires an immediate update.
func (c *SelfUpdateChecker) Check(status models.ServerStatus) models.AppUpdateInfo {
	info := models.AppUpdateInfo{
		CurrentVersion: c.CurrentVersion,
		LatestVersion:  status.LatestAppVersion,
	}

	if status.Status == constants.ServerStatusOutdated {
		info.Available = true
		info.Immediate = true
		return info
	}

	if status.LatestAppVersion == "" {
		return info
	}

	current, err := semver.NewVersion(c.CurrentVersion)
	if err != nil {
		c.Logger.Debug().Err(err).Str("version", c.CurrentVersion).Msg("Agent version is not semantic, skipping self-update check")
		return info
	}
	latest, err := semver.NewVersion(status.LatestAppVersion)
	if err != nil {
		c.Logger.Warn().Err(err).Str("version", status.LatestAppVersion).Msg("Server announced an invalid agent version")
		return info
	}

	if latest.GreaterThan(current) {
		info.Available = true
		info.Immediate = latest.Major() > current.Major()
	}
	return info
}
