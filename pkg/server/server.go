package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/models"
)

// Repository is the update server API used by the agent.
type Repository interface {
	FetchDevices(ctx context.Context) ([]models.Device, error)
	FetchUpdateMethods(ctx context.Context, deviceID int64) ([]models.UpdateMethod, error)
	FetchUpdateData(ctx context.Context, deviceID, updateMethodID int64, incrementalVersion string) (*models.UpdateData, error)
	FetchServerStatus(ctx context.Context) models.ServerStatus
	FetchServerMessages(ctx context.Context, deviceID, updateMethodID int64) ([]models.ServerMessage, error)
	FetchNews(ctx context.Context, deviceID, updateMethodID int64) ([]models.NewsItem, error)
	LogDownloadError(ctx context.Context, report models.DownloadErrorReport) error
}

// Client talks to the update server's JSON API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
	logger     zerolog.Logger
}

// NewClient creates a Client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, userAgent string, logger zerolog.Logger) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: scheme and host are required", baseURL)
	}

	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  userAgent,
		logger:     logger,
	}, nil
}

// FetchDevices returns every device known to the server.
func (c *Client) FetchDevices(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	if err := c.get(ctx, "devices", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// FetchUpdateMethods returns the update methods available for deviceID.
func (c *Client) FetchUpdateMethods(ctx context.Context, deviceID int64) ([]models.UpdateMethod, error) {
	var methods []models.UpdateMethod
	if err := c.get(ctx, "updateMethods/"+id(deviceID), &methods); err != nil {
		return nil, err
	}
	return methods, nil
}

// FetchUpdateData returns the most recent update for the device, update method and
// currently installed incremental version.
func (c *Client) FetchUpdateData(ctx context.Context, deviceID, updateMethodID int64, incrementalVersion string) (*models.UpdateData, error) {
	path := "updateData/" + id(deviceID) + "/" + id(updateMethodID) + "/" + incrementalVersion

	var data models.UpdateData
	if err := c.get(ctx, path, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// FetchServerStatus returns the server status. An unreachable server yields
// status UNREACHABLE instead of an error.
func (c *Client) FetchServerStatus(ctx context.Context) models.ServerStatus {
	var status models.ServerStatus
	if err := c.get(ctx, "serverStatus", &status); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to fetch server status")
		return models.ServerStatus{Status: constants.ServerStatusUnreachable}
	}
	if status.Status == "" {
		status.Status = constants.ServerStatusNormal
	}
	return status
}

// FetchServerMessages returns banner messages for the device and update method.
func (c *Client) FetchServerMessages(ctx context.Context, deviceID, updateMethodID int64) ([]models.ServerMessage, error) {
	var messages []models.ServerMessage
	if err := c.get(ctx, "serverMessages/"+id(deviceID)+"/"+id(updateMethodID), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// FetchNews returns news articles for the device and update method.
func (c *Client) FetchNews(ctx context.Context, deviceID, updateMethodID int64) ([]models.NewsItem, error) {
	var news []models.NewsItem
	if err := c.get(ctx, "news/"+id(deviceID)+"/"+id(updateMethodID), &news); err != nil {
		return nil, err
	}
	return news, nil
}

// LogDownloadError reports a failed download to the server.
func (c *Client) LogDownloadError(ctx context.Context, report models.DownloadErrorReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "logDownloadError", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to log download error: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return &StatusError{Path: "logDownloadError", StatusCode: resp.StatusCode}
	}
	return nil
}

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d for %s", e.StatusCode, e.Path)
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return &StatusError{Path: path, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	c.logger.Debug().Str("path", path).Msg("Server request succeeded")
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	endpoint := c.baseURL.ResolveReference(&url.URL{Path: path})

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("unable to create http request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func id(v int64) string {
	return strconv.FormatInt(v, 10)
}
