package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrRangeNotSatisfiable is returned when the server rejects the resume offset.
var ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

// HTTPError is returned when the server answers with an unexpected status code.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d (%s) for %s", e.StatusCode, e.Status, e.URL)
}

// Progress describes the state of a running download.
type Progress struct {
	BytesDone  int64
	TotalBytes int64 // -1 when unknown
	Percent    int   // -1 when unknown
	ETA        time.Duration
}

// ProgressFunc receives progress updates while a download runs.
type ProgressFunc func(Progress)

// Downloader fetches files over HTTP, resuming partial files with range requests.
type Downloader struct {
	client    *http.Client
	userAgent string

	// ProgressInterval throttles progress callbacks.
	ProgressInterval time.Duration
}

// NewDownloader creates a Downloader using client.
func NewDownloader(client *http.Client, userAgent string) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &Downloader{
		client:           client,
		userAgent:        userAgent,
		ProgressInterval: time.Second,
	}
}

// Download writes url to target, continuing from offset when target already holds
// that many bytes. expectedSize is used for progress when the server omits it.
// It returns the number of bytes in target once the transfer ends.
func (d *Downloader) Download(ctx context.Context, url, target string, offset, expectedSize int64, progress ProgressFunc) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", target, err)
	}

	offset = clampOffset(target, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return offset, fmt.Errorf("unable to create http request: %w", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return offset, fmt.Errorf("unable to get http response: %w", err)
	}
	defer resp.Body.Close()

	var flags int
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags = os.O_WRONLY | os.O_APPEND
	case http.StatusOK:
		// The server ignored the range, start over.
		offset = 0
		flags = os.O_WRONLY | os.O_TRUNC
	case http.StatusRequestedRangeNotSatisfiable:
		if expectedSize > 0 && offset == expectedSize {
			return offset, nil
		}
		return offset, ErrRangeNotSatisfiable
	default:
		return offset, &HTTPError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	// #nosec G304
	fd, err := os.OpenFile(target, os.O_CREATE|flags, 0644)
	if err != nil {
		return offset, err
	}
	defer fd.Close()

	if flags&os.O_APPEND != 0 {
		// Drop anything past the offset the server resumed from.
		if err := fd.Truncate(offset); err != nil {
			return offset, err
		}
	}

	total := expectedSize
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}
	if total <= 0 {
		total = -1
	}

	w := &progressWriter{
		w:        fd,
		done:     offset,
		total:    total,
		start:    time.Now(),
		startAt:  offset,
		interval: d.ProgressInterval,
		report:   progress,
	}

	if _, err := io.CopyBuffer(w, resp.Body, make([]byte, 256*1024)); err != nil {
		return w.done, fmt.Errorf("failed to write file content to %s: %w", target, err)
	}
	w.flush()

	return w.done, nil
}

// clampOffset makes sure the resume offset never exceeds what is on disk.
func clampOffset(target string, offset int64) int64 {
	if offset <= 0 {
		return 0
	}
	info, err := os.Stat(target)
	if err != nil {
		return 0
	}
	if info.Size() < offset {
		return info.Size()
	}
	return offset
}

type progressWriter struct {
	w        io.Writer
	done     int64
	total    int64
	start    time.Time
	startAt  int64
	last     time.Time
	interval time.Duration
	report   ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)

	if p.report != nil && time.Since(p.last) >= p.interval {
		p.flush()
	}
	return n, err
}

func (p *progressWriter) flush() {
	if p.report == nil {
		return
	}
	p.last = time.Now()
	p.report(p.snapshot())
}

func (p *progressWriter) snapshot() Progress {
	out := Progress{BytesDone: p.done, TotalBytes: p.total, Percent: -1}
	if p.total <= 0 {
		return out
	}

	out.Percent = int(p.done * 100 / p.total)

	elapsed := time.Since(p.start).Seconds()
	transferred := p.done - p.startAt
	if elapsed > 0 && transferred > 0 {
		speed := float64(transferred) / elapsed
		out.ETA = time.Duration(float64(p.total-p.done)/speed) * time.Second
	}
	return out
}
