package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/work"
)

// workStatusTable maps a work state to the download status for download work
// (index 0) and verification work (index 1).
//
// Cancelled download work means the user paused it: pausing is implemented by
// cancelling and later re-enqueueing with a byte offset. Verification cannot be
// resumed, so its cancellation counts as a failure.
var workStatusTable = map[work.State][2]constants.DownloadStatus{
	work.StateEnqueued:  {constants.DownloadStatusQueued, constants.DownloadStatusVerifying},
	work.StateRunning:   {constants.DownloadStatusDownloading, constants.DownloadStatusVerifying},
	work.StateSucceeded: {constants.DownloadStatusCompleted, constants.DownloadStatusVerificationCompleted},
	work.StateFailed:    {constants.DownloadStatusFailed, constants.DownloadStatusVerificationFailed},
	work.StateBlocked:   {constants.DownloadStatusQueued, constants.DownloadStatusVerifying},
	work.StateCancelled: {constants.DownloadStatusPaused, constants.DownloadStatusVerificationFailed},
}

// MapWorkState translates a work lifecycle state into a download status.
// Unknown states map to NOT_DOWNLOADING.
func MapWorkState(state work.State, isVerification bool) constants.DownloadStatus {
	row, ok := workStatusTable[state]
	if !ok {
		return constants.DownloadStatusNotDownloading
	}
	if isVerification {
		return row[1]
	}
	return row[0]
}

// StatusUpdate is a published download status together with the work
// notification that caused it, if any.
type StatusUpdate struct {
	Status   constants.DownloadStatus
	WorkInfo *work.Info
}

// BytesDone returns the downloaded byte count carried by the work notification.
func (s StatusUpdate) BytesDone() int64 {
	if s.WorkInfo == nil {
		return 0
	}
	return s.WorkInfo.Progress.Int64(constants.WorkDataBytesDone, 0)
}

// TotalBytes returns the expected download size carried by the work notification.
func (s StatusUpdate) TotalBytes() int64 {
	if s.WorkInfo == nil {
		return 0
	}
	return s.WorkInfo.Progress.Int64(constants.WorkDataTotalBytes, 0)
}

// Percent returns download progress in percent, or 0 when unknown.
func (s StatusUpdate) Percent() int {
	if s.WorkInfo == nil {
		return 0
	}
	return int(s.WorkInfo.Progress.Int64(constants.WorkDataPercent, 0))
}

// DownloadStatusTracker holds the current download status in memory and
// publishes changes to subscribers.
type DownloadStatusTracker struct {
	logger zerolog.Logger

	mu          sync.Mutex
	current     StatusUpdate
	subscribers map[int]*statusSubscriber
	nextID      int
}

// NewDownloadStatusTracker creates a tracker whose initial status is NOT_DOWNLOADING.
func NewDownloadStatusTracker(logger zerolog.Logger) *DownloadStatusTracker {
	return &DownloadStatusTracker{
		logger:      logger,
		current:     StatusUpdate{Status: constants.DownloadStatusNotDownloading},
		subscribers: make(map[int]*statusSubscriber),
	}
}

// HandleWorkInfo maps a work notification and publishes the resulting status.
// It reports whether a publication happened.
func (t *DownloadStatusTracker) HandleWorkInfo(info work.Info) bool {
	status := MapWorkState(info.State, info.HasTag(constants.WorkTagVerification))
	return t.publish(StatusUpdate{Status: status, WorkInfo: &info})
}

// Set publishes status directly, bypassing the mapping table.
func (t *DownloadStatusTracker) Set(status constants.DownloadStatus) bool {
	return t.publish(StatusUpdate{Status: status})
}

// Current returns the last published status.
func (t *DownloadStatusTracker) Current() StatusUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Subscribe returns a channel receiving every publication after the call.
// Each subscriber queues what it has not read yet, so publishing never blocks.
// Consecutive DOWNLOADING updates in that queue are coalesced into the newest
// one. The channel is closed when ctx is done.
func (t *DownloadStatusTracker) Subscribe(ctx context.Context) <-chan StatusUpdate {
	sub := &statusSubscriber{
		signal: make(chan struct{}, 1),
		out:    make(chan StatusUpdate),
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subscribers[id] = sub
	t.mu.Unlock()

	go func() {
		sub.run(ctx)

		t.mu.Lock()
		delete(t.subscribers, id)
		t.mu.Unlock()
	}()

	return sub.out
}

func (t *DownloadStatusTracker) publish(update StatusUpdate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	// DOWNLOADING always goes through so observers see byte progress.
	if update.Status == t.current.Status && update.Status != constants.DownloadStatusDownloading {
		return false
	}

	if update.Status != t.current.Status {
		t.logger.Info().
			Str("from", string(t.current.Status)).
			Str("to", string(update.Status)).
			Msg("Download status changed")
	}

	t.current = update
	for _, sub := range t.subscribers {
		sub.push(update)
	}
	return true
}

type statusSubscriber struct {
	mu     sync.Mutex
	queue  []StatusUpdate
	signal chan struct{}
	out    chan StatusUpdate
}

func (s *statusSubscriber) push(update StatusUpdate) {
	s.mu.Lock()
	n := len(s.queue)
	if n > 0 && update.Status == constants.DownloadStatusDownloading && s.queue[n-1].Status == constants.DownloadStatusDownloading {
		s.queue[n-1] = update
	} else {
		s.queue = append(s.queue, update)
	}
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *statusSubscriber) pop() (StatusUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return StatusUpdate{}, false
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	return next, true
}

func (s *statusSubscriber) run(ctx context.Context) {
	defer close(s.out)

	for {
		next, ok := s.pop()
		if !ok {
			select {
			case <-s.signal:
				continue
			case <-ctx.Done():
				return
			}
		}

		select {
		case s.out <- next:
		case <-ctx.Done():
			return
		}
	}
}
