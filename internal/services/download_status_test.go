package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/work"
)

func downloadInfo(state work.State) work.Info {
	return work.Info{ID: "download", Slot: constants.WorkUniqueDownload, State: state}
}

func verificationInfo(state work.State) work.Info {
	return work.Info{
		ID:    "verification",
		Slot:  constants.WorkUniqueMD5Verification,
		State: state,
		Tags:  []string{constants.WorkTagVerification},
	}
}

func TestMapWorkState_Table(t *testing.T) {
	cases := []struct {
		state        work.State
		download     constants.DownloadStatus
		verification constants.DownloadStatus
	}{
		{work.StateEnqueued, constants.DownloadStatusQueued, constants.DownloadStatusVerifying},
		{work.StateRunning, constants.DownloadStatusDownloading, constants.DownloadStatusVerifying},
		{work.StateSucceeded, constants.DownloadStatusCompleted, constants.DownloadStatusVerificationCompleted},
		{work.StateFailed, constants.DownloadStatusFailed, constants.DownloadStatusVerificationFailed},
		{work.StateBlocked, constants.DownloadStatusQueued, constants.DownloadStatusVerifying},
		{work.StateCancelled, constants.DownloadStatusPaused, constants.DownloadStatusVerificationFailed},
	}

	for _, tc := range cases {
		t.Run(string(tc.state), func(t *testing.T) {
			assert.Equal(t, tc.download, MapWorkState(tc.state, false))
			assert.Equal(t, tc.verification, MapWorkState(tc.state, true))
		})
	}

	assert.Equal(t, constants.DownloadStatusNotDownloading, MapWorkState(work.State("UNKNOWN"), false))
}

func TestTracker_PublishesMappedStatus(t *testing.T) {
	tracker := NewDownloadStatusTracker(zerolog.Nop())

	assert.True(t, tracker.HandleWorkInfo(verificationInfo(work.StateCancelled)))
	assert.Equal(t, constants.DownloadStatusVerificationFailed, tracker.Current().Status)

	assert.True(t, tracker.HandleWorkInfo(downloadInfo(work.StateCancelled)))
	assert.Equal(t, constants.DownloadStatusPaused, tracker.Current().Status)
}

func TestTracker_RunningDownloadPublishesEveryTime(t *testing.T) {
	tracker := NewDownloadStatusTracker(zerolog.Nop())

	first := downloadInfo(work.StateRunning)
	first.Progress = work.Data{}.SetInt64(constants.WorkDataBytesDone, 100)
	second := downloadInfo(work.StateRunning)
	second.Progress = work.Data{}.SetInt64(constants.WorkDataBytesDone, 200)

	assert.True(t, tracker.HandleWorkInfo(first))
	assert.True(t, tracker.HandleWorkInfo(second))
	assert.Equal(t, int64(200), tracker.Current().BytesDone())
}

func TestTracker_DuplicateStatusIsNotPublished(t *testing.T) {
	tracker := NewDownloadStatusTracker(zerolog.Nop())

	assert.True(t, tracker.HandleWorkInfo(downloadInfo(work.StateSucceeded)))
	assert.False(t, tracker.HandleWorkInfo(downloadInfo(work.StateSucceeded)))

	// ENQUEUED and BLOCKED map to the same status.
	assert.True(t, tracker.HandleWorkInfo(downloadInfo(work.StateEnqueued)))
	assert.False(t, tracker.HandleWorkInfo(downloadInfo(work.StateBlocked)))
}

func TestTracker_SetBypassesMapping(t *testing.T) {
	tracker := NewDownloadStatusTracker(zerolog.Nop())

	assert.False(t, tracker.Set(constants.DownloadStatusNotDownloading), "initial status is already NOT_DOWNLOADING")
	assert.True(t, tracker.Set(constants.DownloadStatusCompleted))
	assert.True(t, tracker.Set(constants.DownloadStatusNotDownloading))
	assert.Nil(t, tracker.Current().WorkInfo)
}

func TestTracker_PublicationRuleOverSequence(t *testing.T) {
	tracker := NewDownloadStatusTracker(zerolog.Nop())

	sequence := []work.Info{
		downloadInfo(work.StateEnqueued),
		downloadInfo(work.StateBlocked),
		downloadInfo(work.StateRunning),
		downloadInfo(work.StateRunning),
		downloadInfo(work.StateCancelled),
		downloadInfo(work.StateEnqueued),
		downloadInfo(work.StateRunning),
		downloadInfo(work.StateSucceeded),
		verificationInfo(work.StateEnqueued),
		verificationInfo(work.StateRunning),
		verificationInfo(work.StateSucceeded),
		verificationInfo(work.StateSucceeded),
	}

	previous := tracker.Current().Status
	for _, info := range sequence {
		mapped := MapWorkState(info.State, info.HasTag(constants.WorkTagVerification))
		expected := mapped != previous || mapped == constants.DownloadStatusDownloading

		assert.Equal(t, expected, tracker.HandleWorkInfo(info), "state %s", info.State)
		assert.Equal(t, mapped, tracker.Current().Status)
		previous = mapped
	}
}

func TestTracker_Subscribe(t *testing.T) {
	tracker := NewDownloadStatusTracker(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := tracker.Subscribe(ctx)

	tracker.HandleWorkInfo(downloadInfo(work.StateEnqueued))
	tracker.HandleWorkInfo(downloadInfo(work.StateSucceeded))
	tracker.HandleWorkInfo(downloadInfo(work.StateSucceeded))
	tracker.Set(constants.DownloadStatusNotDownloading)

	var got []constants.DownloadStatus
	for len(got) < 3 {
		select {
		case u := <-updates:
			got = append(got, u.Status)
		case <-time.After(time.Second):
			t.Fatalf("timed out, received %v", got)
		}
	}

	assert.Equal(t, []constants.DownloadStatus{
		constants.DownloadStatusQueued,
		constants.DownloadStatusCompleted,
		constants.DownloadStatusNotDownloading,
	}, got)
}

func TestTracker_SubscriberCoalescesProgress(t *testing.T) {
	tracker := NewDownloadStatusTracker(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := tracker.Subscribe(ctx)

	for i := int64(1); i <= 50; i++ {
		info := downloadInfo(work.StateRunning)
		info.Progress = work.Data{}.SetInt64(constants.WorkDataBytesDone, i)
		tracker.HandleWorkInfo(info)
	}
	tracker.HandleWorkInfo(downloadInfo(work.StateSucceeded))

	var last StatusUpdate
	var lastProgress int64
	for last.Status != constants.DownloadStatusCompleted {
		select {
		case last = <-updates:
			if last.Status == constants.DownloadStatusDownloading {
				require.GreaterOrEqual(t, last.BytesDone(), lastProgress, "progress never goes backwards")
				lastProgress = last.BytesDone()
			}
		case <-time.After(time.Second):
			t.Fatal("completion was never delivered")
		}
	}
	assert.Equal(t, int64(50), lastProgress)
}

func TestTracker_UnreadSubscriberDoesNotBlockPublisher(t *testing.T) {
	tracker := NewDownloadStatusTracker(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := tracker.Subscribe(ctx)

	sequence := []constants.DownloadStatus{
		constants.DownloadStatusQueued,
		constants.DownloadStatusDownloading,
		constants.DownloadStatusPaused,
		constants.DownloadStatusQueued,
		constants.DownloadStatusDownloading,
		constants.DownloadStatusCompleted,
		constants.DownloadStatusVerifying,
		constants.DownloadStatusVerificationCompleted,
	}

	published := make(chan struct{})
	go func() {
		defer close(published)
		for _, status := range sequence {
			tracker.Set(status)
		}
	}()

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a subscriber that never read")
	}

	var got []constants.DownloadStatus
	for len(got) < len(sequence) {
		select {
		case u := <-updates:
			got = append(got, u.Status)
		case <-time.After(time.Second):
			t.Fatalf("missing transitions, got %v", got)
		}
	}
	assert.Equal(t, sequence, got)
}

func TestTracker_SubscriptionClosesWithContext(t *testing.T) {
	tracker := NewDownloadStatusTracker(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	updates := tracker.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}
