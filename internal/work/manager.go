package work

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/utils"
	"github.com/oxygenupdater/ota-agent/pkg/file"
)

var (
	// ErrManagerStopped is returned when work is enqueued after Stop.
	ErrManagerStopped = errors.New("work manager is stopped")
	// ErrUnknownWorker is returned when a request names a worker that was never registered.
	ErrUnknownWorker = errors.New("unknown worker")
)

// Observer receives lifecycle notifications. It is called synchronously on the
// goroutine that produced the notification and must not call back into the Manager.
type Observer func(Info)

// Manager runs work items in uniquely named slots. At most one item is active per slot.
type Manager struct {
	stateFile  string
	fileClient file.FileOperations
	network    NetworkChecker
	logger     zerolog.Logger

	// ConstraintPollInterval is how often a BLOCKED item re-checks its constraints.
	ConstraintPollInterval time.Duration

	workers map[string]Worker
	pool    *utils.WorkerPool
	poolMu  sync.Mutex

	active cmap.ConcurrentMap[string, *job]
	latest cmap.ConcurrentMap[string, record]

	enqueueMu sync.Mutex
	emitMu    sync.Mutex
	observers map[string][]*observerEntry
	nextObsID int

	poolSize int
	running  bool
	wg       sync.WaitGroup
}

type observerEntry struct {
	id int
	fn Observer
}

// record is the persisted form of a slot.
type record struct {
	Info    Info    `json:"info"`
	Request Request `json:"request"`
}

type job struct {
	id       string
	slot     string
	req      Request
	worker   Worker
	prev     *job
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	attempt  int
	finished bool // guarded by Manager.emitMu
	shutdown bool // guarded by Manager.emitMu
}

// NewManager creates a Manager persisting slot state to stateFile.
func NewManager(stateFile string, fileClient file.FileOperations, network NetworkChecker, poolSize int, logger zerolog.Logger) *Manager {
	return &Manager{
		stateFile:              stateFile,
		fileClient:             fileClient,
		network:                network,
		logger:                 logger,
		ConstraintPollInterval: time.Second,
		workers:                make(map[string]Worker),
		active:                 cmap.New[*job](),
		latest:                 cmap.New[record](),
		observers:              make(map[string][]*observerEntry),
		poolSize:               poolSize,
	}
}

// RegisterWorker makes a worker available to requests naming it. Call before Start.
func (m *Manager) RegisterWorker(name string, w Worker) {
	m.workers[name] = w
}

// Start restores persisted slot state and resumes work that was pending when
// the previous process stopped.
func (m *Manager) Start() error {
	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	if m.running {
		return errors.New("work manager is already running")
	}

	m.poolMu.Lock()
	m.pool = utils.NewWorkerPool(m.poolSize)
	m.poolMu.Unlock()
	m.running = true

	stored := make(map[string]record)
	if m.stateFile != "" {
		if err := m.fileClient.ReadJsonFile(m.stateFile, &stored); err != nil && !os.IsNotExist(err) {
			m.logger.Error().Err(err).Str("file", m.stateFile).Msg("Failed to read work state, starting empty")
			stored = make(map[string]record)
		}
	}

	for slot, rec := range stored {
		m.latest.Set(slot, rec)
		if rec.Info.State.IsFinished() {
			continue
		}

		m.logger.Info().Str("slot", slot).Str("state", string(rec.Info.State)).Msg("Resuming pending work")
		if _, err := m.enqueueLocked(slot, rec.Request); err != nil {
			m.logger.Error().Err(err).Str("slot", slot).Msg("Failed to resume pending work")
			m.finishOrphan(slot, rec)
		}
	}

	return nil
}

// Stop interrupts running work without marking it cancelled, so that it is
// resumed by the next Start.
func (m *Manager) Stop() error {
	m.enqueueMu.Lock()
	if !m.running {
		m.enqueueMu.Unlock()
		return errors.New("work manager is not running")
	}
	m.running = false

	m.emitMu.Lock()
	for _, j := range m.active.Items() {
		j.shutdown = true
		j.cancel()
	}
	m.emitMu.Unlock()
	m.enqueueMu.Unlock()

	m.wg.Wait()

	m.poolMu.Lock()
	m.pool.Shutdown()
	m.pool = nil
	m.poolMu.Unlock()

	m.logger.Info().Msg("Work manager stopped")
	return nil
}

// EnqueueUniqueWork schedules req in slot and returns the id of the active work item.
func (m *Manager) EnqueueUniqueWork(slot string, policy ExistingWorkPolicy, req Request) (string, error) {
	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	if !m.running {
		return "", ErrManagerStopped
	}

	if policy == PolicyKeep {
		if existing, ok := m.active.Get(slot); ok {
			m.logger.Debug().Str("slot", slot).Str("id", existing.id).Msg("Keeping existing work")
			return existing.id, nil
		}
	}

	return m.enqueueLocked(slot, req)
}

// CancelUniqueWork cancels the active work item in slot, if any.
func (m *Manager) CancelUniqueWork(slot string) {
	m.enqueueMu.Lock()
	defer m.enqueueMu.Unlock()

	if j, ok := m.active.Get(slot); ok {
		m.cancelJob(j)
	}
}

// Await blocks until the work item active in slot, if any, has returned from
// its worker, or until ctx is done.
func (m *Manager) Await(ctx context.Context, slot string) error {
	j, ok := m.active.Get(slot)
	if !ok {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the most recent notification for slot, including finished work.
func (m *Manager) Latest(slot string) (Info, bool) {
	rec, ok := m.latest.Get(slot)
	return rec.Info, ok
}

// IsActive reports whether slot holds unfinished work.
func (m *Manager) IsActive(slot string) bool {
	_, ok := m.active.Get(slot)
	return ok
}

// Observe registers fn for notifications of slot. The returned function removes it.
func (m *Manager) Observe(slot string, fn Observer) func() {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.nextObsID++
	entry := &observerEntry{id: m.nextObsID, fn: fn}
	m.observers[slot] = append(m.observers[slot], entry)

	return func() {
		m.emitMu.Lock()
		defer m.emitMu.Unlock()

		entries := m.observers[slot]
		for i, e := range entries {
			if e.id == entry.id {
				m.observers[slot] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) enqueueLocked(slot string, req Request) (string, error) {
	worker, ok := m.workers[req.WorkerName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorker, req.WorkerName)
	}

	var prev *job
	if existing, ok := m.active.Get(slot); ok {
		m.cancelJob(existing)
		prev = existing
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:     uuid.New().String(),
		slot:   slot,
		req:    req,
		worker: worker,
		prev:   prev,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	j.req.Input = req.Input.clone()

	m.active.Set(slot, j)
	m.emit(j, StateEnqueued, nil, nil)

	m.wg.Add(1)
	go m.run(j)

	m.logger.Info().Str("slot", slot).Str("id", j.id).Str("worker", req.WorkerName).Msg("Work enqueued")
	return j.id, nil
}

// cancelJob publishes CANCELLED immediately and signals the worker to stop.
func (m *Manager) cancelJob(j *job) {
	m.emitMu.Lock()
	if j.finished {
		m.emitMu.Unlock()
		return
	}
	m.emitLocked(j, StateCancelled, nil, nil)
	m.emitMu.Unlock()

	j.cancel()
	m.logger.Info().Str("slot", j.slot).Str("id", j.id).Msg("Work cancelled")
}

func (m *Manager) run(j *job) {
	defer m.wg.Done()
	defer close(j.done)
	defer j.cancel()
	defer m.active.RemoveCb(j.slot, func(_ string, v *job, exists bool) bool {
		return exists && v == j
	})

	// The replaced item must release shared resources (files) before this one starts.
	if j.prev != nil {
		select {
		case <-j.prev.done:
		case <-j.ctx.Done():
			return
		}
	}

	for {
		if !m.awaitConstraints(j) {
			return
		}

		result, ok := m.execute(j)
		if !ok || j.ctx.Err() != nil {
			return
		}
		m.logger.Debug().Str("slot", j.slot).Str("id", j.id).Stringer("result", result).Msg("Worker finished")

		switch result.kind {
		case resultSuccess:
			m.emit(j, StateSucceeded, nil, result.Output)
			if result.next != nil {
				m.enqueueFollowUp(j, result.next)
			}
			return
		case resultFailure:
			m.emit(j, StateFailed, nil, result.Output)
			return
		case resultRetry:
			m.emitMu.Lock()
			j.attempt++
			attempt := j.attempt
			m.emitMu.Unlock()

			if j.req.MaxAttempts > 0 && attempt >= j.req.MaxAttempts {
				m.logger.Warn().Str("slot", j.slot).Int("attempts", attempt).Msg("Work exhausted its retries")
				m.emit(j, StateFailed, nil, Data{constants.WorkDataFailureReason: constants.FailureReasonTooManyAttempts})
				return
			}

			delay := time.Duration(attempt) * j.req.BackoffDelay
			m.logger.Info().Str("slot", j.slot).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying work after backoff")
			m.emit(j, StateEnqueued, nil, nil)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-j.ctx.Done():
				timer.Stop()
				return
			}
		}
	}
}

func (m *Manager) enqueueFollowUp(j *job, next *followUp) {
	if _, err := m.EnqueueUniqueWork(next.slot, PolicyReplace, next.req); err != nil {
		m.logger.Error().Err(err).Str("slot", j.slot).Str("next_slot", next.slot).Msg("Failed to enqueue follow-up work")
	}
}

// awaitConstraints blocks until the item's constraints hold. It returns false when cancelled.
func (m *Manager) awaitConstraints(j *job) bool {
	if !j.req.RequireNetwork || m.network == nil || m.network.Available() {
		return j.ctx.Err() == nil
	}

	m.emit(j, StateBlocked, nil, nil)
	ticker := time.NewTicker(m.ConstraintPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return false
		case <-ticker.C:
			if m.network.Available() {
				return true
			}
		}
	}
}

// execute runs the worker on the pool and waits for its result.
func (m *Manager) execute(j *job) (Result, bool) {
	m.poolMu.Lock()
	pool := m.pool
	m.poolMu.Unlock()
	if pool == nil {
		return Result{}, false
	}

	resultCh := make(chan Result, 1)
	accepted := pool.Submit(j.ctx, func() {
		if j.ctx.Err() != nil {
			resultCh <- Retry()
			return
		}

		m.emit(j, StateRunning, nil, nil)
		params := &Params{
			ID:         j.id,
			Slot:       j.slot,
			Tags:       j.req.Tags,
			Input:      j.req.Input.clone(),
			RunAttempt: j.attempt,
			progress: func(p Data) {
				m.emit(j, StateRunning, p, nil)
			},
		}
		resultCh <- m.safeDoWork(j, params)
	})
	if !accepted {
		return Result{}, false
	}

	return <-resultCh, true
}

func (m *Manager) safeDoWork(j *job, params *Params) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Interface("panic", r).Str("slot", j.slot).Msg("Worker panicked")
			result = Failure(nil)
		}
	}()
	return j.worker.DoWork(j.ctx, params)
}

func (m *Manager) emit(j *job, state State, progress, output Data) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	if j.finished || j.shutdown {
		return
	}
	m.emitLocked(j, state, progress, output)
}

func (m *Manager) emitLocked(j *job, state State, progress, output Data) {
	if state.IsFinished() {
		j.finished = true
	}

	info := Info{
		ID:         j.id,
		Slot:       j.slot,
		State:      state,
		Tags:       j.req.Tags,
		Progress:   progress,
		Output:     output,
		RunAttempt: j.attempt,
		UpdatedAt:  time.Now().UTC(),
	}

	previous, hadPrevious := m.latest.Get(j.slot)
	m.latest.Set(j.slot, record{Info: info, Request: j.req})

	// Progress-only notifications are not worth a disk write.
	if !hadPrevious || previous.Info.ID != info.ID || previous.Info.State != info.State {
		m.persistLocked()
	}

	for _, o := range m.observers[j.slot] {
		o.fn(info)
	}
}

// finishOrphan marks a restored item as cancelled when it cannot be resumed.
func (m *Manager) finishOrphan(slot string, rec record) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	rec.Info.State = StateCancelled
	rec.Info.UpdatedAt = time.Now().UTC()
	m.latest.Set(slot, rec)
	m.persistLocked()
}

func (m *Manager) persistLocked() {
	if m.stateFile == "" {
		return
	}
	if err := m.fileClient.WriteJsonFile(m.stateFile, m.latest.Items()); err != nil {
		m.logger.Error().Err(err).Str("file", m.stateFile).Msg("Failed to persist work state")
	}
}

// Snapshot reads the persisted slot state without starting a Manager.
// A missing state file yields an empty snapshot.
func Snapshot(stateFile string, fileClient file.FileOperations) (map[string]Info, error) {
	stored := make(map[string]record)
	if err := fileClient.ReadJsonFile(stateFile, &stored); err != nil {
		if os.IsNotExist(err) {
			return map[string]Info{}, nil
		}
		return nil, fmt.Errorf("failed to read work state: %w", err)
	}

	out := make(map[string]Info, len(stored))
	for slot, rec := range stored {
		out[slot] = rec.Info
	}
	return out, nil
}
