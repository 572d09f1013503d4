package work

import (
	"context"
	"strconv"
	"time"
)

// State is the coarse lifecycle state of a work item.
type State string

const (
	StateEnqueued  State = "ENQUEUED"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateBlocked   State = "BLOCKED"
	StateCancelled State = "CANCELLED"
)

// IsFinished reports whether the state is terminal.
func (s State) IsFinished() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ExistingWorkPolicy decides what happens when work is enqueued into an occupied slot.
type ExistingWorkPolicy int

const (
	// PolicyReplace cancels the active item in the slot and enqueues the new one.
	PolicyReplace ExistingWorkPolicy = iota
	// PolicyKeep leaves the active item alone and drops the new request.
	PolicyKeep
)

// Data is a flat key-value payload exchanged with workers.
type Data map[string]string

// String returns the value stored under key, or "".
func (d Data) String(key string) string {
	if d == nil {
		return ""
	}
	return d[key]
}

// Int64 returns the integer stored under key, or def when missing or malformed.
func (d Data) Int64(key string, def int64) int64 {
	v, ok := d[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// SetInt64 stores n under key.
func (d Data) SetInt64(key string, n int64) Data {
	d[key] = strconv.FormatInt(n, 10)
	return d
}

func (d Data) clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Info is a lifecycle notification for a single work item.
type Info struct {
	ID         string    `json:"id"`
	Slot       string    `json:"slot"`
	State      State     `json:"state"`
	Tags       []string  `json:"tags,omitempty"`
	Progress   Data      `json:"progress,omitempty"`
	Output     Data      `json:"output,omitempty"`
	RunAttempt int       `json:"run_attempt"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasTag reports whether the work item was enqueued with tag.
func (i Info) HasTag(tag string) bool {
	for _, t := range i.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Request describes work to be executed by a registered worker.
type Request struct {
	WorkerName     string        `json:"worker"`
	Tags           []string      `json:"tags,omitempty"`
	Input          Data          `json:"input,omitempty"`
	RequireNetwork bool          `json:"require_network"`
	BackoffDelay   time.Duration `json:"backoff_delay"` // Linear: attempt n waits n*BackoffDelay
	MaxAttempts    int           `json:"max_attempts"`  // 0 means unlimited retries
}

type resultKind int

const (
	resultSuccess resultKind = iota
	resultFailure
	resultRetry
)

// Result is returned by a worker to finish or reschedule its work item.
type Result struct {
	kind   resultKind
	Output Data
	next   *followUp
}

type followUp struct {
	slot string
	req  Request
}

// Then attaches work that is enqueued into slot, replacing whatever it holds,
// once this item has been reported SUCCEEDED. It has no effect on other results.
func (r Result) Then(slot string, req Request) Result {
	r.next = &followUp{slot: slot, req: req}
	return r
}

func (r Result) String() string {
	switch r.kind {
	case resultSuccess:
		return "success"
	case resultFailure:
		return "failure"
	default:
		return "retry"
	}
}

// Success finishes the work item as SUCCEEDED.
func Success(output Data) Result {
	return Result{kind: resultSuccess, Output: output}
}

// Failure finishes the work item as FAILED.
func Failure(output Data) Result {
	return Result{kind: resultFailure, Output: output}
}

// Retry reschedules the work item using its backoff policy.
func Retry() Result {
	return Result{kind: resultRetry}
}

// Params is handed to a worker for a single run.
type Params struct {
	ID         string
	Slot       string
	Tags       []string
	Input      Data
	RunAttempt int

	progress func(Data)
}

// NewParams builds Params for running a worker outside a Manager.
func NewParams(id string, input Data, progress func(Data)) *Params {
	return &Params{ID: id, Input: input, progress: progress}
}

// SetProgress publishes a RUNNING notification carrying progress.
func (p *Params) SetProgress(progress Data) {
	if p.progress != nil {
		p.progress(progress.clone())
	}
}

// Worker executes a work item. Implementations must return promptly once ctx is cancelled.
type Worker interface {
	DoWork(ctx context.Context, params *Params) Result
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, params *Params) Result

// DoWork calls f.
func (f WorkerFunc) DoWork(ctx context.Context, params *Params) Result {
	return f(ctx, params)
}

// NetworkChecker reports current network availability.
type NetworkChecker interface {
	Available() bool
}
