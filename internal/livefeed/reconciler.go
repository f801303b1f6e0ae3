package livefeed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vantage-cv/vision-console/annotation-engine/internal/logger"
	"github.com/vantage-cv/vision-console/annotation-engine/internal/metrics"
	"github.com/vantage-cv/vision-console/annotation-engine/pkg/types"
)

// State is the reconciler's lifecycle state.
type State string

const (
	// StateIdle means the reconciler has never been started, or was
	// stopped by the caller.
	StateIdle State = "idle"
	// StateAwaitingFirstFrame means polling is active but the source
	// has produced nothing yet.
	StateAwaitingFirstFrame State = "awaiting-first-frame"
	// StateReady means at least one frame has been applied and the
	// re-fetch loop is running.
	StateReady State = "ready"
	// StateError means a hard failure stopped the poll loop. Terminal
	// until Start is called again.
	StateError State = "error"
)

// FrameFunc receives each applied snapshot; frame and masks always
// arrive together.
type FrameFunc func(snapshot *types.LiveSnapshot)

// ErrorFunc receives the human-readable message of a hard failure.
type ErrorFunc func(message string)

// Reconciler polls the newest frame+mask payload for one job on a fixed
// cadence and swaps the displayed state atomically. The poll loop is an
// owned resource with explicit Start/Stop; a monotonically increasing
// epoch discards responses that complete after a stop or retarget.
type Reconciler struct {
	client   Client
	interval time.Duration
	metrics  *metrics.Metrics

	mu       sync.Mutex
	jobID    string
	state    State
	epoch    uint64
	stop     chan struct{}
	running  bool
	snapshot *types.LiveSnapshot
	onFrame  FrameFunc
	onError  ErrorFunc
}

// NewReconciler creates a stopped reconciler polling through client at
// the given interval.
func NewReconciler(client Client, interval time.Duration, m *metrics.Metrics) *Reconciler {
	if m == nil {
		m = metrics.New()
	}
	return &Reconciler{
		client:   client,
		interval: interval,
		metrics:  m,
		state:    StateIdle,
	}
}

// OnFrame registers the applied-snapshot callback.
func (r *Reconciler) OnFrame(fn FrameFunc) {
	r.mu.Lock()
	r.onFrame = fn
	r.mu.Unlock()
}

// OnError registers the hard-failure callback.
func (r *Reconciler) OnError(fn ErrorFunc) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// Start begins polling for jobID. A no-op when already polling the same
// job. Targeting a different job stops the old loop first and clears
// the held snapshot so frames never cross between jobs. Start after an
// error re-arms the loop.
func (r *Reconciler) Start(jobID string) {
	r.mu.Lock()
	if r.running && r.jobID == jobID {
		r.mu.Unlock()
		return
	}
	if r.running {
		r.stopLocked()
	}
	if r.jobID != jobID {
		r.snapshot = nil
	}

	r.epoch++
	r.jobID = jobID
	r.state = StateAwaitingFirstFrame
	r.stop = make(chan struct{})
	r.running = true
	epoch := r.epoch
	stop := r.stop
	r.mu.Unlock()

	r.metrics.ActiveFeeds.Add(1)
	logger.Info("LiveFeed", "Polling job %s every %v", jobID, r.interval)
	go r.run(jobID, epoch, stop)
}

// Stop cancels the poll loop. Idempotent and safe to call from teardown
// even if Start never ran. In-flight responses issued before the stop
// are discarded.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	wasRunning := r.running
	if r.running {
		r.stopLocked()
		r.state = StateIdle
	}
	r.mu.Unlock()

	if wasRunning {
		logger.Info("LiveFeed", "Stopped polling")
	}
}

// stopLocked closes the loop's stop channel and bumps the epoch so any
// response still in flight is discarded on completion.
func (r *Reconciler) stopLocked() {
	close(r.stop)
	r.running = false
	r.epoch++
	metrics.Dec(&r.metrics.ActiveFeeds)
}

// State returns the current lifecycle state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// JobID returns the currently targeted job.
func (r *Reconciler) JobID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobID
}

// Snapshot returns the current frame+masks for external persistence.
// Purely a read; fails with ErrNoFrame when nothing has been received.
func (r *Reconciler) Snapshot() (*types.LiveSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return nil, ErrNoFrame
	}
	snap := *r.snapshot
	return &snap, nil
}

func (r *Reconciler) run(jobID string, epoch uint64, stop chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// First poll fires immediately; the ticker provides the cadence
	// afterwards. A stuck request delays the next effective tick, it
	// does not overlap with it.
	for {
		r.poll(jobID, epoch)

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) poll(jobID string, epoch uint64) {
	r.metrics.Polls.Add(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snapshot, err := r.client.LatestFrame(ctx, jobID)

	r.mu.Lock()
	if r.epoch != epoch || r.jobID != jobID {
		// Superseded by a stop or retarget while in flight.
		r.mu.Unlock()
		r.metrics.StaleDiscarded.Add(1)
		return
	}

	switch {
	case err == nil:
		r.snapshot = snapshot
		r.state = StateReady
		onFrame := r.onFrame
		r.mu.Unlock()

		r.metrics.FramesApplied.Add(1)
		if onFrame != nil {
			onFrame(snapshot)
		}

	case errors.Is(err, ErrNotReady):
		// Expected while the stream warms up; the fixed interval is
		// the retry backoff.
		r.mu.Unlock()
		r.metrics.PollNotReady.Add(1)

	default:
		r.stopLocked()
		r.state = StateError
		onError := r.onError
		r.mu.Unlock()

		r.metrics.PollErrors.Add(1)
		logger.Error("LiveFeed", "Poll failed for job %s: %v", jobID, err)
		if onError != nil {
			onError(err.Error())
		}
	}
}
