// Package worker provides a cancelable, pausable wrapper around one
// blocking call. Pause and cancel are cooperative: the wrapped call
// polls Checkpoint() at its own safe points and reacts to the returned
// signal. Errors from the call are captured and replayed through Await,
// never thrown across the goroutine boundary.
package worker

import (
	"errors"
	"sync"
	"time"
)

// Signal is the checkpoint verdict handed to the wrapped call
type Signal int

const (
	// SignalContinue means keep going
	SignalContinue Signal = iota
	// SignalCancelled means stop work and return as soon as possible
	SignalCancelled
)

// Sentinel errors distinguishing the two ways waiting can end early
var (
	ErrCancelled = errors.New("worker cancelled")
	ErrTimeout   = errors.New("worker await timed out")
)

// ErrAlreadyStarted is returned by Start on reuse
var ErrAlreadyStarted = errors.New("worker already started")

// State is the worker lifecycle state
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateCompleted
	StateFailed
	StateCancelled
)

// IsTerminal returns true once the worker will never run again
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Call is the blocking unit of work. It receives the worker so it can
// poll Checkpoint() between chunks of work.
type Call func(w *Worker) error

// Worker runs one Call on a dedicated goroutine with cooperative
// pause/resume/cancel and a bounded join on cancel.
type Worker struct {
	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	paused    bool
	cancelled bool
	err       error
	done      chan struct{}

	joinTimeout  time.Duration
	pollInterval time.Duration
}

// NewWorker creates an idle worker with a 2s cancel join timeout
func NewWorker() *Worker {
	w := &Worker{
		state:        StateIdle,
		done:         make(chan struct{}),
		joinTimeout:  2 * time.Second,
		pollInterval: 10 * time.Millisecond,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// SetJoinTimeout overrides how long Cancel waits for the call to
// return before giving up on it.
func (w *Worker) SetJoinTimeout(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if d > 0 {
		w.joinTimeout = d
	}
}

// Start launches the call on its own goroutine and returns immediately.
// A worker runs exactly one call; reuse returns ErrAlreadyStarted.
func (w *Worker) Start(call Call) error {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.state = StateRunning
	w.mu.Unlock()

	go func() {
		err := call(w)
		w.finish(err)
	}()
	return nil
}

// finish records the call's outcome. A result arriving after Cancel is
// discarded: the worker stays Cancelled regardless of what the call
// returned.
func (w *Worker) finish(err error) {
	w.mu.Lock()
	switch {
	case w.cancelled || w.state == StateCancelled:
		w.state = StateCancelled
		w.err = ErrCancelled
	case err != nil && errors.Is(err, ErrCancelled):
		w.state = StateCancelled
		w.err = ErrCancelled
	case err != nil:
		w.state = StateFailed
		w.err = err
	default:
		w.state = StateCompleted
	}
	w.mu.Unlock()
	close(w.done)
}

// Pause suspends the call at its next checkpoint. Idempotent; no-op on
// a terminal worker.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning {
		return
	}
	w.paused = true
	w.state = StatePaused
}

// Resume wakes a paused call. Idempotent; no-op unless paused.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaused {
		return
	}
	w.paused = false
	w.state = StateRunning
	w.cond.Broadcast()
}

// Cancel requests cooperative termination: the cancel flag is set, any
// pause is cleared so a blocked checkpoint can observe it, then Cancel
// waits up to the join timeout for the call to return. If the call is
// stuck in an uninterruptible operation the worker is marked Cancelled
// anyway and the eventual result is discarded.
func (w *Worker) Cancel() {
	w.mu.Lock()
	if w.state.IsTerminal() {
		w.mu.Unlock()
		return
	}
	started := w.state == StateRunning || w.state == StatePaused
	w.cancelled = true
	w.paused = false
	w.cond.Broadcast()
	if !started {
		// Never started: nothing to join
		w.state = StateCancelled
		w.err = ErrCancelled
		w.mu.Unlock()
		close(w.done)
		return
	}
	timeout := w.joinTimeout
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(timeout):
		w.mu.Lock()
		if !w.state.IsTerminal() {
			w.state = StateCancelled
			w.err = ErrCancelled
		}
		w.mu.Unlock()
	}
}

// Checkpoint is called by the wrapped call at safe points. It blocks
// while paused and reports whether to continue or unwind.
func (w *Worker) Checkpoint() Signal {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.paused && !w.cancelled {
		w.cond.Wait()
	}
	if w.cancelled {
		return SignalCancelled
	}
	return SignalContinue
}

// Await blocks until the worker reaches a terminal state or the
// timeout expires. It polls state between done-channel wakeups so a
// cancel that gave up joining a stuck call is still observed. Returns
// nil on completion, the call's error on failure, ErrCancelled after a
// cancel, and ErrTimeout when the deadline passes first.
func (w *Worker) Await(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	tick := time.NewTicker(w.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-w.done:
			return w.Err()
		case <-tick.C:
			if w.State().IsTerminal() {
				return w.Err()
			}
		case <-timer.C:
			if w.State().IsTerminal() {
				return w.Err()
			}
			return ErrTimeout
		}
	}
}

// Cancelled reports the cancel flag without blocking, unlike
// Checkpoint which waits out a pause first.
func (w *Worker) Cancelled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

// State returns the current lifecycle state
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the terminal outcome: nil for success, ErrCancelled for
// cancellation, otherwise the call's error.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Sleep waits for d while honoring pause and cancel. It returns
// SignalCancelled as soon as the worker is cancelled, checking the
// checkpoint at poll-interval granularity.
func (w *Worker) Sleep(d time.Duration) Signal {
	deadline := time.Now().Add(d)
	for {
		if sig := w.Checkpoint(); sig == SignalCancelled {
			return SignalCancelled
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return SignalContinue
		}
		step := w.pollInterval
		if remaining < step {
			step = remaining
		}
		time.Sleep(step)
	}
}
