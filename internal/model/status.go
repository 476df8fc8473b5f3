package model

// TaskStatus represents the lifecycle state of a parse or download task
type TaskStatus string

const (
	// StatusPending means the task is queued but not started
	StatusPending TaskStatus = "Pending"

	// StatusActive means the task is running on a worker
	StatusActive TaskStatus = "Active"

	// StatusPaused means the task is suspended at a checkpoint
	StatusPaused TaskStatus = "Paused"

	// StatusCompleted means the task finished successfully
	StatusCompleted TaskStatus = "Completed"

	// StatusFailed means the task failed with an error
	StatusFailed TaskStatus = "Failed"

	// StatusCancelled means the task was cancelled by the caller
	StatusCancelled TaskStatus = "Cancelled"
)

// String returns the string representation of TaskStatus
func (ts TaskStatus) String() string {
	return string(ts)
}

// IsActive returns true if the task currently holds a concurrency slot
func (ts TaskStatus) IsActive() bool {
	return ts == StatusActive || ts == StatusPaused
}

// IsTerminal returns true if the task reached a final state.
// Terminal states never transition again.
func (ts TaskStatus) IsTerminal() bool {
	return ts == StatusCompleted || ts == StatusFailed || ts == StatusCancelled
}

// CanTransition reports whether moving from ts to next is a legal
// lifecycle transition. Cancelled is reachable from any non-terminal
// state; Paused only from Active; terminal states are final.
func (ts TaskStatus) CanTransition(next TaskStatus) bool {
	if ts.IsTerminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	switch ts {
	case StatusPending:
		return next == StatusActive
	case StatusActive:
		return next == StatusPaused || next == StatusCompleted || next == StatusFailed
	case StatusPaused:
		return next == StatusActive || next == StatusFailed
	}
	return false
}
