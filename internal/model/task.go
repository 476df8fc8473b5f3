package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskKind distinguishes parse tasks from download tasks
type TaskKind string

const (
	KindParse    TaskKind = "parse"
	KindDownload TaskKind = "download"
)

// Priority bounds. Lower values are more urgent; priority is advisory
// and only consulted by explicit promotion, never by the FIFO queue.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Task is the scheduler-facing state of one unit of work.
// Fields are not internally synchronized; the owning scheduler or
// pipeline serializes all mutation behind its own lock.
type Task struct {
	ID          string
	Kind        TaskKind
	URL         string
	Title       string
	FormatID    string
	Priority    int
	Status      TaskStatus
	Percent     int    // 0 to 100, monotonic while Active
	Speed       string // human readable speed (e.g., "1.2 MB/s")
	LastError   string
	OutputPath  string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewTaskID returns a unique task identifier
func NewTaskID() string {
	return "task-" + uuid.New().String()
}

// NewTask creates a pending task with the priority clamped to [1,10]
func NewTask(kind TaskKind, url string, priority int) *Task {
	return &Task{
		ID:        NewTaskID(),
		Kind:      kind,
		URL:       url,
		Priority:  ClampPriority(priority),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// ClampPriority bounds p to the valid priority range
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// SetStatus applies a lifecycle transition, rejecting illegal ones
func (t *Task) SetStatus(next TaskStatus) error {
	if t.Status == next {
		return nil
	}
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for task %s", t.Status, next, t.ID)
	}
	t.Status = next
	return nil
}

// MarkActive moves the task into the running state. Progress is reset
// only on the Pending -> Active edge, never on resume.
func (t *Task) MarkActive() error {
	fromPending := t.Status == StatusPending
	if err := t.SetStatus(StatusActive); err != nil {
		return err
	}
	if fromPending {
		t.Percent = 0
		t.Speed = ""
		t.StartedAt = time.Now()
	}
	return nil
}

// MarkCompleted finalizes the task as a success
func (t *Task) MarkCompleted(outputPath string) error {
	if err := t.SetStatus(StatusCompleted); err != nil {
		return err
	}
	t.Percent = 100
	t.OutputPath = outputPath
	t.CompletedAt = time.Now()
	return nil
}

// MarkFailed finalizes the task with an error message
func (t *Task) MarkFailed(err error) error {
	if terr := t.SetStatus(StatusFailed); terr != nil {
		return terr
	}
	if err != nil {
		t.LastError = err.Error()
	}
	t.CompletedAt = time.Now()
	return nil
}

// MarkCancelled finalizes the task as cancelled. Cancellation is not a
// failure: LastError stays empty.
func (t *Task) MarkCancelled() error {
	if err := t.SetStatus(StatusCancelled); err != nil {
		return err
	}
	t.CompletedAt = time.Now()
	return nil
}

// UpdateProgress records a progress sample. Percent never moves
// backwards while the task is active; late or out-of-order samples are
// clamped to the current value.
func (t *Task) UpdateProgress(percent int, speed string) {
	if !t.Status.IsActive() {
		return
	}
	if percent > 100 {
		percent = 100
	}
	if percent > t.Percent {
		t.Percent = percent
	}
	if speed != "" {
		t.Speed = speed
	}
}
