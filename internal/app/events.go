package app

import (
	"github.com/yeguo/idm/internal/model"
	"github.com/yeguo/idm/internal/parse"
	"github.com/yeguo/idm/internal/scheduler"
)

// Event is the union of everything the orchestrator reports to its
// caller. Consumers type-switch on the concrete types below.
type Event interface {
	isEvent()
}

// ParsedItemEvent streams one derived format entry as soon as its
// source item finishes parsing.
type ParsedItemEvent struct {
	Item parse.ItemEvent
}

// BatchCompleteEvent closes one parse batch with its totals
type BatchCompleteEvent struct {
	Summary parse.BatchSummary
}

// TaskUpdateEvent carries a task snapshot after any state change
type TaskUpdateEvent struct {
	Task model.Task
}

// TaskCompletedEvent fires once per successful download
type TaskCompletedEvent struct {
	Task model.Task
	Path string
}

// ProgressEvent is the polled aggregate download progress
type ProgressEvent struct {
	Percent int
	Stats   scheduler.Stats
}

func (ParsedItemEvent) isEvent()    {}
func (BatchCompleteEvent) isEvent() {}
func (TaskUpdateEvent) isEvent()    {}
func (TaskCompletedEvent) isEvent() {}
func (ProgressEvent) isEvent()      {}
