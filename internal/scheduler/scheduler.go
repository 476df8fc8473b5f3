// Package scheduler bounds download concurrency: a FIFO pending queue
// feeds a worker set capped at the configured parallelism, draining one
// queued task per completion. Priority is advisory; only an explicit
// Promote reorders the queue.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yeguo/idm/internal/model"
	"github.com/yeguo/idm/internal/worker"
)

// RunFunc is the unit of work for one task. It runs on the task's
// worker goroutine and must poll w.Checkpoint() at safe points. The
// returned string is the produced artifact path.
type RunFunc func(ctx context.Context, w *worker.Worker, task *model.Task) (string, error)

// Stats is a snapshot of per-status task counts
type Stats struct {
	Total     int
	Pending   int
	Active    int
	Paused    int
	Completed int
	Failed    int
	Cancelled int
}

type entry struct {
	task *model.Task
	run  RunFunc
}

type handle struct {
	task   *model.Task
	worker *worker.Worker
	cancel context.CancelFunc
	path   string
}

// Scheduler owns the task table, the pending queue, and the active
// worker set.
type Scheduler struct {
	mu       sync.RWMutex
	limit    int
	tasks    map[string]*model.Task
	order    []string // insertion order, for stable listings and progress
	pending  []*entry
	active   map[string]*handle
	onUpdate func(model.Task)
	// onCompleted fires once per successful task with the artifact path
	onCompleted func(model.Task, string)
}

// New creates a scheduler with the given concurrency ceiling
func New(limit int) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	return &Scheduler{
		limit:  limit,
		tasks:  make(map[string]*model.Task),
		active: make(map[string]*handle),
	}
}

// SetUpdateCallback registers the per-task change callback. Snapshots
// are passed by value; the callback owns presentation.
func (s *Scheduler) SetUpdateCallback(callback func(model.Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = callback
}

// SetCompletedCallback registers the success callback
func (s *Scheduler) SetCompletedCallback(callback func(model.Task, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCompleted = callback
}

// Submit enqueues a task. It starts immediately when a slot is free,
// otherwise it waits in FIFO order.
func (s *Scheduler) Submit(task *model.Task, run RunFunc) error {
	if task == nil || run == nil {
		return errors.New("submit requires a task and a run function")
	}

	s.mu.Lock()
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("task already submitted: %s", task.ID)
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)

	e := &entry{task: task, run: run}
	if len(s.active) < s.limit {
		s.startLocked(e)
	} else {
		s.pending = append(s.pending, e)
	}
	s.mu.Unlock()

	s.notify(task)
	return nil
}

// startLocked moves a task into the active set. Caller holds s.mu.
func (s *Scheduler) startLocked(e *entry) {
	if err := e.task.MarkActive(); err != nil {
		log.Printf("Not starting task %s: %v", e.task.ID, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{task: e.task, worker: worker.NewWorker(), cancel: cancel}
	s.active[e.task.ID] = h

	run := e.run
	if err := h.worker.Start(func(w *worker.Worker) error {
		path, err := run(ctx, w, e.task)
		// The write races the reaper when a stuck call outlives a
		// bounded-join cancel, so it takes the scheduler lock.
		s.mu.Lock()
		h.path = path
		s.mu.Unlock()
		return err
	}); err != nil {
		// Unreachable with a fresh worker; keep the slot accounting sane
		delete(s.active, e.task.ID)
		cancel()
		return
	}

	go s.reap(h)
}

// reap waits for the worker to reach a terminal state, finalizes the
// task, frees the slot, and admits the next queued task. A stuck worker
// that is never cancelled keeps its slot forever; that boundary is
// accepted and the Await loop here just keeps polling.
func (s *Scheduler) reap(h *handle) {
	var err error
	for {
		err = h.worker.Await(time.Second)
		if !errors.Is(err, worker.ErrTimeout) {
			break
		}
	}
	h.cancel()
	s.onWorkerFinished(h, err)
}

func (s *Scheduler) onWorkerFinished(h *handle, err error) {
	s.mu.Lock()
	delete(s.active, h.task.ID)

	task := h.task
	switch {
	case errors.Is(err, worker.ErrCancelled):
		if terr := task.MarkCancelled(); terr != nil {
			log.Printf("Finalize cancelled task %s: %v", task.ID, terr)
		}
	case err != nil:
		if terr := task.MarkFailed(err); terr != nil {
			log.Printf("Finalize failed task %s: %v", task.ID, terr)
		}
		log.Printf("Task %s failed: %v", task.ID, err)
	default:
		if terr := task.MarkCompleted(h.path); terr != nil {
			log.Printf("Finalize completed task %s: %v", task.ID, terr)
		}
	}

	// Drain the queue one task at a time: each completion admits at
	// most what the freed capacity allows.
	var started []*model.Task
	for len(s.pending) > 0 && len(s.active) < s.limit {
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.startLocked(next)
		started = append(started, next.task)
	}

	completed := task.Status == model.StatusCompleted
	onCompleted := s.onCompleted
	path := h.path
	s.mu.Unlock()

	s.notify(task)
	for _, st := range started {
		s.notify(st)
	}
	if completed && onCompleted != nil {
		onCompleted(snapshot(task), path)
	}
}

// Pause suspends one active task at its next checkpoint
func (s *Scheduler) Pause(taskID string) error {
	s.mu.Lock()
	h, ok := s.active[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task not active: %s", taskID)
	}
	h.worker.Pause()
	if err := h.task.SetStatus(model.StatusPaused); err != nil {
		s.mu.Unlock()
		return err
	}
	task := h.task
	s.mu.Unlock()

	s.notify(task)
	return nil
}

// Resume wakes one paused task
func (s *Scheduler) Resume(taskID string) error {
	s.mu.Lock()
	h, ok := s.active[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task not active: %s", taskID)
	}
	h.worker.Resume()
	if err := h.task.SetStatus(model.StatusActive); err != nil {
		s.mu.Unlock()
		return err
	}
	task := h.task
	s.mu.Unlock()

	s.notify(task)
	return nil
}

// Cancel stops one task. Active tasks get a cooperative cancel with a
// bounded join; queued tasks are removed without being marked failed.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	if h, ok := s.active[taskID]; ok {
		s.mu.Unlock()
		h.cancel()
		h.worker.Cancel()
		// reap finalizes status and frees the slot
		return nil
	}

	for i, e := range s.pending {
		if e.task.ID == taskID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			task := e.task
			if err := task.MarkCancelled(); err != nil {
				s.mu.Unlock()
				return err
			}
			s.mu.Unlock()
			s.notify(task)
			return nil
		}
	}
	s.mu.Unlock()
	return fmt.Errorf("task not found or already finished: %s", taskID)
}

// PauseAll suspends every active task, returning how many were paused
func (s *Scheduler) PauseAll() int {
	s.mu.Lock()
	var paused []*model.Task
	for _, h := range s.active {
		if h.task.Status != model.StatusActive {
			continue
		}
		h.worker.Pause()
		if err := h.task.SetStatus(model.StatusPaused); err == nil {
			paused = append(paused, h.task)
		}
	}
	s.mu.Unlock()

	for _, task := range paused {
		s.notify(task)
	}
	return len(paused)
}

// ResumeAll wakes every paused task, returning how many were resumed
func (s *Scheduler) ResumeAll() int {
	s.mu.Lock()
	var resumed []*model.Task
	for _, h := range s.active {
		if h.task.Status != model.StatusPaused {
			continue
		}
		h.worker.Resume()
		if err := h.task.SetStatus(model.StatusActive); err == nil {
			resumed = append(resumed, h.task)
		}
	}
	s.mu.Unlock()

	for _, task := range resumed {
		s.notify(task)
	}
	return len(resumed)
}

// CancelAll cancels active tasks and drops the whole queue. Queued
// tasks are cancelled, never marked failed.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.active))
	for _, h := range s.active {
		handles = append(handles, h)
	}
	dropped := s.pending
	s.pending = nil
	s.mu.Unlock()

	count := 0
	for _, e := range dropped {
		if err := e.task.MarkCancelled(); err == nil {
			count++
			s.notify(e.task)
		}
	}
	for _, h := range handles {
		h.cancel()
		h.worker.Cancel()
		count++
	}
	return count
}

// Promote moves a queued task to the front of the pending queue.
// Active tasks are never preempted.
func (s *Scheduler) Promote(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.pending {
		if e.task.ID == taskID {
			if i > 0 {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				s.pending = append([]*entry{e}, s.pending...)
			}
			return nil
		}
	}
	return fmt.Errorf("task not queued: %s", taskID)
}

// GetTask returns a snapshot of one task
func (s *Scheduler) GetTask(taskID string) (model.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return model.Task{}, false
	}
	return snapshot(task), true
}

// Tasks returns snapshots of every known task in submission order
func (s *Scheduler) Tasks() []model.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Task, 0, len(s.order))
	for _, id := range s.order {
		if task, ok := s.tasks[id]; ok {
			out = append(out, snapshot(task))
		}
	}
	return out
}

// UpdateProgress records a progress sample for an active task
func (s *Scheduler) UpdateProgress(taskID string, percent int, speed string) {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	task.UpdateProgress(percent, speed)
	s.mu.Unlock()

	s.notify(task)
}

// Progress returns the aggregate percent over every task ever seen:
// (terminal x 100 + sum of in-flight percents) / total. Terminal means
// no more work, not success, which keeps the aggregate monotonic when
// tasks fail or are cancelled before reporting progress.
func (s *Scheduler) Progress() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return 0
	}
	sum := 0
	for _, id := range s.order {
		task := s.tasks[id]
		if task.Status.IsTerminal() {
			sum += 100
		} else {
			sum += task.Percent
		}
	}
	return sum / len(s.order)
}

// Stats returns per-status counts over every known task
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Total: len(s.tasks)}
	for _, task := range s.tasks {
		switch task.Status {
		case model.StatusPending:
			stats.Pending++
		case model.StatusActive:
			stats.Active++
		case model.StatusPaused:
			stats.Paused++
		case model.StatusCompleted:
			stats.Completed++
		case model.StatusFailed:
			stats.Failed++
		case model.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// ClearFinished removes terminal tasks from the table, returning how
// many were purged.
func (s *Scheduler) ClearFinished() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		task := s.tasks[id]
		if task != nil && task.Status.IsTerminal() {
			delete(s.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// ActiveCount returns the number of occupied concurrency slots
func (s *Scheduler) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// notify calls the update callback with a snapshot taken under the lock
func (s *Scheduler) notify(task *model.Task) {
	s.mu.RLock()
	callback := s.onUpdate
	snap := snapshot(task)
	s.mu.RUnlock()

	if callback != nil {
		callback(snap)
	}
}

func snapshot(task *model.Task) model.Task {
	return *task
}
