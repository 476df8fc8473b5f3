// Package app composes the parse pipeline, the download scheduler, the
// extractor backends, and the history store behind one facade. Callers
// (the CLI, a future GUI) drive it through methods and consume a single
// event stream.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/yeguo/idm/internal/cascade"
	"github.com/yeguo/idm/internal/config"
	"github.com/yeguo/idm/internal/extractor"
	"github.com/yeguo/idm/internal/history"
	"github.com/yeguo/idm/internal/model"
	"github.com/yeguo/idm/internal/parse"
	"github.com/yeguo/idm/internal/scheduler"
	"github.com/yeguo/idm/internal/worker"
)

// progressInterval is the aggregate progress polling cadence
const progressInterval = 500 * time.Millisecond

// Orchestrator is the application core facade
type Orchestrator struct {
	cfg       *config.Config
	ytdlp     extractor.MediaExtractor
	native    *extractor.Native
	playlists extractor.PlaylistLister
	sched     *scheduler.Scheduler
	cache     *parse.Cache
	hist      *history.Store

	mu       sync.Mutex
	pipeline *parse.Pipeline

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
}

// New wires the orchestrator. The history store may be nil to disable
// persistence.
func New(cfg *config.Config, hist *history.Store) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		ytdlp:     extractor.NewYTDLP(),
		native:    extractor.NewNative(),
		playlists: extractor.NewYouTubePlaylists(),
		sched:     scheduler.New(cfg.MaxConcurrentDownloads),
		cache:     parse.NewCache(cfg.CacheLimit),
		hist:      hist,
		events:    make(chan Event, 256),
		stop:      make(chan struct{}),
	}

	o.sched.SetUpdateCallback(func(task model.Task) {
		o.emit(TaskUpdateEvent{Task: task})
	})
	o.sched.SetCompletedCallback(func(task model.Task, path string) {
		o.recordCompleted(task, path)
		o.emit(TaskCompletedEvent{Task: task, Path: path})
	})

	go o.pollProgress()
	return o
}

// Events returns the orchestrator's event stream. Events are dropped,
// not blocked on, when the consumer falls behind.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// SubmitParse starts parsing a batch of URLs. One batch runs at a time.
func (o *Orchestrator) SubmitParse(urls []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pipeline != nil && !o.pipeline.Finished() {
		return errors.New("a parse batch is already running")
	}

	p := parse.NewPipeline(o.ytdlp, o.playlists, o.cache, o.cfg)
	p.SetItemCallback(func(ev parse.ItemEvent) {
		o.emit(ParsedItemEvent{Item: ev})
	})
	p.SetCompleteCallback(func(s parse.BatchSummary) {
		o.emit(BatchCompleteEvent{Summary: s})
	})

	if err := p.Submit(urls); err != nil {
		return err
	}
	o.pipeline = p
	return nil
}

// PauseParse suspends the running parse batch
func (o *Orchestrator) PauseParse() {
	if p := o.currentPipeline(); p != nil {
		p.Pause()
	}
}

// ResumeParse wakes the running parse batch
func (o *Orchestrator) ResumeParse() {
	if p := o.currentPipeline(); p != nil {
		p.Resume()
	}
}

// CancelParse stops the running parse batch
func (o *Orchestrator) CancelParse() {
	if p := o.currentPipeline(); p != nil {
		p.Cancel()
	}
}

func (o *Orchestrator) currentPipeline() *parse.Pipeline {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pipeline
}

// CachedEntry returns the parse result for a canonical key
func (o *Orchestrator) CachedEntry(key string) (*parse.Entry, bool) {
	return o.cache.Get(key)
}

// SubmitDownload queues one format entry for download and returns the
// task ID.
func (o *Orchestrator) SubmitDownload(entry model.FormatEntry, priority int) (string, error) {
	if entry.SourceURL == "" {
		return "", errors.New("format entry has no source URL")
	}

	task := model.NewTask(model.KindDownload, entry.SourceURL, priority)
	task.Title = entry.Title
	task.FormatID = entry.FormatID

	if err := o.sched.Submit(task, o.downloadRun(entry)); err != nil {
		return "", err
	}
	return task.ID, nil
}

// downloadRun builds the per-task work function: a strategy cascade
// over the extractor backends with progress fed back to the scheduler.
func (o *Orchestrator) downloadRun(entry model.FormatEntry) scheduler.RunFunc {
	return func(ctx context.Context, w *worker.Worker, task *model.Task) (string, error) {
		platform := extractor.Platform(entry.Platform)
		if platform == "" {
			platform = extractor.Detect(entry.SourceURL)
		}
		base := extractor.OptionsFor(platform, o.cfg)
		base.Checkpoint = w.Checkpoint
		base.NoPlaylist = true
		base.Log = func(msg string) {
			log.Printf("Task %s: %s", task.ID, msg)
		}

		onProgress := func(ev extractor.ProgressEvent) {
			if ev.Finished {
				return
			}
			o.sched.UpdateProgress(task.ID, ev.Percent(), model.SpeedLabel(ev.BytesPerSec))
		}

		casc := &cascade.Cascade{
			Strategies:     buildStrategies(entry, platform),
			MaxAttempts:    o.cfg.MaxRetryAttempts + 1,
			RetryDelay:     o.cfg.RetryDelay(),
			ForbiddenDelay: o.cfg.ForbiddenDelay(),
			Cancelled:      w.Cancelled,
			Logf: func(format string, args ...any) {
				log.Printf("Task %s: %s", task.ID, fmt.Sprintf(format, args...))
			},
		}

		result, err := casc.Run(ctx, func(ctx context.Context, s cascade.Strategy) (string, error) {
			opts := base.Merge(s.Overrides)
			opts.Format = s.Format
			switch s.Client {
			case "native":
				return o.native.Download(ctx, entry.SourceURL, opts, onProgress)
			case "direct":
				return o.native.DownloadDirect(ctx, entry.DirectURL, opts, onProgress)
			default:
				return o.ytdlp.Download(ctx, entry.SourceURL, opts, onProgress)
			}
		})
		if err != nil {
			var ex *cascade.ExhaustedError
			if errors.As(err, &ex) {
				kind := ex.Category()
				return "", fmt.Errorf("%w (%s)", err, extractor.Remedy(kind))
			}
			return "", err
		}

		log.Printf("Task %s: strategy %d (%s) produced %s after %d attempts",
			task.ID, result.WinnerIndex, result.WinnerName, result.Path, result.Attempts)
		return result.Path, nil
	}
}

// buildStrategies assembles the ladder for one entry: the requested
// format first, progressively laxer selectors after it, and a
// non-subprocess fallback at the bottom.
func buildStrategies(entry model.FormatEntry, platform extractor.Platform) []cascade.Strategy {
	if entry.DirectURL != "" {
		return []cascade.Strategy{
			{Name: "direct-url", Client: "direct"},
			{Name: "best-single", Client: "ytdlp", Format: "best"},
		}
	}

	var ladder []cascade.Strategy
	if entry.Resolution == "audio" {
		ladder = []cascade.Strategy{
			{Name: "selected-audio", Client: "ytdlp", Format: entry.FormatID},
			{Name: "best-audio", Client: "ytdlp", Format: "bestaudio/best"},
		}
	} else {
		selected := entry.FormatID
		if selected != "" {
			selected = fmt.Sprintf("%s+bestaudio/%s", entry.FormatID, entry.FormatID)
		} else {
			selected = "bestvideo+bestaudio/best"
		}
		ladder = []cascade.Strategy{
			{Name: "selected-format", Client: "ytdlp", Format: selected},
			{Name: "best-merged", Client: "ytdlp", Format: "bestvideo+bestaudio/best"},
			{Name: "best-single", Client: "ytdlp", Format: "best"},
		}
	}

	if platform == extractor.PlatformYouTube {
		ladder = append(ladder, cascade.Strategy{Name: "native-client", Client: "native", Format: entry.FormatID})
	}
	return ladder
}

// Pause suspends one task or, with "all", every active task
func (o *Orchestrator) Pause(taskID string) error {
	if taskID == "all" {
		o.sched.PauseAll()
		return nil
	}
	return o.sched.Pause(taskID)
}

// Resume wakes one task or, with "all", every paused task
func (o *Orchestrator) Resume(taskID string) error {
	if taskID == "all" {
		o.sched.ResumeAll()
		return nil
	}
	return o.sched.Resume(taskID)
}

// Cancel stops one task or, with "all", the whole queue
func (o *Orchestrator) Cancel(taskID string) error {
	if taskID == "all" {
		o.sched.CancelAll()
		return nil
	}
	return o.sched.Cancel(taskID)
}

// Promote moves a queued task to the front of the queue
func (o *Orchestrator) Promote(taskID string) error {
	return o.sched.Promote(taskID)
}

// Progress returns the aggregate download percent
func (o *Orchestrator) Progress() int {
	return o.sched.Progress()
}

// Stats returns per-status task counts
func (o *Orchestrator) Stats() scheduler.Stats {
	return o.sched.Stats()
}

// Tasks returns snapshots of every known task
func (o *Orchestrator) Tasks() []model.Task {
	return o.sched.Tasks()
}

// ClearFinished purges terminal tasks, returning how many were removed
func (o *Orchestrator) ClearFinished() int {
	return o.sched.ClearFinished()
}

// History lists recent completed downloads, newest first
func (o *Orchestrator) History(limit int) ([]history.Record, error) {
	if o.hist == nil {
		return nil, nil
	}
	return o.hist.List(limit)
}

// Close stops the progress poller. In-flight tasks are not cancelled;
// call Cancel("all") first for a hard shutdown.
func (o *Orchestrator) Close() {
	o.stopOnce.Do(func() { close(o.stop) })
}

// pollProgress emits the aggregate snapshot on a fixed cadence instead
// of per-chunk chatter.
func (o *Orchestrator) pollProgress() {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			stats := o.sched.Stats()
			if stats.Total == 0 {
				continue
			}
			o.emit(ProgressEvent{Percent: o.sched.Progress(), Stats: stats})
		}
	}
}

func (o *Orchestrator) recordCompleted(task model.Task, path string) {
	if o.hist == nil {
		return
	}
	rec := history.Record{
		URL:        task.URL,
		Title:      task.Title,
		FormatID:   task.FormatID,
		Platform:   string(extractor.Detect(task.URL)),
		OutputPath: path,
	}
	if st, err := os.Stat(path); err == nil {
		rec.FileSize = st.Size()
	}
	if err := o.hist.Append(rec); err != nil {
		log.Printf("Recording download history failed: %v", err)
	}
}

// emit delivers an event without ever blocking the core: a slow
// consumer loses events, it does not stall downloads.
func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
	}
}
