package parse

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/yeguo/idm/internal/config"
	"github.com/yeguo/idm/internal/extractor"
	"github.com/yeguo/idm/internal/model"
	"github.com/yeguo/idm/internal/worker"
)

// DefaultStagger separates worker starts within one batch so a burst
// of submissions does not stampede the extractor.
const DefaultStagger = 100 * time.Millisecond

// ItemEvent is emitted once per derived format entry as soon as its
// source item finishes parsing.
type ItemEvent struct {
	Key       string
	SourceURL string
	Title     string
	Entry     model.FormatEntry
}

// BatchSummary is emitted once when every URL of a batch is accounted
// for. Duplicates and failures both count toward Parsed.
type BatchSummary struct {
	TotalURLs    int
	Parsed       int
	UniqueItems  int
	TotalFormats int
	Duplicates   int
	Failures     int
}

// Pipeline parses one batch of URLs. Each URL gets its own worker with
// a staggered start; results dedup into the shared cache and stream out
// through the item callback.
type Pipeline struct {
	mu        sync.Mutex
	extractor extractor.MediaExtractor
	playlists extractor.PlaylistLister
	cache     *Cache
	cfg       *config.Config
	stagger   time.Duration

	workers   []*worker.Worker
	children  []*worker.Worker
	started   bool
	paused    bool
	cancelled bool
	completed bool

	totalURLs    int
	parsed       int
	uniqueItems  int
	totalFormats int
	duplicates   int
	failures     int

	onItem     func(ItemEvent)
	onComplete func(BatchSummary)
}

// NewPipeline creates a pipeline over the shared dedup cache. The
// lister may be nil when collection URLs are not expected.
func NewPipeline(ex extractor.MediaExtractor, lister extractor.PlaylistLister, cache *Cache, cfg *config.Config) *Pipeline {
	return &Pipeline{
		extractor: ex,
		playlists: lister,
		cache:     cache,
		cfg:       cfg,
		stagger:   DefaultStagger,
	}
}

// SetStagger overrides the start stagger (tests use a smaller one)
func (p *Pipeline) SetStagger(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d >= 0 {
		p.stagger = d
	}
}

// SetItemCallback registers the incremental delivery callback
func (p *Pipeline) SetItemCallback(callback func(ItemEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onItem = callback
}

// SetCompleteCallback registers the batch summary callback
func (p *Pipeline) SetCompleteCallback(callback func(BatchSummary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onComplete = callback
}

// Submit starts one worker per URL. A pipeline runs a single batch.
func (p *Pipeline) Submit(urls []string) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("pipeline already running a batch")
	}
	if len(urls) == 0 {
		p.mu.Unlock()
		return errors.New("no URLs to parse")
	}
	p.started = true
	p.totalURLs = len(urls)
	stagger := p.stagger

	workers := make([]*worker.Worker, len(urls))
	for i := range urls {
		workers[i] = worker.NewWorker()
	}
	p.workers = append(p.workers, workers...)
	p.mu.Unlock()

	for i, rawURL := range urls {
		index, u, w := i, rawURL, workers[i]
		// Fresh workers never refuse Start
		_ = w.Start(func(w *worker.Worker) error {
			if index > 0 && stagger > 0 {
				if w.Sleep(time.Duration(index)*stagger) == worker.SignalCancelled {
					p.finishURL(u, worker.ErrCancelled)
					return worker.ErrCancelled
				}
			}
			err := p.parseOne(w, u)
			p.finishURL(u, err)
			return err
		})
	}
	return nil
}

// parseOne resolves one submitted URL: collection expansion, metadata
// extraction, dedup, and delivery.
func (p *Pipeline) parseOne(w *worker.Worker, rawURL string) error {
	platform := extractor.Detect(rawURL)
	opts := extractor.OptionsFor(platform, p.cfg)
	opts.Checkpoint = w.Checkpoint

	if extractor.IsPlaylistURL(rawURL) && p.playlists != nil {
		return p.expandCollection(w, rawURL, platform, opts)
	}

	meta, err := p.extractor.ExtractMetadata(context.Background(), rawURL, opts)
	if err != nil {
		return err
	}
	// Non-blocking check: a pause must not stall the result on its way
	// into the cache, only mute its emission
	if w.Cancelled() {
		return worker.ErrCancelled
	}

	if meta.IsCollection() {
		return p.deliverCollection(w, meta, platform, opts)
	}
	return p.deliver(meta, rawURL, platform)
}

// expandCollection lists a playlist and re-resolves every child
// through the same worker primitives.
func (p *Pipeline) expandCollection(w *worker.Worker, rawURL string, platform extractor.Platform, opts extractor.Options) error {
	items, err := p.playlists.ListItems(context.Background(), rawURL)
	if err != nil {
		return err
	}
	log.Printf("Expanded collection %s into %d items", rawURL, len(items))

	var firstErr error
	for _, item := range items {
		if w.Checkpoint() == worker.SignalCancelled {
			return worker.ErrCancelled
		}
		if err := p.resolveChild(item.URL, platform, opts); err != nil {
			if errors.Is(err, worker.ErrCancelled) {
				return err
			}
			log.Printf("Collection item %s failed: %v", item.URL, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// deliverCollection handles metadata that already carries children.
// Entries with formats deliver directly; bare stubs re-resolve.
func (p *Pipeline) deliverCollection(w *worker.Worker, meta *extractor.Metadata, platform extractor.Platform, opts extractor.Options) error {
	var firstErr error
	for i := range meta.Entries {
		if w.Checkpoint() == worker.SignalCancelled {
			return worker.ErrCancelled
		}
		child := &meta.Entries[i]
		if len(child.Formats) > 0 {
			if err := p.deliver(child, child.WebpageURL, platform); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		childURL := child.WebpageURL
		if childURL == "" {
			continue
		}
		if err := p.resolveChild(childURL, platform, opts); err != nil {
			if errors.Is(err, worker.ErrCancelled) {
				return err
			}
			log.Printf("Child re-resolution failed for %s: %v", childURL, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// resolveChild runs a second-level extraction on its own worker so a
// pipeline-wide pause or cancel reaches it too.
func (p *Pipeline) resolveChild(childURL string, platform extractor.Platform, opts extractor.Options) error {
	cw := worker.NewWorker()
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return worker.ErrCancelled
	}
	p.children = append(p.children, cw)
	p.mu.Unlock()

	var meta *extractor.Metadata
	if err := cw.Start(func(w *worker.Worker) error {
		childOpts := opts
		childOpts.Checkpoint = w.Checkpoint
		m, err := p.extractor.ExtractMetadata(context.Background(), childURL, childOpts)
		if err != nil {
			return err
		}
		meta = m
		return nil
	}); err != nil {
		return err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	// Generous bound: the child extraction already times out through
	// its own options; pausing must not trip this outer wait.
	for {
		err := cw.Await(timeout)
		if errors.Is(err, worker.ErrTimeout) {
			if cw.State() == worker.StatePaused {
				continue
			}
			cw.Cancel()
			return fmt.Errorf("child parse timed out for %s", childURL)
		}
		if err != nil {
			return err
		}
		break
	}
	return p.deliver(meta, childURL, platform)
}

// deliver dedups one parsed item into the cache and emits its format
// entries. A duplicate canonical key still counts toward parsed totals.
func (p *Pipeline) deliver(meta *extractor.Metadata, sourceURL string, platform extractor.Platform) error {
	keySource := meta.WebpageURL
	if keySource == "" {
		keySource = sourceURL
	}
	key := CanonicalKey(keySource)

	formats := extractor.DeriveFormats(meta, key, sourceURL, platform)
	entry := &Entry{
		Key:       key,
		SourceURL: sourceURL,
		Title:     meta.Title,
		Formats:   formats,
	}

	evicted, inserted := p.cache.Put(entry)
	if !inserted {
		p.mu.Lock()
		p.duplicates++
		p.mu.Unlock()
		log.Printf("Skipping duplicate source %s (key %s)", sourceURL, key)
		return nil
	}
	if evicted != "" {
		log.Printf("Parse cache full, evicted oldest entry %s", evicted)
	}

	p.mu.Lock()
	p.uniqueItems++
	p.totalFormats += len(formats)
	suppress := p.paused || p.cancelled
	onItem := p.onItem
	p.mu.Unlock()

	// A paused pipeline stops emitting; late results stay reachable
	// through the cache but produce no event noise.
	if suppress || onItem == nil {
		return nil
	}
	for _, fe := range formats {
		onItem(ItemEvent{Key: key, SourceURL: sourceURL, Title: meta.Title, Entry: fe})
	}
	return nil
}

// finishURL accounts for one submitted URL reaching the end of its
// parse, successful or not, and emits the batch summary after the last
// one.
func (p *Pipeline) finishURL(rawURL string, err error) {
	p.mu.Lock()
	p.parsed++
	if err != nil && !errors.Is(err, worker.ErrCancelled) {
		p.failures++
		kind := extractor.Classify(err)
		log.Printf("Parse failed for %s [%s]: %v (%s)", rawURL, kind, err, extractor.Remedy(kind))
	}

	done := p.parsed >= p.totalURLs && !p.completed && !p.cancelled
	var summary BatchSummary
	var onComplete func(BatchSummary)
	if done {
		p.completed = true
		summary = p.summaryLocked()
		onComplete = p.onComplete
	}
	p.mu.Unlock()

	if done && onComplete != nil {
		onComplete(summary)
	}
}

func (p *Pipeline) summaryLocked() BatchSummary {
	return BatchSummary{
		TotalURLs:    p.totalURLs,
		Parsed:       p.parsed,
		UniqueItems:  p.uniqueItems,
		TotalFormats: p.totalFormats,
		Duplicates:   p.duplicates,
		Failures:     p.failures,
	}
}

// Finished reports whether the batch has run to completion or been
// cancelled.
func (p *Pipeline) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed || p.cancelled || !p.started
}

// Progress returns parsed and total URL counts for the running batch
func (p *Pipeline) Progress() (parsed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parsed, p.totalURLs
}

// Pause suspends every worker of the batch and mutes item emission
func (p *Pipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	workers := p.allWorkersLocked()
	p.mu.Unlock()

	for _, w := range workers {
		w.Pause()
	}
}

// Resume wakes the batch and unmutes emission
func (p *Pipeline) Resume() {
	p.mu.Lock()
	p.paused = false
	workers := p.allWorkersLocked()
	p.mu.Unlock()

	for _, w := range workers {
		w.Resume()
	}
}

// Cancel stops the batch. Each worker gets a bounded join; no batch
// summary is emitted afterwards.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return
	}
	p.cancelled = true
	p.paused = false
	workers := p.allWorkersLocked()
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Cancel()
		}(w)
	}
	wg.Wait()
}

// Await blocks until every worker of the batch is terminal or the
// timeout expires.
func (p *Pipeline) Await(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		workers := p.allWorkersLocked()
		p.mu.Unlock()

		allDone := true
		for _, w := range workers {
			if !w.State().IsTerminal() {
				allDone = false
				break
			}
		}
		if allDone {
			return nil
		}
		if time.Now().After(deadline) {
			return worker.ErrTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (p *Pipeline) allWorkersLocked() []*worker.Worker {
	out := make([]*worker.Worker, 0, len(p.workers)+len(p.children))
	out = append(out, p.workers...)
	out = append(out, p.children...)
	return out
}
