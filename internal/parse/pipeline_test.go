package parse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yeguo/idm/internal/config"
	"github.com/yeguo/idm/internal/extractor"
)

// fakeExtractor serves canned metadata keyed by URL
type fakeExtractor struct {
	mu    sync.Mutex
	metas map[string]*extractor.Metadata
	errs  map[string]error
	delay time.Duration
	calls []string
}

func (f *fakeExtractor) ExtractMetadata(ctx context.Context, url string, opts extractor.Options) (*extractor.Metadata, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if meta, ok := f.metas[url]; ok {
		return meta, nil
	}
	return nil, errors.New("no metadata configured for " + url)
}

func (f *fakeExtractor) Download(ctx context.Context, url string, opts extractor.Options, onProgress func(extractor.ProgressEvent)) (string, error) {
	return "", errors.New("not a download backend")
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLister struct {
	items []extractor.PlaylistItem
	err   error
}

func (f *fakeLister) ListItems(ctx context.Context, url string) ([]extractor.PlaylistItem, error) {
	return f.items, f.err
}

func singleMeta(id, title string) *extractor.Metadata {
	return &extractor.Metadata{
		ID:         id,
		Title:      title,
		WebpageURL: "https://www.youtube.com/watch?v=" + id,
		Formats: []extractor.Format{
			{ID: "22", Ext: "mp4", Resolution: "720p", VCodec: "avc1", Filesize: 1000},
			{ID: "140", Ext: "m4a", Resolution: "", VCodec: "none", Filesize: 100},
		},
	}
}

func newTestPipeline(ex extractor.MediaExtractor, lister extractor.PlaylistLister) (*Pipeline, *Cache) {
	cache := NewCache(20)
	p := NewPipeline(ex, lister, cache, config.Default())
	p.SetStagger(time.Millisecond)
	return p, cache
}

// Three URLs where two share an identity: the duplicate is skipped but
// still counts toward the batch totals, and the summary reflects it.
func TestPipeline_DedupAndSummary(t *testing.T) {
	urlA := "https://www.youtube.com/watch?v=aaaaaaaaaaa"
	urlADup := "https://youtu.be/aaaaaaaaaaa"
	urlB := "https://www.youtube.com/watch?v=bbbbbbbbbbb"

	ex := &fakeExtractor{metas: map[string]*extractor.Metadata{
		urlA:    singleMeta("aaaaaaaaaaa", "A"),
		urlADup: singleMeta("aaaaaaaaaaa", "A"),
		urlB:    singleMeta("bbbbbbbbbbb", "B"),
	}}
	p, cache := newTestPipeline(ex, nil)

	var mu sync.Mutex
	var events []ItemEvent
	p.SetItemCallback(func(ev ItemEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	summaryCh := make(chan BatchSummary, 1)
	p.SetCompleteCallback(func(s BatchSummary) { summaryCh <- s })

	if err := p.Submit([]string{urlA, urlADup, urlB}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	var summary BatchSummary
	select {
	case summary = <-summaryCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Batch summary never arrived")
	}

	if summary.Parsed != 3 || summary.TotalURLs != 3 {
		t.Errorf("Expected 3/3 parsed including the duplicate, got %d/%d", summary.Parsed, summary.TotalURLs)
	}
	if summary.UniqueItems != 2 {
		t.Errorf("Expected 2 unique items, got %d", summary.UniqueItems)
	}
	if summary.Duplicates != 1 {
		t.Errorf("Expected 1 duplicate, got %d", summary.Duplicates)
	}
	// 2 unique items x 2 format buckets each
	if summary.TotalFormats != 4 {
		t.Errorf("Expected 4 format entries, got %d", summary.TotalFormats)
	}

	if cache.Len() != 2 {
		t.Errorf("Expected 2 cached entries, got %d", cache.Len())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 4 {
		t.Errorf("Expected 4 item events (one per format entry), got %d", len(events))
	}
}

// Results must stream out before the whole batch completes.
func TestPipeline_IncrementalDelivery(t *testing.T) {
	fast := "https://www.youtube.com/watch?v=fastfastfas"
	slow := "https://www.youtube.com/watch?v=slowslowslo"

	slowRelease := make(chan struct{})
	ex := &slowOneExtractor{
		inner: &fakeExtractor{metas: map[string]*extractor.Metadata{
			fast: singleMeta("fastfastfas", "Fast"),
			slow: singleMeta("slowslowslo", "Slow"),
		}},
		slowURL: slow,
		release: slowRelease,
	}
	p, _ := newTestPipeline(ex, nil)

	firstItem := make(chan ItemEvent, 8)
	p.SetItemCallback(func(ev ItemEvent) { firstItem <- ev })

	if err := p.Submit([]string{fast, slow}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	select {
	case ev := <-firstItem:
		if ev.Key != "youtube:fastfastfas" {
			t.Errorf("Expected the fast item first, got %s", ev.Key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No incremental delivery before batch completion")
	}

	parsed, total := p.Progress()
	if parsed >= total {
		t.Errorf("Expected batch still in flight, got %d/%d", parsed, total)
	}

	close(slowRelease)
	if err := p.Await(3 * time.Second); err != nil {
		t.Fatalf("Await() = %v", err)
	}
}

// slowOneExtractor delays one URL until released
type slowOneExtractor struct {
	inner   *fakeExtractor
	slowURL string
	release <-chan struct{}
}

func (s *slowOneExtractor) ExtractMetadata(ctx context.Context, url string, opts extractor.Options) (*extractor.Metadata, error) {
	if url == s.slowURL {
		<-s.release
	}
	return s.inner.ExtractMetadata(ctx, url, opts)
}

func (s *slowOneExtractor) Download(ctx context.Context, url string, opts extractor.Options, onProgress func(extractor.ProgressEvent)) (string, error) {
	return s.inner.Download(ctx, url, opts, onProgress)
}

// A failed URL still counts toward parsed so the batch completes.
func TestPipeline_FailureCountsTowardCompletion(t *testing.T) {
	good := "https://www.youtube.com/watch?v=goodgoodgoo"
	bad := "https://www.youtube.com/watch?v=badbadbadba"

	ex := &fakeExtractor{
		metas: map[string]*extractor.Metadata{good: singleMeta("goodgoodgoo", "Good")},
		errs:  map[string]error{bad: errors.New("HTTP Error 403: Forbidden")},
	}
	p, _ := newTestPipeline(ex, nil)

	summaryCh := make(chan BatchSummary, 1)
	p.SetCompleteCallback(func(s BatchSummary) { summaryCh <- s })

	if err := p.Submit([]string{good, bad}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	select {
	case summary := <-summaryCh:
		if summary.Parsed != 2 {
			t.Errorf("Expected failures to count as parsed, got %d", summary.Parsed)
		}
		if summary.Failures != 1 {
			t.Errorf("Expected 1 failure, got %d", summary.Failures)
		}
		if summary.UniqueItems != 1 {
			t.Errorf("Expected 1 unique item, got %d", summary.UniqueItems)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Batch summary never arrived")
	}
}

// A paused pipeline suppresses item events; results land in the cache
// silently.
func TestPipeline_PauseSuppressesEmission(t *testing.T) {
	url := "https://www.youtube.com/watch?v=pausedpause"

	started := make(chan struct{})
	release := make(chan struct{})
	ex := &gatedExtractor{
		inner:   &fakeExtractor{metas: map[string]*extractor.Metadata{url: singleMeta("pausedpause", "P")}},
		started: started,
		release: release,
	}
	p, cache := newTestPipeline(ex, nil)

	var emitted sync.Map
	p.SetItemCallback(func(ev ItemEvent) { emitted.Store(ev.Entry.FormatID, true) })

	if err := p.Submit([]string{url}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	<-started
	p.Pause()
	close(release)

	// The extraction finishes while paused; its result must be cached
	// but not emitted
	deadline := time.Now().Add(2 * time.Second)
	for cache.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cache.Len() != 1 {
		t.Fatalf("Expected result cached while paused, got %d entries", cache.Len())
	}

	count := 0
	emitted.Range(func(_, _ any) bool { count++; return true })
	if count != 0 {
		t.Errorf("Expected no item events while paused, got %d", count)
	}
}

// gatedExtractor signals entry and waits for release before returning
type gatedExtractor struct {
	inner     *fakeExtractor
	started   chan struct{}
	release   <-chan struct{}
	startOnce sync.Once
}

func (g *gatedExtractor) ExtractMetadata(ctx context.Context, url string, opts extractor.Options) (*extractor.Metadata, error) {
	g.startOnce.Do(func() { close(g.started) })
	<-g.release
	return g.inner.ExtractMetadata(ctx, url, opts)
}

func (g *gatedExtractor) Download(ctx context.Context, url string, opts extractor.Options, onProgress func(extractor.ProgressEvent)) (string, error) {
	return g.inner.Download(ctx, url, opts, onProgress)
}

// Cancel stops the batch: no summary is emitted afterwards.
func TestPipeline_CancelSuppressesSummary(t *testing.T) {
	urls := []string{
		"https://www.youtube.com/watch?v=cancelcance",
		"https://www.youtube.com/watch?v=cancelcanc2",
	}
	ex := &fakeExtractor{
		metas: map[string]*extractor.Metadata{
			urls[0]: singleMeta("cancelcance", "C1"),
			urls[1]: singleMeta("cancelcanc2", "C2"),
		},
		delay: 50 * time.Millisecond,
	}
	p, _ := newTestPipeline(ex, nil)
	p.SetStagger(200 * time.Millisecond)

	summaryCh := make(chan BatchSummary, 1)
	p.SetCompleteCallback(func(s BatchSummary) { summaryCh <- s })

	if err := p.Submit(urls); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	p.Cancel()

	select {
	case <-summaryCh:
		t.Error("Batch summary emitted after cancellation")
	case <-time.After(500 * time.Millisecond):
	}
}

// A collection URL expands through the lister, resolving each child
// through its own worker.
func TestPipeline_CollectionExpansion(t *testing.T) {
	playlist := "https://www.youtube.com/playlist?list=PLtest"
	child1 := "https://www.youtube.com/watch?v=child1child"
	child2 := "https://www.youtube.com/watch?v=child2child"

	ex := &fakeExtractor{metas: map[string]*extractor.Metadata{
		child1: singleMeta("child1child", "Child 1"),
		child2: singleMeta("child2child", "Child 2"),
	}}
	lister := &fakeLister{items: []extractor.PlaylistItem{
		{VideoID: "child1child", Title: "Child 1", URL: child1},
		{VideoID: "child2child", Title: "Child 2", URL: child2},
	}}
	p, cache := newTestPipeline(ex, lister)

	summaryCh := make(chan BatchSummary, 1)
	p.SetCompleteCallback(func(s BatchSummary) { summaryCh <- s })

	if err := p.Submit([]string{playlist}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	select {
	case summary := <-summaryCh:
		if summary.Parsed != 1 {
			t.Errorf("Expected 1 parsed top-level URL, got %d", summary.Parsed)
		}
		if summary.UniqueItems != 2 {
			t.Errorf("Expected 2 unique children, got %d", summary.UniqueItems)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Batch summary never arrived")
	}

	if !cache.Contains("youtube:child1child") || !cache.Contains("youtube:child2child") {
		t.Error("Expected both children cached under their own keys")
	}
	if ex.callCount() != 2 {
		t.Errorf("Expected one extraction per child, got %d", ex.callCount())
	}
}

// Collection metadata whose children lack formats re-resolves each
// child individually.
func TestPipeline_ChildReResolution(t *testing.T) {
	collection := "https://www.bilibili.com/video/BV1xx411c7mD"
	childURL := "https://www.bilibili.com/video/BV1yy411c7mE"

	childStub := extractor.Metadata{WebpageURL: childURL, Title: "Part 2"}
	full := singleMeta("ignored", "Part 2 full")
	full.WebpageURL = childURL

	ex := &fakeExtractor{metas: map[string]*extractor.Metadata{
		collection: {
			Title:      "Collection",
			WebpageURL: collection,
			Entries:    []extractor.Metadata{childStub},
		},
		childURL: full,
	}}
	p, cache := newTestPipeline(ex, nil)

	summaryCh := make(chan BatchSummary, 1)
	p.SetCompleteCallback(func(s BatchSummary) { summaryCh <- s })

	if err := p.Submit([]string{collection}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}

	select {
	case summary := <-summaryCh:
		if summary.UniqueItems != 1 {
			t.Errorf("Expected the re-resolved child delivered, got %d unique", summary.UniqueItems)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Batch summary never arrived")
	}

	if !cache.Contains("bilibili:BV1yy411c7mE") {
		t.Error("Expected the child cached under its canonical key")
	}
}

func TestPipeline_SecondSubmitRejected(t *testing.T) {
	url := "https://www.youtube.com/watch?v=onebatchonl"
	ex := &fakeExtractor{metas: map[string]*extractor.Metadata{url: singleMeta("onebatchonl", "X")}}
	p, _ := newTestPipeline(ex, nil)

	if err := p.Submit([]string{url}); err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if err := p.Submit([]string{url}); err == nil {
		t.Error("Expected second Submit() to be rejected")
	}
	if err := p.Submit(nil); err == nil {
		t.Error("Expected empty Submit() to be rejected")
	}
}
