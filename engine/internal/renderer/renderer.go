// Package renderer wraps a long-lived headless Chrome instance for
// JS-rendered organiser result pages, used when the Fetcher's plain GET
// returns a page without pagination anchors (spec §4.2). Page
// concurrency is bounded by a fixed-size slot semaphore; navigation and
// table extraction follow the chromedp task pipeline shown in the
// EdgeComet chrome-renderer reference.
package renderer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/raceops/ingest/engine/models"
)

const maxConcurrentPages = 3

// userAgentPool and viewportPool are the fixed rotation pools spec §4.2
// requires for each new page.
var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
}

type viewport struct{ Width, Height int64 }

var viewportPool = []viewport{
	{1920, 1080}, {1440, 900}, {1366, 768},
}

// paginationSelectorCandidates is the fixed list of CSS candidates tried,
// in order, to detect a "next page" control.
var paginationSelectorCandidates = []string{
	`a[rel="next"]`,
	`.pagination .next:not(.disabled)`,
	`button[aria-label="Next page"]`,
	`a.page-link[aria-label="Next"]`,
}

// ExtractedRow is a single parsed table row: cell text keyed by column
// header.
type ExtractedRow map[string]string

// TableExtract is the result of extract-table-headers-and-rows.
type TableExtract struct {
	Headers []string
	Rows    []ExtractedRow
}

// Renderer manages one browser allocator and bounds concurrent pages.
type Renderer struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserDone context.CancelFunc

	slots chan struct{}
	mu    sync.Mutex
	rnd   *rand.Rand
}

// Options configures resource blocking for pages opened against this
// Renderer.
type Options struct {
	BlockImages bool
	BlockCSS    bool
	BlockFonts  bool
	BlockMedia  bool
}

// New launches a long-lived headless Chrome instance.
func New(ctx context.Context, seed int64) (*Renderer, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	browserCtx, browserDone := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserDone()
		allocCancel()
		return nil, models.NewBrowserError("", err)
	}
	return &Renderer{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		browserDone: browserDone,
		slots:       make(chan struct{}, maxConcurrentPages),
		rnd:         rand.New(rand.NewSource(seed)),
	}, nil
}

// Close shuts down the browser. Idempotent: safe to call more than once
// and is also tied by the caller to process termination signals.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browserDone != nil {
		r.browserDone()
		r.browserDone = nil
	}
	if r.allocCancel != nil {
		r.allocCancel()
		r.allocCancel = nil
	}
}

// Page is a scoped handle to one tab; the caller must call Release on
// every code path once done with it.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
}

// Acquire blocks until one of the 3 concurrent page slots is free, then
// opens a new tab with a rotated user agent and viewport.
func (r *Renderer) Acquire(ctx context.Context, opts Options) (*Page, error) {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	pageCtx, cancel := chromedp.NewContext(r.browserCtx)
	ua := userAgentPool[r.randIndex(len(userAgentPool))]
	vp := viewportPool[r.randIndex(len(viewportPool))]

	released := false
	p := &Page{
		ctx:    pageCtx,
		cancel: cancel,
		release: func() {
			if released {
				return
			}
			released = true
			cancel()
			<-r.slots
		},
	}

	err := chromedp.Run(pageCtx,
		chromedp.UserAgent(ua),
		chromedp.EmulateViewport(vp.Width, vp.Height),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		p.release()
		return nil, models.NewBrowserError("", err)
	}
	applyBlocking(pageCtx, opts)
	return p, nil
}

func (r *Renderer) randIndex(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

// Release returns the page slot. Safe to call multiple times.
func (p *Page) Release() {
	p.release()
}

// NavigateAndWait navigates to url and waits for selector to appear,
// bounded by timeout.
func (p *Page) NavigateAndWait(url, selector string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady(selector, chromedp.ByQuery),
	)
	if err != nil {
		return models.NewBrowserError(url, err)
	}
	return nil
}

// DetectPagination looks for the first matching candidate selector and
// reports whether a next page is available.
func (p *Page) DetectPagination() (selector string, hasNext bool) {
	for _, candidate := range paginationSelectorCandidates {
		var count int
		if err := chromedp.Run(p.ctx, chromedp.EvaluateAsDevTools(
			fmt.Sprintf(`document.querySelectorAll(%q).length`, candidate), &count)); err != nil {
			continue
		}
		if count > 0 {
			return candidate, true
		}
	}
	return "", false
}

// ExtractTable pulls headers and rows from the first table matching
// selector.
func (p *Page) ExtractTable(selector string) (*TableExtract, error) {
	var headers []string
	var rows []map[string]string

	script := fmt.Sprintf(`(function(){
		var t = document.querySelector(%q);
		if (!t) return {headers: [], rows: []};
		var headers = Array.from(t.querySelectorAll('thead th')).map(function(e){return e.textContent.trim();});
		var rows = Array.from(t.querySelectorAll('tbody tr')).map(function(tr){
			var cells = Array.from(tr.querySelectorAll('td')).map(function(e){return e.textContent.trim();});
			var row = {};
			for (var i = 0; i < headers.length && i < cells.length; i++) { row[headers[i]] = cells[i]; }
			return row;
		});
		return {headers: headers, rows: rows};
	})()`, selector)

	var out struct {
		Headers []string            `json:"headers"`
		Rows    []map[string]string `json:"rows"`
	}
	if err := chromedp.Run(p.ctx, chromedp.Evaluate(script, &out)); err != nil {
		return nil, models.NewBrowserError("", err)
	}
	headers = out.Headers
	rows = out.Rows

	extracted := make([]ExtractedRow, len(rows))
	for i, row := range rows {
		extracted[i] = ExtractedRow(row)
	}
	return &TableExtract{Headers: headers, Rows: extracted}, nil
}

// ScrollToLoad scrolls to the bottom repeatedly, up to maxIterations
// times, to trigger infinite-scroll loading, stopping early once the
// page height stabilises.
func (p *Page) ScrollToLoad(maxIterations int) error {
	var lastHeight int64
	for i := 0; i < maxIterations; i++ {
		var height int64
		if err := chromedp.Run(p.ctx,
			chromedp.Evaluate(`document.body.scrollHeight`, &height),
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		); err != nil {
			return models.NewBrowserError("", err)
		}
		if height == lastHeight {
			return nil
		}
		lastHeight = height
		time.Sleep(500 * time.Millisecond)
	}
	return nil
}

func applyBlocking(ctx context.Context, opts Options) {
	var blocked []string
	if opts.BlockImages {
		blocked = append(blocked, "*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp")
	}
	if opts.BlockCSS {
		blocked = append(blocked, "*.css")
	}
	if opts.BlockFonts {
		blocked = append(blocked, "*.woff", "*.woff2", "*.ttf")
	}
	if opts.BlockMedia {
		blocked = append(blocked, "*.mp4", "*.webm", "*.mp3")
	}
	if len(blocked) == 0 {
		return
	}
	_ = chromedp.Run(ctx,
		network.Enable(),
		network.SetBlockedURLs(blocked),
	)
}
