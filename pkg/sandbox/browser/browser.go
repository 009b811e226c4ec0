// Package browser runs player pages in headless Chrome over the DevTools
// protocol. The page document is served from the sanitized markup through
// request interception; every other request goes to the network.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"manifest-extractor-go/pkg/config"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/sandbox"
	"manifest-extractor-go/pkg/types"
	"manifest-extractor-go/pkg/urlutil"
)

// interceptTimeout bounds each CDP command issued from the interception handler.
const interceptTimeout = 2 * time.Second

var errClosed = errors.New("browser closed")

// Options configures the Chrome backend.
type Options struct {
	ExecPath  string
	Headless  bool
	NoSandbox bool
	UserAgent string
	// Domains makes the builder preferred for these hosts.
	Domains []string
}

// OptionsFromConfig maps the chrome section of cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ExecPath:  cfg.Chrome.Path,
		Headless:  cfg.Chrome.Headless,
		NoSandbox: cfg.Chrome.NoSandbox,
		UserAgent: cfg.UserAgent,
		Domains:   cfg.Chrome.Domains,
	}
}

// Builder owns one Chrome process, started on first use, and opens one tab
// per session.
type Builder struct {
	opts Options
	log  *logging.Logger

	mu           sync.Mutex
	allocCancel  context.CancelFunc
	browserCtx   context.Context
	browserClose context.CancelFunc
	closed       bool
}

// NewBuilder creates a Builder. Chrome is not launched until the first Build.
func NewBuilder(opts Options, log *logging.Logger) *Builder {
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	return &Builder{
		opts: opts,
		log:  log.WithComponent("sandbox.browser"),
	}
}

func (b *Builder) Name() string { return config.BackendChrome }

func (b *Builder) CanHandle(pageURL string) bool {
	return urlutil.MatchesDomain(pageURL, b.opts.Domains)
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	var headless string
	if opts.Headless {
		headless = "new"
	}

	out := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", headless),
		chromedp.Flag("no-sandbox", opts.NoSandbox),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.UserAgent(opts.UserAgent),
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	return out
}

// browser returns the shared browser context, launching Chrome if needed.
func (b *Builder) browser() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errClosed
	}
	if b.browserCtx != nil && b.browserCtx.Err() == nil {
		return b.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(b.opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	b.allocCancel, b.browserCtx, b.browserClose = allocCancel, browserCtx, browserCancel
	b.log.Info("chrome started", "headless", b.opts.Headless)
	return browserCtx, nil
}

// Build opens a tab, serves markup as the document at baseURL, installs the
// instrumentation and waits for the load event.
func (b *Builder) Build(ctx context.Context, markup, baseURL string) (sandbox.Session, error) {
	browserCtx, err := b.browser()
	if err != nil {
		return nil, &types.SandboxError{Stage: "launch", Err: err}
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	s := &Session{
		tabCtx:  tabCtx,
		cancel:  tabCancel,
		capture: sandbox.NewCapture(),
		log:     b.log.WithURL(baseURL),
	}

	body := base64.StdEncoding.EncodeToString([]byte(markup))
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			if e.Name == sandbox.CaptureBinding {
				s.capture.Set(e.Payload)
			}
		case *fetch.EventRequestPaused:
			go s.intercept(e, body)
		}
	})

	// The target must be created on the tab context itself so it outlives Build.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, &types.SandboxError{Stage: "tab", Err: err}
	}

	runCtx, stop := s.bound(ctx)
	defer stop()

	err = chromedp.Run(runCtx,
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{
			URLPattern:   "*",
			ResourceType: network.ResourceTypeDocument,
			RequestStage: fetch.RequestStageRequest,
		}}),
		runtime.Enable(),
		runtime.AddBinding(sandbox.CaptureBinding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(sandbox.InstrumentJS).Do(ctx)
			return err
		}),
		chromedp.Navigate(baseURL),
	)
	if err != nil {
		s.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &types.SandboxError{Stage: "navigate", Err: err}
	}

	return s, nil
}

// Close shuts Chrome down. Open sessions fail afterwards.
func (b *Builder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.browserClose != nil {
		b.browserClose()
		b.allocCancel()
	}
	return nil
}

// Session is one Chrome tab.
type Session struct {
	tabCtx  context.Context
	cancel  context.CancelFunc
	capture *sandbox.Capture
	log     *logging.Logger

	served    atomic.Bool
	closeOnce sync.Once
}

// intercept fulfils the first document request from markup and lets
// everything else through unchanged.
func (s *Session) intercept(ev *fetch.EventRequestPaused, body string) {
	cmdCtx, cancel := context.WithTimeout(s.tabCtx, interceptTimeout)
	defer cancel()

	c := chromedp.FromContext(cmdCtx)
	if c == nil || c.Target == nil {
		return
	}
	exec := cdp.WithExecutor(cmdCtx, c.Target)

	if s.served.CompareAndSwap(false, true) {
		err := fetch.FulfillRequest(ev.RequestID, 200).
			WithResponseHeaders(documentHeaders()).
			WithBody(body).
			Do(exec)
		if err == nil {
			return
		}
		s.log.Debug("fulfil failed, continuing request", "error", err)
	}

	if err := fetch.ContinueRequest(ev.RequestID).Do(exec); err != nil {
		s.log.Debug("continue failed", "url", ev.Request.URL, "error", err)
		_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(exec)
	}
}

func documentHeaders() []*fetch.HeaderEntry {
	return []*fetch.HeaderEntry{
		{Name: "Content-Type", Value: "text/html; charset=utf-8"},
		{Name: "Cache-Control", Value: "no-store"},
	}
}

// bound returns a child of the tab context that is also cancelled with ctx.
func (s *Session) bound(ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// snapshotJS reads the capture slot, player_config.file and the live markup.
const snapshotJS = `(function () {
  var c = window.__foundManifest;
  var p = window.player_config;
  var root = document.documentElement;
  return {
    captured: typeof c === "string" ? c : "",
    configFile: p && typeof p.file === "string" ? p.file : "",
    html: root ? root.innerHTML : ""
  };
})()`

type snapshotResult struct {
	Captured   string `json:"captured"`
	ConfigFile string `json:"configFile"`
	HTML       string `json:"html"`
}

// Snapshot implements sandbox.Session.
func (s *Session) Snapshot(ctx context.Context) (types.Snapshot, error) {
	if s.tabCtx.Err() != nil {
		return types.Snapshot{}, errClosed
	}

	runCtx, stop := s.bound(ctx)
	defer stop()

	var res snapshotResult
	if err := chromedp.Run(runCtx, chromedp.Evaluate(snapshotJS, &res)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Snapshot{}, ctxErr
		}
		return types.Snapshot{}, &types.SandboxError{Stage: "snapshot", Err: err}
	}

	snap := types.Snapshot{
		Captured:   s.capture.Value(),
		ConfigFile: res.ConfigFile,
		HTML:       res.HTML,
	}
	if snap.Captured == "" {
		snap.Captured = res.Captured
	}
	return snap, nil
}

// Captured implements sandbox.Session.
func (s *Session) Captured() <-chan struct{} {
	return s.capture.Done()
}

// Advance implements sandbox.Session. Chrome runs on the wall clock, so the
// poller's own wait is all the advancing needed.
func (s *Session) Advance(ctx context.Context, d time.Duration) error {
	if s.tabCtx.Err() != nil {
		return errClosed
	}
	return ctx.Err()
}

// Close closes the tab.
func (s *Session) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}
