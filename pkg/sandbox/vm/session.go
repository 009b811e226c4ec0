// Package vm runs player pages inside an embedded JavaScript engine over a
// minimal DOM. It has no access to the host beyond the page fetcher used for
// allow-listed external scripts.
package vm

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"manifest-extractor-go/pkg/interfaces"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/sandbox"
	"manifest-extractor-go/pkg/sanitize"
	"manifest-extractor-go/pkg/types"
	"manifest-extractor-go/pkg/urlutil"
)

//go:embed prelude.js
var preludeJS string

var (
	errScriptTimeout = errors.New("script timeout")
	errClosed        = errors.New("session closed")
)

// Options configures the vm backend.
type Options struct {
	// ScriptTimeout bounds every single entry into the engine.
	ScriptTimeout time.Duration
	// AllowList limits which external scripts are fetched.
	AllowList []string
	// MaxExternalScripts caps script fetches per session.
	MaxExternalScripts int
	UserAgent          string
	// Domains makes the builder preferred for these hosts.
	Domains []string
}

// Builder creates vm sessions.
type Builder struct {
	fetcher interfaces.PageFetcher
	opts    Options
	log     *logging.Logger
}

// NewBuilder creates a Builder. fetcher may be nil, in which case external
// scripts are skipped.
func NewBuilder(fetcher interfaces.PageFetcher, opts Options, log *logging.Logger) *Builder {
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = time.Second
	}
	if opts.MaxExternalScripts <= 0 {
		opts.MaxExternalScripts = 8
	}
	return &Builder{
		fetcher: fetcher,
		opts:    opts,
		log:     log.WithComponent("sandbox.vm"),
	}
}

func (b *Builder) Name() string { return "vm" }

func (b *Builder) CanHandle(pageURL string) bool {
	return urlutil.MatchesDomain(pageURL, b.opts.Domains)
}

func (b *Builder) Close() error { return nil }

// Build parses markup, installs the instrumentation and runs the page's
// scripts in document order, followed by DOMContentLoaded and load.
func (b *Builder) Build(ctx context.Context, markup, baseURL string) (sandbox.Session, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, &types.SandboxError{Stage: "parse", Err: err}
	}

	s := &Session{
		rt:         goja.New(),
		doc:        doc,
		baseURL:    baseURL,
		opts:       b.opts,
		fetcher:    b.fetcher,
		log:        b.log.WithURL(baseURL),
		capture:    sandbox.NewCapture(),
		clock:      newClock(),
		nodes:      make(map[*html.Node]*node),
		objs:       make(map[*goja.Object]*html.Node),
		started:    make(map[*html.Node]bool),
		fragments:  make(map[*html.Node]bool),
		listeners:  make(map[any]map[string][]goja.Value),
		cookies:    newCookieJar(),
		readyState: "loading",
	}

	if err := s.install(); err != nil {
		return nil, &types.SandboxError{Stage: "instrument", Err: err}
	}
	s.load(ctx)

	return s, nil
}

// Session is a single goja runtime with its document. Everything except
// Captured must be called from one goroutine.
type Session struct {
	rt      *goja.Runtime
	doc     *html.Node
	baseURL string
	opts    Options
	fetcher interfaces.PageFetcher
	log     *logging.Logger
	capture *sandbox.Capture
	clock   *clock

	nodes     map[*html.Node]*node
	objs      map[*goja.Object]*html.Node
	started   map[*html.Node]bool
	fragments map[*html.Node]bool
	listeners map[any]map[string][]goja.Value
	cookies   *cookieJar

	// queue holds parser-inserted scripts still to run during load.
	queue []*html.Node
	// pending holds dynamically inserted scripts, run on the next Advance.
	pending []*html.Node

	loading       bool
	readyState    string
	currentScript *html.Node
	writeAfter    *html.Node
	depth         int
	external      int
	errors        int
	broken        bool
	closed        bool
}

func (s *Session) install() error {
	g := s.rt.GlobalObject()
	if err := s.installGlobals(g); err != nil {
		return err
	}
	if _, err := s.rt.RunScript("prelude.js", preludeJS); err != nil {
		return fmt.Errorf("prelude: %w", err)
	}
	if _, err := s.rt.RunScript("instrument.js", sandbox.InstrumentJS); err != nil {
		return fmt.Errorf("instrument: %w", err)
	}
	return nil
}

// load runs parser-inserted scripts, then fires DOMContentLoaded and load.
func (s *Session) load(ctx context.Context) {
	walk(s.doc, func(n *html.Node) bool {
		if isElement(n, "script") {
			s.started[n] = true
			s.queue = append(s.queue, n)
		}
		return true
	})

	s.loading = true
	for len(s.queue) > 0 && ctx.Err() == nil && !s.broken {
		n := s.queue[0]
		s.queue = s.queue[1:]
		s.execScript(ctx, n)
	}
	s.queue = nil
	s.loading = false

	s.readyState = "interactive"
	s.dispatch(s.doc, s.wrap(s.doc), "DOMContentLoaded")
	s.dispatch(windowTarget{}, s.rt.GlobalObject(), "DOMContentLoaded")
	s.readyState = "complete"
	s.dispatch(windowTarget{}, s.rt.GlobalObject(), "load")
}

// execScript runs one script element. External sources are fetched when
// they pass the allow-list.
func (s *Session) execScript(ctx context.Context, n *html.Node) {
	if !isJavaScript(n) {
		return
	}

	name, code := s.baseURL, ""
	src, external := attr(n, "src")
	if external {
		u := urlutil.ResolveURL(src, s.baseURL)
		body, err := s.fetchScript(ctx, u)
		if err != nil {
			s.absorb("fetch", err)
			s.dispatch(n, s.wrap(n), "error")
			return
		}
		name, code = u, body
	} else {
		code = stripHTMLComments(textContent(n))
	}

	prev := s.currentScript
	s.currentScript, s.writeAfter = n, n
	err := s.run("script", func() error {
		_, err := s.rt.RunScript(name, code)
		return err
	})
	s.currentScript, s.writeAfter = prev, nil
	if err != nil {
		s.absorb("script", err)
	}

	if external {
		s.dispatch(n, s.wrap(n), "load")
	}
}

func (s *Session) fetchScript(ctx context.Context, u string) (string, error) {
	switch {
	case s.fetcher == nil:
		return "", errors.New("no fetcher for external scripts")
	case !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://"):
		return "", fmt.Errorf("unsupported script url %q", u)
	case !sanitize.Allowed(u, s.opts.AllowList):
		return "", fmt.Errorf("script %s not on allow-list", u)
	case s.external >= s.opts.MaxExternalScripts:
		return "", fmt.Errorf("external script limit reached at %s", u)
	}
	s.external++
	return s.fetcher.Fetch(ctx, u)
}

// run enters the engine with a watchdog. Nested entries from Go callbacks
// share the outermost watchdog. Go panics mark the session broken.
func (s *Session) run(stage string, fn func() error) (err error) {
	if s.broken || s.closed {
		return errClosed
	}
	if s.depth > 0 {
		return fn()
	}

	var (
		mu   sync.Mutex
		done bool
	)
	watchdog := time.AfterFunc(s.opts.ScriptTimeout, func() {
		mu.Lock()
		defer mu.Unlock()
		if !done {
			s.rt.Interrupt(errScriptTimeout)
		}
	})

	s.depth++
	defer func() {
		s.depth--
		mu.Lock()
		done = true
		mu.Unlock()
		watchdog.Stop()
		s.rt.ClearInterrupt()

		if r := recover(); r != nil {
			s.broken = true
			err = &types.SandboxError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	return fn()
}

func (s *Session) absorb(stage string, err error) {
	s.errors++
	var sbErr *types.SandboxError
	if !errors.As(err, &sbErr) {
		sbErr = &types.SandboxError{Stage: stage, Err: err}
	}
	s.log.Debug("sandbox error absorbed", "stage", sbErr.Stage, "error", sbErr.Err)
}

// Snapshot implements sandbox.Session.
func (s *Session) Snapshot(ctx context.Context) (types.Snapshot, error) {
	if s.closed {
		return types.Snapshot{}, errClosed
	}

	snap := types.Snapshot{
		Captured: s.capture.Value(),
		HTML:     innerHTML(documentElement(s.doc)),
	}
	if s.broken {
		return snap, nil
	}

	err := s.run("snapshot", func() error {
		if snap.Captured == "" {
			snap.Captured = stringValue(s.rt.Get(sandbox.CaptureSlot))
		}
		if cfg, ok := s.rt.Get(sandbox.PlayerConfig).(*goja.Object); ok {
			snap.ConfigFile = stringValue(cfg.Get("file"))
		}
		return nil
	})
	if err != nil {
		s.absorb("snapshot", err)
	}
	return snap, nil
}

// Captured implements sandbox.Session.
func (s *Session) Captured() <-chan struct{} {
	return s.capture.Done()
}

// Advance runs dynamically inserted scripts, then timers due within d.
func (s *Session) Advance(ctx context.Context, d time.Duration) error {
	if s.closed {
		return errClosed
	}
	for len(s.pending) > 0 && ctx.Err() == nil && !s.broken {
		n := s.pending[0]
		s.pending = s.pending[1:]
		s.execScript(ctx, n)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.fireTimers(d)
	return nil
}

// Close releases the runtime and document.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.errors > 0 {
		s.log.Debug("sandbox closed", "script_errors", s.errors)
	}
	s.rt.Interrupt(errClosed)
	s.clock.timers = nil
	s.nodes, s.objs, s.listeners = nil, nil, nil
	s.queue, s.pending = nil, nil
	s.doc = nil
	return nil
}

// ScriptErrors reports how many script failures were absorbed.
func (s *Session) ScriptErrors() int {
	return s.errors
}

func stringValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if str, ok := v.Export().(string); ok {
		return str
	}
	return ""
}

// stripHTMLComments drops the legacy "<!--" / "-->" wrappers some pages
// still put around inline scripts.
func stripHTMLComments(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "<!--") {
		return code
	}
	trimmed = strings.TrimPrefix(trimmed, "<!--")
	if idx := strings.LastIndex(trimmed, "-->"); idx >= 0 {
		trimmed = trimmed[:idx]
		if nl := strings.LastIndex(trimmed, "\n"); nl >= 0 && strings.TrimSpace(trimmed[nl:]) == "//" {
			trimmed = trimmed[:nl]
		}
	}
	return trimmed
}
