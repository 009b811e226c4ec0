package extractor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"manifest-extractor-go/pkg/fetcher"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/registry"
	"manifest-extractor-go/pkg/sandbox"
	"manifest-extractor-go/pkg/sandbox/vm"
	"manifest-extractor-go/pkg/types"
)

// fakeSession replays snapshots in order, repeating the last one.
type fakeSession struct {
	mu        sync.Mutex
	snaps     []types.Snapshot
	calls     int
	advanced  time.Duration
	captured  chan struct{}
	snapErr   error
	closed    bool
	onAdvance func(*fakeSession)
}

func newFakeSession(snaps ...types.Snapshot) *fakeSession {
	return &fakeSession{snaps: snaps, captured: make(chan struct{})}
}

func (s *fakeSession) Snapshot(context.Context) (types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapErr != nil {
		return types.Snapshot{}, s.snapErr
	}
	i := s.calls
	s.calls++
	if len(s.snaps) == 0 {
		return types.Snapshot{}, nil
	}
	if i >= len(s.snaps) {
		i = len(s.snaps) - 1
	}
	return s.snaps[i], nil
}

func (s *fakeSession) Captured() <-chan struct{} { return s.captured }

func (s *fakeSession) Advance(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.advanced += d
	hook := s.onAdvance
	s.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// spyBuilder records every Build call and hands out a prepared session.
type spyBuilder struct {
	mu      sync.Mutex
	builds  int
	markup  string
	session sandbox.Session
	err     error
	inner   sandbox.Builder
}

func (b *spyBuilder) Name() string          { return "spy" }
func (b *spyBuilder) CanHandle(string) bool { return false }
func (b *spyBuilder) Close() error          { return nil }

func (b *spyBuilder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.builds
}

func (b *spyBuilder) lastMarkup() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.markup
}

func (b *spyBuilder) Build(ctx context.Context, markup, baseURL string) (sandbox.Session, error) {
	b.mu.Lock()
	b.builds++
	b.markup = markup
	b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if b.inner != nil {
		return b.inner.Build(ctx, markup, baseURL)
	}
	return b.session, nil
}

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEngine(t *testing.T, builder sandbox.Builder, opts Options, timeout time.Duration) *Engine {
	t.Helper()
	f := fetcher.New(http.DefaultClient, nil, fetcher.Options{Timeout: timeout}, logging.Discard())
	backends := registry.NewBackendRegistry()
	backends.SetFallback(builder)
	return New(f, backends, opts, logging.Discard())
}

func vmBuilder() sandbox.Builder {
	return vm.NewBuilder(nil, vm.Options{}, logging.Discard())
}

func TestExtractStaticHit(t *testing.T) {
	srv := serve(t, `<html><script>var src = "https://cdn.example.com\/live\/index.m3u8?token=abc";</script></html>`)
	spy := &spyBuilder{}
	e := newEngine(t, spy, Options{}, time.Second)

	res, err := e.Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.ManifestURL != "https://cdn.example.com/live/index.m3u8?token=abc" {
		t.Errorf("ManifestURL = %q", res.ManifestURL)
	}
	if res.Strategy != types.StrategyStatic {
		t.Errorf("Strategy = %q", res.Strategy)
	}
	if spy.count() != 0 {
		t.Errorf("static hit should not build a sandbox, built %d", spy.count())
	}
	if res.Elapsed <= 0 {
		t.Error("Elapsed should be set")
	}
}

func TestExtractStaticIsDeterministic(t *testing.T) {
	srv := serve(t, `<div data-src="https://cdn.example.com/a/master.m3u8"></div>`)
	e := newEngine(t, &spyBuilder{}, Options{}, time.Second)

	first, err := e.Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		again, err := e.Extract(context.Background(), srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		if again.ManifestURL != first.ManifestURL || again.Strategy != first.Strategy {
			t.Errorf("run %d = %+v, want %+v", i, again, first)
		}
	}
}

func TestExtractThroughVM(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   string
		strat  types.Strategy
	}{
		{
			name:   "setup file",
			script: `jwplayer("p").setup({file: "https://cdn.example.com/" + "v/index" + ".m3u8"});`,
			want:   "https://cdn.example.com/v/index.m3u8",
			strat:  types.StrategyCapture,
		},
		{
			name:   "playlist file",
			script: `jwplayer("p").setup({playlist: [{file: "https://cdn.example.com/" + "pl/master" + ".m3u8"}]});`,
			want:   "https://cdn.example.com/pl/master.m3u8",
			strat:  types.StrategyCapture,
		},
		{
			name:   "player config",
			script: `var player_config = {file: "https://cdn.example.com/" + "cfg" + ".m3u8"};`,
			want:   "https://cdn.example.com/cfg.m3u8",
			strat:  types.StrategyPlayerConfig,
		},
		{
			name:   "live DOM after timer",
			script: `setTimeout(function () { document.body.setAttribute("data-hls", "https://cdn.example.com/" + "dom" + ".m3u8"); }, 120);`,
			want:   "https://cdn.example.com/dom.m3u8",
			strat:  types.StrategyLiveDOM,
		},
		{
			name:   "live DOM text holding a JSON literal",
			script: `setTimeout(function () { var d = document.createElement("div"); d.textContent = '{"file":"https://' + 'cdn.example.com/t.m3u8","k":1}'; document.body.appendChild(d); }, 60);`,
			want:   "https://cdn.example.com/t.m3u8",
			strat:  types.StrategyLiveDOM,
		},
		{
			name:   "live DOM single quoted attribute value",
			script: `document.getElementById("p").setAttribute("data-cfg", "{'file':'https://" + "cdn.example.com/a.m3u8'}");`,
			want:   "https://cdn.example.com/a.m3u8",
			strat:  types.StrategyLiveDOM,
		},
		{
			name:   "normalized capture",
			script: `jwplayer().setup({file: "https://cdn.example.com/" + "n.m3u8" + "',junk"});`,
			want:   "https://cdn.example.com/n.m3u8",
			strat:  types.StrategyCapture,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, `<html><body><div id="p"></div><script>`+tt.script+`</script></body></html>`)
			spy := &spyBuilder{inner: vmBuilder()}
			e := newEngine(t, spy, Options{PollSteps: 10, PollInterval: 50 * time.Millisecond}, time.Second)

			res, err := e.Extract(context.Background(), srv.URL)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if res.ManifestURL != tt.want || res.Strategy != tt.strat {
				t.Errorf("Extract() = (%q, %q), want (%q, %q)", res.ManifestURL, res.Strategy, tt.want, tt.strat)
			}
			if spy.count() != 1 {
				t.Errorf("builds = %d, want 1", spy.count())
			}
			if open := e.Stats().SessionsOpen; open != 0 {
				t.Errorf("SessionsOpen = %d after success", open)
			}
		})
	}
}

func TestExtractSanitizesBeforeBuild(t *testing.T) {
	srv := serve(t, `<html><head>
		<link rel="stylesheet" href="/a.css">
		<script src="https://evil.example.com/miner.js"></script>
		<script src="https://cdn.example.com/jquery.min.js"></script>
	</head><body><img src="/x.png"><script>var a = 1;</script></body></html>`)
	spy := &spyBuilder{session: newFakeSession()}
	e := newEngine(t, spy, Options{PollSteps: 1, PollInterval: time.Millisecond}, time.Second)

	if _, err := e.Extract(context.Background(), srv.URL); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Extract() error = %v, want ErrNotFound", err)
	}
	markup := spy.lastMarkup()
	for _, gone := range []string{"miner.js", "<link", "<img"} {
		if strings.Contains(markup, gone) {
			t.Errorf("sanitized markup still contains %q", gone)
		}
	}
	for _, kept := range []string{"jquery.min.js", "var a = 1;"} {
		if !strings.Contains(markup, kept) {
			t.Errorf("sanitized markup lost %q", kept)
		}
	}
}

func TestExtractNotFoundTiming(t *testing.T) {
	srv := serve(t, `<html><body><p>nothing here</p></body></html>`)
	sess := newFakeSession()
	spy := &spyBuilder{session: sess}
	steps, interval := 5, 20*time.Millisecond
	e := newEngine(t, spy, Options{PollSteps: steps, PollInterval: interval}, time.Second)

	res, err := e.Extract(context.Background(), srv.URL)
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("Extract() error = %v, want ErrNotFound", err)
	}
	want := time.Duration(steps) * interval
	if res.Elapsed < want {
		t.Errorf("Elapsed = %v, want at least %v", res.Elapsed, want)
	}
	if res.Elapsed > want+time.Second {
		t.Errorf("Elapsed = %v, far beyond %v", res.Elapsed, want)
	}
	if res.Found() {
		t.Error("not-found result should carry no URL")
	}
	if sess.calls != steps {
		t.Errorf("snapshots = %d, want %d", sess.calls, steps)
	}
	if sess.advanced != want {
		t.Errorf("advanced = %v, want %v", sess.advanced, want)
	}
	if !sess.closed {
		t.Error("session should be closed")
	}
}

func TestExtractFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	spy := &spyBuilder{session: newFakeSession()}
	e := newEngine(t, spy, Options{}, 50*time.Millisecond)

	res, err := e.Extract(context.Background(), srv.URL)
	var netErr *types.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Extract() error = %v, want NetworkError", err)
	}
	if !strings.HasPrefix(err.Error(), "connection error:") {
		t.Errorf("error message = %q", err.Error())
	}
	if spy.count() != 0 {
		t.Errorf("fetch failure should not build a sandbox, built %d", spy.count())
	}
	if res.Elapsed <= 0 {
		t.Error("Elapsed should be set on failure")
	}
}

func TestExtractHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(srv.Close)

	e := newEngine(t, &spyBuilder{}, Options{}, time.Second)
	_, err := e.Extract(context.Background(), srv.URL)

	var netErr *types.NetworkError
	if !errors.As(err, &netErr) || netErr.StatusCode != http.StatusGone {
		t.Fatalf("Extract() error = %v, want NetworkError with 410", err)
	}
}

func TestExtractSandboxFailuresBecomeNotFound(t *testing.T) {
	srv := serve(t, `<html><body></body></html>`)

	t.Run("build error", func(t *testing.T) {
		spy := &spyBuilder{err: &types.SandboxError{Stage: "parse", Err: errors.New("bad")}}
		e := newEngine(t, spy, Options{PollSteps: 2, PollInterval: time.Millisecond}, time.Second)
		if _, err := e.Extract(context.Background(), srv.URL); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Extract() error = %v, want ErrNotFound", err)
		}
		if e.Stats().SessionsBuilt != 0 {
			t.Error("failed build should not count as a session")
		}
	})

	t.Run("snapshot error", func(t *testing.T) {
		sess := newFakeSession()
		sess.snapErr = errors.New("runtime gone")
		spy := &spyBuilder{session: sess}
		e := newEngine(t, spy, Options{PollSteps: 2, PollInterval: time.Millisecond}, time.Second)
		if _, err := e.Extract(context.Background(), srv.URL); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("Extract() error = %v, want ErrNotFound", err)
		}
		if !sess.closed {
			t.Error("session should be closed")
		}
		if open := e.Stats().SessionsOpen; open != 0 {
			t.Errorf("SessionsOpen = %d", open)
		}
	})
}

func TestOpenSessionsReturnToZero(t *testing.T) {
	found := serve(t, `<html><body><script>jwplayer().setup({file: "https://cdn.example.com/" + "ok.m3u8"});</script></body></html>`)
	empty := serve(t, `<html><body></body></html>`)
	broken := serve(t, `<html><body><script>while (true) {}</script></body></html>`)

	builder := vm.NewBuilder(nil, vm.Options{ScriptTimeout: 20 * time.Millisecond}, logging.Discard())
	e := newEngine(t, builder, Options{PollSteps: 3, PollInterval: 5 * time.Millisecond}, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, u := range []string{found.URL, empty.URL, broken.URL} {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				e.Extract(context.Background(), u)
			}(u)
		}
	}
	wg.Wait()

	stats := e.Stats()
	if stats.SessionsOpen != 0 {
		t.Errorf("SessionsOpen = %d, want 0", stats.SessionsOpen)
	}
	if stats.SessionsBuilt != 12 {
		t.Errorf("SessionsBuilt = %d, want 12", stats.SessionsBuilt)
	}
}

func TestExtractContextCancelled(t *testing.T) {
	srv := serve(t, `<html><body></body></html>`)
	spy := &spyBuilder{session: newFakeSession()}
	e := newEngine(t, spy, Options{PollSteps: 1000, PollInterval: 10 * time.Millisecond}, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	res, err := e.Extract(ctx, srv.URL)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Extract() error = %v, want deadline exceeded", err)
	}
	if res.Elapsed > time.Second {
		t.Errorf("cancellation not honored promptly: %v", res.Elapsed)
	}
	if e.Stats().SessionsOpen != 0 {
		t.Error("session should be released after cancellation")
	}
}

func TestPollOrder(t *testing.T) {
	tests := []struct {
		name  string
		snap  types.Snapshot
		want  string
		strat types.Strategy
	}{
		{
			name:  "capture beats config",
			snap:  types.Snapshot{Captured: "https://a/1.m3u8", ConfigFile: "https://a/2.m3u8", HTML: "https://a/3.m3u8"},
			want:  "https://a/1.m3u8",
			strat: types.StrategyCapture,
		},
		{
			name:  "config beats markup",
			snap:  types.Snapshot{ConfigFile: "https://a/2.m3u8", HTML: "https://a/3.m3u8"},
			want:  "https://a/2.m3u8",
			strat: types.StrategyPlayerConfig,
		},
		{
			name:  "config without extension still wins",
			snap:  types.Snapshot{ConfigFile: "https://a/stream"},
			want:  "https://a/stream",
			strat: types.StrategyPlayerConfig,
		},
		{
			name:  "markup",
			snap:  types.Snapshot{HTML: `<video src="https://a/3.m3u8"></video>`},
			want:  "https://a/3.m3u8",
			strat: types.StrategyLiveDOM,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession(tt.snap)
			got, strat, err := Poll(context.Background(), sess, 3, time.Millisecond)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want || strat != tt.strat {
				t.Errorf("Poll() = (%q, %q), want (%q, %q)", got, strat, tt.want, tt.strat)
			}
			if sess.calls != 1 {
				t.Errorf("first hit should stop polling, snapshots = %d", sess.calls)
			}
		})
	}
}

func TestPollWakesOnCapture(t *testing.T) {
	sess := newFakeSession(types.Snapshot{}, types.Snapshot{Captured: "https://a/woke.m3u8"})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(sess.captured)
	}()

	start := time.Now()
	got, strat, err := Poll(context.Background(), sess, 5, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://a/woke.m3u8" || strat != types.StrategyCapture {
		t.Errorf("Poll() = (%q, %q)", got, strat)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("capture notification should cut the wait short, took %v", elapsed)
	}
}

func TestPollAdvancesClock(t *testing.T) {
	sess := newFakeSession()
	sess.onAdvance = func(s *fakeSession) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.advanced >= 30*time.Millisecond {
			s.snaps = []types.Snapshot{{ConfigFile: "https://a/late.m3u8"}}
			s.calls = 0
		}
	}

	got, _, err := Poll(context.Background(), sess, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://a/late.m3u8" {
		t.Errorf("Poll() = %q", got)
	}
}
