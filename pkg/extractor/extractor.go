// Package extractor resolves player page URLs to their HLS manifest URL.
//
// The pipeline is fetch, static scan, sanitize, sandbox build and poll.
// The static scan short-circuits everything after it; the poller stops at
// the first strategy that yields a URL.
package extractor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"manifest-extractor-go/pkg/interfaces"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/manifest"
	"manifest-extractor-go/pkg/registry"
	"manifest-extractor-go/pkg/sandbox"
	"manifest-extractor-go/pkg/sanitize"
	"manifest-extractor-go/pkg/types"
)

var _ interfaces.Extractor = (*Engine)(nil)

// Default polling parameters.
const (
	DefaultPollSteps    = 40
	DefaultPollInterval = 50 * time.Millisecond
)

// Options configures the engine. Fetch timeout and identity live on the
// page fetcher, script limits on the sandbox builders.
type Options struct {
	PollSteps       int
	PollInterval    time.Duration
	ScriptAllowList []string
}

// Stats is a point-in-time view of the session counters.
type Stats struct {
	SessionsBuilt int64 `json:"sessions_built"`
	SessionsOpen  int64 `json:"sessions_open"`
}

// Engine runs extractions. It is safe for concurrent use; each call owns
// its own sandbox session.
type Engine struct {
	fetcher  interfaces.PageFetcher
	backends *registry.BackendRegistry
	opts     Options
	log      *logging.Logger

	built atomic.Int64
	open  atomic.Int64
}

// New creates an Engine.
func New(fetcher interfaces.PageFetcher, backends *registry.BackendRegistry, opts Options, log *logging.Logger) *Engine {
	if opts.PollSteps <= 0 {
		opts.PollSteps = DefaultPollSteps
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ScriptAllowList == nil {
		opts.ScriptAllowList = sanitize.DefaultAllowList
	}
	return &Engine{
		fetcher:  fetcher,
		backends: backends,
		opts:     opts,
		log:      log.WithComponent("extractor"),
	}
}

// Extract fetches pageURL and returns the manifest URL it resolves to.
// Elapsed is set on the result on every path. Not finding a manifest is
// reported as types.ErrNotFound; fetch failures as *types.NetworkError.
func (e *Engine) Extract(ctx context.Context, pageURL string) (types.Result, error) {
	start := time.Now()
	log := e.log.WithURL(pageURL)

	res, err := e.extract(ctx, log, pageURL)
	res.Elapsed = time.Since(start)

	switch {
	case err == nil:
		log.WithDuration(res.Elapsed).Info("manifest found", "strategy", res.Strategy, "manifest", res.ManifestURL)
	case errors.Is(err, types.ErrNotFound):
		log.WithDuration(res.Elapsed).Info("manifest not found")
	default:
		log.WithDuration(res.Elapsed).WithError(err).Warn("extraction failed")
	}
	return res, err
}

func (e *Engine) extract(ctx context.Context, log *logging.Logger, pageURL string) (types.Result, error) {
	markup, err := e.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return types.Result{}, err
	}

	if raw := manifest.Scan(markup); raw != "" {
		return found(raw, types.StrategyStatic), nil
	}

	clean, err := sanitize.Markup(markup, e.opts.ScriptAllowList)
	if err != nil {
		log.Debug("sanitize failed, using raw markup", "error", err)
	}

	builder := e.backends.Get(pageURL)
	if builder == nil {
		log.Warn("no sandbox backend registered")
		return types.Result{}, types.ErrNotFound
	}

	session, err := builder.Build(ctx, clean, pageURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.Result{}, ctxErr
		}
		log.Debug("sandbox build failed", "backend", builder.Name(), "error", err)
		return types.Result{}, types.ErrNotFound
	}
	e.built.Add(1)
	e.open.Add(1)
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug("sandbox close failed", "error", err)
		}
		e.open.Add(-1)
	}()

	raw, strategy, err := Poll(ctx, session, e.opts.PollSteps, e.opts.PollInterval)
	if err != nil {
		var sbErr *types.SandboxError
		if errors.As(err, &sbErr) {
			log.Debug("sandbox failed while polling", "stage", sbErr.Stage, "error", sbErr.Err)
			return types.Result{}, types.ErrNotFound
		}
		return types.Result{}, err
	}

	if !manifest.Looks(raw) {
		log.Debug("result has no manifest extension", "strategy", strategy, "value", raw)
	}
	return found(raw, strategy), nil
}

func found(raw string, strategy types.Strategy) types.Result {
	return types.Result{ManifestURL: manifest.Normalize(raw), Strategy: strategy}
}

// Stats returns the session counters.
func (e *Engine) Stats() Stats {
	return Stats{SessionsBuilt: e.built.Load(), SessionsOpen: e.open.Load()}
}

// Poll inspects session up to steps times, interval apart. Each step checks
// the capture slot, then player_config.file, then the live markup. Between
// steps it waits for interval or the capture notification, whichever comes
// first, and advances the session clock.
func Poll(ctx context.Context, session sandbox.Session, steps int, interval time.Duration) (string, types.Strategy, error) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for i := 0; i < steps; i++ {
		snap, err := session.Snapshot(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", "", ctxErr
			}
			return "", "", asSandboxError("snapshot", err)
		}
		if raw, strategy := inspect(snap); raw != "" {
			return raw, strategy, nil
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-session.Captured():
			continue
		case <-timer.C:
		}

		if err := session.Advance(ctx, interval); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", "", ctxErr
			}
			return "", "", asSandboxError("advance", err)
		}
	}
	return "", "", types.ErrNotFound
}

func inspect(snap types.Snapshot) (string, types.Strategy) {
	if snap.Captured != "" {
		return snap.Captured, types.StrategyCapture
	}
	if snap.ConfigFile != "" {
		return snap.ConfigFile, types.StrategyPlayerConfig
	}
	if raw := manifest.Find(snap.HTML); raw != "" {
		return raw, types.StrategyLiveDOM
	}
	return "", ""
}

func asSandboxError(stage string, err error) error {
	var sbErr *types.SandboxError
	if errors.As(err, &sbErr) {
		return err
	}
	return &types.SandboxError{Stage: stage, Err: err}
}
