// Package sandbox defines the isolated document environments that player
// pages run in, and the instrumentation installed into each of them.
package sandbox

import (
	"context"
	_ "embed"
	"strings"
	"sync"
	"time"

	"manifest-extractor-go/pkg/types"
)

// Names of the globals installed by the instrumentation script.
const (
	CaptureSlot    = "__foundManifest"
	CaptureBinding = "__manifestCaptured"
	PlayerConfig   = "player_config"
)

// InstrumentJS silences console output and installs the stand-in jwplayer
// API. It must run before any page script.
//
//go:embed instrument.js
var InstrumentJS string

// Session is one isolated document bound to one extraction. It is owned by
// a single goroutine except for Captured, and must be closed on every path.
type Session interface {
	// Snapshot reads the capture slot, player_config.file and the live
	// documentElement markup.
	Snapshot(ctx context.Context) (types.Snapshot, error)

	// Captured is closed the first time the stand-in player API captures a URL.
	Captured() <-chan struct{}

	// Advance moves the session clock forward by d, running due timers and
	// queued scripts. Backends on a real clock treat it as a no-op.
	Advance(ctx context.Context, d time.Duration) error

	Close() error
}

// Builder creates sessions from sanitized markup.
type Builder interface {
	Name() string

	// CanHandle reports whether the builder is preferred for pageURL.
	CanHandle(pageURL string) bool

	// Build parses markup as a document rooted at baseURL, installs the
	// instrumentation and runs the page scripts. Script failures are absorbed;
	// an error means no session was created.
	Build(ctx context.Context, markup, baseURL string) (Session, error)

	Close() error
}

// Capture holds the first manifest URL reported by the stand-in player API.
// It is safe for concurrent use.
type Capture struct {
	mu   sync.Mutex
	url  string
	done chan struct{}
}

// NewCapture returns an empty Capture.
func NewCapture() *Capture {
	return &Capture{done: make(chan struct{})}
}

// Set records url if nothing was captured yet. It reports whether url was kept.
func (c *Capture) Set(url string) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.url != "" {
		return false
	}
	c.url = url
	close(c.done)
	return true
}

// Value returns the captured URL or "".
func (c *Capture) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Done is closed once a URL has been captured.
func (c *Capture) Done() <-chan struct{} {
	return c.done
}
