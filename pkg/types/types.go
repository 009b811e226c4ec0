// Package types defines core domain types used throughout the application.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Strategy identifies which detection step produced a manifest URL.
type Strategy string

const (
	StrategyStatic       Strategy = "static"
	StrategyCapture      Strategy = "capture"
	StrategyPlayerConfig Strategy = "player_config"
	StrategyLiveDOM      Strategy = "live_dom"
)

// ErrNotFound is returned when every strategy ran without finding a manifest URL.
var ErrNotFound = errors.New("link not found")

// Request validation errors.
var (
	ErrMissingURL = errors.New("missing url")
	ErrInvalidURL = errors.New("invalid url")
)

// ExtractionRequest is a single extraction call.
type ExtractionRequest struct {
	PlayerURL string `json:"url"`
}

// Validate checks that the player URL is present and starts with http.
func (r ExtractionRequest) Validate() error {
	switch {
	case r.PlayerURL == "":
		return ErrMissingURL
	case !strings.HasPrefix(r.PlayerURL, "http"):
		return ErrInvalidURL
	}
	return nil
}

// Result is the outcome of an extraction. Elapsed is set on every path,
// ManifestURL and Strategy only on success.
type Result struct {
	ManifestURL string        `json:"url,omitempty"`
	Strategy    Strategy      `json:"strategy,omitempty"`
	Elapsed     time.Duration `json:"-"`
}

// Found reports whether the result carries a manifest URL.
func (r Result) Found() bool {
	return r.ManifestURL != ""
}

// Seconds renders Elapsed the way API responses report it ("1.23s").
func (r Result) Seconds() string {
	return fmt.Sprintf("%.2fs", r.Elapsed.Seconds())
}

// Snapshot is the state of a sandbox session at one poll tick.
type Snapshot struct {
	// Captured is the value written by the stand-in player API, if any.
	Captured string
	// ConfigFile is window.player_config.file when present.
	ConfigFile string
	// HTML is the serialized documentElement.innerHTML.
	HTML string
}

// NetworkError reports a failed page fetch: connection failure, timeout or
// a non-2xx status.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connection error: %s returned HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("connection error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// SandboxError reports a parse, build or script failure inside a sandbox.
// These are absorbed by the extractor and never reach API callers.
type SandboxError struct {
	Stage string
	Err   error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Stage, e.Err)
}

func (e *SandboxError) Unwrap() error {
	return e.Err
}
