// Package interfaces defines the abstractions shared between the extractor
// engine and the plumbing around it.
package interfaces

import (
	"context"
	"net/http"

	"manifest-extractor-go/pkg/types"
)

// PageFetcher retrieves the raw markup of a player page.
// Failures are reported as *types.NetworkError.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor resolves a player page URL to its manifest URL.
//
// The returned Result always carries the elapsed time, even when err is
// non-nil. A page without a manifest yields types.ErrNotFound.
type Extractor interface {
	Extract(ctx context.Context, url string) (types.Result, error)
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Registry is a generic interface for component registries.
type Registry[T any] interface {
	// Register adds a component to the registry.
	Register(component T)

	// Get returns the appropriate component for the given URL.
	Get(url string) T

	// All returns all registered components.
	All() []T
}
