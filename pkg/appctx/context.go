// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"manifest-extractor-go/pkg/config"
	"manifest-extractor-go/pkg/interfaces"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/registry"
)

// Version is reported by /api/info and the CLI.
const Version = "1.0.0"

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config    *config.Config
	Log       *logging.Logger
	Extractor interfaces.Extractor
	Backends  *registry.BackendRegistry
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config: cfg,
		Log:    log,
	}
}

// WithExtractor sets the extractor.
func (c *Context) WithExtractor(e interfaces.Extractor) *Context {
	c.Extractor = e
	return c
}

// WithBackends sets the sandbox backend registry.
func (c *Context) WithBackends(r *registry.BackendRegistry) *Context {
	c.Backends = r
	return c
}
