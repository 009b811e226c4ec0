// Package api provides HTTP handlers for the extractor API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"manifest-extractor-go/pkg/appctx"
	"manifest-extractor-go/pkg/extractor"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/types"
)

// Banner is the plain-text readiness message served on / and /api.
const Banner = "Manifest extractor is running. Use /extract?url=YOUR_URL"

// Error messages returned to API callers.
const (
	MsgMissingURL = "Please provide a url parameter"
	MsgInvalidURL = "Invalid URL format"
	MsgNotFound   = "Link not found"
)

// Response is the JSON body of an extraction. The same shape is printed by
// the CLI.
type Response struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
	Time    string `json:"time,omitempty"`
}

// NewResponse maps an extraction outcome onto an HTTP status and body.
func NewResponse(res types.Result, err error) (int, Response) {
	switch {
	case err == nil:
		return http.StatusOK, Response{Success: true, URL: res.ManifestURL, Time: res.Seconds()}
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, Response{Error: MsgNotFound, Time: res.Seconds()}
	default:
		return http.StatusInternalServerError, Response{Error: err.Error()}
	}
}

// ValidationMessage returns the client-facing text for a request
// validation error.
func ValidationMessage(err error) string {
	if errors.Is(err, types.ErrMissingURL) {
		return MsgMissingURL
	}
	return MsgInvalidURL
}

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /api", h.handleIndex)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)
	mux.HandleFunc("GET /favicon.ico", h.handleFavicon)

	mux.HandleFunc("GET /extract", h.handleExtract)
	mux.HandleFunc("GET /api/extract", h.handleExtract)
}

// handleIndex serves the readiness banner.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, Banner)
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"status":  "running",
		"version": appctx.Version,
		"backend": h.ctx.Config.SandboxBackend,
	}
	if h.ctx.Backends != nil {
		info["backends"] = h.ctx.Backends.Names()
	}
	if e, ok := h.ctx.Extractor.(interface{ Stats() extractor.Stats }); ok {
		info["sessions"] = e.Stats()
	}
	h.writeJSON(w, http.StatusOK, info)
}

// handleFavicon serves the favicon.
func (h *Handlers) handleFavicon(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

// handleExtract resolves the url query parameter to a manifest URL.
func (h *Handlers) handleExtract(w http.ResponseWriter, r *http.Request) {
	req := types.ExtractionRequest{PlayerURL: r.URL.Query().Get("url")}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, ValidationMessage(err))
		return
	}

	log := logging.FromContext(r.Context()).WithURL(req.PlayerURL)
	log.Debug("extract request")

	res, err := h.ctx.Extractor.Extract(r.Context(), req.PlayerURL)
	status, body := NewResponse(res, err)
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("extraction failed")
	}
	h.writeJSON(w, status, body)
}

// Helper methods

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Debug("write response failed", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
