// Package linkpreview serves media classification and post previews over XRPC.
package linkpreview

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"Lobby/internal/api/handlers"
	"Lobby/internal/core/linkpreview"
)

const (
	// maxTextLength caps the classify input; chat messages are far shorter
	maxTextLength = 10000

	// maxPrefetchURLs caps one batch preview request
	maxPrefetchURLs = 25

	// AdminTokenHeader carries the token for administrative endpoints
	AdminTokenHeader = "X-Admin-Token"
)

// Handler handles media classification and preview requests
type Handler struct {
	service    linkpreview.Service
	adminToken string
}

// NewHandler creates a link preview handler.
// An empty adminToken disables the cache-clear endpoint.
func NewHandler(service linkpreview.Service, adminToken string) *Handler {
	return &Handler{
		service:    service,
		adminToken: adminToken,
	}
}

// ClassifyResponse is returned by HandleClassify
type ClassifyResponse struct {
	Media     *linkpreview.Media `json:"media"`
	URL       string             `json:"url,omitempty"`
	IsTrusted bool               `json:"isTrusted"`
}

// PreviewResponse is returned by HandleGetPreview
type PreviewResponse struct {
	Preview *linkpreview.PreviewRecord `json:"preview"`
}

// PreviewsRequest is the body of HandleGetPreviews
type PreviewsRequest struct {
	URLs []string `json:"urls"`
}

// PreviewsResponse is returned by HandleGetPreviews
type PreviewsResponse struct {
	Previews map[string]*linkpreview.PreviewRecord `json:"previews"`
}

// ClearResponse is returned by HandleClearCache
type ClearResponse struct {
	Removed int `json:"removed"`
}

// HandleClassify detects the first media link in a piece of text
// GET /xrpc/social.lobby.media.classify?text=...&parent=...
//
// parent is the hostname of the page that will embed the player. It defaults
// to the request host.
func (h *Handler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if len(text) > maxTextLength {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "text is too long")
		return
	}

	parent := r.URL.Query().Get("parent")
	if parent == "" {
		parent = requestHostname(r)
	}

	resp := ClassifyResponse{
		Media: h.service.Resolve(text, linkpreview.EmbedContext{ParentHost: parent}),
		URL:   linkpreview.FindFirstURL(text),
	}
	if resp.URL != "" {
		resp.IsTrusted = linkpreview.IsTrustedDomain(resp.URL)
	}

	handlers.WriteJSON(w, http.StatusOK, resp)
}

// HandleGetPreview returns the preview for one social post URL
// GET /xrpc/social.lobby.media.getPreview?url=...
//
// A post with no available preview yields {"preview": null}, not an error.
func (h *Handler) HandleGetPreview(w http.ResponseWriter, r *http.Request) {
	postURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if postURL == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "url parameter is required")
		return
	}
	postURL, ok := socialPostURL(postURL)
	if !ok {
		handlers.WriteError(w, http.StatusBadRequest, "UnsupportedURL", linkpreview.ErrUnsupportedURL.Error())
		return
	}

	record, err := h.service.GetOrFetch(r.Context(), postURL)
	if err != nil {
		// Only the caller's own context ends a wait early
		slog.Debug("[LINK-PREVIEW] preview request abandoned",
			"url", postURL,
			"error", err,
		)
		handlers.WriteError(w, http.StatusServiceUnavailable, "RequestCanceled", "preview request was canceled")
		return
	}

	handlers.WriteJSON(w, http.StatusOK, PreviewResponse{Preview: record})
}

// HandleGetPreviews resolves previews for a batch of post URLs
// POST /xrpc/social.lobby.media.getPreviews
//
// Unsupported URLs are skipped. Results are keyed by the classified post URL;
// URLs without an available preview are absent from the result.
func (h *Handler) HandleGetPreviews(w http.ResponseWriter, r *http.Request) {
	var req PreviewsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "invalid JSON body")
		return
	}
	if len(req.URLs) > maxPrefetchURLs {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "too many urls")
		return
	}

	postURLs := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if postURL, ok := socialPostURL(u); ok {
			postURLs = append(postURLs, postURL)
		}
	}

	previews, err := h.service.PrefetchPreviews(r.Context(), postURLs)
	if err != nil {
		handlers.WriteError(w, http.StatusServiceUnavailable, "RequestCanceled", "preview request was canceled")
		return
	}

	handlers.WriteJSON(w, http.StatusOK, PreviewsResponse{Previews: previews})
}

// socialPostURL returns the classified social post link found in raw, with
// surrounding text and trailing punctuation dropped
func socialPostURL(raw string) (string, bool) {
	link := linkpreview.Classify(raw)
	if link == nil || link.Platform != linkpreview.PlatformX {
		return "", false
	}
	return link.URL, true
}

// HandleClearCache removes every cached preview
// POST /xrpc/social.lobby.media.clearPreviewCache
// Requires the X-Admin-Token header to match the configured token.
func (h *Handler) HandleClearCache(w http.ResponseWriter, r *http.Request) {
	if h.adminToken == "" {
		handlers.WriteError(w, http.StatusForbidden, "Forbidden", "cache clearing is disabled")
		return
	}

	token := r.Header.Get(AdminTokenHeader)
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "invalid admin token")
		return
	}

	removed, err := h.service.Clear(r.Context())
	if err != nil {
		slog.Error("[LINK-PREVIEW] failed to clear preview cache", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "failed to clear preview cache")
		return
	}

	handlers.WriteJSON(w, http.StatusOK, ClearResponse{Removed: removed})
}

// requestHostname returns the request host without its port
func requestHostname(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		return r.Host
	}
	return host
}
