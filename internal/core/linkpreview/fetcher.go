package linkpreview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rivo/uniseg"
)

const (
	// DefaultOEmbedEndpoint is the public oEmbed endpoint for X posts
	DefaultOEmbedEndpoint = "https://publish.twitter.com/oembed"

	// TrustedMediaHost is the only image host surfaced from oEmbed markup
	TrustedMediaHost = "pbs.twimg.com"

	// MaxPreviewTextLength is the maximum preview text length in grapheme clusters
	MaxPreviewTextLength = 200

	defaultAuthorName  = "Unknown"
	defaultPreviewText = "View post on X"
	ellipsis           = "..."

	// maxResponseBytes caps how much of the oEmbed body is read
	maxResponseBytes = 1 << 20
)

var (
	paragraphPattern  = regexp.MustCompile(`(?is)<p\b[^>]*>(.*?)</p>`)
	lineBreakPattern  = regexp.MustCompile(`(?i)<br\s*/?>`)
	tagPattern        = regexp.MustCompile(`(?s)<[^>]*>`)
	imgSrcPattern     = regexp.MustCompile(`(?i)<img\b[^>]*?\bsrc\s*=\s*["']([^"']+)["']`)
	backgroundPattern = regexp.MustCompile(`(?i)background-image\s*:\s*url\(\s*(?:&quot;|["'])?([^"')\s]+?)(?:&quot;|["'])?\s*\)`)

	// entityReplacer decodes the fixed entity set oEmbed markup uses.
	// strings.Replacer does a single pass, so "&amp;lt;" decodes to "&lt;".
	entityReplacer = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// Fetcher retrieves a preview record for a social post URL
type Fetcher interface {
	Fetch(ctx context.Context, postURL string) (*PreviewRecord, error)
}

// oEmbedResponse holds the oEmbed fields the preview is built from
type oEmbedResponse struct {
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
	HTML       string `json:"html"`
}

// OEmbedFetcher fetches post previews from an oEmbed endpoint
type OEmbedFetcher struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

// FetcherOption configures an OEmbedFetcher
type FetcherOption func(*OEmbedFetcher)

// WithEndpoint overrides the oEmbed endpoint
func WithEndpoint(endpoint string) FetcherOption {
	return func(f *OEmbedFetcher) {
		f.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client used for oEmbed requests
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *OEmbedFetcher) {
		f.client = client
	}
}

// WithUserAgent sets the User-Agent header for oEmbed requests
func WithUserAgent(userAgent string) FetcherOption {
	return func(f *OEmbedFetcher) {
		f.userAgent = userAgent
	}
}

// NewOEmbedFetcher creates a fetcher with a 10 second timeout against the public endpoint
func NewOEmbedFetcher(opts ...FetcherOption) *OEmbedFetcher {
	f := &OEmbedFetcher{
		client:    &http.Client{Timeout: 10 * time.Second},
		endpoint:  DefaultOEmbedEndpoint,
		userAgent: "LobbyBot/1.0",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch issues a single GET {endpoint}?url=...&omit_script=true and maps the
// response to a PreviewRecord. Missing fields fall back to defaults.
func (f *OEmbedFetcher) Fetch(ctx context.Context, postURL string) (*PreviewRecord, error) {
	q := url.Values{}
	q.Set("url", postURL)
	q.Set("omit_script", "true")
	requestURL := f.endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create oEmbed request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var oembed oEmbedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&oembed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return mapOEmbedToPreview(&oembed), nil
}

// mapOEmbedToPreview converts an oEmbed response into a display-safe record
func mapOEmbedToPreview(oembed *oEmbedResponse) *PreviewRecord {
	record := &PreviewRecord{
		AuthorName: strings.TrimSpace(oembed.AuthorName),
		AuthorURL:  strings.TrimSpace(oembed.AuthorURL),
		Text:       extractPreviewText(oembed.HTML),
		ImageURL:   extractTrustedImage(oembed.HTML),
	}
	if record.AuthorName == "" {
		record.AuthorName = defaultAuthorName
	}
	return record
}

// extractPreviewText returns the tag-stripped, entity-decoded text of the
// first paragraph in fragment, truncated to MaxPreviewTextLength.
func extractPreviewText(fragment string) string {
	m := paragraphPattern.FindStringSubmatch(fragment)
	if m == nil {
		return defaultPreviewText
	}

	text := lineBreakPattern.ReplaceAllString(m[1], "\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(entityReplacer.Replace(text))
	if text == "" {
		return defaultPreviewText
	}
	return truncateGraphemes(text, MaxPreviewTextLength)
}

// truncateGraphemes cuts s to max grapheme clusters and appends an ellipsis
// when anything was removed
func truncateGraphemes(s string, max int) string {
	if uniseg.GraphemeClusterCount(s) <= max {
		return s
	}

	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for n := 0; n < max && g.Next(); n++ {
		b.WriteString(g.Str())
	}
	return strings.TrimRight(b.String(), " \n\t") + ellipsis
}

// extractTrustedImage returns the first <img> src or CSS background-image URL
// in fragment that is served from TrustedMediaHost, or "".
func extractTrustedImage(fragment string) string {
	for _, pattern := range []*regexp.Regexp{imgSrcPattern, backgroundPattern} {
		for _, m := range pattern.FindAllStringSubmatch(fragment, -1) {
			candidate := entityReplacer.Replace(m[1])
			if isTrustedMediaURL(candidate) {
				return candidate
			}
		}
	}
	return ""
}

// isTrustedMediaURL accepts only https URLs whose host is exactly TrustedMediaHost
func isTrustedMediaURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme == "https" && strings.EqualFold(parsed.Hostname(), TrustedMediaHost)
}
