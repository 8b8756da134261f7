package linkpreview

import (
	"regexp"
	"strings"
)

// extractor is one step of a platform's ordered pattern chain.
// The first capture group of pattern is the candidate id; accept may veto it.
type extractor struct {
	pattern *regexp.Regexp
	accept  func(value string) bool
	kind    ResourceKind
}

// reservedTwitchSegments are first path segments on twitch.tv that are not channels
var reservedTwitchSegments = map[string]bool{
	"videos":        true,
	"clip":          true,
	"clips":         true,
	"directory":     true,
	"downloads":     true,
	"drops":         true,
	"embed":         true,
	"friends":       true,
	"inventory":     true,
	"jobs":          true,
	"login":         true,
	"messages":      true,
	"p":             true,
	"prime":         true,
	"search":        true,
	"settings":      true,
	"signup":        true,
	"subscriptions": true,
	"turbo":         true,
	"wallet":        true,
}

var youtubeExtractors = []extractor{
	{kind: KindVideo, pattern: regexp.MustCompile(`(?i)^https?://(?:www\.)?youtu\.be/([^\s/]+)`)},
	{kind: KindVideo, pattern: regexp.MustCompile(`(?i)^https?://(?:[a-z0-9-]+\.)*youtube(?:-nocookie)?\.com/watch\?(?:[^#\s]*&)?v=([^&#\s]+)`)},
	{kind: KindVideo, pattern: regexp.MustCompile(`(?i)^https?://(?:[a-z0-9-]+\.)*youtube(?:-nocookie)?\.com/(?:embed|shorts|live|v)/([^\s/]+)`)},
}

// twitchExtractors must keep the channel pattern last: it matches any first
// path segment and would otherwise swallow clip and VOD paths.
var twitchExtractors = []extractor{
	{kind: KindClip, pattern: regexp.MustCompile(`(?i)^https?://clips\.twitch\.tv/embed\?(?:[^#\s]*&)?clip=([^&#\s]+)`)},
	{kind: KindClip, pattern: regexp.MustCompile(`(?i)^https?://clips\.twitch\.tv/([^\s/]+)`), accept: notReserved},
	{kind: KindClip, pattern: regexp.MustCompile(`(?i)^https?://(?:www\.|m\.)?twitch\.tv/[^/\s?#]+/clip/([^\s/]+)`)},
	{kind: KindVOD, pattern: regexp.MustCompile(`(?i)^https?://(?:www\.|m\.)?twitch\.tv/videos/(\d+)`)},
	{kind: KindChannel, pattern: regexp.MustCompile(`(?i)^https?://(?:www\.|m\.)?twitch\.tv/([A-Za-z0-9_]+)(?:[/?#]|$)`), accept: notReserved},
}

var xExtractors = []extractor{
	{kind: KindPost, pattern: regexp.MustCompile(`(?i)^https?://(?:[a-z0-9-]+\.)*(?:x|twitter)\.com/[^/\s?#]+/status(?:es)?/(\d+)`)},
}

// extractorsByPlatform maps each platform to its ordered chain
var extractorsByPlatform = map[Platform][]extractor{
	PlatformYouTube: youtubeExtractors,
	PlatformTwitch:  twitchExtractors,
	PlatformX:       xExtractors,
}

// ExtractID pulls the canonical resource id out of a classified link.
// Returns nil when no pattern in the platform's chain matches.
func ExtractID(link *ClassifiedLink) *ResourceID {
	if link == nil {
		return nil
	}
	return ExtractIDFromURL(link.Platform, link.URL)
}

// ExtractIDFromURL runs the ordered chain for platform against rawURL
func ExtractIDFromURL(platform Platform, rawURL string) *ResourceID {
	for _, ex := range extractorsByPlatform[platform] {
		m := ex.pattern.FindStringSubmatch(rawURL)
		if len(m) < 2 {
			continue
		}
		value := stripQueryAndFragment(m[1])
		if value == "" {
			continue
		}
		if ex.accept != nil && !ex.accept(value) {
			continue
		}
		return &ResourceID{Platform: platform, Kind: ex.kind, Value: value}
	}
	return nil
}

// ExtractPostID returns the numeric post id of an x.com / twitter.com link, or ""
func ExtractPostID(rawURL string) string {
	id := ExtractIDFromURL(PlatformX, rawURL)
	if id == nil {
		return ""
	}
	return id.Value
}

// stripQueryAndFragment cuts a captured value at the first ?, & or #
func stripQueryAndFragment(value string) string {
	if i := strings.IndexAny(value, "?&#"); i >= 0 {
		return value[:i]
	}
	return value
}

func notReserved(value string) bool {
	return !reservedTwitchSegments[strings.ToLower(value)]
}
