package linkpreview

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// urlPattern matches the first http(s)://non-whitespace run in free text
var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

// trailingPunctuation is trimmed off matched URLs, since sentence punctuation
// directly after a link is almost never part of it
const trailingPunctuation = ".,;!?"

// statusPathPattern matches the post path of an x.com / twitter.com link
var statusPathPattern = regexp.MustCompile(`^/[^/]+/status(?:es)?/\d+`)

var (
	xDomains       = map[string]bool{"x.com": true, "twitter.com": true}
	youtubeDomains = map[string]bool{"youtube.com": true, "youtu.be": true, "youtube-nocookie.com": true}
	twitchDomains  = map[string]bool{"twitch.tv": true}
)

// platformMatcher pairs a platform with its host predicate
type platformMatcher struct {
	matches  func(u *url.URL) bool
	platform Platform
}

// platformMatchers is evaluated in order; the first match wins
var platformMatchers = []platformMatcher{
	{platform: PlatformX, matches: isXURL},
	{platform: PlatformYouTube, matches: isYouTubeURL},
	{platform: PlatformTwitch, matches: isTwitchURL},
}

// Classify finds the first URL in text and tags it with its platform.
// Returns nil when the text has no URL or the first URL is not a supported platform.
func Classify(text string) *ClassifiedLink {
	candidate := FindFirstURL(text)
	if candidate == "" {
		return nil
	}

	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil
	}

	for _, m := range platformMatchers {
		if m.matches(parsed) {
			return &ClassifiedLink{URL: candidate, Platform: m.platform}
		}
	}
	return nil
}

// FindFirstURL returns the first URL-looking substring of text with trailing
// punctuation removed, or "" when there is none.
func FindFirstURL(text string) string {
	match := urlPattern.FindString(text)
	if match == "" {
		return ""
	}
	return strings.TrimRight(match, trailingPunctuation)
}

// NeedsRemotePreview reports whether rawURL is a social post link whose
// preview must be fetched rather than templated
func NeedsRemotePreview(rawURL string) bool {
	link := Classify(rawURL)
	return link != nil && link.Platform == PlatformX
}

// IsTrustedDomain reports whether rawURL belongs to one of the supported
// platform families. Used for the leaving-site notice on outbound links.
func IsTrustedDomain(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	domain := registrableDomain(parsed)
	return xDomains[domain] || youtubeDomains[domain] || twitchDomains[domain]
}

func isXURL(u *url.URL) bool {
	return xDomains[registrableDomain(u)] && statusPathPattern.MatchString(u.Path)
}

func isYouTubeURL(u *url.URL) bool {
	return youtubeDomains[registrableDomain(u)]
}

func isTwitchURL(u *url.URL) bool {
	return twitchDomains[registrableDomain(u)]
}

// registrableDomain returns the eTLD+1 of the URL host in lower case.
// Falls back to the bare host for IPs, localhost and other inputs the public
// suffix list rejects.
func registrableDomain(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return strings.TrimPrefix(host, "www.")
	}
	return domain
}
