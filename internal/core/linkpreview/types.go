package linkpreview

// Platform identifies the media family a link belongs to
type Platform string

const (
	// PlatformX covers x.com and twitter.com status links
	PlatformX Platform = "x"
	// PlatformYouTube covers youtube.com and youtu.be videos
	PlatformYouTube Platform = "youtube"
	// PlatformTwitch covers twitch.tv channels, clips and VODs
	PlatformTwitch Platform = "twitch"
)

// ResourceKind is the shape of the identifier pulled out of a URL
type ResourceKind string

const (
	KindVideo   ResourceKind = "video"
	KindClip    ResourceKind = "clip"
	KindVOD     ResourceKind = "vod"
	KindChannel ResourceKind = "channel"
	KindPost    ResourceKind = "post"
)

// ClassifiedLink is the first supported URL found in a piece of text
type ClassifiedLink struct {
	URL      string   `json:"url"`
	Platform Platform `json:"platform"`
}

// ResourceID is a platform-specific canonical identifier
type ResourceID struct {
	Platform Platform     `json:"platform"`
	Kind     ResourceKind `json:"kind"`
	Value    string       `json:"value"`
}

// EmbedContext carries values about the embedding page.
// ParentHost is required by Twitch's player and must be the bare hostname of
// the page hosting the iframe.
type EmbedContext struct {
	ParentHost string
}

// Media is everything a client needs to render a link without further lookups
type Media struct {
	Resource     *ResourceID `json:"resource,omitempty"`
	URL          string      `json:"url"`
	Platform     Platform    `json:"platform"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	EmbedURL     string      `json:"embedUrl,omitempty"`

	// NeedsRemotePreview is set when the platform has no thumbnail convention
	// and the client should request a PreviewRecord.
	NeedsRemotePreview bool `json:"needsRemotePreview"`
}

// PreviewRecord is a display-safe summary of a social post
type PreviewRecord struct {
	AuthorName string `json:"authorName"`
	AuthorURL  string `json:"authorUrl"`
	Text       string `json:"text"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

// CacheEntry is the persisted wrapper around a PreviewRecord
type CacheEntry struct {
	Preview   *PreviewRecord `json:"preview"`
	Timestamp int64          `json:"timestamp"` // epoch milliseconds
	Version   int            `json:"version"`
}
