package linkpreview

import (
	"fmt"
	"net/url"
)

const (
	youtubeThumbnailTemplate = "https://img.youtube.com/vi/%s/hqdefault.jpg"
	youtubeEmbedTemplate     = "https://www.youtube.com/embed/%s"

	twitchChannelThumbnailTemplate = "https://static-cdn.jtvnw.net/previews-ttv/live_user_%s-640x360.jpg"
	// twitchPlaceholderThumbnail is Twitch's own static preview, used for
	// clips and VODs which have no id-derived thumbnail URL
	twitchPlaceholderThumbnail = "https://static-cdn.jtvnw.net/ttv-static/404_preview-640x360.jpg"
	twitchPlayerBaseURL        = "https://player.twitch.tv/"
	twitchClipEmbedBaseURL     = "https://clips.twitch.tv/embed"
)

// BuildThumbnailURL returns a displayable thumbnail for the resource.
// Returns "" for a nil id and for platforms without a thumbnail convention
// (X posts get their image from the remote preview instead).
func BuildThumbnailURL(id *ResourceID) string {
	if id == nil || id.Value == "" {
		return ""
	}

	switch id.Platform {
	case PlatformYouTube:
		return fmt.Sprintf(youtubeThumbnailTemplate, url.PathEscape(id.Value))
	case PlatformTwitch:
		if id.Kind == KindChannel {
			return fmt.Sprintf(twitchChannelThumbnailTemplate, url.PathEscape(id.Value))
		}
		return twitchPlaceholderThumbnail
	default:
		return ""
	}
}

// BuildEmbedURL returns an iframe-ready player URL for the resource, or "" when
// id is nil or the platform has no embeddable player.
// Twitch embeds carry ec.ParentHost as the required parent parameter.
func BuildEmbedURL(id *ResourceID, ec EmbedContext) string {
	if id == nil || id.Value == "" {
		return ""
	}

	switch id.Platform {
	case PlatformYouTube:
		return fmt.Sprintf(youtubeEmbedTemplate, url.PathEscape(id.Value))
	case PlatformTwitch:
		return buildTwitchEmbedURL(id, ec.ParentHost)
	default:
		return ""
	}
}

func buildTwitchEmbedURL(id *ResourceID, parent string) string {
	q := url.Values{}
	base := twitchPlayerBaseURL

	switch id.Kind {
	case KindClip:
		base = twitchClipEmbedBaseURL
		q.Set("clip", id.Value)
	case KindVOD:
		q.Set("video", id.Value)
	default:
		q.Set("channel", id.Value)
	}
	q.Set("parent", parent)

	return base + "?" + q.Encode()
}

// Resolve classifies text and builds the full media descriptor for its first
// supported link. Returns nil when no supported link is present.
func Resolve(text string, ec EmbedContext) *Media {
	link := Classify(text)
	if link == nil {
		return nil
	}

	media := &Media{
		URL:                link.URL,
		Platform:           link.Platform,
		NeedsRemotePreview: link.Platform == PlatformX,
	}

	id := ExtractID(link)
	if id == nil {
		return media
	}

	media.Resource = id
	media.ThumbnailURL = BuildThumbnailURL(id)
	media.EmbedURL = BuildEmbedURL(id, ec)
	return media
}
