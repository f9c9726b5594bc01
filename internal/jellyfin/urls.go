package jellyfin

import (
	"fmt"
	"net/url"
	"strings"
)

// RewriteMediaURL substitutes the externally reachable host for the internal
// one in a media or image URL. With no external host configured it is the
// identity function. Applied at translation time, never inside the API calls
// themselves.
func (c *Client) RewriteMediaURL(u string) string {
	if c.externalURL == "" || c.externalURL == c.baseURL {
		return u
	}
	if strings.HasPrefix(u, c.baseURL) {
		return c.externalURL + strings.TrimPrefix(u, c.baseURL)
	}
	return u
}

type ImageOpts struct {
	MaxWidth int
	Quality  int
}

// ImageURL builds an item image URL (kind is "Primary" or "Backdrop"),
// already rewritten to the external host.
func (c *Client) ImageURL(itemID, kind, token string, opts ImageOpts) string {
	u := fmt.Sprintf("%s/Items/%s/Images/%s?maxHeight=%d&maxWidth=%d&quality=%d&api_key=%s",
		c.baseURL, url.PathEscape(itemID), kind,
		opts.MaxWidth, opts.MaxWidth, opts.Quality, url.QueryEscape(token))
	return c.RewriteMediaURL(u)
}

// DownloadURL builds a direct file download URL for a media source.
func (c *Client) DownloadURL(mediaSourceID, token string) string {
	u := fmt.Sprintf("%s/Items/%s/Download?api_key=%s",
		c.baseURL, url.PathEscape(mediaSourceID), url.QueryEscape(token))
	return c.RewriteMediaURL(u)
}

// StreamURL builds the HLS master playlist URL used when PlaybackInfo did not
// hand back a transcoding URL.
func (c *Client) StreamURL(itemID, playSessionID, mediaSourceID, token string) string {
	u := fmt.Sprintf("%s/Videos/%s/master.m3u8?playSessionId=%s&api_key=%s&mediaSourceId=%s",
		c.baseURL, url.PathEscape(itemID), url.QueryEscape(playSessionID),
		url.QueryEscape(token), url.QueryEscape(mediaSourceID))
	return c.RewriteMediaURL(u)
}

// AbsoluteURL resolves a server-relative path (like a TranscodingUrl from
// PlaybackInfo) against the upstream host and rewrites it.
func (c *Client) AbsoluteURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return c.RewriteMediaURL(path)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.RewriteMediaURL(c.baseURL + path)
}

// SubtitleURL builds a text-subtitle stream URL.
func (c *Client) SubtitleURL(itemID, mediaSourceID string, streamIndex int, codec, token string) string {
	u := fmt.Sprintf("%s/Videos/%s/%s/Subtitles/%d/Stream.%s?api_key=%s",
		c.baseURL, url.PathEscape(itemID), url.PathEscape(mediaSourceID),
		streamIndex, url.PathEscape(codec), url.QueryEscape(token))
	return c.RewriteMediaURL(u)
}
