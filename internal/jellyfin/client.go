package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Upstream failure taxonomy. The client is stateless about retries: transient
// failures surface as ErrUpstreamUnavailable and the orchestrating caller
// decides whether to retry with bounded backoff.
var (
	ErrAuthExpired         = errors.New("jellyfin rejected the access token")
	ErrUpstreamUnavailable = errors.New("jellyfin unreachable")
	ErrRejected            = errors.New("jellyfin rejected the request")
)

// Client is a typed client for the subset of the Jellyfin REST API the
// gateway needs. It holds no per-session state; access tokens are passed
// per call so one instance is shared across all requests.
type Client struct {
	baseURL     string
	externalURL string
	http        *http.Client
}

func New(baseURL, externalURL string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		externalURL: strings.TrimRight(externalURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// authHeader builds the X-Emby-Authorization value Jellyfin expects from a
// MediaBrowser client. Token is optional (QuickConnect initiate has none).
func authHeader(token string) string {
	h := `MediaBrowser Client="jellyvr", Device="Unknown VR HMD", DeviceId="jellyvr-gateway", Version="0.1.0"`
	if token != "" {
		h += fmt.Sprintf(`, Token=%q`, token)
	}
	return h
}

func (c *Client) newRequest(ctx context.Context, method, endpoint, token string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Emby-Authorization", authHeader(token))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do executes the request and maps failures into the error taxonomy:
// network/timeout and 5xx become ErrUpstreamUnavailable, 401 becomes
// ErrAuthExpired, other 4xx become ErrRejected.
func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthExpired
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: http %d from %s", ErrUpstreamUnavailable, resp.StatusCode, req.URL.Path)
	case resp.StatusCode >= 400:
		snippet := string(body)
		if len(snippet) > 240 {
			snippet = snippet[:240] + "…"
		}
		return fmt.Errorf("%w: http %d from %s: %s", ErrRejected, resp.StatusCode, req.URL.Path, snippet)
	}

	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		snippet := string(body)
		if len(snippet) > 240 {
			snippet = snippet[:240] + "…"
		}
		return fmt.Errorf("decode json from %s: %w; body: %q", req.URL.Path, err, snippet)
	}
	return nil
}

// ---- QuickConnect ----

type QuickConnectState struct {
	Secret string `json:"Secret"`
	Code   string `json:"Code"`
}

// QuickConnectInitiate starts a device-authorization attempt and returns the
// polling secret plus the code the user enters on an authenticated device.
func (c *Client) QuickConnectInitiate(ctx context.Context) (*QuickConnectState, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/QuickConnect/Initiate", "", nil)
	if err != nil {
		return nil, err
	}
	var out QuickConnectState
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.Secret == "" || out.Code == "" {
		return nil, fmt.Errorf("%w: empty quick connect result", ErrRejected)
	}
	return &out, nil
}

// QuickConnectPoll reports whether the code has been approved upstream.
func (c *Client) QuickConnectPoll(ctx context.Context, secret string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/QuickConnect/Connect?Secret="+url.QueryEscape(secret), "", nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Authenticated bool `json:"Authenticated"`
	}
	if err := c.do(req, &out); err != nil {
		return false, err
	}
	return out.Authenticated, nil
}

type AuthResult struct {
	UserID      string
	Username    string
	AccessToken string
}

// AuthenticateQuickConnect exchanges an approved secret for a Jellyfin user
// and access token, then registers the gateway's client capabilities for the
// new session (best effort).
func (c *Client) AuthenticateQuickConnect(ctx context.Context, secret string) (*AuthResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/Users/AuthenticateWithQuickConnect", "",
		map[string]string{"Secret": secret})
	if err != nil {
		return nil, err
	}
	var out struct {
		AccessToken string `json:"AccessToken"`
		User        struct {
			Id   string `json:"Id"`
			Name string `json:"Name"`
		} `json:"User"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" || out.User.Id == "" {
		return nil, fmt.Errorf("%w: incomplete authentication result", ErrRejected)
	}

	res := &AuthResult{
		UserID:      out.User.Id,
		Username:    out.User.Name,
		AccessToken: out.AccessToken,
	}

	caps := map[string]any{
		"PlayableMediaTypes":           []string{"Video"},
		"SupportedCommands":            []string{},
		"SupportsMediaControl":         false,
		"SupportsPersistentIdentifier": false,
	}
	if capsReq, err := c.newRequest(ctx, http.MethodPost, "/Sessions/Capabilities/Full", res.AccessToken, caps); err == nil {
		_ = c.do(capsReq, nil)
	}
	return res, nil
}

// ---- Library ----

const itemPageSize = 200

// itemFields matches what the translator consumes; anything else Jellyfin
// returns is ignored.
const itemFields = "Overview,DateCreated,MediaSources,Genres,Tags,Studios,SeriesStudio,People,Chapters"

// UserItems lists every movie and episode visible to the user, fetching one
// upstream page per call until the record count is exhausted.
func (c *Client) UserItems(ctx context.Context, token, userID string) ([]Item, error) {
	items := make([]Item, 0)
	for start := 0; ; start += itemPageSize {
		q := url.Values{}
		q.Set("SortBy", "SortName,ProductionYear")
		q.Set("SortOrder", "Ascending")
		q.Set("IncludeItemTypes", "Movie,Episode")
		q.Set("Recursive", "true")
		q.Set("Fields", itemFields)
		q.Set("ImageTypeLimit", "1")
		q.Set("EnableImageTypes", "Primary,Backdrop")
		q.Set("IsMissing", "false")
		q.Set("EnableTotalRecordCount", "true")
		q.Set("StartIndex", strconv.Itoa(start))
		q.Set("Limit", strconv.Itoa(itemPageSize))

		req, err := c.newRequest(ctx, http.MethodGet, "/Users/"+url.PathEscape(userID)+"/Items?"+q.Encode(), token, nil)
		if err != nil {
			return nil, err
		}
		var out struct {
			Items            []Item `json:"Items"`
			TotalRecordCount int    `json:"TotalRecordCount"`
		}
		if err := c.do(req, &out); err != nil {
			return nil, err
		}
		items = append(items, out.Items...)

		if len(out.Items) < itemPageSize || start+len(out.Items) >= out.TotalRecordCount {
			break
		}
	}
	return items, nil
}

// Item fetches a single item with the same field set as UserItems.
func (c *Client) Item(ctx context.Context, token, userID, itemID string) (*Item, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		"/Users/"+url.PathEscape(userID)+"/Items/"+url.PathEscape(itemID)+"?Fields="+url.QueryEscape(itemFields), token, nil)
	if err != nil {
		return nil, err
	}
	var out Item
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type PlaybackInfo struct {
	PlaySessionID string            `json:"PlaySessionId"`
	MediaSources  []MediaSourceInfo `json:"MediaSources"`
}

// PlaybackInfo asks Jellyfin for a play session and the resolved media
// sources (including a transcoding URL when the server decides to transcode).
func (c *Client) PlaybackInfo(ctx context.Context, token, userID, itemID string) (*PlaybackInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet,
		"/Items/"+url.PathEscape(itemID)+"/PlaybackInfo?UserId="+url.QueryEscape(userID), token, nil)
	if err != nil {
		return nil, err
	}
	var out PlaybackInfo
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---- Playback reporting ----

// ReportStart tells Jellyfin playback began for the play session.
func (c *Client) ReportStart(ctx context.Context, token, itemID, playSessionID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/Sessions/Playing", token, map[string]any{
		"ItemId":        itemID,
		"PlaySessionId": playSessionID,
		"CanSeek":       true,
	})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ReportProgress relays the current playback position.
func (c *Client) ReportProgress(ctx context.Context, token, itemID, playSessionID string, positionTicks int64, isPaused bool) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/Sessions/Playing/Progress", token, map[string]any{
		"ItemId":        itemID,
		"PlaySessionId": playSessionID,
		"PositionTicks": positionTicks,
		"IsPaused":      isPaused,
	})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ReportStopped relays the final position when playback ends.
func (c *Client) ReportStopped(ctx context.Context, token, itemID, playSessionID string, positionTicks int64) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/Sessions/Playing/Stopped", token, map[string]any{
		"ItemId":        itemID,
		"PlaySessionId": playSessionID,
		"PositionTicks": positionTicks,
	})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// MarkPlayed flags the item as watched in the user's Jellyfin history.
func (c *Client) MarkPlayed(ctx context.Context, token, userID, itemID string) error {
	req, err := c.newRequest(ctx, http.MethodPost,
		"/Users/"+url.PathEscape(userID)+"/PlayedItems/"+url.PathEscape(itemID), token, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}
