// Package fetch talks to the story source: it resolves a target account,
// lists its currently live story items and downloads their media into a
// per-target directory.
//
// API calls go through a transport (plain HTTP with a cookie jar, or a
// stealth headless Chrome). Media downloads always use plain HTTP against
// URLs validated with horosafe.PublicURL.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/storywatch/horosafe"
)

// MediaType is the remote media type code.
type MediaType int

const (
	MediaImage MediaType = 1
	MediaVideo MediaType = 2
)

func (m MediaType) String() string {
	switch m {
	case MediaImage:
		return "image"
	case MediaVideo:
		return "video"
	default:
		return fmt.Sprintf("media(%d)", int(m))
	}
}

// Item is one live story item.
type Item struct {
	ID        string
	Target    string
	MediaType MediaType
	TakenAt   time.Time
	ImageURL  string // still image, or the cover of a video
	VideoURL  string // empty for images
}

// MediaURLs returns the item's downloadable URLs, video first.
func (it Item) MediaURLs() []string {
	var out []string
	if it.VideoURL != "" {
		out = append(out, it.VideoURL)
	}
	if it.ImageURL != "" {
		out = append(out, it.ImageURL)
	}
	return out
}

// Transport names.
const (
	TransportHTTP    = "http"
	TransportBrowser = "browser"
)

// Config configures a Client.
type Config struct {
	// BaseURL of the web API. Default: https://www.instagram.com.
	BaseURL string
	// Transport is "http" (default) or "browser".
	Transport string
	// BrowserURL is the DevTools websocket of a running Chrome. Empty launches
	// a local headless one. Browser transport only.
	BrowserURL string
	// DownloadDir holds one sub-directory per target. Default: /tmp/insta_stories.
	DownloadDir string
	// Timeout per HTTP request. Default: 60s.
	Timeout time.Duration
	// MaxMediaBytes caps a single media download. Default: 200MB.
	MaxMediaBytes int64
	// UserAgent used when the session carries none.
	UserAgent string
	// AppID sent as X-IG-App-ID.
	AppID string
	// URLValidator validates media URLs before download (SSRF prevention).
	// Default: horosafe.PublicURL.
	URLValidator func(string) error
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.instagram.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Transport == "" {
		c.Transport = TransportHTTP
	}
	if c.DownloadDir == "" {
		c.DownloadDir = "/tmp/insta_stories"
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxMediaBytes <= 0 {
		c.MaxMediaBytes = 200 << 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
	if c.AppID == "" {
		c.AppID = "936619743392459"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.PublicURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is an authenticated session against the story source. It is used by
// one worker at a time.
type Client struct {
	cfg         Config
	api         transport
	media       *http.Client
	sessionPath string
	logger      *slog.Logger

	mu      sync.Mutex
	session *Session
}

// New reads the session file at sessionPath and opens the configured transport.
func New(cfg Config, sessionPath string) (*Client, error) {
	cfg.defaults()
	sess, err := ReadSession(sessionPath)
	if err != nil {
		return nil, err
	}

	var api transport
	switch cfg.Transport {
	case TransportHTTP:
		api, err = newHTTPTransport(cfg, sess)
	case TransportBrowser:
		api, err = newBrowserTransport(cfg, sess)
	default:
		return nil, fmt.Errorf("fetch: unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	validate := cfg.URLValidator
	c := &Client{
		cfg: cfg,
		api: api,
		media: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		sessionPath: sessionPath,
		logger:      cfg.Logger,
		session:     sess,
	}
	cfg.Logger.Info("fetch: session opened",
		"username", sess.Username, "transport", cfg.Transport, "cookies", len(sess.Cookies))
	return c, nil
}

// Stories lists the live items of target. Nothing is requested until the
// sequence is iterated. A failure is yielded once, as a *Error, and ends the
// sequence.
func (c *Client) Stories(ctx context.Context, target string) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		if err := horosafe.Username(target); err != nil {
			yield(Item{}, &Error{Kind: TargetNotFound, Target: target, Err: err})
			return
		}
		userID, err := c.resolve(ctx, target)
		if err != nil {
			yield(Item{}, err)
			return
		}
		items, err := c.reel(ctx, target, userID)
		if err != nil {
			yield(Item{}, err)
			return
		}
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

func (c *Client) resolve(ctx context.Context, target string) (string, error) {
	u := c.cfg.BaseURL + "/api/v1/users/web_profile_info/?username=" + url.QueryEscape(target)
	var pr profileResponse
	if err := c.getJSON(ctx, u, target, true, &pr); err != nil {
		return "", err
	}
	if pr.loginRequired() {
		return "", &Error{Kind: AuthExpired, Target: target, Err: errors.New(pr.Message)}
	}
	if pr.Data.User == nil || pr.Data.User.ID == "" {
		return "", &Error{Kind: TargetNotFound, Target: target}
	}
	return string(pr.Data.User.ID), nil
}

func (c *Client) reel(ctx context.Context, target, userID string) ([]Item, error) {
	u := c.cfg.BaseURL + "/api/v1/feed/reels_media/?reel_ids=" + url.QueryEscape(userID)
	var rr reelsResponse
	if err := c.getJSON(ctx, u, target, false, &rr); err != nil {
		return nil, err
	}
	if rr.loginRequired() {
		return nil, &Error{Kind: AuthExpired, Target: target, Err: errors.New(rr.Message)}
	}
	items := rr.items(target, userID)
	c.logger.Debug("fetch: reel listed", "target", target, "user_id", userID, "items", len(items))
	return items, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL, target string, notFoundIsTarget bool, v any) error {
	resp, err := c.api.Get(ctx, rawURL, c.apiHeader())
	if err != nil {
		return &Error{Kind: DownloadFailed, Target: target, Err: err}
	}
	if err := classify(resp, target, notFoundIsTarget); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return &Error{Kind: DownloadFailed, Target: target, Status: resp.Status, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}

func (c *Client) apiHeader() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("X-IG-App-ID", c.cfg.AppID)
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("User-Agent", c.userAgent())
	return h
}

func (c *Client) userAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.UserAgent != "" {
		return c.session.UserAgent
	}
	return c.cfg.UserAgent
}

// SaveSession writes cookies refreshed by the remote side back to the session
// file. The file is left untouched when nothing changed.
func (c *Client) SaveSession() error {
	fresh, err := c.api.Cookies()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.session.merge(fresh) {
		return nil
	}
	if err := c.session.WriteFile(c.sessionPath); err != nil {
		return err
	}
	c.logger.Debug("fetch: session refreshed", "cookies", len(c.session.Cookies))
	return nil
}

// Close releases the transport.
func (c *Client) Close() error {
	c.media.CloseIdleConnections()
	return c.api.Close()
}
