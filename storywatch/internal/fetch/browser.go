package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// browserTransport runs API calls as in-page fetch() from a stealth Chrome
// tab sitting on the base origin, so requests carry the browser's TLS and
// header fingerprint.
type browserTransport struct {
	browser *rod.Browser
	page    *rod.Page
	lnch    *launcher.Launcher // nil when attached to a remote browser
	base    *url.URL
}

const fetchJS = `async (u, h) => {
	const r = await fetch(u, {credentials: 'include', headers: h});
	const body = await r.text();
	return JSON.stringify({status: r.status, url: r.url, redirected: r.redirected, body: body});
}`

type evalResult struct {
	Status     int    `json:"status"`
	URL        string `json:"url"`
	Redirected bool   `json:"redirected"`
	Body       string `json:"body"`
}

func newBrowserTransport(cfg Config, sess *Session) (*browserTransport, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: base url: %w", err)
	}

	t := &browserTransport{base: base}
	controlURL := cfg.BrowserURL
	if controlURL == "" {
		t.lnch = launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		if sess.UserAgent != "" {
			t.lnch = t.lnch.Set("user-agent", sess.UserAgent)
		}
		controlURL, err = t.lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("fetch: launch browser: %w", err)
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		t.Close()
		return nil, fmt.Errorf("fetch: connect browser %s: %w", controlURL, err)
	}
	t.browser = browser

	params := make([]*proto.NetworkCookieParam, 0, len(sess.Cookies))
	for _, c := range sess.Cookies {
		if !domainMatch(base.Hostname(), c.Domain) {
			continue
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Domain != "" {
			p.Domain = c.Domain
		} else {
			p.URL = base.String()
		}
		if p.Path == "" {
			p.Path = "/"
		}
		params = append(params, p)
	}
	if err := t.browser.SetCookies(params); err != nil {
		t.Close()
		return nil, fmt.Errorf("fetch: set cookies: %w", err)
	}

	t.page, err = stealth.Page(t.browser)
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("fetch: open page: %w", err)
	}
	if err := t.page.Navigate(base.String()); err != nil {
		t.Close()
		return nil, fmt.Errorf("fetch: navigate %s: %w", base, err)
	}
	if err := t.page.WaitLoad(); err != nil {
		t.Close()
		return nil, fmt.Errorf("fetch: wait load: %w", err)
	}
	return t, nil
}

func (t *browserTransport) Get(ctx context.Context, rawURL string, header http.Header) (*response, error) {
	h := make(map[string]string, len(header))
	for k := range header {
		// The browser owns these.
		if strings.EqualFold(k, "User-Agent") || strings.EqualFold(k, "Cookie") {
			continue
		}
		h[k] = header.Get(k)
	}
	res, err := t.page.Context(ctx).Eval(fetchJS, rawURL, h)
	if err != nil {
		return nil, fmt.Errorf("in-page fetch: %w", err)
	}
	var r evalResult
	if err := json.Unmarshal([]byte(res.Value.Str()), &r); err != nil {
		return nil, fmt.Errorf("decode in-page fetch: %w", err)
	}
	out := &response{Status: r.Status, Body: []byte(r.Body)}
	// fetch() follows redirects; report a redirect that landed on a login
	// page the way the http transport would.
	if r.Redirected && isLoginURL(r.URL) {
		out.Status = http.StatusFound
		out.Location = r.URL
	}
	return out, nil
}

func (t *browserTransport) Cookies() ([]Cookie, error) {
	cookies, err := t.browser.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("fetch: get cookies: %w", err)
	}
	host := t.base.Hostname()
	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		if !domainMatch(host, c.Domain) {
			continue
		}
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func (t *browserTransport) Close() error {
	if t.page != nil {
		t.page.Close()
		t.page = nil
	}
	// An attached browser belongs to the operator: only our tab is closed.
	if t.browser != nil && t.lnch != nil {
		t.browser.Close()
	}
	t.browser = nil
	if t.lnch != nil {
		t.lnch.Cleanup()
		t.lnch = nil
	}
	return nil
}
