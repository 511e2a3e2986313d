package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"

	"github.com/hazyhaar/storywatch/horosafe"
)

// response is what a transport hands back for one API call.
type response struct {
	Status   int
	Location string // redirect target, when the transport saw one
	Body     []byte
}

// transport performs authenticated API GETs with the session cookies and
// reports the cookies it holds afterwards.
type transport interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*response, error)
	Cookies() ([]Cookie, error)
	Close() error
}

// httpTransport is the default transport: net/http with a public-suffix aware
// cookie jar seeded from the session.
type httpTransport struct {
	client *http.Client
	jar    *cookiejar.Jar
	base   *url.URL
}

func newHTTPTransport(cfg Config, sess *Session) (*httpTransport, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: base url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("fetch: cookie jar: %w", err)
	}
	jar.SetCookies(base, sess.httpCookies(base.Hostname()))

	return &httpTransport{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
			// Redirects are surfaced, not followed: a redirect to the login
			// page is how an expired session shows up.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		jar:  jar,
		base: base,
	}, nil
}

func (t *httpTransport) Get(ctx context.Context, rawURL string, header http.Header) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	body, err := horosafe.ReadCapped(resp.Body, horosafe.MaxBody)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &response{
		Status:   resp.StatusCode,
		Location: resp.Header.Get("Location"),
		Body:     body,
	}, nil
}

func (t *httpTransport) Cookies() ([]Cookie, error) {
	hcs := t.jar.Cookies(t.base)
	out := make([]Cookie, 0, len(hcs))
	for _, c := range hcs {
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	return out, nil
}

func (t *httpTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func isIP(host string) bool { return net.ParseIP(host) != nil }
