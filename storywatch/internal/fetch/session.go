package fetch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Cookie is one session cookie as stored in the credential blob.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"http_only,omitempty"`
}

// Session is the decoded credential blob.
type Session struct {
	Username  string   `json:"username"`
	UserAgent string   `json:"user_agent,omitempty"`
	Cookies   []Cookie `json:"cookies"`
}

// ParseSession decodes a credential blob. A blob without cookies is rejected.
func ParseSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("fetch: parse session: %w", err)
	}
	if len(s.Cookies) == 0 {
		return nil, fmt.Errorf("fetch: session has no cookies")
	}
	return &s, nil
}

// ReadSession reads and decodes the session file at path.
func ReadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: read session: %w", err)
	}
	return ParseSession(data)
}

// WriteFile replaces path atomically (temp file in the same directory, then
// rename) with mode 0600.
func (s *Session) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("fetch: encode session: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("fetch: write session: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fetch: write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fetch: write session: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fetch: write session: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("fetch: write session: %w", err)
	}
	return nil
}

// merge folds fresh cookie values into the session. Known cookies keep their
// attributes; unknown ones are appended. It reports whether anything changed.
func (s *Session) merge(fresh []Cookie) bool {
	changed := false
	for _, fc := range fresh {
		if fc.Name == "" {
			continue
		}
		i := s.index(fc.Name)
		if i < 0 {
			s.Cookies = append(s.Cookies, fc)
			changed = true
			continue
		}
		if s.Cookies[i].Value != fc.Value {
			s.Cookies[i].Value = fc.Value
			changed = true
		}
	}
	return changed
}

func (s *Session) index(name string) int {
	for i, c := range s.Cookies {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// httpCookies converts the session cookies for a cookie jar. Cookies whose
// domain does not cover host are dropped.
func (s *Session) httpCookies(host string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if !domainMatch(host, c.Domain) {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Domain != "" && !isIP(host) {
			hc.Domain = c.Domain
		}
		if hc.Path == "" {
			hc.Path = "/"
		}
		out = append(out, hc)
	}
	return out
}

func domainMatch(host, domain string) bool {
	if domain == "" {
		return true
	}
	d := strings.TrimPrefix(strings.ToLower(domain), ".")
	h := strings.ToLower(host)
	return h == d || strings.HasSuffix(h, "."+d)
}
