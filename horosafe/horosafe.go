// Package horosafe guards the three kinds of untrusted input storywatch
// touches: account handles that become directory names, media URLs returned
// by the story API, and API bodies of unknown size.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
)

// MaxBody caps one API response read.
const MaxBody int64 = 4 << 20

// MaxUsername is the longest account handle the source allows.
const MaxUsername = 30

var (
	// ErrEscape means a joined path left its base directory.
	ErrEscape = errors.New("horosafe: path escapes base")
	// ErrPrivateHost means a URL resolves to a loopback, private or
	// link-local address.
	ErrPrivateHost = errors.New("horosafe: private host")
	// ErrScheme means a URL is neither http nor https.
	ErrScheme = errors.New("horosafe: scheme not allowed")
	// ErrUsername means an account handle is malformed.
	ErrUsername = errors.New("horosafe: invalid username")
)

// Username accepts 1 to MaxUsername characters of [A-Za-z0-9._] with no
// leading or trailing dot and no "..".
func Username(s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrUsername)
	case len(s) > MaxUsername:
		return fmt.Errorf("%w: %d characters, max %d", ErrUsername, len(s), MaxUsername)
	case s[0] == '.' || s[len(s)-1] == '.' || strings.Contains(s, ".."):
		return fmt.Errorf("%w: misplaced dot in %q", ErrUsername, s)
	}
	for _, r := range s {
		if !handleRune(r) {
			return fmt.Errorf("%w: character %q", ErrUsername, r)
		}
	}
	return nil
}

func handleRune(r rune) bool {
	return r == '_' || r == '.' ||
		('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
}

// Join returns base/name, refusing any name that would land outside base.
func Join(base, name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrEscape, name)
	}
	root := filepath.Clean(base)
	p := filepath.Join(root, name)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrEscape, name)
	}
	return p, nil
}

// PublicURL accepts http(s) URLs whose host is, or resolves only to, public
// addresses. An unresolvable name passes: the download fails on its own.
func PublicURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("horosafe: parse url: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: url %q has no host", raw)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(host, addr)
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil {
			if err := checkAddr(host, addr); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkAddr(host string, a netip.Addr) error {
	a = a.Unmap()
	if a.IsLoopback() || a.IsPrivate() || a.IsUnspecified() ||
		a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() {
		return fmt.Errorf("%w: %s (%s)", ErrPrivateHost, host, a)
	}
	return nil
}

// ReadCapped reads r to the end and fails once more than limit bytes arrive.
func ReadCapped(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("horosafe: body over %d bytes", limit)
	}
	return b, nil
}
