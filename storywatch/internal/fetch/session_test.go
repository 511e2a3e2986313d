package fetch

import "testing"

func TestSessionMerge(t *testing.T) {
	s := &Session{Cookies: []Cookie{{Name: "a", Value: "1", Domain: ".example.com", HTTPOnly: true}}}

	if s.merge([]Cookie{{Name: "a", Value: "1"}}) {
		t.Error("identical value reported as change")
	}
	if !s.merge([]Cookie{{Name: "a", Value: "2"}, {Name: "b", Value: "x"}, {Name: ""}}) {
		t.Fatal("change not reported")
	}
	if len(s.Cookies) != 2 {
		t.Fatalf("cookies = %+v", s.Cookies)
	}
	if s.Cookies[0].Value != "2" || s.Cookies[0].Domain != ".example.com" || !s.Cookies[0].HTTPOnly {
		t.Errorf("attributes not kept: %+v", s.Cookies[0])
	}
}

func TestDomainMatch(t *testing.T) {
	tests := []struct {
		host, domain string
		want         bool
	}{
		{"www.instagram.com", ".instagram.com", true},
		{"www.instagram.com", "instagram.com", true},
		{"instagram.com", ".instagram.com", true},
		{"evil-instagram.com", ".instagram.com", false},
		{"127.0.0.1", "", true},
		{"127.0.0.1", ".instagram.com", false},
	}
	for _, tt := range tests {
		if got := domainMatch(tt.host, tt.domain); got != tt.want {
			t.Errorf("domainMatch(%q, %q) = %v", tt.host, tt.domain, got)
		}
	}
}

func TestHTTPCookies_IPHostDropsDomain(t *testing.T) {
	s := &Session{Cookies: []Cookie{{Name: "a", Value: "1", Domain: "127.0.0.1"}}}
	hc := s.httpCookies("127.0.0.1")
	if len(hc) != 1 || hc[0].Domain != "" || hc[0].Path != "/" {
		t.Fatalf("cookies = %+v", hc)
	}
}

func TestParseSession(t *testing.T) {
	if _, err := ParseSession([]byte("not json")); err == nil {
		t.Error("garbage accepted")
	}
	if _, err := ParseSession([]byte(`{"username":"u"}`)); err == nil {
		t.Error("cookie-less session accepted")
	}
	s, err := ParseSession([]byte(testSession))
	if err != nil {
		t.Fatal(err)
	}
	if s.Username != "watcher" || len(s.Cookies) != 2 {
		t.Errorf("session = %+v", s)
	}
}
