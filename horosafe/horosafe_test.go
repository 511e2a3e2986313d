package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestUsername(t *testing.T) {
	tests := map[string]bool{
		"alice":                 true,
		"ssh.daemon":            true,
		"moe.mpg":               true,
		"a_b_9":                 true,
		strings.Repeat("x", 30): true,
		"":                      false,
		strings.Repeat("x", 31): false,
		".alice":                false,
		"alice.":                false,
		"al..ice":               false,
		"../etc":                false,
		"al/ice":                false,
		"al-ice":                false,
		"élodie":                false,
	}
	for in, ok := range tests {
		err := Username(in)
		if (err == nil) != ok {
			t.Errorf("Username(%q) = %v, want ok=%v", in, err, ok)
		}
		if err != nil && !errors.Is(err, ErrUsername) {
			t.Errorf("Username(%q) = %v, want ErrUsername", in, err)
		}
	}
}

func TestJoin(t *testing.T) {
	got, err := Join("/tmp/insta_stories/", "ssh.daemon")
	if err != nil || got != "/tmp/insta_stories/ssh.daemon" {
		t.Fatalf("Join = %q, %v", got, err)
	}
	for _, bad := range []string{"", ".", "..", "../etc", "a/../../b", "/etc"} {
		if _, err := Join("/tmp/insta_stories", bad); !errors.Is(err, ErrEscape) {
			t.Errorf("Join(%q) = %v, want ErrEscape", bad, err)
		}
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		url  string
		want error
	}{
		{"https://93.184.216.34/v/t51.jpg", nil},
		{"ftp://cdn.example/data", ErrScheme},
		{"javascript:alert(1)", ErrScheme},
		{"http://127.0.0.1/admin", ErrPrivateHost},
		{"http://10.0.0.1/internal", ErrPrivateHost},
		{"http://192.168.1.1/api", ErrPrivateHost},
		{"http://169.254.169.254/latest/meta-data", ErrPrivateHost},
		{"http://[::1]/", ErrPrivateHost},
		{"http://[::ffff:127.0.0.1]/", ErrPrivateHost},
		{"http://0.0.0.0/", ErrPrivateHost},
	}
	for _, tt := range tests {
		err := PublicURL(tt.url)
		if tt.want == nil && err != nil {
			t.Errorf("PublicURL(%q) = %v", tt.url, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("PublicURL(%q) = %v, want %v", tt.url, err, tt.want)
		}
	}
	if err := PublicURL("https:///nohost"); err == nil {
		t.Error("URL without host accepted")
	}
}

func TestReadCapped(t *testing.T) {
	b, err := ReadCapped(strings.NewReader("12345"), 5)
	if err != nil || string(b) != "12345" {
		t.Fatalf("at limit: %q, %v", b, err)
	}
	if _, err := ReadCapped(strings.NewReader("123456"), 5); err == nil {
		t.Fatal("over limit accepted")
	}
}
