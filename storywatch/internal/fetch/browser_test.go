package fetch

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-rod/rod/lib/launcher"
)

func TestBrowserTransport_ListsStories(t *testing.T) {
	if testing.Short() {
		t.Skip("browser test skipped in -short mode")
	}
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("no local Chrome")
	}

	api := storyAPI(t, twoItemReel)
	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>ok</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(Config{
		BaseURL:      srv.URL,
		Transport:    TransportBrowser,
		DownloadDir:  t.TempDir(),
		URLValidator: allowAll,
	}, writeSession(t, testSession))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	items, errs := collect(t, c, "alice")
	if len(errs) != 0 || len(items) != 2 {
		t.Fatalf("items=%v errs=%v", items, errs)
	}
	if err := c.SaveSession(); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
}

// WHAT: an unreachable remote browser is a start-up error, not a crash.
func TestBrowserTransport_UnreachableRemote(t *testing.T) {
	sess, err := ParseSession([]byte(testSession))
	if err != nil {
		t.Fatal(err)
	}
	tr, err := newBrowserTransport(Config{
		BaseURL:    "http://127.0.0.1:1",
		BrowserURL: "ws://127.0.0.1:1/devtools/browser/none",
	}, sess)
	if err == nil {
		tr.Close()
		t.Fatal("expected connect error")
	}
	if tr != nil {
		t.Errorf("transport = %v, want nil", tr)
	}
}

// WHAT: closing an attached transport never touches the remote browser and
// is idempotent.
func TestBrowserTransport_CloseAttached(t *testing.T) {
	tr := &browserTransport{}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
}
