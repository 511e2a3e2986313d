package deliver

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

const testToken = "123:TEST"

type upload struct {
	method   string
	chatID   string
	caption  string
	field    string
	filename string
}

// fakeBotAPI records uploads and answers like the Bot API. reject makes every
// send fail with ok:false.
type fakeBotAPI struct {
	mu      sync.Mutex
	uploads []upload
	reject  atomic.Bool
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
	w.Header().Set("Content-Type", "application/json")
	if method == "getMe" {
		w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"t","username":"story_bot"}}`))
		return
	}
	if f.reject.Load() {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
		return
	}
	u := upload{method: method}
	if mr, err := r.MultipartReader(); err == nil {
		for {
			p, err := mr.NextPart()
			if err != nil {
				break
			}
			if p.FileName() != "" {
				u.field, u.filename = p.FormName(), p.FileName()
				io.Copy(io.Discard, p)
				continue
			}
			v, _ := io.ReadAll(p)
			switch p.FormName() {
			case "chat_id":
				u.chatID = string(v)
			case "caption":
				u.caption = string(v)
			}
		}
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, u)
	f.mu.Unlock()
	w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`))
}

func (f *fakeBotAPI) last(t *testing.T) upload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.uploads) == 0 {
		t.Fatal("no upload recorded")
	}
	return f.uploads[len(f.uploads)-1]
}

type countingStats struct{ sent atomic.Int64 }

func (c *countingStats) IncSent() { c.sent.Add(1) }

func newTestSender(t *testing.T, chatID string) (*Sender, *fakeBotAPI, *countingStats) {
	t.Helper()
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	stats := &countingStats{}
	s, err := New(Config{
		Token:       testToken,
		ChatID:      chatID,
		APIEndpoint: srv.URL + "/bot%s/%s",
	}, stats)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, api, stats
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"a.jpg": Photo, "a.JPEG": Photo, "a.png": Photo, "a.gif": Photo,
		"a.mp4": Video, "a.MOV": Video, "a.avi": Video, "a.mkv": Video,
		"a.webp": Document, "a.txt": Document, "noext": Document,
	}
	for path, want := range tests {
		if got := Classify(path); got != want {
			t.Errorf("Classify(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestSend_RoutesByExtension(t *testing.T) {
	tests := []struct {
		file   string
		method string
		field  string
	}{
		{"story.jpg", "sendPhoto", "photo"},
		{"story.mp4", "sendVideo", "video"},
		{"story.heic", "sendDocument", "document"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			s, api, stats := newTestSender(t, "4242")
			p := writeFile(t, tt.file, []byte("payload"))

			if !s.Send(context.Background(), p, "Story from @alice") {
				t.Fatal("Send returned false")
			}
			u := api.last(t)
			if u.method != tt.method || u.field != tt.field {
				t.Errorf("upload = %+v, want %s/%s", u, tt.method, tt.field)
			}
			if u.chatID != "4242" || u.caption != "Story from @alice" {
				t.Errorf("upload = %+v", u)
			}
			if stats.sent.Load() != 1 {
				t.Errorf("sent counter = %d", stats.sent.Load())
			}
		})
	}
}

func TestSend_ChannelUsername(t *testing.T) {
	s, api, _ := newTestSender(t, "@story_channel")
	if !s.Send(context.Background(), writeFile(t, "a.png", []byte("x")), "c") {
		t.Fatal("Send returned false")
	}
	if got := api.last(t).chatID; got != "@story_channel" {
		t.Errorf("chat_id = %q", got)
	}
}

func TestSend_MissingFile(t *testing.T) {
	s, api, stats := newTestSender(t, "1")
	if s.Send(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"), "c") {
		t.Fatal("Send of a missing file returned true")
	}
	if len(api.uploads) != 0 || stats.sent.Load() != 0 {
		t.Errorf("uploads=%d sent=%d", len(api.uploads), stats.sent.Load())
	}
}

func TestSend_APIRejection(t *testing.T) {
	s, api, stats := newTestSender(t, "1")
	api.reject.Store(true)
	p := writeFile(t, "a.jpg", []byte("x"))

	if s.Send(context.Background(), p, "c") {
		t.Fatal("rejected send returned true")
	}
	if stats.sent.Load() != 0 {
		t.Errorf("sent counter bumped on failure")
	}
	if _, err := os.Stat(p); err != nil {
		t.Errorf("file removed after failed send: %v", err)
	}
	if _, err := s.send(context.Background(), p, "c"); !errors.Is(err, ErrDelivery) {
		t.Errorf("err = %v, want ErrDelivery", err)
	}
}

func TestSend_WebPTranscoded(t *testing.T) {
	s, api, stats := newTestSender(t, "1")
	src, err := os.ReadFile("testdata/alpha.webp")
	if err != nil {
		t.Fatal(err)
	}
	p := writeFile(t, "2024_99.webp", src)

	if !s.Send(context.Background(), p, "c") {
		t.Fatal("Send returned false")
	}
	u := api.last(t)
	if u.method != "sendPhoto" || u.filename != "2024_99_converted.jpg" {
		t.Errorf("upload = %+v", u)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(p), "2024_99_converted.jpg")); !os.IsNotExist(err) {
		t.Errorf("converted sibling not removed: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Errorf("original removed by sender: %v", err)
	}
	if stats.sent.Load() != 1 {
		t.Errorf("sent = %d", stats.sent.Load())
	}
}

func TestSend_BrokenWebPGoesAsDocument(t *testing.T) {
	s, api, _ := newTestSender(t, "1")
	p := writeFile(t, "bad.webp", []byte("RIFF....WEBPnope"))

	if !s.Send(context.Background(), p, "c") {
		t.Fatal("Send returned false")
	}
	u := api.last(t)
	if u.method != "sendDocument" || u.filename != "bad.webp" {
		t.Errorf("upload = %+v", u)
	}
}

func TestSend_ConvertedSiblingRemovedOnFailure(t *testing.T) {
	s, api, _ := newTestSender(t, "1")
	api.reject.Store(true)
	src, _ := os.ReadFile("testdata/alpha.webp")
	p := writeFile(t, "x.webp", src)

	if s.Send(context.Background(), p, "c") {
		t.Fatal("rejected send returned true")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(p), "x_converted.jpg")); !os.IsNotExist(err) {
		t.Errorf("converted sibling left behind: %v", err)
	}
}

func TestToJPEG(t *testing.T) {
	src, err := os.ReadFile("testdata/alpha.webp")
	if err != nil {
		t.Fatal(err)
	}
	p := writeFile(t, "pic.webp", src)

	dst, err := ToJPEG(p)
	if err != nil {
		t.Fatalf("ToJPEG: %v", err)
	}
	defer os.Remove(dst)
	if filepath.Base(dst) != "pic_converted.jpg" {
		t.Errorf("dst = %s", dst)
	}
	f, err := os.Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := jpeg.Decode(f); err != nil {
		t.Errorf("output is not a JPEG: %v", err)
	}
}

func TestToJPEG_Garbage(t *testing.T) {
	p := writeFile(t, "junk.webp", []byte("not an image"))
	if _, err := ToJPEG(p); !errors.Is(err, ErrConversion) {
		t.Fatalf("err = %v, want ErrConversion", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(p), "junk_converted.jpg")); !os.IsNotExist(err) {
		t.Error("sibling created for undecodable input")
	}
}

func TestFlatten(t *testing.T) {
	// A fully transparent pixel becomes white.
	nrgba := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	nrgba.Set(0, 0, color.NRGBA{R: 255, A: 0})
	got := flatten(nrgba).At(0, 0)
	if r, g, b, _ := got.RGBA(); r != 0xffff || g != 0xffff || b != 0xffff {
		t.Errorf("transparent pixel = %v, want white", got)
	}

	// Palette images are flattened too.
	pal := image.NewPaletted(image.Rect(0, 0, 1, 1), color.Palette{color.Transparent, color.Black})
	if _, ok := flatten(pal).(*image.RGBA); !ok {
		t.Error("paletted image not flattened")
	}

	// Opaque models pass through.
	ycc := image.NewYCbCr(image.Rect(0, 0, 1, 1), image.YCbCrSubsampleRatio420)
	if flatten(ycc) != image.Image(ycc) {
		t.Error("YCbCr image was copied")
	}
}

func TestNew_Validation(t *testing.T) {
	for _, chat := range []string{"", "abc", "@"} {
		if _, err := New(Config{Token: testToken, ChatID: chat}, nil); err == nil {
			t.Errorf("chat %q accepted", chat)
		}
	}
	if _, err := New(Config{ChatID: "1"}, nil); err == nil {
		t.Error("empty token accepted")
	}
}

// WHAT: a Bot API that rejects getMe at start-up does not stop New; sends
// then fail and are reported as false.
func TestNew_BotCheckNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 401, "description": "Unauthorized"})
	}))
	defer srv.Close()
	stats := &countingStats{}
	s, err := New(Config{Token: testToken, ChatID: "1", APIEndpoint: srv.URL + "/bot%s/%s"}, stats)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Send(context.Background(), writeFile(t, "a.jpg", []byte("img")), "c") {
		t.Error("send accepted by a rejecting API")
	}
	if stats.sent.Load() != 0 {
		t.Errorf("sent = %d", stats.sent.Load())
	}
}

// WHAT: an unreachable Bot API at start-up is logged, not fatal.
func TestNew_UnreachableAPI(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL + "/bot%s/%s"
	srv.Close()
	if _, err := New(Config{Token: testToken, ChatID: "1", APIEndpoint: endpoint}, nil); err != nil {
		t.Fatalf("New: %v", err)
	}
}
