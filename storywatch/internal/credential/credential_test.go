package credential

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"filippo.io/age"

	"github.com/hazyhaar/storywatch/storywatch/internal/store"
)

type memBackend struct {
	mu    sync.Mutex
	blobs map[string][]byte
	saves int
}

func newMemBackend() *memBackend {
	return &memBackend{blobs: map[string][]byte{}}
}

func (m *memBackend) LoadCredential(_ context.Context, identity string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[identity]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *memBackend) SaveCredential(_ context.Context, identity string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[identity] = append([]byte(nil), blob...)
	m.saves++
	return nil
}

func TestLoad_NotProvisioned(t *testing.T) {
	// WHAT: No record for the identity fails with ErrNotProvisioned.
	// WHY: Start-up must fail fast before any network activity.
	s := New(newMemBackend(), "bot1", WithDir(t.TempDir()))
	_, err := s.Load(context.Background())
	if !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("err = %v, want ErrNotProvisioned", err)
	}
	if s.Path() != "" {
		t.Errorf("path = %q, want empty", s.Path())
	}
}

func TestLoad_MaterializesPrivateFile(t *testing.T) {
	b := newMemBackend()
	b.blobs["moe.mpg"] = []byte(`{"username":"moe.mpg"}`)
	s := New(b, "moe.mpg", WithDir(t.TempDir()))
	defer s.Cleanup()

	path, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"username":"moe.mpg"}` {
		t.Errorf("content = %q", data)
	}
	fi, _ := os.Stat(path)
	if fi.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", fi.Mode().Perm())
	}
}

func TestSave_PicksUpAdapterChanges(t *testing.T) {
	// WHAT: Save stores whatever the adapter left in the transient file.
	// WHY: The adapter refreshes cookies in place.
	b := newMemBackend()
	b.blobs["moe.mpg"] = []byte("old")
	s := New(b, "moe.mpg", WithDir(t.TempDir()))
	defer s.Cleanup()

	path, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("refreshed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := string(b.blobs["moe.mpg"]); got != "refreshed" {
		t.Errorf("stored = %q, want refreshed", got)
	}
}

func TestSave_NoopWithoutFile(t *testing.T) {
	b := newMemBackend()
	b.blobs["moe.mpg"] = []byte("blob")
	s := New(b, "moe.mpg", WithDir(t.TempDir()))

	// Never loaded.
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Loaded, then the file disappears.
	path, _ := s.Load(context.Background())
	os.Remove(path)
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.saves != 0 {
		t.Errorf("saves = %d, want 0", b.saves)
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	b := newMemBackend()
	b.blobs["moe.mpg"] = []byte("blob")
	s := New(b, "moe.mpg", WithDir(t.TempDir()))

	path, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file still present: %v", err)
	}
	if err := s.Cleanup(); err != nil {
		t.Errorf("second cleanup: %v", err)
	}
}

func TestLoad_ReplacesPreviousCopy(t *testing.T) {
	b := newMemBackend()
	b.blobs["moe.mpg"] = []byte("blob")
	s := New(b, "moe.mpg", WithDir(t.TempDir()))
	defer s.Cleanup()

	first, _ := s.Load(context.Background())
	second, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("expected a fresh temp file")
	}
	if _, err := os.Stat(first); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("first copy not removed: %v", err)
	}
}

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	sl, err := NewSealer(id.String())
	if err != nil {
		t.Fatal(err)
	}
	return sl
}

func TestSealed_RoundTrip(t *testing.T) {
	// WHAT: With a sealer, stored blobs are age ciphertext and load back as plaintext.
	sl := newTestSealer(t)
	b := newMemBackend()
	s := New(b, "moe.mpg", WithDir(t.TempDir()), WithSealer(sl))
	defer s.Cleanup()

	if err := s.Provision(context.Background(), []byte("secret-cookies")); err != nil {
		t.Fatal(err)
	}
	if !IsSealed(b.blobs["moe.mpg"]) {
		t.Fatal("stored blob is not sealed")
	}

	path, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "secret-cookies" {
		t.Errorf("plaintext = %q", data)
	}
}

func TestSealed_LegacyPlaintextIsResealed(t *testing.T) {
	sl := newTestSealer(t)
	b := newMemBackend()
	b.blobs["moe.mpg"] = []byte("plain")
	s := New(b, "moe.mpg", WithDir(t.TempDir()), WithSealer(sl))
	defer s.Cleanup()

	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !IsSealed(b.blobs["moe.mpg"]) {
		t.Error("blob not sealed after save")
	}
}

func TestSealed_WithoutKey(t *testing.T) {
	sl := newTestSealer(t)
	sealed, err := sl.Seal([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	b := newMemBackend()
	b.blobs["moe.mpg"] = sealed
	s := New(b, "moe.mpg", WithDir(t.TempDir()))

	if _, err := s.Load(context.Background()); err == nil {
		t.Fatal("expected error loading sealed blob without key")
	}
}

func TestNewSealer_BadKey(t *testing.T) {
	if _, err := NewSealer("not-a-key"); err == nil {
		t.Fatal("expected parse error")
	}
}
