// Package credential keeps the fetch adapter's session material in durable
// storage and hands it to the adapter as a process-private temp file.
//
// Lifecycle: Load materializes the stored blob, the adapter reads (and may
// rewrite) the file, Save pushes the file content back, Cleanup removes the
// file. Cleanup is meant to be deferred by the process owner.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/hazyhaar/storywatch/storywatch/internal/store"
)

// ErrNotProvisioned is returned by Load when no record exists for the identity.
var ErrNotProvisioned = errors.New("credential: no stored session for identity")

// Backend is the slice of store.Store the credential store needs.
type Backend interface {
	LoadCredential(ctx context.Context, identity string) ([]byte, error)
	SaveCredential(ctx context.Context, identity string, blob []byte) error
}

// Store manages the credential record of one monitoring identity.
type Store struct {
	backend  Backend
	identity string
	dir      string
	sealer   *Sealer
	logger   *slog.Logger

	mu   sync.Mutex
	path string
}

// Option configures a Store.
type Option func(*Store)

// WithDir sets the directory for the transient copy. Default: os.TempDir().
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithSealer stores blobs age-encrypted.
func WithSealer(sl *Sealer) Option {
	return func(s *Store) { s.sealer = sl }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store for identity.
func New(backend Backend, identity string, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		identity: identity,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Identity returns the monitoring identity this store serves.
func (s *Store) Identity() string { return s.identity }

// Path returns the transient file path, or "" before Load.
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Load writes the stored blob to a fresh 0600 temp file and returns its path.
func (s *Store) Load(ctx context.Context) (string, error) {
	blob, err := s.backend.LoadCredential(ctx, s.identity)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotProvisioned, s.identity)
	}
	if err != nil {
		return "", fmt.Errorf("credential: load: %w", err)
	}

	plain, err := s.unseal(blob)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked()

	f, err := os.CreateTemp(s.dir, "storywatch-*.session")
	if err != nil {
		return "", fmt.Errorf("credential: create temp: %w", err)
	}
	if _, err := f.Write(plain); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("credential: write temp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("credential: close temp: %w", err)
	}
	s.path = f.Name()

	s.logger.Info("credential: loaded session", "identity", s.identity)
	return s.path, nil
}

// Save upserts the current content of the transient file. It is a no-op when
// the file was never loaded or no longer exists.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("credential: read temp: %w", err)
	}

	blob := data
	if s.sealer != nil {
		blob, err = s.sealer.Seal(data)
		if err != nil {
			return err
		}
	}
	if err := s.backend.SaveCredential(ctx, s.identity, blob); err != nil {
		return fmt.Errorf("credential: save: %w", err)
	}
	s.logger.Debug("credential: saved session", "identity", s.identity, "bytes", len(data))
	return nil
}

// Provision stores an initial blob for the identity, replacing any existing one.
func (s *Store) Provision(ctx context.Context, plain []byte) error {
	blob := plain
	if s.sealer != nil {
		var err error
		if blob, err = s.sealer.Seal(plain); err != nil {
			return err
		}
	}
	if err := s.backend.SaveCredential(ctx, s.identity, blob); err != nil {
		return fmt.Errorf("credential: provision: %w", err)
	}
	return nil
}

// Cleanup removes the transient file if present. Safe to call repeatedly.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked()
}

func (s *Store) removeLocked() error {
	if s.path == "" {
		return nil
	}
	path := s.path
	s.path = ""
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("credential: remove temp session", "path", path, "error", err)
		return fmt.Errorf("credential: remove temp: %w", err)
	}
	return nil
}

func (s *Store) unseal(blob []byte) ([]byte, error) {
	if !IsSealed(blob) {
		return blob, nil
	}
	if s.sealer == nil {
		return nil, fmt.Errorf("credential: stored session for %s is sealed but no key is configured", s.identity)
	}
	return s.sealer.Open(blob)
}
