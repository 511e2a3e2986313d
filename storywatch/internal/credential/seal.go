package credential

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// sealedHeader is the first line of every binary age file.
var sealedHeader = []byte("age-encryption.org/v1\n")

// Sealer encrypts credential blobs at rest to an age X25519 identity.
type Sealer struct {
	identity *age.X25519Identity
}

// NewSealer parses an AGE-SECRET-KEY-1... identity.
func NewSealer(key string) (*Sealer, error) {
	id, err := age.ParseX25519Identity(strings.TrimSpace(key))
	if err != nil {
		return nil, fmt.Errorf("credential: parse age identity: %w", err)
	}
	return &Sealer{identity: id}, nil
}

// Seal encrypts plain to the identity's own recipient.
func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("credential: age encrypt: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("credential: age write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("credential: age finalize: %w", err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a sealed blob. Unsealed blobs are returned unchanged so
// records provisioned before a key was configured keep working.
func (s *Sealer) Open(blob []byte) ([]byte, error) {
	if !IsSealed(blob) {
		return blob, nil
	}
	r, err := age.Decrypt(bytes.NewReader(blob), s.identity)
	if err != nil {
		return nil, fmt.Errorf("credential: age decrypt: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("credential: age read: %w", err)
	}
	return plain, nil
}

// IsSealed reports whether blob is an age-encrypted payload.
func IsSealed(blob []byte) bool {
	return bytes.HasPrefix(blob, sealedHeader)
}
