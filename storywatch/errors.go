package storywatch

import (
	"errors"

	"github.com/hazyhaar/storywatch/storywatch/internal/credential"
)

// ErrNotProvisioned is returned at start-up when no session is stored for the
// monitoring identity. Run `storywatch provision` first.
var ErrNotProvisioned = credential.ErrNotProvisioned

// ErrConfiguration is returned when the configuration is incomplete or invalid.
var ErrConfiguration = errors.New("storywatch: invalid configuration")
