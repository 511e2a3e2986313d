// Package idgen produces the identifiers storywatch attaches to check cycles
// so log lines from one pass over the targets can be correlated.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Time-sortable, so cycle ids order the same way as the cycles ran.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed tags every id from gen with prefix, so cycle and request ids stay
// apart in mixed logs.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// Cycle tags one pass over the targets; Request tags one liveness request.
var (
	Cycle   = Prefixed("cyc_", Default)
	Request = Prefixed("req_", Default)
)
