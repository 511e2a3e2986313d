package fetch

import (
	"errors"
	"fmt"
)

// Kind is the closed set of fetch failure kinds.
type Kind int

const (
	// TargetNotFound: the account does not exist or is not visible.
	TargetNotFound Kind = iota + 1
	// AuthExpired: the session was rejected; it must be re-provisioned.
	AuthExpired
	// DownloadFailed: any other remote or local I/O failure, rate limiting included.
	DownloadFailed
)

var (
	ErrTargetNotFound = errors.New("fetch: target not found")
	ErrAuthExpired    = errors.New("fetch: session expired")
	ErrDownloadFailed = errors.New("fetch: download failed")
)

func (k Kind) String() string {
	switch k {
	case TargetNotFound:
		return "target_not_found"
	case AuthExpired:
		return "auth_expired"
	case DownloadFailed:
		return "download_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case TargetNotFound:
		return ErrTargetNotFound
	case AuthExpired:
		return ErrAuthExpired
	default:
		return ErrDownloadFailed
	}
}

// Error is the error type of every fetch failure. errors.Is matches it
// against the sentinel of its Kind.
type Error struct {
	Kind   Kind
	Target string
	ItemID string // empty for target-level failures
	Status int    // HTTP status when the failure came from a response
	Err    error
}

func (e *Error) Error() string {
	msg := "fetch: " + e.Kind.String() + " " + e.Target
	if e.ItemID != "" {
		msg += "/" + e.ItemID
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind.sentinel() }

// KindOf returns the Kind of err, or 0 when err is not a fetch error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
