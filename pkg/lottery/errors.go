package lottery

import (
	"fmt"
	"time"
)

// Error is a terminal failure of a single lottery operation. Kind is stable
// and low-cardinality, suitable for metrics and API problem types.
type Error struct {
	kind string
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() string  { return e.kind }

var (
	ErrMalformedSignature = &Error{"malformed_signature", "malformed signature"}
	ErrUnauthorized       = &Error{"unauthorized", "unauthorized"}
	ErrAlreadyUsed        = &Error{"already_used", "nonce already used"}
	ErrTooSoon            = &Error{"too_soon", "you can only crank once per interval"}
	ErrNotInitialized     = &Error{"not_initialized", "lottery not initialized"}
	ErrInvalidArgument    = &Error{"invalid_argument", "invalid argument"}
)

// TooSoonError reports when the caller may crank again.
type TooSoonError struct {
	Identity string
	Last     time.Time
	Next     time.Time
	Now      time.Time
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("%s: %s may crank again at %s", ErrTooSoon.msg, e.Identity, e.Next.UTC().Format(time.RFC3339))
}

func (e *TooSoonError) Kind() string { return ErrTooSoon.kind }

// Is makes errors.Is(err, ErrTooSoon) hold.
func (e *TooSoonError) Is(target error) bool { return target == ErrTooSoon }

// RetryAfter is the time left until the caller becomes eligible.
func (e *TooSoonError) RetryAfter() time.Duration {
	return e.Next.Sub(e.Now)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
