package drop

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the id is unknown or the drop has already been
	// reclaimed.
	ErrNotFound = errors.New("drop not found")

	// ErrExpired means the drop's time-based expiry has passed. Observed
	// lazily on retrieval, not only after a sweep.
	ErrExpired = errors.New("drop expired")

	// ErrLimitExceeded means the download cap has been reached.
	ErrLimitExceeded = errors.New("download limit exceeded")

	// ErrConflict is returned by MetadataStore.Insert when the id already
	// exists. It drives the generator retry loop and never escapes Create.
	ErrConflict = errors.New("drop id already exists")

	// ErrForbidden means a credential (owner token or download password)
	// was missing or wrong.
	ErrForbidden = errors.New("credential rejected")

	// ErrEntropyExhausted means the generator retry budget ran out. It
	// indicates a broken random source and is not recoverable.
	ErrEntropyExhausted = errors.New("identifier generation retries exhausted")

	// ErrInvalidPolicy rejects unusable lifecycle parameters, such as a
	// zero download limit.
	ErrInvalidPolicy = errors.New("invalid drop policy")

	// ErrQuotaExceeded means an origin or global storage limit would be
	// crossed by the new drop.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrTooLarge rejects payloads bigger than the largest configured
	// size threshold.
	ErrTooLarge = errors.New("payload exceeds largest size threshold")
)

// TransientError wraps a backing-store failure (timeout, connection loss)
// that the caller may retry with backoff. The engine never retries these
// itself beyond the idempotent reclaim path.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
