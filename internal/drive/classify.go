package drive

import (
	"errors"

	"github.com/julispace/proton-drive-sync/internal/backoff"
)

// Classify maps a DriveClient error to the retry class the job queue
// contract defines, bridging this package's sentinel errors to the
// backoff package's vocabulary.
func Classify(err error) backoff.Class {
	switch {
	case errors.Is(err, ErrRateLimited):
		return backoff.ClassRateLimited
	case errors.Is(err, ErrConflict), errors.Is(err, ErrIntegrity):
		return backoff.ClassReuploadNeeded
	case errors.Is(err, ErrConnectionReset):
		return backoff.ClassTransientNetwork
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrDecryptFailed):
		return backoff.ClassPermanent
	default:
		return backoff.ClassTransientNetwork
	}
}

// RetryAfterSeconds extracts the server-hinted retry delay from err, if any.
func RetryAfterSeconds(err error) int64 {
	var de *DriveError
	if errors.As(err, &de) {
		return de.RetryAfter
	}

	return 0
}
