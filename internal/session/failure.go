package session

import (
	"errors"

	"chorus/internal/services"
)

// FailureStatusFor maps a worker error to the file status that should be
// persisted after the step fails. Conversion (format/codec) failures route to
// the dedicated MP3 failure state; everything else is a general failure.
func FailureStatusFor(err error) FileStatus {
	if errors.Is(err, services.ErrConversion) {
		return StatusFailedMp3
	}
	return StatusFailed
}
