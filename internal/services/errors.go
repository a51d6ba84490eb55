package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConversion marks format or codec failures from the audio converter.
	ErrConversion = errors.New("conversion error")
	// ErrRemoteService marks transcription or AI service errors, including malformed responses.
	ErrRemoteService = errors.New("remote service error")
	// ErrTimeout marks polls that exceeded their deadline.
	ErrTimeout = errors.New("timeout")
	// ErrPersistence marks state store failures. The surrounding transition is
	// considered not to have happened when this is returned.
	ErrPersistence = errors.New("persistence error")
	// ErrValidation marks caller mistakes such as empty inputs.
	ErrValidation = errors.New("validation error")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later status classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrRemoteService
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
