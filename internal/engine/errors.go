package engine

import (
	"errors"
	"fmt"
	"net/http"

	"diffusiond/internal/sampler"
)

// MaxPixels is the largest width*height accepted, 1024x768 or 768x1024.
const MaxPixels = 786432

// SizeLimitError rejects requests whose output area exceeds MaxPixels.
type SizeLimitError struct {
	Width, Height int
}

func (e *SizeLimitError) Error() string {
	return "Maximum size is 1024x768 or 768x1024 pixels, because of memory limits. Please select a lower width or height."
}

func (e *SizeLimitError) StatusCode() int { return http.StatusBadRequest }

// InvalidRequestError reports a malformed request field.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidRequestError) StatusCode() int { return http.StatusBadRequest }

// NoSafeOutputError is returned when every generated image was flagged.
type NoSafeOutputError struct {
	Generated int
}

func (e *NoSafeOutputError) Error() string {
	return "NSFW content detected. Try running it again, or try a different prompt."
}

func (e *NoSafeOutputError) StatusCode() int { return http.StatusUnprocessableEntity }

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ mode string }

func (e tooBusyError) Error() string { return "too busy: " + e.mode }

func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// ErrNotReady is returned by operations that need a loaded pipeline.
var ErrNotReady = errors.New("engine: not ready")

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// IsNoSafeOutput reports whether every output of a prediction was filtered.
func IsNoSafeOutput(err error) bool {
	var e *NoSafeOutputError
	return errors.As(err, &e)
}

// IsInvalidInput reports whether err was caused by the request itself.
func IsInvalidInput(err error) bool {
	var (
		size *SizeLimitError
		inv  *InvalidRequestError
	)
	return errors.As(err, &size) || errors.As(err, &inv) || errors.Is(err, sampler.ErrUnknownSampler)
}
