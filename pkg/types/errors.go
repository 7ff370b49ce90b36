package types

import "github.com/pkg/errors"

var (
	// ErrDecode means the input could not be interpreted as an image
	ErrDecode = errors.New("image decode failed")

	// ErrImageTooSmall means the image decoded but is below the minimum size
	ErrImageTooSmall = errors.New("image too small")

	// ErrModelUnavailable means the detector could not be loaded or queried
	ErrModelUnavailable = errors.New("detection model unavailable")

	// ErrFontResolution is reported when no preferred font could be loaded.
	// It is a warning; annotation continues with a fallback face.
	ErrFontResolution = errors.New("preferred font unavailable")
)

// ModelError reports a failed detector call. It matches ErrModelUnavailable
// and unwraps to the backend's own error, so callers can still tell a
// timeout or cancellation apart from a refused connection.
type ModelError struct {
	Op  string
	Err error
}

func (e *ModelError) Error() string {
	return ErrModelUnavailable.Error() + ": " + e.Op + ": " + e.Err.Error()
}

// Is reports whether target is ErrModelUnavailable
func (e *ModelError) Is(target error) bool {
	return target == ErrModelUnavailable
}

func (e *ModelError) Unwrap() error {
	return e.Err
}
