package generate

import "errors"

// Backend failures are recoverable: the caller may retry, and no cached or
// indexed state is corrupted by them.
var (
	ErrBackendUnavailable = errors.New("model backend unavailable")
	ErrModelNotFound      = errors.New("model not found")
)
