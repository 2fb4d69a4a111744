package model

import "github.com/cockroachdb/errors"

// Error kinds. Concrete errors are marked with one of these via errors.Mark
// and classified with errors.Is.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrDownload          = errors.New("download failed")
	ErrSeparation        = errors.New("separation failed")
	ErrPostProcess       = errors.New("post-processing failed")
	ErrStore             = errors.New("object store error")
	ErrTimeout           = errors.New("timeout")
)

// ErrorKind returns a short label for the kind err was marked with. Pipeline
// stage kinds win over the kinds of the errors they wrap.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDownload):
		return "download"
	case errors.Is(err, ErrSeparation):
		return "separation"
	case errors.Is(err, ErrPostProcess):
		return "post_process"
	case errors.Is(err, ErrStore):
		return "store"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrResourceExhausted):
		return "resource_exhausted"
	default:
		return "unknown"
	}
}
