package fsx

import "github.com/Abraxas-365/jobrelay/pkg/errx"

var fsxErrors = errx.NewRegistry("FSX")

var (
	ErrNotFound    = fsxErrors.Register("NOT_FOUND", errx.TypeNotFound, 404, "File not found")
	ErrInvalidPath = fsxErrors.Register("INVALID_PATH", errx.TypeValidation, 400, "Path escapes the storage root")
	ErrIO          = fsxErrors.Register("IO", errx.TypeUnavailable, 503, "Storage operation failed")
)

// NotFound reports a missing path.
func NotFound(path string) *errx.Error {
	return fsxErrors.New(ErrNotFound).WithDetail("path", path)
}

// InvalidPath reports a path outside the storage root.
func InvalidPath(path string) *errx.Error {
	return fsxErrors.New(ErrInvalidPath).WithDetail("path", path)
}

// IOError wraps a backend failure for op on path.
func IOError(op, path string, cause error) *errx.Error {
	return fsxErrors.NewWithCause(ErrIO, cause).WithDetail("op", op).WithDetail("path", path)
}
