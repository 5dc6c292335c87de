package models

import "errors"

// Typed error taxonomy returned by all services. Handlers map these onto
// HTTP statuses; anything not in this list is treated as internal.
var (
	ErrUnauthenticated    = errors.New("engine: caller identity missing")
	ErrPermissionDenied   = errors.New("engine: permission denied")
	ErrInvalidArgument    = errors.New("engine: invalid argument")
	ErrNotFound           = errors.New("engine: not found")
	ErrAlreadyExists      = errors.New("engine: already exists")
	ErrFailedPrecondition = errors.New("engine: failed precondition")
	ErrInternal           = errors.New("engine: internal error")
)
