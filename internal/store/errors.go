package store

import "errors"

// Error kinds surfaced to callers. Read paths report absence with nil or
// false instead of ErrNotFound; the sentinel is for callers that need to turn
// absence into a failure.
var (
	ErrNotFound        = errors.New("not found")
	ErrAmbiguous       = errors.New("ambiguous uid")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConfiguration   = errors.New("configuration error")
)
