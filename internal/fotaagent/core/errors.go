package core

import "errors"

// Error taxonomy shared by every layer of the update agent. Components wrap
// these with fmt.Errorf("...: %w", ...) so callers can match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrBadAlignment      = errors.New("address not block aligned")
	ErrOutOfRange        = errors.New("out of partition range")
	ErrBadLength         = errors.New("buffer length not block sized")
	ErrIOFailure         = errors.New("medium i/o failure")
	ErrGeometryMismatch  = errors.New("partition geometry mismatch")
	ErrNoPayload         = errors.New("no update payload")
	ErrEngineFailure     = errors.New("patch engine failure")
	ErrVersionMismatch   = errors.New("patch engine version mismatch")
	ErrImageModeDisabled = errors.New("whole-image mode disabled")
	ErrImageTooLarge     = errors.New("image larger than partition")
	ErrUnsupported       = errors.New("operation not supported")
)
