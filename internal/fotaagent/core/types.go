package core

import (
	"errors"
	"fmt"
)

// Mode is the update mode selected for a session.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeDelta
	ModeImage
)

func (m Mode) String() string {
	switch m {
	case ModeDelta:
		return "Delta"
	case ModeImage:
		return "WholeImage"
	default:
		return "Unknown"
	}
}

// Status is the fixed result vocabulary of a patch engine invocation.
type Status uint32

const (
	StatusSuccess   Status = 0x00000000
	StatusFailure   Status = 0x80000001
	StatusBadParams Status = 0x80000002
	StatusIOFailure Status = 0x80000003
	StatusNoSpace   Status = 0x80000004
	StatusCorrupted Status = 0x80000005
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	case StatusBadParams:
		return "BadParams"
	case StatusIOFailure:
		return "IOFailure"
	case StatusNoSpace:
		return "NoSpace"
	case StatusCorrupted:
		return "Corrupted"
	default:
		return fmt.Sprintf("Status(0x%08X)", uint32(s))
	}
}

// StatusFromError maps a callback error onto the engine status vocabulary.
// Engines use it to turn a storage failure into their return code.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrBadAlignment), errors.Is(err, ErrBadLength),
		errors.Is(err, ErrOutOfRange), errors.Is(err, ErrNotFound):
		return StatusBadParams
	case errors.Is(err, ErrIOFailure):
		return StatusIOFailure
	default:
		return StatusFailure
	}
}

// Operation selects what a single engine invocation does to the target.
type Operation int

const (
	OpScout Operation = iota
	OpVerifySource
	OpVerifyTarget
	OpUpdate
)

func (o Operation) String() string {
	switch o {
	case OpScout:
		return "scout"
	case OpVerifySource:
		return "verify-source"
	case OpVerifyTarget:
		return "verify-target"
	case OpUpdate:
		return "update"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// PartitionType tells the engine how the target partition is laid out.
type PartitionType int

const (
	PartitionRaw PartitionType = iota
	PartitionFilesystem
)
