package core

import "context"

// Storage is the capability the patch engine receives for the duration of one
// invocation. It is the engine's only way to touch the partition being
// updated, its payload and the backup staging area.
type Storage interface {
	BlockSize() int64

	// ReadImage fills p from the active partition starting at off.
	// off does not need to be aligned.
	ReadImage(p []byte, off int64) error

	// WriteBlock erases and programs one aligned block of the active partition.
	WriteBlock(addr int64, data []byte) error

	// WriteMetadataOfBlock is part of the engine contract but unused by this
	// agent; it always fails with ErrUnsupported.
	WriteMetadataOfBlock(addr int64, data []byte) error

	// ReadDelta fills p from the payload file starting at off. A range past
	// the end of the payload fails with ErrOutOfRange.
	ReadDelta(p []byte, off int64) error

	WriteBackupBlock(addr int64, data []byte) error
	WriteBackupPartOfBlock(addr int64, data []byte) error
	ReadBackupBlock(p []byte, addr int64) error

	// EraseBackupBlock is a no-op kept for the engine's interface shape.
	EraseBackupBlock(addr int64) error

	AvailableFreeSpace(partition string) (uint64, error)
	Progress(percent uint)

	// ResetWatchdog is called periodically by long running engines.
	ResetWatchdog()
	Trace(format string, args ...any)
}

// Target describes the partition handed to the engine for one invocation.
type Target struct {
	PartitionName  string
	PartitionType  PartitionType
	Size           int64
	EraseBlockSize int64
	WriteBlockSize int64
	MountPoint     string
	WorkingBuffer  []byte
	BackupSlots    []int64
	TempPath       string
	PayloadPath    string
	PayloadSize    int64
	Operation      Operation
}

// Engine is the external patch-application engine. Apply is invoked once per
// target and stage, blocks until the engine is done, and must use only the
// supplied Storage to touch the medium.
type Engine interface {
	Name() string
	Version() string
	Apply(ctx context.Context, target *Target, storage Storage) Status
}

// ProgressSink is the UI surface: it receives the session-wide completion
// fraction and human readable status lines.
type ProgressSink interface {
	SetProgress(fraction float64)
	Print(line string)
}
