package session

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/pkg/log"
)

// UnlimitedFreeSpace is reported for partitions without a free space probe.
const UnlimitedFreeSpace uint64 = 0xEFFFFFFF

// FreeSpaceFunc reports the free bytes of a named partition.
type FreeSpaceFunc func(partition string) (uint64, error)

func unlimitedFreeSpace(string) (uint64, error) { return UnlimitedFreeSpace, nil }

// storage binds the engine callbacks to the session's active target. A new
// value is built for every engine invocation.
type storage struct {
	s         *Session
	target    *ActiveTarget
	freeSpace FreeSpaceFunc

	logger log.Logger
	trace  logr.Logger
}

var _ core.Storage = (*storage)(nil)

func newStorage(s *Session, freeSpace FreeSpaceFunc) *storage {
	logger := log.WithName("engine").WithValues("partition", s.Active.Name)
	return &storage{
		s:         s,
		target:    s.Active,
		freeSpace: freeSpace,
		logger:    logger,
		trace:     logger.Logr(),
	}
}

func (st *storage) BlockSize() int64 {
	return st.target.Geometry.WriteBlockSize
}

func (st *storage) ReadImage(p []byte, off int64) error {
	_, err := st.target.IO.ReadAt(p, off)
	return err
}

func (st *storage) WriteBlock(addr int64, data []byte) error {
	return st.target.IO.WriteBlock(addr, data)
}

func (st *storage) WriteMetadataOfBlock(addr int64, _ []byte) error {
	return fmt.Errorf("write metadata %s@0x%X: %w", st.target.Name, addr, core.ErrUnsupported)
}

func (st *storage) ReadDelta(p []byte, off int64) error {
	end := off + int64(len(p))
	if off < 0 || end > st.target.PayloadSize {
		return fmt.Errorf("read payload 0x%X+0x%X exceeds size 0x%X: %w", off, len(p), st.target.PayloadSize, core.ErrOutOfRange)
	}
	n, err := st.target.Payload.ReadAt(p, off)
	if n < len(p) {
		return fmt.Errorf("read payload %s@0x%X: got %d of %d bytes: %w: %v", st.target.PayloadPath, off, n, len(p), core.ErrIOFailure, err)
	}
	return nil
}

func (st *storage) WriteBackupBlock(addr int64, data []byte) error {
	return st.s.Backup.WriteFullBlock(addr, data)
}

func (st *storage) WriteBackupPartOfBlock(addr int64, data []byte) error {
	return st.s.Backup.WritePartial(addr, data)
}

func (st *storage) ReadBackupBlock(p []byte, addr int64) error {
	return st.s.Backup.ReadInto(p, addr)
}

func (st *storage) EraseBackupBlock(addr int64) error {
	return st.s.Backup.Erase(addr)
}

func (st *storage) AvailableFreeSpace(partition string) (uint64, error) {
	free, err := st.freeSpace(partition)
	if err != nil {
		return 0, err
	}
	st.logger.Debug("Free space", "target", partition, "bytes", free)
	return free, nil
}

func (st *storage) Progress(percent uint) {
	st.s.Tracker.Report(percent)
}

func (st *storage) ResetWatchdog() {
	st.logger.Debug("Watchdog reset")
}

func (st *storage) Trace(format string, args ...any) {
	st.trace.V(1).Info(fmt.Sprintf(format, args...))
}
