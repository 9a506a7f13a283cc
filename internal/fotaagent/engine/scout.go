package engine

import (
	"context"
	"errors"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
)

// ScoutName is the name of the built-in scout engine.
const ScoutName = "scout"

// ScoutVersion is reported by the scout engine.
const ScoutVersion = "1.0.0"

// Scout is a read-through engine that exercises every storage path without
// modifying the target partition. It reads the whole payload and the whole
// partition, then stages the first partition block in backup slot 0 and
// verifies it reads back unchanged. It is used for dry runs on new devices.
type Scout struct{}

var _ core.Engine = Scout{}

func NewScout() Scout { return Scout{} }

func (Scout) Name() string    { return ScoutName }
func (Scout) Version() string { return ScoutVersion }

func (Scout) Apply(ctx context.Context, t *core.Target, s core.Storage) core.Status {
	block := s.BlockSize()
	if block <= 0 || len(t.WorkingBuffer) == 0 {
		s.Trace("scout: bad target %s block=%d buffer=%d", t.PartitionName, block, len(t.WorkingBuffer))
		return core.StatusBadParams
	}

	chunk := int64(len(t.WorkingBuffer))
	if chunk > block {
		chunk -= chunk % block
	}
	buf := t.WorkingBuffer[:chunk]

	s.Progress(0)
	for off := int64(0); off < t.Size; off += chunk {
		if err := ctx.Err(); err != nil {
			return core.StatusFailure
		}
		n := min(chunk, t.Size-off)
		if err := s.ReadImage(buf[:n], off); err != nil {
			s.Trace("scout: read %s@0x%X: %v", t.PartitionName, off, err)
			return core.StatusFromError(err)
		}
		s.Progress(uint(off * 90 / t.Size))
		s.ResetWatchdog()
	}

	if status := scanPayload(s, buf, t.PayloadSize); status != core.StatusSuccess {
		return status
	}

	if t.Operation == core.OpUpdate && len(t.BackupSlots) > 0 {
		if status := checkBackup(s, t, block); status != core.StatusSuccess {
			return status
		}
	}

	s.Trace("scout: %s %s ok", t.Operation, t.PartitionName)
	s.Progress(100)
	return core.StatusSuccess
}

// scanPayload reads the whole payload through buf.
func scanPayload(s core.Storage, buf []byte, size int64) core.Status {
	for off := int64(0); off < size; off += int64(len(buf)) {
		n := min(int64(len(buf)), size-off)
		if err := s.ReadDelta(buf[:n], off); err != nil {
			s.Trace("scout: payload read at 0x%X: %v", off, err)
			return core.StatusFromError(err)
		}
	}
	s.Trace("scout: payload %d bytes", size)
	return core.StatusSuccess
}

func checkBackup(s core.Storage, t *core.Target, block int64) core.Status {
	first := make([]byte, block)
	if err := s.ReadImage(first, 0); err != nil {
		return core.StatusFromError(err)
	}
	slot := t.BackupSlots[0]
	if err := s.WriteBackupBlock(slot, first); err != nil {
		// Backup blocks may be sized differently from the target's.
		if errors.Is(err, core.ErrBadLength) {
			s.Trace("scout: backup block size differs from %s, skipping backup check", t.PartitionName)
			return core.StatusSuccess
		}
		return core.StatusFromError(err)
	}
	back := make([]byte, block)
	if err := s.ReadBackupBlock(back, slot); err != nil {
		return core.StatusFromError(err)
	}
	for i := range first {
		if first[i] != back[i] {
			s.Trace("scout: backup slot 0x%X mismatch at 0x%X", slot, i)
			return core.StatusCorrupted
		}
	}
	return core.StatusSuccess
}
