// Package blockio reads arbitrary byte ranges from a partition and commits
// whole aligned blocks to it.
package blockio

import (
	"fmt"
	"io"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/flash"
	"github.com/autopeer-io/fota/internal/pkg/metrics"
	"github.com/autopeer-io/fota/pkg/log"
)

// Adapter is the block I/O surface of one partition. The underlying medium is
// only ever addressed at erase block boundaries; unaligned reads are stitched
// together from whole blocks.
type Adapter struct {
	part flash.Partition
	geo  flash.Geometry

	logger log.Logger
}

var _ io.ReaderAt = (*Adapter)(nil)

// New returns an adapter over part. The adapter does not own part.
func New(part flash.Partition) *Adapter {
	geo := part.Geometry()
	return &Adapter{
		part:   part,
		geo:    geo,
		logger: log.WithName("blockio").WithValues("partition", geo.Name),
	}
}

func (a *Adapter) Geometry() flash.Geometry {
	return a.geo
}

// Read returns length bytes starting at off.
func (a *Adapter) Read(off, length int64) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("read %s@0x%X: negative length: %w", a.geo.Name, off, core.ErrOutOfRange)
	}
	buf := make([]byte, length)
	if _, err := a.ReadAt(buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadAt fills p with the partition contents starting at off. The result is
// byte-exact whatever the alignment of off. Medium errors are returned as
// ErrIOFailure without retry.
func (a *Adapter) ReadAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if off < 0 || end > a.geo.Size {
		return 0, fmt.Errorf("read %s@0x%X+0x%X exceeds size 0x%X: %w", a.geo.Name, off, len(p), a.geo.Size, core.ErrOutOfRange)
	}
	if len(p) == 0 {
		return 0, nil
	}

	blockAddr := a.geo.BlockAddr(off)
	if blockAddr == off {
		if err := a.readFull(p, off); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	//        head              tail
	// |-----------------+--------------|
	// blockAddr        off         blockAddr+blockSize
	head := off - blockAddr
	a.logger.Debug("Unaligned read", "addr", off, "blockAddr", blockAddr, "head", head)

	tmp := make([]byte, min(a.geo.EraseBlockSize, a.geo.Size-blockAddr))
	if err := a.readFull(tmp, blockAddr); err != nil {
		return 0, err
	}
	n := copy(p, tmp[head:])

	if n < len(p) {
		if err := a.readFull(p[n:], blockAddr+a.geo.EraseBlockSize); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// readFull issues one aligned read and requires every byte to arrive.
func (a *Adapter) readFull(p []byte, addr int64) error {
	n, err := a.part.ReadAt(p, addr)
	if err == io.EOF && n == len(p) {
		err = nil
	}
	if err == nil && n != len(p) {
		err = io.ErrUnexpectedEOF
	}
	metrics.BlockReads.WithLabelValues(a.geo.Name, metrics.Result(err)).Inc()
	if err != nil {
		a.logger.Error(err, "Block read failed", "addr", addr, "size", len(p), "read", n)
		return fmt.Errorf("read %s@0x%X+0x%X: %w: %w", a.geo.Name, addr, len(p), core.ErrIOFailure, err)
	}
	return nil
}

// WriteBlock erases and programs the single block at addr. addr must be a
// multiple of the write block size and data exactly one block long.
func (a *Adapter) WriteBlock(addr int64, data []byte) error {
	if !a.geo.Aligned(addr) {
		return fmt.Errorf("write %s@0x%X: %w", a.geo.Name, addr, core.ErrBadAlignment)
	}
	if addr < 0 || addr >= a.geo.Size {
		return fmt.Errorf("write %s@0x%X exceeds size 0x%X: %w", a.geo.Name, addr, a.geo.Size, core.ErrOutOfRange)
	}
	if int64(len(data)) != a.geo.WriteBlockSize {
		return fmt.Errorf("write %s@0x%X: %d bytes, want 0x%X: %w", a.geo.Name, addr, len(data), a.geo.WriteBlockSize, core.ErrBadLength)
	}

	err := flash.ProgramBlock(a.part, addr, data)
	metrics.BlockWrites.WithLabelValues(a.geo.Name, metrics.Result(err)).Inc()
	if err != nil {
		a.logger.Error(err, "Block write failed", "addr", addr)
		return fmt.Errorf("%w: %w", core.ErrIOFailure, err)
	}
	a.logger.Debug("Block written", "addr", addr)
	return nil
}
