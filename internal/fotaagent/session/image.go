package session

import (
	"fmt"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/flash"
	"github.com/autopeer-io/fota/internal/fotaagent/progress"
)

// writeImage replaces the active partition with its whole-image payload. The
// image is committed one write block at a time from address 0; the last
// block is padded with the erased byte. Blocks past the image are untouched.
func writeImage(a *ActiveTarget, tracker *progress.Tracker) error {
	g := a.Geometry
	size := a.PayloadSize
	if size > g.Size {
		return fmt.Errorf("image %s is 0x%X bytes, partition %s is 0x%X: %w",
			a.PayloadPath, size, a.Name, g.Size, core.ErrImageTooLarge)
	}

	block := make([]byte, g.WriteBlockSize)
	for addr := int64(0); addr < size; addr += g.WriteBlockSize {
		want := min(g.WriteBlockSize, size-addr)
		n, err := a.Payload.ReadAt(block[:want], addr)
		if int64(n) < want {
			return fmt.Errorf("read image %s@0x%X: got %d of %d bytes: %w: %v", a.PayloadPath, addr, n, want, core.ErrIOFailure, err)
		}
		for i := want; i < g.WriteBlockSize; i++ {
			block[i] = flash.ErasedByte
		}
		if err := a.IO.WriteBlock(addr, block); err != nil {
			return err
		}
		tracker.Report(uint((addr + want) * 100 / size))
	}
	if size == 0 {
		tracker.Report(100)
	}
	return nil
}
