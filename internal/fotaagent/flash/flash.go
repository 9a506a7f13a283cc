// Package flash defines the storage medium driver contract the update agent
// builds on, together with the drivers shipped with it.
package flash

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// ErasedByte is the value of every byte of a freshly erased block.
const ErasedByte = 0xFF

// Geometry describes one physical partition. WriteBlockSize always equals
// EraseBlockSize for the media handled here.
type Geometry struct {
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	EraseBlockSize int64  `json:"eraseBlockSize"`
	WriteBlockSize int64  `json:"writeBlockSize"`
}

// Aligned reports whether addr is a multiple of the write block size.
func (g Geometry) Aligned(addr int64) bool {
	return g.WriteBlockSize > 0 && addr%g.WriteBlockSize == 0
}

// BlockAddr returns the start of the erase block containing off, or off
// itself when the geometry has no erase block size.
func (g Geometry) BlockAddr(off int64) int64 {
	if g.EraseBlockSize <= 0 {
		return off
	}
	return off - off%g.EraseBlockSize
}

// Blocks returns the number of whole erase blocks in the partition.
func (g Geometry) Blocks() int64 {
	if g.EraseBlockSize == 0 {
		return 0
	}
	return g.Size / g.EraseBlockSize
}

func (g Geometry) String() string {
	return fmt.Sprintf("%s(size=%s erase=0x%X write=0x%X)",
		g.Name, humanize.IBytes(uint64(g.Size)), g.EraseBlockSize, g.WriteBlockSize)
}

// Partition is an open handle on one physical partition. Reads and writes
// are issued at erase-block aligned offsets by the layers above; drivers may
// reject anything else.
type Partition interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	Geometry() Geometry

	// EraseBlock erases the block starting at addr.
	EraseBlock(addr int64) error
}

// Medium is the storage medium driver: it enumerates partitions and opens
// them by physical name.
type Medium interface {
	// Partitions scans the medium and returns every partition it exposes.
	Partitions() ([]Geometry, error)

	// Open returns an exclusive handle on the named partition.
	Open(name string) (Partition, error)
}
