package flash

import (
	"fmt"
	"io"
)

// ProgramBlock erases the aligned block at addr and programs data into it.
// len(data) must equal the erase block size.
func ProgramBlock(p Partition, addr int64, data []byte) error {
	geo := p.Geometry()
	if int64(len(data)) != geo.EraseBlockSize {
		return fmt.Errorf("program %s@0x%X: %d bytes, want 0x%X", geo.Name, addr, len(data), geo.EraseBlockSize)
	}
	if err := p.EraseBlock(addr); err != nil {
		return fmt.Errorf("erase %s@0x%X: %w", geo.Name, addr, err)
	}
	n, err := p.WriteAt(data, addr)
	if err != nil {
		return fmt.Errorf("program %s@0x%X: %w", geo.Name, addr, err)
	}
	if n != len(data) {
		return fmt.Errorf("program %s@0x%X: %w (%d of %d bytes)", geo.Name, addr, io.ErrShortWrite, n, len(data))
	}
	return nil
}

// BlockImage is the complete new contents of one erase block.
type BlockImage struct {
	Addr int64
	Data []byte

	// bytes of the caller's data carried by this block
	n int
}

// Merge reads every erase block that [off, off+len(data)) touches and
// returns them with data laid over the old contents. The medium is not
// modified, so the images can be programmed again after a failed attempt.
func Merge(p Partition, data []byte, off int64) ([]BlockImage, error) {
	geo := p.Geometry()
	if geo.EraseBlockSize <= 0 {
		return nil, fmt.Errorf("merge %s: no erase block size", geo.Name)
	}
	if off < 0 || off+int64(len(data)) > geo.Size {
		return nil, fmt.Errorf("merge %s@0x%X+0x%X: beyond size 0x%X", geo.Name, off, len(data), geo.Size)
	}

	var images []BlockImage
	for used := 0; used < len(data); {
		pos := off + int64(used)
		addr := geo.BlockAddr(pos)

		block := make([]byte, geo.EraseBlockSize)
		n, err := p.ReadAt(block, addr)
		if err != nil && !(err == io.EOF && int64(n) == geo.EraseBlockSize) {
			return nil, fmt.Errorf("read %s@0x%X: %w", geo.Name, addr, err)
		}
		if int64(n) != geo.EraseBlockSize {
			return nil, fmt.Errorf("read %s@0x%X: %w", geo.Name, addr, io.ErrUnexpectedEOF)
		}

		c := copy(block[pos-addr:], data[used:])
		images = append(images, BlockImage{Addr: addr, Data: block, n: c})
		used += c
	}
	return images, nil
}

// Rewrite stores data at an arbitrary offset by read-modify-writing every
// erase block that [off, off+len(data)) touches. It returns the number of
// bytes of data that reached the medium.
func Rewrite(p Partition, data []byte, off int64) (int, error) {
	images, err := Merge(p, data, off)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, img := range images {
		if err := ProgramBlock(p, img.Addr, img.Data); err != nil {
			return written, err
		}
		written += img.n
	}
	return written, nil
}
