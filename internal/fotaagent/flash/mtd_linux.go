//go:build linux

package flash

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/pkg/log"
)

const (
	memGetInfo = 0x80204d01
	memErase   = 0x40084d02
)

type mtdInfoUser struct {
	Type      uint8
	_         [3]uint8
	Flags     uint32
	Size      uint32
	EraseSize uint32
	WriteSize uint32
	OobSize   uint32
	_         uint64
}

type eraseInfoUser struct {
	Start  uint32
	Length uint32
}

// MTDMedium drives raw NAND through the Linux MTD character devices.
type MTDMedium struct {
	procPath string
	devDir   string
}

var _ Medium = (*MTDMedium)(nil)

// NewMTDMedium returns a medium reading its partition table from procPath
// (normally /proc/mtd) and opening devices under devDir (normally /dev).
func NewMTDMedium(procPath, devDir string) (*MTDMedium, error) {
	return &MTDMedium{procPath: procPath, devDir: devDir}, nil
}

func (m *MTDMedium) entries() ([]mtdEntry, error) {
	f, err := os.Open(m.procPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseProcMTD(f)
}

func (m *MTDMedium) Partitions() ([]Geometry, error) {
	entries, err := m.entries()
	if err != nil {
		return nil, fmt.Errorf("scan mtd partitions: %w", err)
	}
	out := make([]Geometry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Geometry{Name: e.name, Size: e.size, EraseBlockSize: e.eraseSize, WriteBlockSize: e.eraseSize})
	}
	return out, nil
}

func (m *MTDMedium) Open(name string) (Partition, error) {
	entries, err := m.entries()
	if err != nil {
		return nil, fmt.Errorf("scan mtd partitions: %w", err)
	}
	for _, e := range entries {
		if e.name != name {
			continue
		}
		f, err := os.OpenFile(filepath.Join(m.devDir, e.dev), os.O_RDWR|os.O_SYNC, 0)
		if err != nil {
			return nil, err
		}
		p := &mtdPartition{f: f}

		var info mtdInfoUser
		if err := p.ioctl(memGetInfo, unsafe.Pointer(&info)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("MEMGETINFO %s: %w", e.dev, err)
		}
		// Program in erase block units to keep one granularity for both.
		p.geo = Geometry{Name: name, Size: int64(info.Size), EraseBlockSize: int64(info.EraseSize), WriteBlockSize: int64(info.EraseSize)}
		log.Debug("Opened mtd partition", "dev", e.dev, "geometry", p.geo.String(), "pageSize", info.WriteSize)
		return p, nil
	}
	return nil, fmt.Errorf("partition %q: %w", name, core.ErrNotFound)
}

type mtdPartition struct {
	f   *os.File
	geo Geometry
}

func (p *mtdPartition) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, p.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return os.NewSyscallError("ioctl", errno)
	}
	return nil
}

func (p *mtdPartition) Geometry() Geometry { return p.geo }

func (p *mtdPartition) ReadAt(b []byte, off int64) (int, error) {
	return unix.Pread(int(p.f.Fd()), b, off)
}

func (p *mtdPartition) WriteAt(b []byte, off int64) (int, error) {
	return unix.Pwrite(int(p.f.Fd()), b, off)
}

func (p *mtdPartition) EraseBlock(addr int64) error {
	if !p.geo.Aligned(addr) {
		return fmt.Errorf("erase %s@0x%X: %w", p.geo.Name, addr, core.ErrBadAlignment)
	}
	ei := eraseInfoUser{Start: uint32(addr), Length: uint32(p.geo.EraseBlockSize)}
	return p.ioctl(memErase, unsafe.Pointer(&ei))
}

func (p *mtdPartition) Close() error {
	return p.f.Close()
}
