package flash

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
)

const imageSuffix = ".img"

// FileMedium exposes every "<name>.img" file under Root as a partition with a
// fixed erase block size. It stands in for raw flash on development hosts and
// in tests; each file size is rounded down to whole erase blocks.
type FileMedium struct {
	fs             afero.Fs
	root           string
	eraseBlockSize int64
}

var _ Medium = (*FileMedium)(nil)

// NewFileMedium returns a file backed medium rooted at root.
func NewFileMedium(fs afero.Fs, root string, eraseBlockSize int64) (*FileMedium, error) {
	if eraseBlockSize <= 0 {
		return nil, fmt.Errorf("invalid erase block size %d", eraseBlockSize)
	}
	return &FileMedium{fs: fs, root: root, eraseBlockSize: eraseBlockSize}, nil
}

func (m *FileMedium) Partitions() ([]Geometry, error) {
	entries, err := afero.ReadDir(m.fs, m.root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", m.root, err)
	}

	var out []Geometry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), imageSuffix) {
			continue
		}
		out = append(out, m.geometry(strings.TrimSuffix(e.Name(), imageSuffix), e.Size()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *FileMedium) Open(name string) (Partition, error) {
	path := filepath.Join(m.root, name+imageSuffix)
	f, err := m.fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("partition %q: %w", name, core.ErrNotFound)
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &filePartition{f: f, geo: m.geometry(name, st.Size())}, nil
}

func (m *FileMedium) geometry(name string, size int64) Geometry {
	return Geometry{
		Name:           name,
		Size:           size - size%m.eraseBlockSize,
		EraseBlockSize: m.eraseBlockSize,
		WriteBlockSize: m.eraseBlockSize,
	}
}

// CreateFilePartition provisions an erased partition image under root.
func CreateFilePartition(fs afero.Fs, root, name string, size int64) error {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, filepath.Join(root, name+imageSuffix), bytes.Repeat([]byte{ErasedByte}, int(size)), 0o644)
}

type filePartition struct {
	f   afero.File
	geo Geometry
}

func (p *filePartition) Geometry() Geometry { return p.geo }

func (p *filePartition) ReadAt(b []byte, off int64) (int, error) {
	return p.f.ReadAt(b, off)
}

func (p *filePartition) WriteAt(b []byte, off int64) (int, error) {
	if off+int64(len(b)) > p.geo.Size {
		return 0, fmt.Errorf("write %s@0x%X: %w", p.geo.Name, off, core.ErrOutOfRange)
	}
	return p.f.WriteAt(b, off)
}

func (p *filePartition) EraseBlock(addr int64) error {
	if !p.geo.Aligned(addr) {
		return fmt.Errorf("erase %s@0x%X: %w", p.geo.Name, addr, core.ErrBadAlignment)
	}
	_, err := p.f.WriteAt(bytes.Repeat([]byte{ErasedByte}, int(p.geo.EraseBlockSize)), addr)
	return err
}

func (p *filePartition) Close() error {
	return p.f.Close()
}
