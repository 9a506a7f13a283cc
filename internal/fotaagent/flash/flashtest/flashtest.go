// Package flashtest provides an in-memory flash medium with fault injection
// for exercising the layers built on package flash.
package flashtest

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/flash"
)

// ErrInjected is returned by operations failed on purpose.
var ErrInjected = errors.New("injected medium fault")

// Access records one read or write issued against a partition.
type Access struct {
	Addr int64
	Len  int
}

// Medium is an in-memory flash.Medium.
type Medium struct {
	mu    sync.Mutex
	parts map[string]*store

	// StrictAlignment rejects reads and writes that do not start on an
	// erase block boundary, like raw NAND does.
	StrictAlignment bool

	opens  int
	closes int
}

var _ flash.Medium = (*Medium)(nil)

type store struct {
	geo  flash.Geometry
	data []byte

	failWrites int
	shortWrite int
	failReads  int

	reads  []Access
	writes []Access
	erases []int64
}

func New() *Medium {
	return &Medium{parts: make(map[string]*store)}
}

func (m *Medium) AddPartition(name string, size, eraseBlockSize int64) *Medium {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parts[name] = &store{
		geo:  flash.Geometry{Name: name, Size: size, EraseBlockSize: eraseBlockSize, WriteBlockSize: eraseBlockSize},
		data: bytes.Repeat([]byte{flash.ErasedByte}, int(size)),
	}
	return m
}

// Fill overwrites the contents of a partition starting at offset 0.
func (m *Medium) Fill(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.part(name).data, data)
}

func (m *Medium) Bytes(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.part(name).data)
}

// FailWrites makes the next n writes to the partition fail.
func (m *Medium) FailWrites(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.part(name).failWrites = n
}

// ShortWrites makes the next n writes to the partition store only half
// of the data and report the short count without an error.
func (m *Medium) ShortWrites(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.part(name).shortWrite = n
}

// FailReads makes the next n reads from the partition fail.
func (m *Medium) FailReads(name string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.part(name).failReads = n
}

func (m *Medium) Reads(name string) []Access {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Access(nil), m.part(name).reads...)
}

func (m *Medium) Writes(name string) []Access {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Access(nil), m.part(name).writes...)
}

func (m *Medium) Erases(name string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.part(name).erases...)
}

func (m *Medium) OpenHandles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens - m.closes
}

func (m *Medium) part(name string) *store {
	s, ok := m.parts[name]
	if !ok {
		panic(fmt.Sprintf("flashtest: unknown partition %q", name))
	}
	return s
}

func (m *Medium) Partitions() ([]flash.Geometry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]flash.Geometry, 0, len(m.parts))
	for _, s := range m.parts {
		out = append(out, s.geo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Medium) Open(name string) (flash.Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.parts[name]
	if !ok {
		return nil, fmt.Errorf("partition %q: %w", name, core.ErrNotFound)
	}
	m.opens++
	return &partition{m: m, s: s}, nil
}

type partition struct {
	m      *Medium
	s      *store
	closed bool
}

func (p *partition) Geometry() flash.Geometry { return p.s.geo }

func (p *partition) check(op string, off int64, n int) error {
	if p.closed {
		return fmt.Errorf("%s %s: handle closed", op, p.s.geo.Name)
	}
	if p.m.StrictAlignment && off%p.s.geo.EraseBlockSize != 0 {
		return fmt.Errorf("%s %s@0x%X: %w", op, p.s.geo.Name, off, core.ErrBadAlignment)
	}
	if off < 0 || off+int64(n) > p.s.geo.Size {
		return fmt.Errorf("%s %s@0x%X+0x%X: %w", op, p.s.geo.Name, off, n, core.ErrOutOfRange)
	}
	return nil
}

func (p *partition) ReadAt(b []byte, off int64) (int, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if err := p.check("read", off, len(b)); err != nil {
		return 0, err
	}
	p.s.reads = append(p.s.reads, Access{Addr: off, Len: len(b)})
	if p.s.failReads > 0 {
		p.s.failReads--
		return 0, ErrInjected
	}
	return copy(b, p.s.data[off:]), nil
}

func (p *partition) WriteAt(b []byte, off int64) (int, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if err := p.check("write", off, len(b)); err != nil {
		return 0, err
	}
	p.s.writes = append(p.s.writes, Access{Addr: off, Len: len(b)})
	if p.s.failWrites > 0 {
		p.s.failWrites--
		return 0, ErrInjected
	}
	if p.s.shortWrite > 0 {
		p.s.shortWrite--
		return copy(p.s.data[off:], b[:len(b)/2]), nil
	}
	return copy(p.s.data[off:], b), nil
}

func (p *partition) EraseBlock(addr int64) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if addr%p.s.geo.EraseBlockSize != 0 {
		return fmt.Errorf("erase %s@0x%X: %w", p.s.geo.Name, addr, core.ErrBadAlignment)
	}
	if err := p.check("erase", addr, int(p.s.geo.EraseBlockSize)); err != nil {
		return err
	}
	p.s.erases = append(p.s.erases, addr)
	copy(p.s.data[addr:addr+p.s.geo.EraseBlockSize], bytes.Repeat([]byte{flash.ErasedByte}, int(p.s.geo.EraseBlockSize)))
	return nil
}

func (p *partition) Close() error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.m.closes++
	return nil
}
