package flash_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/autopeer-io/fota/internal/fotaagent/flash"
	"github.com/autopeer-io/fota/internal/fotaagent/flash/flashtest"
)

const block = 0x1000

func open(t *testing.T, m *flashtest.Medium, name string) flash.Partition {
	t.Helper()
	p, err := m.Open(name)
	if err != nil {
		t.Fatalf("Open(%q) = %v", name, err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestProgramBlock(t *testing.T) {
	m := flashtest.New().AddPartition("boot", 4*block, block)
	p := open(t, m, "boot")

	data := bytes.Repeat([]byte{0xA5}, block)
	if err := flash.ProgramBlock(p, block, data); err != nil {
		t.Fatalf("ProgramBlock() = %v", err)
	}
	if diff := cmp.Diff([]int64{block}, m.Erases("boot")); diff != "" {
		t.Errorf("erases mismatch (-want +got):\n%s", diff)
	}
	if got := m.Bytes("boot")[block : 2*block]; !bytes.Equal(got, data) {
		t.Error("block contents not programmed")
	}

	if err := flash.ProgramBlock(p, 0, data[:10]); err == nil {
		t.Error("ProgramBlock with a short buffer should fail")
	}

	m.ShortWrites("boot", 1)
	if err := flash.ProgramBlock(p, 0, data); !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("short write: got %v, want io.ErrShortWrite", err)
	}
}

func TestRewrite(t *testing.T) {
	tests := []struct {
		name   string
		off    int64
		length int
		erases []int64
	}{
		{"inside one block", 0x10, 0x20, []int64{0}},
		{"whole aligned block", block, block, []int64{block}},
		{"straddles two blocks", block - 8, 16, []int64{0, block}},
		{"spans three blocks", block / 2, 2 * block, []int64{0, block, 2 * block}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := flashtest.New().AddPartition("backup", 4*block, block)
			orig := make([]byte, 4*block)
			for i := range orig {
				orig[i] = byte(i)
			}
			m.Fill("backup", orig)
			p := open(t, m, "backup")

			data := bytes.Repeat([]byte{0x5A}, tt.length)
			n, err := flash.Rewrite(p, data, tt.off)
			if err != nil {
				t.Fatalf("Rewrite() = %v", err)
			}
			if n != tt.length {
				t.Errorf("Rewrite() wrote %d, want %d", n, tt.length)
			}

			want := bytes.Clone(orig)
			copy(want[tt.off:], data)
			if !bytes.Equal(m.Bytes("backup"), want) {
				t.Error("bytes outside the rewritten range changed or range not written")
			}
			if diff := cmp.Diff(tt.erases, m.Erases("backup")); diff != "" {
				t.Errorf("erases mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	m := flashtest.New().AddPartition("backup", 4*block, block)
	orig := bytes.Repeat([]byte{0x11}, 4*block)
	m.Fill("backup", orig)
	p := open(t, m, "backup")

	data := bytes.Repeat([]byte{0x5A}, 16)
	images, err := flash.Merge(p, data, block-8)
	if err != nil {
		t.Fatalf("Merge() = %v", err)
	}
	if len(images) != 2 || images[0].Addr != 0 || images[1].Addr != block {
		t.Fatalf("Merge() returned %d images", len(images))
	}
	want := bytes.Clone(orig[:2*block])
	copy(want[block-8:], data)
	if diff := cmp.Diff(want, append(images[0].Data, images[1].Data...)); diff != "" {
		t.Errorf("merged images mismatch (-want +got):\n%s", diff)
	}
	if len(m.Erases("backup")) != 0 || len(m.Writes("backup")) != 0 {
		t.Error("Merge() modified the medium")
	}
	if !bytes.Equal(m.Bytes("backup"), orig) {
		t.Error("medium contents changed")
	}
}

func TestRewriteOutOfRange(t *testing.T) {
	m := flashtest.New().AddPartition("backup", 2*block, block)
	p := open(t, m, "backup")
	if _, err := flash.Rewrite(p, make([]byte, 16), 2*block-8); err == nil {
		t.Fatal("Rewrite past the end should fail")
	}
	if len(m.Erases("backup")) != 0 {
		t.Error("nothing should be erased on a rejected rewrite")
	}
}

func TestGeometry(t *testing.T) {
	g := flash.Geometry{Name: "system", Size: 10 * block, EraseBlockSize: block, WriteBlockSize: block}
	if !g.Aligned(3*block) || g.Aligned(3*block+1) {
		t.Error("Aligned() wrong")
	}
	if got := g.BlockAddr(3*block + 7); got != 3*block {
		t.Errorf("BlockAddr() = 0x%X", got)
	}
	if got := g.Blocks(); got != 10 {
		t.Errorf("Blocks() = %d", got)
	}

	var zero flash.Geometry
	if got := zero.BlockAddr(7); got != 7 {
		t.Errorf("BlockAddr() without erase size = %d, want 7", got)
	}
	if zero.Aligned(0) || zero.Blocks() != 0 {
		t.Error("zero geometry should have no blocks")
	}
}
