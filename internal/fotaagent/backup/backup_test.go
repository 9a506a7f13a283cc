package backup_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/autopeer-io/fota/internal/fotaagent/backup"
	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/flash/flashtest"
)

const erase = 0x1000

func newManager(t *testing.T) (*flashtest.Medium, *backup.Manager) {
	t.Helper()
	m := flashtest.New().AddPartition("expdb", 16*erase, erase)
	p, err := m.Open("expdb")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return m, backup.New(p, []int64{0, 2 * erase, 4 * erase}, 2)
}

func TestWriteFullBlockRetries(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		wantErr  bool
		writes   int
	}{
		{"first attempt", 0, false, 1},
		{"recovers on second attempt", 1, false, 2},
		{"fails after all attempts", 2, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mgr := newManager(t)
			m.FailWrites("expdb", tt.failures)
			data := bytes.Repeat([]byte{0x42}, erase)

			err := mgr.WriteFullBlock(2*erase, data)
			if tt.wantErr {
				if !errors.Is(err, core.ErrIOFailure) {
					t.Fatalf("WriteFullBlock() = %v, want ErrIOFailure", err)
				}
			} else if err != nil {
				t.Fatalf("WriteFullBlock() = %v", err)
			}
			if got := len(m.Writes("expdb")); got != tt.writes {
				t.Errorf("medium writes = %d, want %d", got, tt.writes)
			}
			if !tt.wantErr && !bytes.Equal(m.Bytes("expdb")[2*erase:3*erase], data) {
				t.Error("staged block not on medium")
			}
		})
	}
}

func TestWriteFullBlockValidation(t *testing.T) {
	m, mgr := newManager(t)
	if err := mgr.WriteFullBlock(0, make([]byte, erase-1)); !errors.Is(err, core.ErrBadLength) {
		t.Errorf("short block = %v, want ErrBadLength", err)
	}
	if err := mgr.WriteFullBlock(16*erase, make([]byte, erase)); !errors.Is(err, core.ErrOutOfRange) {
		t.Errorf("past end = %v, want ErrOutOfRange", err)
	}
	if len(m.Writes("expdb")) != 0 {
		t.Error("rejected requests reached the medium")
	}
}

func TestWritePartialAndRead(t *testing.T) {
	m, mgr := newManager(t)
	full := bytes.Repeat([]byte{0x11}, erase)
	if err := mgr.WriteFullBlock(4*erase, full); err != nil {
		t.Fatal(err)
	}
	patch := []byte("staged-patch")
	if err := mgr.WritePartial(4*erase+0x100, patch); err != nil {
		t.Fatalf("WritePartial() = %v", err)
	}

	want := bytes.Clone(full)
	copy(want[0x100:], patch)
	got, err := mgr.ReadBlock(4*erase, erase)
	if err != nil {
		t.Fatalf("ReadBlock() = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("ReadBlock() does not reflect the partial write")
	}

	// Unaligned reads are served, not rejected.
	got, err = mgr.ReadBlock(4*erase+0x100, int64(len(patch)))
	if err != nil {
		t.Fatalf("unaligned ReadBlock() = %v", err)
	}
	if diff := cmp.Diff(patch, got); diff != "" {
		t.Errorf("unaligned ReadBlock() mismatch (-want +got):\n%s", diff)
	}

	m.FailReads("expdb", 1)
	if _, err := mgr.ReadBlock(0, 16); err != nil {
		t.Errorf("ReadBlock() should recover from one fault: %v", err)
	}
}

func TestStagedWriteFaults(t *testing.T) {
	patch := []byte("staged-patch")
	full := bytes.Repeat([]byte{0x42}, erase)

	tests := []struct {
		name    string
		inject  func(m *flashtest.Medium)
		write   func(mgr *backup.Manager) error
		want    func(orig []byte) []byte
		wantErr bool
		writes  int
	}{
		{
			name:   "partial after failed program",
			inject: func(m *flashtest.Medium) { m.FailWrites("expdb", 1) },
			write:  func(mgr *backup.Manager) error { return mgr.WritePartial(4*erase+0x100, patch) },
			want: func(orig []byte) []byte {
				copy(orig[0x100:], patch)
				return orig
			},
			writes: 2,
		},
		{
			name:   "partial after short program",
			inject: func(m *flashtest.Medium) { m.ShortWrites("expdb", 1) },
			write:  func(mgr *backup.Manager) error { return mgr.WritePartial(4*erase+0x100, patch) },
			want: func(orig []byte) []byte {
				copy(orig[0x100:], patch)
				return orig
			},
			writes: 2,
		},
		{
			name:    "partial fails after all attempts",
			inject:  func(m *flashtest.Medium) { m.FailWrites("expdb", 2) },
			write:   func(mgr *backup.Manager) error { return mgr.WritePartial(4*erase+0x100, patch) },
			wantErr: true,
			writes:  2,
		},
		{
			name:   "unaligned full block after failed program",
			inject: func(m *flashtest.Medium) { m.FailWrites("expdb", 1) },
			write:  func(mgr *backup.Manager) error { return mgr.WriteFullBlock(4*erase+0x800, full) },
			want: func(orig []byte) []byte {
				copy(orig[0x800:], full)
				return orig
			},
			writes: 3,
		},
		{
			name:   "unaligned full block after short program",
			inject: func(m *flashtest.Medium) { m.ShortWrites("expdb", 1) },
			write:  func(mgr *backup.Manager) error { return mgr.WriteFullBlock(4*erase+0x800, full) },
			want: func(orig []byte) []byte {
				copy(orig[0x800:], full)
				return orig
			},
			writes: 3,
		},
		{
			name:    "unaligned full block fails after all attempts",
			inject:  func(m *flashtest.Medium) { m.FailWrites("expdb", 2) },
			write:   func(mgr *backup.Manager) error { return mgr.WriteFullBlock(4*erase+0x800, full) },
			wantErr: true,
			writes:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mgr := newManager(t)
			if err := mgr.WriteFullBlock(4*erase, bytes.Repeat([]byte{0x11}, erase)); err != nil {
				t.Fatal(err)
			}
			if err := mgr.WriteFullBlock(5*erase, bytes.Repeat([]byte{0x22}, erase)); err != nil {
				t.Fatal(err)
			}
			orig := m.Bytes("expdb")[4*erase : 6*erase]
			before := len(m.Writes("expdb"))

			tt.inject(m)
			err := tt.write(mgr)
			if got := len(m.Writes("expdb")) - before; got != tt.writes {
				t.Errorf("medium writes = %d, want %d", got, tt.writes)
			}
			if tt.wantErr {
				if !errors.Is(err, core.ErrIOFailure) {
					t.Fatalf("write = %v, want ErrIOFailure", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("write = %v", err)
			}
			want := tt.want(bytes.Clone(orig))
			if diff := cmp.Diff(want, m.Bytes("expdb")[4*erase:6*erase]); diff != "" {
				t.Errorf("staged blocks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadBlockNegativeLength(t *testing.T) {
	_, mgr := newManager(t)
	if _, err := mgr.ReadBlock(0, -1); !errors.Is(err, core.ErrOutOfRange) {
		t.Errorf("ReadBlock(0, -1) = %v, want ErrOutOfRange", err)
	}
}

func TestNoBackupPartition(t *testing.T) {
	mgr := backup.New(nil, backup.DefaultSlots, 0)
	if err := mgr.WriteFullBlock(0, make([]byte, erase)); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("WriteFullBlock() = %v, want ErrNotFound", err)
	}
	if _, err := mgr.ReadBlock(0, 1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("ReadBlock() = %v, want ErrNotFound", err)
	}
	if err := mgr.Erase(0); err != nil {
		t.Errorf("Erase() = %v", err)
	}
	if diff := cmp.Diff(backup.DefaultSlots, mgr.Slots()); diff != "" {
		t.Errorf("Slots() mismatch (-want +got):\n%s", diff)
	}
}
