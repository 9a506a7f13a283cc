// Package backup manages the reserved staging blocks the patch engine uses to
// make its read-merge-write sequences survive a power loss.
package backup

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/autopeer-io/fota/internal/fotaagent/blockio"
	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/flash"
	"github.com/autopeer-io/fota/internal/pkg/metrics"
	"github.com/autopeer-io/fota/pkg/log"
)

// DefaultAttempts is the number of physical attempts per staging operation.
const DefaultAttempts = 2

// DefaultSlots is the reference backup slot layout on the backup partition.
var DefaultSlots = []int64{0, 0x20000, 0x40000, 0x80000}

var errNoBackupPartition = fmt.Errorf("no backup partition: %w", core.ErrNotFound)

// Manager stages data on the backup partition. Alignment to the backup
// partition's erase block is advisory: misaligned requests are logged and
// served through read-modify-write.
type Manager struct {
	part     flash.Partition
	io       *blockio.Adapter
	geo      flash.Geometry
	slots    []int64
	attempts int

	logger log.Logger
}

// New returns a manager over the backup partition. A nil part yields a
// manager whose every operation fails, as on devices without a backup area.
func New(part flash.Partition, slots []int64, attempts int) *Manager {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	m := &Manager{
		part:     part,
		slots:    append([]int64(nil), slots...),
		attempts: attempts,
		logger:   log.WithName("backup"),
	}
	if part != nil {
		m.io = blockio.New(part)
		m.geo = part.Geometry()
	}
	return m
}

// Slots returns the backup slot addresses.
func (m *Manager) Slots() []int64 {
	return append([]int64(nil), m.slots...)
}

// WriteFullBlock stages exactly one backup erase block at addr.
func (m *Manager) WriteFullBlock(addr int64, data []byte) error {
	if m.part == nil {
		return errNoBackupPartition
	}
	if int64(len(data)) != m.geo.EraseBlockSize {
		return fmt.Errorf("backup write %d bytes, want 0x%X: %w", len(data), m.geo.EraseBlockSize, core.ErrBadLength)
	}
	if err := m.checkRange(addr, len(data)); err != nil {
		return err
	}
	if !m.checkAlignment("write_full", addr) {
		return m.stage("write_full", addr, data)
	}
	return m.retry("write_full", addr, func() error {
		return m.io.WriteBlock(addr, data)
	})
}

// WritePartial overwrites part of a block previously staged with
// WriteFullBlock.
func (m *Manager) WritePartial(addr int64, data []byte) error {
	if m.part == nil {
		return errNoBackupPartition
	}
	if err := m.checkRange(addr, len(data)); err != nil {
		return err
	}
	m.checkAlignment("write_partial", addr)
	return m.stage("write_partial", addr, data)
}

// ReadBlock reads length staged bytes starting at addr.
func (m *Manager) ReadBlock(addr, length int64) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("backup read 0x%X bytes: %w", length, core.ErrOutOfRange)
	}
	buf := make([]byte, length)
	if err := m.ReadInto(buf, addr); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInto fills p with staged data starting at addr.
func (m *Manager) ReadInto(p []byte, addr int64) error {
	if m.part == nil {
		return errNoBackupPartition
	}
	if err := m.checkRange(addr, len(p)); err != nil {
		return err
	}
	m.checkAlignment("read", addr)

	return m.retry("read", addr, func() error {
		_, err := m.io.ReadAt(p, addr)
		return err
	})
}

// Erase does nothing: staging relies on the erase performed before every
// program.
func (m *Manager) Erase(addr int64) error {
	m.logger.Debug("Backup erase requested, nothing to do", "addr", addr)
	return nil
}

func (m *Manager) checkRange(addr int64, n int) error {
	if addr < 0 || addr+int64(n) > m.geo.Size {
		return fmt.Errorf("backup 0x%X+0x%X exceeds size 0x%X: %w", addr, n, m.geo.Size, core.ErrOutOfRange)
	}
	return nil
}

func (m *Manager) checkAlignment(op string, addr int64) bool {
	if m.geo.Aligned(addr) {
		return true
	}
	m.logger.Warn("Backup address not block aligned", "op", op, "addr", addr, "eraseBlockSize", m.geo.EraseBlockSize)
	return false
}

// stage merges data into the blocks it touches once, then programs the
// merged blocks. A retried attempt reprograms the same images and never
// re-reads blocks a failed attempt may have left erased.
func (m *Manager) stage(name string, addr int64, data []byte) error {
	var images []flash.BlockImage
	err := m.retry(name, addr, func() (err error) {
		images, err = flash.Merge(m.part, data, addr)
		return err
	})
	if err != nil {
		return err
	}
	return m.retry(name, addr, func() error {
		for _, img := range images {
			if err := m.io.WriteBlock(img.Addr, img.Data); err != nil {
				return err
			}
		}
		return nil
	})
}

// retry runs op up to the configured number of attempts.
func (m *Manager) retry(name string, addr int64, op func() error) error {
	attempt := 0
	policy := backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(m.attempts-1))
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		metrics.BackupAttempts.WithLabelValues(name, metrics.Result(err)).Inc()
		if err != nil {
			m.logger.Error(err, "Backup attempt failed", "op", name, "addr", addr, "attempt", attempt)
			if errors.Is(err, core.ErrBadAlignment) || errors.Is(err, core.ErrOutOfRange) {
				return backoff.Permanent(err)
			}
		}
		return err
	}, policy)
	if err != nil {
		if errors.Is(err, core.ErrIOFailure) {
			return fmt.Errorf("backup %s@0x%X after %d attempts: %w", name, addr, attempt, err)
		}
		return fmt.Errorf("backup %s@0x%X after %d attempts: %w: %w", name, addr, attempt, core.ErrIOFailure, err)
	}
	return nil
}
