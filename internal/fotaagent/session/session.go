// Package session runs one update session: it resolves partitions, finds the
// pending payloads and hands each target partition to the patch engine.
package session

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/autopeer-io/fota/internal/fotaagent/backup"
	"github.com/autopeer-io/fota/internal/fotaagent/blockio"
	"github.com/autopeer-io/fota/internal/fotaagent/catalog"
	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/flash"
	"github.com/autopeer-io/fota/internal/fotaagent/payload"
	"github.com/autopeer-io/fota/internal/fotaagent/progress"
)

// DefaultWorkingBufferSize is the working memory handed to the engine.
const DefaultWorkingBufferSize = 20 << 20

// Options tunes a session.
type Options struct {
	// StagingDir holds the payload files.
	StagingDir string

	// TempPath is where the engine may create its own files.
	TempPath string

	BackupSlots       []int64
	BackupAttempts    int
	WorkingBufferSize int64

	// EngineVersion, when set, must equal the engine's reported version.
	EngineVersion string

	VerifySource   bool
	VerifyTarget   bool
	UpdateRecovery bool
	AllowImageMode bool
}

func DefaultOptions() Options {
	return Options{
		StagingDir:        "/data",
		TempPath:          "/data/fota",
		BackupSlots:       backup.DefaultSlots,
		BackupAttempts:    backup.DefaultAttempts,
		WorkingBufferSize: DefaultWorkingBufferSize,
	}
}

// Session is the state of one update run. It is created at session start and
// fully released by Cleanup; nothing survives into the next run.
type Session struct {
	Mode       core.Mode
	Geometries map[string]flash.Geometry
	Payloads   *payload.Set

	// Targets are the partitions this session updates, in order.
	Targets []string

	Active        *ActiveTarget
	Tracker       *progress.Tracker
	Backup        *backup.Manager
	WorkingBuffer []byte

	// Round counts the engine invocations performed so far.
	Round int

	backupPart flash.Partition
}

// ActiveTarget is the partition currently handed to the engine together with
// its payload. One exists at a time; it is replaced, never mutated, between
// partitions.
type ActiveTarget struct {
	Name      string
	Geometry  flash.Geometry
	Partition flash.Partition
	IO        *blockio.Adapter

	PayloadPath string
	PayloadSize int64
	Payload     afero.File
}

// openTarget opens the partition and its payload read-only.
func openTarget(fs afero.Fs, cat *catalog.Catalog, name, path string) (*ActiveTarget, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open payload %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat payload %s: %w", path, err)
	}
	part, err := cat.Open(name)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open partition %s: %w", name, err)
	}
	return &ActiveTarget{
		Name:        name,
		Geometry:    part.Geometry(),
		Partition:   part,
		IO:          blockio.New(part),
		PayloadPath: path,
		PayloadSize: st.Size(),
		Payload:     f,
	}, nil
}

// Close releases the payload file and the partition handle.
func (a *ActiveTarget) Close() error {
	var errs error
	if a.Payload != nil {
		errs = multierr.Append(errs, a.Payload.Close())
		a.Payload = nil
	}
	if a.Partition != nil {
		errs = multierr.Append(errs, a.Partition.Close())
		a.Partition = nil
	}
	return errs
}

// Describe builds the descriptor passed to the engine.
func (s *Session) Describe(opts Options, op core.Operation) *core.Target {
	a := s.Active
	ptype := core.PartitionFilesystem
	if a.Name == catalog.Boot {
		ptype = core.PartitionRaw
	}
	return &core.Target{
		PartitionName:  a.Name,
		PartitionType:  ptype,
		Size:           a.Geometry.Size,
		EraseBlockSize: a.Geometry.EraseBlockSize,
		WriteBlockSize: a.Geometry.WriteBlockSize,
		MountPoint:     "/",
		WorkingBuffer:  s.WorkingBuffer,
		BackupSlots:    s.Backup.Slots(),
		TempPath:       filepath.Clean(opts.TempPath),
		PayloadPath:    a.PayloadPath,
		PayloadSize:    a.PayloadSize,
		Operation:      op,
	}
}

// Cleanup releases everything the session holds. It is safe to call more
// than once and on a partially initialized session.
func (s *Session) Cleanup() error {
	var errs error
	if s.Active != nil {
		errs = multierr.Append(errs, s.Active.Close())
		s.Active = nil
	}
	if s.backupPart != nil {
		errs = multierr.Append(errs, s.backupPart.Close())
		s.backupPart = nil
	}
	s.Backup = nil
	s.WorkingBuffer = nil
	s.Payloads = nil
	s.Targets = nil
	return errs
}
