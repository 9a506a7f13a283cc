// Package payload locates update payloads in the staging directory and
// manages their life cycle around a session.
package payload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/autopeer-io/fota/internal/fotaagent/catalog"
	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/pkg/log"
)

// Suffixes of the two payload kinds.
const (
	DeltaSuffix = ".delta"
	ImageSuffix = ".img"
)

// Partitions lists the logical partitions a payload may target, in the
// order they are updated.
var Partitions = []string{catalog.Boot, catalog.System, catalog.Recovery}

// Set is the outcome of a staging directory scan.
type Set struct {
	Mode core.Mode

	// Files maps a logical partition name to its payload path.
	Files map[string]string
}

// Has reports whether a payload exists for the partition.
func (s *Set) Has(partition string) bool {
	_, ok := s.Files[partition]
	return ok
}

// Targets returns the partitions with a payload in update order.
func (s *Set) Targets() []string {
	var out []string
	for _, p := range Partitions {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func FileName(partition, suffix string) string {
	return partition + suffix
}

// IsPayloadName reports whether name is one of the recognized payload files.
func IsPayloadName(name string) bool {
	for _, p := range Partitions {
		if name == FileName(p, DeltaSuffix) || name == FileName(p, ImageSuffix) {
			return true
		}
	}
	return false
}

// Scan looks for delta payloads in dir and falls back to whole images. It
// fails with ErrNoPayload when neither kind is present.
func Scan(fs afero.Fs, dir string) (*Set, error) {
	if files := find(fs, dir, DeltaSuffix); len(files) > 0 {
		return &Set{Mode: core.ModeDelta, Files: files}, nil
	}
	if files := find(fs, dir, ImageSuffix); len(files) > 0 {
		return &Set{Mode: core.ModeImage, Files: files}, nil
	}
	return nil, fmt.Errorf("scan %s: %w", dir, core.ErrNoPayload)
}

func find(fs afero.Fs, dir, suffix string) map[string]string {
	files := make(map[string]string)
	for _, p := range Partitions {
		path := filepath.Join(dir, FileName(p, suffix))
		st, err := fs.Stat(path)
		if err != nil || st.IsDir() {
			log.Debug("Payload not present", "path", path)
			continue
		}
		files[p] = path
	}
	return files
}

// Remove deletes every recognized payload file from dir. Files that do not
// exist count as removed.
func Remove(fs afero.Fs, dir string) error {
	var errs error
	for _, p := range Partitions {
		for _, suffix := range []string{DeltaSuffix, ImageSuffix} {
			path := filepath.Join(dir, FileName(p, suffix))
			if err := fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", path, err))
				continue
			}
		}
	}
	if errs == nil {
		log.Info("Removed update payloads", "dir", dir)
	}
	return errs
}
